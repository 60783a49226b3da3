// Command kernel is the image entry point: it drives internal/boot's
// cold-boot sequence (spec §4.8) to completion and, on real hardware,
// never returns — Boot's last act is an eret into the root task.
package main

func main() {
	run()
}
