// Command kconsole bridges a developer's terminal to a running kernel
// image's serial console, so spec §8 scenario 1 ("kernel prints `MMU
// enabled: true`... root task prints its banner") can be watched and
// driven interactively against a QEMU `-serial` chardev. It never links
// against the kernel packages — it only puts the host terminal into raw
// mode and shuttles bytes, the same role smoynes-elsie/cmd/internal/tty's
// Console plays for that project's own VM console.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func main() {
	sock := flag.String("unix", "", "path to the QEMU -serial unix socket to dial")
	flag.Parse()

	if *sock == "" {
		fmt.Fprintln(os.Stderr, "kconsole: -unix <path> is required (QEMU's -serial unix:<path>,server chardev)")
		os.Exit(2)
	}

	conn, err := net.Dial("unix", *sock)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kconsole: dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(os.Stderr, "kconsole: stdin is not a terminal")
		os.Exit(1)
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kconsole: MakeRaw:", err)
		os.Exit(1)
	}
	defer term.Restore(fd, saved)

	// Ctrl-] detaches, matching the escape convention every serial-console
	// bridge in this space uses (QEMU's own monitor escape is Ctrl-A, kept
	// free here for passthrough to the guest).
	const detachByte = 0x1d

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})

	go func() {
		io.Copy(os.Stdout, conn)
		close(done)
	}()

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			if buf[0] == detachByte {
				close(done)
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	// unix.IoctlGetWinsize reports the host window size on attach; the
	// guest's UART driver has no use for it today (no flow control or
	// resize protocol over a plain chardev), but a real console bridge
	// queries it the same way smoynes-elsie's tty package reaches for
	// golang.org/x/sys/unix ioctls alongside x/term's raw-mode call rather
	// than introducing a second terminal library for one query.
	if ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ); err == nil {
		fmt.Fprintf(os.Stderr, "kconsole: attached (%dx%d), Ctrl-] to detach\n", ws.Col, ws.Row)
	} else {
		fmt.Fprintln(os.Stderr, "kconsole: attached, Ctrl-] to detach")
	}

	select {
	case <-done:
	case <-sigCh:
	}
}
