//go:build rpi4

package platform

// Current is the board profile compiled into an rpi4-tagged kernel
// image; internal/boot reads it before the DTB is available and may
// refine Devices/RAMSize once the DTB has been parsed.
var Current = RPi4()
