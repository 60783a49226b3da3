//go:build qemuvirt

package platform

// Current is the board profile compiled into a qemuvirt-tagged kernel
// image; internal/boot reads it before the DTB is available and may
// refine Devices/RAMSize once the DTB has been parsed.
var Current = QEMUVirt()
