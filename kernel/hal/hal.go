// Package hal sets up the devices the kernel needs before any driver model
// is available.
package hal

import (
	"github.com/portasynthinca3/neutron-sub000/kernel/driver/tty"
	"github.com/portasynthinca3/neutron-sub000/kernel/driver/video/console"
	"github.com/portasynthinca3/neutron-sub000/kernel/hal/efi"
)

var (
	fbConsole = &console.Fb{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal on the firmware framebuffer, which
// must be mapped at virtual address base, to allow the kernel to emit some
// output till everything is properly setup.
func InitTerminal(mem console.Memory, base uintptr, fbInfo *efi.FramebufferInfo) {
	fbConsole.Init(mem, base, fbInfo.Width, fbInfo.Height, fbInfo.Pitch)
	ActiveTerminal.AttachTo(fbConsole)
}
