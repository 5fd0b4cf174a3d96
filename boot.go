package main

import (
	"os"
	"strings"

	"github.com/portasynthinca3/neutron-sub000/kernel/hal/efi"
	"github.com/portasynthinca3/neutron-sub000/kernel/kmain"
)

// main is the firmware side of the boot process: it powers on the machine
// and hands it over to kmain.Kmain together with the kernel command line
// taken from the program arguments.
//
// main is not expected to return.
func main() {
	cfg := efi.DefaultConfig()
	cfg.CmdLine = strings.Join(os.Args[1:], " ")

	kmain.Kmain(cfg)
}
