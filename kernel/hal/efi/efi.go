// Package efi hands the machine over to the kernel the way the firmware
// loader does: RAM with the kernel image loaded at 1M, a boot address space
// that identity-maps the low 4G with 2M pages, a linear framebuffer at the
// top of RAM and an information block describing all of it.
package efi

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/pmem"
)

// Physical layout of the low megabyte.
const (
	bootPML4     = uintptr(0x1000)
	bootPDPT     = uintptr(0x2000)
	bootPD       = uintptr(0x3000)
	bootInfoAddr = uintptr(0x8000)

	// KernelLoadAddr is where the loader places the kernel image.
	KernelLoadAddr = uintptr(0x100000)

	apicPhys = uintptr(0xfee00000)

	// identityMapGigs is the amount of memory covered by the boot tables.
	identityMapGigs = 4

	entryPresentRW = uint64(0x3)
	entryHugePage  = uint64(1 << 7)
)

var errRAMTooSmall = &kernel.Error{Module: "efi", Message: "RAM too small to load the kernel"}

// Config describes the machine the firmware boots.
type Config struct {
	RAMSize    mm.Size
	KernelSize mm.Size

	FramebufferWidth, FramebufferHeight uint32

	CmdLine string

	// Core features.
	PCID        bool
	TimerPeriod uint64
	PauseCycles uint64
}

// DefaultConfig returns a small machine with a 1ms timer on a 1GHz core.
func DefaultConfig() Config {
	return Config{
		RAMSize:           32 * mm.Mb,
		KernelSize:        256 * mm.Kb,
		FramebufferWidth:  320,
		FramebufferHeight: 200,
		PCID:              true,
		TimerPeriod:       1000000,
		PauseCycles:       100,
	}
}

// Machine is a booted machine ready to run the kernel.
type Machine struct {
	RAM  *pmem.RAM
	Core *cpu.Core
	Info *BootInfo
}

// Boot powers on a machine described by cfg and performs the firmware
// hand-off.
func Boot(cfg Config) (*Machine, *kernel.Error) {
	ram := pmem.New(cfg.RAMSize)

	var (
		ramEnd    = ram.Size()
		kernelEnd = mm.AlignUp(KernelLoadAddr+uintptr(cfg.KernelSize), mm.PageSize)
		pitch     = cfg.FramebufferWidth * 4
		fbSize    = mm.AlignUp(uintptr(pitch)*uintptr(cfg.FramebufferHeight), mm.PageSize)
		fbStart   = ramEnd - fbSize
	)

	if fbSize >= ramEnd || kernelEnd >= fbStart {
		return nil, errRAMTooSmall
	}

	buildIdentityTables(ram)

	w := newInfoWriter(ram, bootInfoAddr)
	w.tag(tagMemoryMap, func(put32 func(uint32), put64 func(uint64), _ func([]byte)) {
		put32(memMapEntrySize)
		put32(0)

		regions := []MemoryMapEntry{
			{0, uint64(KernelLoadAddr), MemReserved},
			{uint64(KernelLoadAddr), uint64(kernelEnd - KernelLoadAddr), MemLoaderCode},
			{uint64(kernelEnd), uint64(fbStart - kernelEnd), MemConventional},
			{uint64(fbStart), uint64(fbSize), MemReserved},
			{uint64(apicPhys), uint64(mm.PageSize), MemMMIO},
		}

		for _, r := range regions {
			put64(r.PhysAddress)
			put64(r.Length)
			put32(uint32(r.Type))
			put32(0)
		}
	})

	if cfg.FramebufferWidth != 0 && cfg.FramebufferHeight != 0 {
		w.tag(tagFramebufferInfo, func(put32 func(uint32), put64 func(uint64), _ func([]byte)) {
			put64(uint64(fbStart))
			put32(pitch)
			put32(cfg.FramebufferWidth)
			put32(cfg.FramebufferHeight)
			put32(32)
		})
	}

	w.tag(tagKernelImage, func(_ func(uint32), put64 func(uint64), _ func([]byte)) {
		put64(uint64(KernelLoadAddr))
		put64(uint64(cfg.KernelSize))
	})

	w.tag(tagBootCmdLine, func(_ func(uint32), _ func(uint64), putBytes func([]byte)) {
		putBytes(append([]byte(cfg.CmdLine), 0))
	})

	w.finish()

	core := cpu.NewCore(ram, cpu.Config{
		PCID:        cfg.PCID,
		TimerPeriod: cfg.TimerPeriod,
		PauseCycles: cfg.PauseCycles,
	}, uint64(bootPML4))

	m := &Machine{
		RAM:  ram,
		Core: core,
		Info: NewBootInfo(ram, bootInfoAddr),
	}
	m.printMemoryMap()

	return m, nil
}

// buildIdentityTables identity-maps the first identityMapGigs of physical
// memory using 2M pages.
func buildIdentityTables(ram *pmem.RAM) {
	ram.Write64(bootPML4, uint64(bootPDPT)|entryPresentRW)

	for gig := uintptr(0); gig < identityMapGigs; gig++ {
		pd := bootPD + gig*mm.PageSize
		ram.Write64(bootPDPT+gig*8, uint64(pd)|entryPresentRW)

		for i := uintptr(0); i < 512; i++ {
			phys := gig<<30 | i<<21
			ram.Write64(pd+i*8, uint64(phys)|entryHugePage|entryPresentRW)
		}
	}
}

// VisitMemRegions invokes visitor for each region of the firmware memory map.
func (m *Machine) VisitMemRegions(visitor MemRegionVisitor) {
	m.Info.VisitMemRegions(visitor)
}

// LargestConventional returns the largest free region reported by the
// firmware.
func (m *Machine) LargestConventional() (uintptr, uintptr) {
	var start, end uintptr
	m.VisitMemRegions(func(region *MemoryMapEntry) bool {
		if region.Type == MemConventional && uintptr(region.Length) > end-start {
			start, end = uintptr(region.PhysAddress), uintptr(region.PhysAddress+region.Length)
		}
		return true
	})
	return start, end
}

// Framebuffer returns the framebuffer set up by the firmware, if any.
func (m *Machine) Framebuffer() *FramebufferInfo {
	return m.Info.GetFramebufferInfo()
}

// KernelImage returns the physical location and size of the kernel image.
func (m *Machine) KernelImage() (uintptr, uintptr) {
	return m.Info.GetKernelImage()
}

// CmdLine returns the parsed kernel command line.
func (m *Machine) CmdLine() map[string]string {
	return m.Info.GetBootCmdLine()
}

func (m *Machine) printMemoryMap() {
	kfmt.Printf("[efi] system memory map:\n")
	var totalFree mm.Size
	m.VisitMemRegions(func(region *MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == MemConventional {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[efi] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
