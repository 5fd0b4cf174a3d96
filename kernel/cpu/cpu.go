// Package cpu models the x86-64 core that the kernel drives. The core owns
// the control registers, the flags register, the time-stamp counter, the TLB
// and the MMU that translates virtual addresses through the active page
// tables into the physical RAM it is attached to.
package cpu

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/pmem"
)

// Control register and flag bits used by the kernel.
const (
	CR0WriteProtect = uint64(1 << 16)
	CR0Paging       = uint64(1 << 31)

	CR4PAE   = uint64(1 << 5)
	CR4PCIDE = uint64(1 << 17)
	CR4SMAP  = uint64(1 << 21)
	CR4PKE   = uint64(1 << 22)

	// CR3PCIDMask selects the PCID bits of CR3 when CR4.PCIDE is set.
	CR3PCIDMask = uint64(0xfff)

	// FlagInterrupt is the IF bit of RFLAGS.
	FlagInterrupt = uint64(1 << 9)

	// cpuidPCIDBit is reported in ECX by CPUID leaf 1.
	cpuidPCIDBit = uint32(1 << 17)
)

var (
	errPCIDUnsupported = &kernel.Error{Module: "cpu", Message: "CR4.PCIDE set on a core without PCID support"}
	errPCIDNonZero     = &kernel.Error{Module: "cpu", Message: "CR4.PCIDE set while CR3[11:0] is not zero"}
)

// Halt stops instruction execution. It never returns.
func Halt() {
	select {}
}

// Config describes the features of a core.
type Config struct {
	// PCID reports whether the core implements process context identifiers.
	PCID bool

	// TimerPeriod is the number of TSC cycles between two timer interrupts.
	// A zero period disables the timer.
	TimerPeriod uint64

	// PauseCycles is the number of TSC cycles a single spin-wait
	// iteration takes.
	PauseCycles uint64
}

// Core is a single x86-64 logical processor.
type Core struct {
	ram *pmem.RAM
	cfg Config

	cr0, cr3, cr4 uint64
	rflags        uint64
	tsc           uint64
	pat           uint64

	tlb map[tlbKey]uintptr

	faultHandler FaultHandler

	nextTimer uint64
	timerFn   func()
	inTimer   bool
}

// NewCore returns a core attached to ram with paging and PAE enabled and CR3
// pointing at the supplied top-level table.
func NewCore(ram *pmem.RAM, cfg Config, cr3 uint64) *Core {
	if cfg.PauseCycles == 0 {
		cfg.PauseCycles = 1
	}

	return &Core{
		ram:       ram,
		cfg:       cfg,
		cr0:       CR0Paging | CR0WriteProtect,
		cr3:       cr3,
		cr4:       CR4PAE,
		pat:       PATPowerOn,
		tlb:       make(map[tlbKey]uintptr),
		nextTimer: cfg.TimerPeriod,
	}
}

// RAM returns the physical memory the core is attached to.
func (c *Core) RAM() *pmem.RAM {
	return c.ram
}

// CPUID executes the CPUID instruction for the given leaf.
func (c *Core) CPUID(leaf uint32) (eax, ebx, ecx, edx uint32) {
	if leaf == 1 && c.cfg.PCID {
		ecx |= cpuidPCIDBit
	}
	return
}

// HasPCID returns true if CPUID reports PCID support.
func (c *Core) HasPCID() bool {
	_, _, ecx, _ := c.CPUID(1)
	return ecx&cpuidPCIDBit != 0
}

// CR0 returns the value of the CR0 register.
func (c *Core) CR0() uint64 { return c.cr0 }

// SetCR0 loads the CR0 register.
func (c *Core) SetCR0(v uint64) { c.cr0 = v }

// CR3 returns the value of the CR3 register.
func (c *Core) CR3() uint64 { return c.cr3 }

// SetCR3 loads the CR3 register. With PCIDs disabled the whole TLB is
// flushed; otherwise only the entries tagged with the new PCID are.
func (c *Core) SetCR3(v uint64) {
	c.cr3 = v
	if c.cr4&CR4PCIDE == 0 {
		c.flushAll()
		return
	}
	c.flushPCID(c.pcid())
}

// CR4 returns the value of the CR4 register.
func (c *Core) CR4() uint64 { return c.cr4 }

// SetCR4 loads the CR4 register. Enabling PCIDE on a core that does not
// support it, or while CR3 carries a non-zero PCID, raises a general
// protection fault and leaves CR4 untouched.
func (c *Core) SetCR4(v uint64) {
	if v&CR4PCIDE != 0 && c.cr4&CR4PCIDE == 0 {
		switch {
		case !c.cfg.PCID:
			c.fault(Fault{Vector: VectorGPF, Err: errPCIDUnsupported})
			return
		case c.cr3&CR3PCIDMask != 0:
			c.fault(Fault{Vector: VectorGPF, Err: errPCIDNonZero})
			return
		}
	}

	if (v^c.cr4)&CR4PCIDE != 0 {
		c.flushAll()
	}
	c.cr4 = v
}

// RFlags returns the value of the RFLAGS register.
func (c *Core) RFlags() uint64 { return c.rflags }

// EnableInterrupts sets RFLAGS.IF.
func (c *Core) EnableInterrupts() { c.rflags |= FlagInterrupt }

// DisableInterrupts clears RFLAGS.IF.
func (c *Core) DisableInterrupts() { c.rflags &^= FlagInterrupt }

// FlushTLB invalidates all non-global TLB entries of the current PCID by
// reloading CR3.
func (c *Core) FlushTLB() {
	c.SetCR3(c.cr3)
}

// FlushTLBEntry invalidates the TLB entry for a particular virtual address
// in the current PCID.
func (c *Core) FlushTLBEntry(virtAddr uintptr) {
	delete(c.tlb, tlbKey{pcid: c.pcid(), vpn: virtAddr >> pageShift})
}

func (c *Core) pcid() uint16 {
	if c.cr4&CR4PCIDE == 0 {
		return 0
	}
	return uint16(c.cr3 & CR3PCIDMask)
}
