// Package irq routes exceptions and hardware interrupts raised by the core to
// kernel handlers.
package irq

import (
	"io"

	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
)

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = InterruptNumber(cpu.VectorGPF)

	// PageFaultException is raised when a PDT or PDT-entry is not present
	// or when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(cpu.VectorPageFault)

	// TimerInterrupt is the vector the local APIC timer is routed to.
	TimerInterrupt = InterruptNumber(0x20)
)

var (
	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled exception"}

	// panicFn is used by tests to override calls to kfmt.Panic.
	panicFn = kfmt.Panic
)

// Registers contains a snapshot of all register values when an exception or
// interrupt occurs. Handlers may modify the snapshot; the changes take effect
// when the interrupted context resumes.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the faulting address for page faults and the vector
	// number for everything else.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// Handler services an interrupt.
type Handler func(*Registers)

// Controller owns the interrupt vector table of a core together with the
// register file of the context that is currently executing on it.
type Controller struct {
	core     *cpu.Core
	regs     Registers
	handlers [256]Handler
}

// New creates a controller and attaches it to the exception and timer
// lines of core.
func New(core *cpu.Core) *Controller {
	c := &Controller{core: core}

	core.SetFaultHandler(func(f cpu.Fault) {
		c.regs.Info = uint64(f.Addr)
		c.dispatch(InterruptNumber(f.Vector), f.Err)
	})
	core.SetTimerHandler(func() {
		c.Dispatch(TimerInterrupt)
	})

	return c
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. A nil handler removes the existing one.
func (c *Controller) HandleInterrupt(num InterruptNumber, handler Handler) {
	c.handlers[num] = handler
}

// Regs returns the register file of the running context.
func (c *Controller) Regs() *Registers {
	return &c.regs
}

// Dispatch delivers interrupt num to its handler. Interrupts without a
// handler are dropped while exceptions without one panic the kernel.
func (c *Controller) Dispatch(num InterruptNumber) {
	c.regs.Info = uint64(num)
	c.dispatch(num, errUnhandledException)
}

func (c *Controller) dispatch(num InterruptNumber, cause *kernel.Error) {
	if handler := c.handlers[num]; handler != nil {
		handler(&c.regs)
		return
	}

	if num >= 32 {
		return
	}

	kfmt.Printf("\nunhandled exception %d\n", uint8(num))
	c.regs.DumpTo(&kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[irq] ")})
	panicFn(cause)
}
