// Package kmain contains the kernel entry point. It brings up dynamic
// memory, paging, interrupts and multitasking on the machine handed over by
// the firmware and then idles while the scheduler runs tasks.
package kmain

import (
	"io"
	"os"

	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/hal"
	"github.com/portasynthinca3/neutron-sub000/kernel/hal/efi"
	"github.com/portasynthinca3/neutron-sub000/kernel/irq"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/dram"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/vmm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mtask"
)

// kernelStackSize is the size of the stack of the kernel task.
const kernelStackSize = uintptr(16 * mm.Kb)

// Selectors loaded by the firmware GDT.
const (
	kernelCS = 0x08
	kernelSS = 0x10
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// console receives kernel output.
	console io.Writer = os.Stdout

	// panicFn is used by tests to override calls to kfmt.Panic.
	panicFn = kfmt.Panic
)

// System holds the subsystems brought up by Init.
type System struct {
	Machine *efi.Machine
	Heap    *dram.Heap
	VMM     *vmm.Manager
	IRQ     *irq.Controller
	Tasks   *mtask.Manager

	// KernelCR3 is the address space shared by kernel tasks.
	KernelCR3 uint64

	// KernelUID is the UID of the task Init continues as.
	KernelUID uint64
}

// trampoline enters a task by loading its context into the register file of
// the interrupt controller and enabling interrupts, like an iretq into the
// task would.
type trampoline struct {
	core *cpu.Core
	ctrl *irq.Controller
}

func (tr *trampoline) Enter(state *mtask.State) {
	regs := tr.ctrl.Regs()
	state.Restore(regs)
	regs.CS, regs.SS = kernelCS, kernelSS
	tr.core.EnableInterrupts()
}

// Kmain boots a machine described by cfg and runs the kernel on it. Kmain
// is not expected to return; if the kernel task ever goes away it panics.
func Kmain(cfg efi.Config) {
	kfmt.SetOutputSink(console)

	machine, err := efi.Boot(cfg)
	if err != nil {
		panicFn(err)
		return
	}

	sys, err := Init(machine)
	if err != nil {
		panicFn(err)
		return
	}

	for sys.Tasks.Exists(sys.KernelUID) {
		machine.Core.Idle()
	}

	panicFn(errKmainReturned)
}

// Init brings up the kernel on a booted machine. When it returns, the kernel
// runs as the first task in its own address space and the timer drives the
// scheduler.
func Init(machine *efi.Machine) (*System, *kernel.Error) {
	var (
		core = machine.Core
		opts = ParseCmdLine(machine.CmdLine())
		sys  = &System{Machine: machine}
		err  *kernel.Error
	)

	start, end := machine.LargestConventional()
	if sys.Heap, err = dram.New(core, start, end, opts.OOMPolicy); err != nil {
		return nil, err
	}

	dramStart, dramEnd := sys.Heap.PhysRange()
	kernelPhys, kernelSize := machine.KernelImage()
	opts.VMM.Layout = vmm.Layout{
		KernelPhys: kernelPhys,
		KernelSize: kernelSize,
		DramPhys:   dramStart,
		DramSize:   dramEnd - dramStart,
	}
	if fb := machine.Framebuffer(); fb != nil {
		opts.VMM.Layout.FramebufferPhys = uintptr(fb.PhysAddr)
		opts.VMM.Layout.FramebufferSize = mm.AlignUp(uintptr(fb.Size()), mm.PageSize)
	}

	sys.VMM = vmm.New(core, sys.Heap, opts.VMM)
	sys.VMM.Init()
	sys.VMM.PrintPAT()

	// Move dynamic memory to the higher half. The bootstrap space needs the
	// mapping too since page tables are built while it is active.
	if err = sys.VMM.Map(sys.VMM.IdentityCR3(), dramStart, dramEnd, vmm.DramBase); err != nil {
		return nil, err
	}
	sys.Heap.Shift(vmm.DramBase)
	sys.VMM.EnableTrans()

	if sys.KernelCR3, err = newKernelSpace(sys.VMM); err != nil {
		return nil, err
	}
	sys.VMM.SetActiveCR3(sys.KernelCR3)

	if fb := machine.Framebuffer(); fb != nil {
		hal.InitTerminal(core, vmm.FramebufferBase, fb)
		kfmt.SetOutputSink(io.MultiWriter(kfmt.GetOutputSink(), hal.ActiveTerminal))
	}

	sys.IRQ = irq.New(core)
	sys.Tasks = mtask.New(opts.Tasks, sys.VMM, sys.Heap, core, &trampoline{core: core, ctrl: sys.IRQ})
	sys.IRQ.HandleInterrupt(irq.TimerInterrupt, sys.Tasks.HandleTimer)

	sys.KernelUID, err = sys.Tasks.CreateTask(mtask.TaskSpec{
		Name:       "kernel",
		Priority:   1,
		StackSize:  kernelStackSize,
		CR3:        sys.KernelCR3,
		Start:      true,
		Entry:      vmm.KernelBase,
		Privileges: mtask.PrivEverything,
	})
	if err != nil {
		return nil, err
	}

	kfmt.Printf("[kmain] kernel running as task %d, %d bytes of dynamic memory used\n", sys.KernelUID, sys.Heap.Used())
	return sys, nil
}

// newKernelSpace creates the address space of kernel tasks.
func newKernelSpace(m *vmm.Manager) (uint64, *kernel.Error) {
	pcid, err := m.CreatePCID()
	if err != nil {
		return 0, err
	}

	cr3, err := m.CreatePML4(pcid)
	if err != nil {
		return 0, err
	}

	if err = m.MapDefaults(cr3); err != nil {
		return 0, err
	}
	return cr3, nil
}
