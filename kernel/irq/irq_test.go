package irq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/pmem"
)

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		RAX:    1,
		RBX:    2,
		RCX:    3,
		RDX:    4,
		RSI:    5,
		RDI:    6,
		RBP:    7,
		R8:     8,
		R9:     9,
		R10:    10,
		R11:    11,
		R12:    12,
		R13:    13,
		R14:    14,
		R15:    15,
		RIP:    16,
		CS:     17,
		RFlags: 18,
		RSP:    19,
		SS:     20,
	}

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	exp := "RAX = 0000000000000001 RBX = 0000000000000002\nRCX = 0000000000000003 RDX = 0000000000000004\nRSI = 0000000000000005 RDI = 0000000000000006\nRBP = 0000000000000007\nR8  = 0000000000000008 R9  = 0000000000000009\nR10 = 000000000000000a R11 = 000000000000000b\nR12 = 000000000000000c R13 = 000000000000000d\nR14 = 000000000000000e R15 = 000000000000000f\n\nRIP = 0000000000000010 CS  = 0000000000000011\nRSP = 0000000000000013 SS  = 0000000000000014\nRFL = 0000000000000012\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestTimerDispatch(t *testing.T) {
	core := cpu.NewCore(pmem.New(mm.Mb), cpu.Config{TimerPeriod: 100}, 0)
	c := New(core)

	var ticks int
	c.HandleInterrupt(TimerInterrupt, func(regs *Registers) {
		ticks++
		if regs != c.Regs() {
			t.Error("expected handler to receive the running register file")
		}
		if regs.Info != uint64(TimerInterrupt) {
			t.Errorf("expected Info to hold the vector; got %d", regs.Info)
		}
		regs.RAX = 0xf00
	})

	core.EnableInterrupts()
	core.Idle()
	core.Idle()

	if ticks != 2 {
		t.Fatalf("expected 2 timer interrupts; got %d", ticks)
	}

	if c.Regs().RAX != 0xf00 {
		t.Fatal("expected handler modifications to persist in the register file")
	}

	c.HandleInterrupt(TimerInterrupt, nil)
	core.Idle()
	if ticks != 2 {
		t.Fatalf("expected removed handler not to be called; got %d ticks", ticks)
	}
}

func TestExceptionDispatch(t *testing.T) {
	defer func(origPanicFn func(interface{})) {
		panicFn = origPanicFn
	}(panicFn)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	core := cpu.NewCore(pmem.New(mm.Mb), cpu.Config{}, 0)
	c := New(core)

	t.Run("handled page fault", func(t *testing.T) {
		var faultAddr uint64
		c.HandleInterrupt(PageFaultException, func(regs *Registers) {
			faultAddr = regs.Info
		})

		_ = core.Load64(0xdead000)
		if faultAddr != 0xdead000 {
			t.Fatalf("expected page fault handler to receive the faulting address; got 0x%x", faultAddr)
		}
	})

	t.Run("unhandled GPF", func(t *testing.T) {
		var panicArg interface{}
		panicFn = func(e interface{}) {
			panicArg = e
		}

		c.Regs().RIP = 0xbadc0de
		core.SetCR4(core.CR4() | cpu.CR4PCIDE)

		if err, ok := panicArg.(*kernel.Error); !ok || err.Module != "cpu" {
			t.Fatalf("expected kernel panic with the GPF cause; got %v", panicArg)
		}

		if !strings.Contains(buf.String(), "unhandled exception 13") {
			t.Errorf("expected exception number in output; got:\n%s", buf.String())
		}

		if !strings.Contains(buf.String(), "[irq] RIP = 000000000badc0de") {
			t.Errorf("expected prefixed register dump in output; got:\n%s", buf.String())
		}
	})

	t.Run("unhandled exception via Dispatch", func(t *testing.T) {
		var panicArg interface{}
		panicFn = func(e interface{}) {
			panicArg = e
		}

		c.Dispatch(DoubleFault)
		if panicArg != errUnhandledException {
			t.Fatalf("expected errUnhandledException; got %v", panicArg)
		}
	})
}
