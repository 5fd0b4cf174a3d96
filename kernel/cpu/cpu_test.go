package cpu

import (
	"testing"

	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/pmem"
)

const (
	testPML4 = uintptr(0x1000)
	testPDPT = uintptr(0x2000)
	testPD   = uintptr(0x3000)
	testPT   = uintptr(0x4000)
)

// setupTables builds a hierarchy where virtual page 0x200000+i*4K maps to
// the physical frame passed in frames[i] and 0x400000 is a 2M page mapping
// physical address 0.
func setupTables(ram *pmem.RAM, frames ...uintptr) {
	ram.Write64(testPML4, uint64(testPDPT)|3)
	ram.Write64(testPDPT, uint64(testPD)|3)
	ram.Write64(testPD+1*8, uint64(testPT)|3)
	ram.Write64(testPD+2*8, 0|entryHugePage|3)

	for i, frame := range frames {
		ram.Write64(testPT+uintptr(i)*8, uint64(frame)|3)
	}
}

func TestTranslate(t *testing.T) {
	ram := pmem.New(4 * mm.Mb)
	setupTables(ram, 0x10000, 0x20000)
	core := NewCore(ram, Config{}, uint64(testPML4))

	specs := []struct {
		virt    uintptr
		expPhys uintptr
		expOK   bool
	}{
		{0x200000, 0x10000, true},
		{0x200123, 0x10123, true},
		{0x201ff8, 0x20ff8, true},
		{0x400000, 0x0, true},
		{0x512345, 0x112345, true},
		{0x202000, 0, false},
		{0x8000000000, 0, false},
	}

	var faults []Fault
	core.SetFaultHandler(func(f Fault) { faults = append(faults, f) })

	for specIndex, spec := range specs {
		faults = faults[:0]
		phys, ok := core.Translate(spec.virt)
		if ok != spec.expOK {
			t.Errorf("[spec %d] expected translation ok to be %t; got %t", specIndex, spec.expOK, ok)
			continue
		}

		if !ok {
			if len(faults) != 1 || faults[0].Vector != VectorPageFault || faults[0].Addr != spec.virt {
				t.Errorf("[spec %d] expected a single page fault at 0x%x; got %v", specIndex, spec.virt, faults)
			}
			continue
		}

		if phys != spec.expPhys {
			t.Errorf("[spec %d] expected 0x%x to translate to 0x%x; got 0x%x", specIndex, spec.virt, spec.expPhys, phys)
		}
	}
}

func TestUnhandledFaultPanics(t *testing.T) {
	core := NewCore(pmem.New(mm.Mb), Config{}, uint64(testPML4))

	defer func() {
		if err := recover(); err != errNotPresent {
			t.Fatalf("expected unhandled fault to panic with errNotPresent; got %v", err)
		}
	}()

	core.Load64(0x1234)
}

func TestLoadStoreAcrossPages(t *testing.T) {
	ram := pmem.New(mm.Mb)
	setupTables(ram, 0x10000, 0x30000)
	core := NewCore(ram, Config{}, uint64(testPML4))

	core.Store64(0x200ffc, 0x1122334455667788)

	if exp, got := uint32(0x55667788), ram.Read32(0x10ffc); got != exp {
		t.Errorf("expected low half to land at the end of the first frame; got 0x%x", got)
	}

	if exp, got := uint32(0x11223344), ram.Read32(0x30000); got != exp {
		t.Errorf("expected high half to land at the start of the second frame; got 0x%x", got)
	}

	if exp, got := uint64(0x1122334455667788), core.Load64(0x200ffc); got != exp {
		t.Errorf("expected Load64 to return 0x%x; got 0x%x", exp, got)
	}

	core.Store32(0x200010, 0xcafebabe)
	if exp, got := uint32(0xcafebabe), core.Load32(0x200010); got != exp {
		t.Errorf("expected Load32 to return 0x%x; got 0x%x", exp, got)
	}

	core.Fill(0x200ff0, 0x20, 0xaa)
	for _, addr := range []uintptr{0x10ff0, 0x10fff, 0x30000, 0x3000f} {
		if got := ram.Bytes(addr, 1)[0]; got != 0xaa {
			t.Errorf("expected Fill to set byte at phys 0x%x; got 0x%x", addr, got)
		}
	}
	if got := ram.Bytes(0x30010, 1)[0]; got != 0 {
		t.Errorf("expected Fill to stop at the requested size; got 0x%x", got)
	}
}

func TestTLB(t *testing.T) {
	ram := pmem.New(mm.Mb)
	setupTables(ram, 0x10000)
	core := NewCore(ram, Config{}, uint64(testPML4))

	ram.Write64(0x10000, 1)
	ram.Write64(0x20000, 2)

	if got := core.Load64(0x200000); got != 1 {
		t.Fatalf("expected initial load to return 1; got %d", got)
	}

	// Retarget the page without invalidating the cached translation.
	ram.Write64(testPT, 0x20000|3)
	if got := core.Load64(0x200000); got != 1 {
		t.Errorf("expected stale TLB entry to be used; got %d", got)
	}

	core.FlushTLBEntry(0x200000)
	if got := core.Load64(0x200000); got != 2 {
		t.Errorf("expected invlpg to drop the stale entry; got %d", got)
	}

	ram.Write64(testPT, 0x10000|3)
	core.FlushTLB()
	if got := core.Load64(0x200000); got != 1 {
		t.Errorf("expected CR3 reload to flush the TLB; got %d", got)
	}
}

func TestPCID(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		core := NewCore(pmem.New(mm.Mb), Config{}, uint64(testPML4))

		var faults []Fault
		core.SetFaultHandler(func(f Fault) { faults = append(faults, f) })

		if core.HasPCID() {
			t.Fatal("expected HasPCID to return false")
		}

		core.SetCR4(core.CR4() | CR4PCIDE)
		if core.CR4()&CR4PCIDE != 0 || len(faults) != 1 || faults[0].Err != errPCIDUnsupported {
			t.Fatalf("expected enabling PCIDE to raise a GPF; got cr4=0x%x faults=%v", core.CR4(), faults)
		}
	})

	t.Run("non-zero PCID in CR3", func(t *testing.T) {
		core := NewCore(pmem.New(mm.Mb), Config{PCID: true}, uint64(testPML4)|5)

		var faults []Fault
		core.SetFaultHandler(func(f Fault) { faults = append(faults, f) })

		core.SetCR4(core.CR4() | CR4PCIDE)
		if core.CR4()&CR4PCIDE != 0 || len(faults) != 1 || faults[0].Err != errPCIDNonZero {
			t.Fatalf("expected enabling PCIDE to raise a GPF; got cr4=0x%x faults=%v", core.CR4(), faults)
		}
	})

	t.Run("tagged TLB", func(t *testing.T) {
		ram := pmem.New(mm.Mb)
		setupTables(ram, 0x10000)
		core := NewCore(ram, Config{PCID: true}, uint64(testPML4))

		if !core.HasPCID() {
			t.Fatal("expected HasPCID to return true")
		}

		core.SetCR4(core.CR4() | CR4PCIDE)
		ram.Write64(0x10000, 1)
		ram.Write64(0x20000, 2)

		// Prime PCID 0 then switch to PCID 1 which shares the same tables.
		_ = core.Load64(0x200000)
		core.SetCR3(uint64(testPML4) | 1)

		ram.Write64(testPT, 0x20000|3)
		if got := core.Load64(0x200000); got != 2 {
			t.Errorf("expected PCID 1 to walk the tables; got %d", got)
		}

		core.SetCR3(uint64(testPML4))
		if got := core.Load64(0x200000); got != 2 {
			t.Errorf("expected switching into PCID 0 to flush its entries; got %d", got)
		}
	})
}

func TestTimer(t *testing.T) {
	core := NewCore(pmem.New(mm.Mb), Config{TimerPeriod: 1000, PauseCycles: 10}, uint64(testPML4))

	var ticks int
	var ifDuringTick bool
	core.SetTimerHandler(func() {
		ticks++
		ifDuringTick = core.RFlags()&FlagInterrupt != 0
	})

	// Interrupts are masked; idling just spins.
	core.Idle()
	if ticks != 0 || core.TSC() != 10 {
		t.Fatalf("expected masked idle to spin for one pause; got ticks=%d tsc=%d", ticks, core.TSC())
	}

	core.EnableInterrupts()
	core.Idle()
	if ticks != 1 || core.TSC() != 1000 {
		t.Fatalf("expected idle to wait for the next tick; got ticks=%d tsc=%d", ticks, core.TSC())
	}

	if ifDuringTick {
		t.Error("expected the timer handler to run with interrupts disabled")
	}

	if core.RFlags()&FlagInterrupt == 0 {
		t.Error("expected interrupts to be re-enabled after the handler returns")
	}

	for i := 0; i < 100; i++ {
		core.Pause()
	}
	if ticks != 2 {
		t.Errorf("expected spinning across a deadline to deliver one tick; got %d", ticks)
	}

	core.DisableInterrupts()
	core.Idle()
	if ticks != 2 {
		t.Errorf("expected no ticks with interrupts disabled; got %d", ticks)
	}
}

func TestPAT(t *testing.T) {
	ram := pmem.New(4 * mm.Mb)
	setupTables(ram, 0x10000, 0x20000, 0x30000)
	core := NewCore(ram, Config{}, uint64(testPML4))

	if got := core.PAT(); got != PATPowerOn {
		t.Fatalf("expected PAT to hold the power-on value 0x%x; got 0x%x", PATPowerOn, got)
	}

	// Page 1 selects entry 3 (PCD|PWT), page 2 selects entry 7 (PAT|PCD|PWT)
	// and the 2M page selects entry 5 through bit 12.
	ram.Write64(testPT+1*8, 0x20000|entryPCD|entryPWT|3)
	ram.Write64(testPT+2*8, 0x30000|entryPAT4K|entryPCD|entryPWT|3)
	ram.Write64(testPD+2*8, entryPATHuge|entryPWT|entryHugePage|3)

	specs := []struct {
		virt    uintptr
		expType MemoryType
		expOK   bool
	}{
		{0x200000, WriteBack, true},
		{0x201000, Uncacheable, true},
		{0x202000, Uncacheable, true},
		{0x400000, WriteThrough, true},
		{0x203000, 0, false},
	}

	for specIndex, spec := range specs {
		memType, ok := core.MemoryTypeOf(spec.virt)
		if ok != spec.expOK || memType != spec.expType {
			t.Errorf("[spec %d] expected memory type of 0x%x to be %s (%t); got %s (%t)", specIndex, spec.virt, spec.expType, spec.expOK, memType, ok)
		}
	}

	t.Run("update", func(t *testing.T) {
		if _, ok := core.Translate(0x202000); !ok {
			t.Fatal("expected page to be mapped")
		}

		pat := PATPowerOn&^(0xff<<56) | uint64(WriteCombining)<<56
		core.SetPAT(pat)

		if got := core.PATEntry(7); got != WriteCombining {
			t.Fatalf("expected entry 7 to be WC; got %s", got)
		}

		if memType, _ := core.MemoryTypeOf(0x202000); memType != WriteCombining {
			t.Errorf("expected page to become WC; got %s", memType)
		}

		if len(core.tlb) != 0 {
			t.Errorf("expected SetPAT to flush the TLB; %d entries left", len(core.tlb))
		}
	})

	t.Run("reserved type", func(t *testing.T) {
		var faults []Fault
		core.SetFaultHandler(func(f Fault) { faults = append(faults, f) })
		defer core.SetFaultHandler(nil)

		before := core.PAT()
		core.SetPAT(before&^(0xff<<8) | 0x03<<8)

		if len(faults) != 1 || faults[0].Vector != VectorGPF || faults[0].Err != errReservedMemType {
			t.Fatalf("expected a general protection fault; got %v", faults)
		}

		if core.PAT() != before {
			t.Errorf("expected PAT to be left untouched")
		}
	})
}

func TestMemoryTypeString(t *testing.T) {
	specs := []struct {
		memType MemoryType
		exp     string
	}{
		{Uncacheable, "UC"},
		{WriteCombining, "WC"},
		{2, "reserved"},
		{WriteThrough, "WT"},
		{WriteProtected, "WP"},
		{WriteBack, "WB"},
		{UncachedMinus, "UC-"},
		{8, "reserved"},
	}

	for specIndex, spec := range specs {
		if got := spec.memType.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
