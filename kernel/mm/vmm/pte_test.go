package vmm

import (
	"testing"

	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 62)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)
	pte.SetFrame(mm.Frame(0x123))

	if got := pte.Frame(); got != mm.Frame(0x123) {
		t.Fatalf("expected pte.Frame() to return 0x123; got 0x%x", got)
	}

	if exp, got := uintptr(0x123000), pte.Address(); got != exp {
		t.Fatalf("expected pte.Address() to mask flag bits and return 0x%x; got 0x%x", exp, got)
	}

	if !pte.HasFlags(FlagPresent | FlagRW | FlagNoExecute) {
		t.Fatal("expected SetFrame to preserve flags")
	}
}

func TestEntryIndex(t *testing.T) {
	specs := []struct {
		virt uintptr
		exp  [4]uintptr
	}{
		{0, [4]uintptr{0, 0, 0, 0}},
		{KernelBase, [4]uintptr{256, 0, 0, 0}},
		{DramBase, [4]uintptr{384, 0, 0, 0}},
		{physWindowAddr, [4]uintptr{511, 511, 511, 0x1fb}},
		{physWindowPTAddr, [4]uintptr{511, 511, 511, 0x1fd}},
		{0x600000201000, [4]uintptr{192, 0, 1, 1}},
	}

	for specIndex, spec := range specs {
		for level := LevelPDPT; level <= LevelPage; level++ {
			if got := entryIndex(level, spec.virt); got != spec.exp[level] {
				t.Errorf("[spec %d] expected index %d at level %d; got %d", specIndex, spec.exp[level], level, got)
			}
		}
	}
}
