package cpu

import "github.com/portasynthinca3/neutron-sub000/kernel"

// MemoryType is a caching policy stored in a PAT entry.
type MemoryType uint8

// Memory types accepted by the IA32_PAT MSR. Values 2, 3 and 8-255 are
// reserved.
const (
	Uncacheable    MemoryType = 0
	WriteCombining MemoryType = 1
	WriteThrough   MemoryType = 4
	WriteProtected MemoryType = 5
	WriteBack      MemoryType = 6
	UncachedMinus  MemoryType = 7
)

// PATEntries is the number of memory types held by the IA32_PAT MSR.
const PATEntries = 8

// PATPowerOn is the value of IA32_PAT after reset: WB, WT, UC-, UC repeated
// for both halves.
const PATPowerOn = uint64(0x0007040600070406)

// Leaf entry bits that select a PAT entry. On 2M pages the PAT bit moves to
// bit 12 since bit 7 marks the page as huge.
const (
	entryPWT     = uint64(1 << 3)
	entryPCD     = uint64(1 << 4)
	entryPAT4K   = uint64(1 << 7)
	entryPATHuge = uint64(1 << 12)
)

var errReservedMemType = &kernel.Error{Module: "cpu", Message: "reserved memory type written to IA32_PAT"}

// Valid returns true if t is not a reserved encoding.
func (t MemoryType) Valid() bool {
	return t <= UncachedMinus && t != 2 && t != 3
}

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	switch t {
	case Uncacheable:
		return "UC"
	case WriteCombining:
		return "WC"
	case WriteThrough:
		return "WT"
	case WriteProtected:
		return "WP"
	case WriteBack:
		return "WB"
	case UncachedMinus:
		return "UC-"
	default:
		return "reserved"
	}
}

// PAT returns the value of the IA32_PAT MSR.
func (c *Core) PAT() uint64 { return c.pat }

// SetPAT loads the IA32_PAT MSR. A value with a reserved memory type in any
// entry raises a general protection fault and leaves the MSR untouched.
// Cached translations are dropped so that new types take effect.
func (c *Core) SetPAT(v uint64) {
	for idx := uint(0); idx < PATEntries; idx++ {
		if !MemoryType(v >> (idx * 8)).Valid() {
			c.fault(Fault{Vector: VectorGPF, Err: errReservedMemType})
			return
		}
	}

	c.pat = v
	c.flushAll()
}

// PATEntry returns the memory type held by entry idx of IA32_PAT.
func (c *Core) PATEntry(idx uint8) MemoryType {
	return MemoryType(c.pat >> (uint(idx&(PATEntries-1)) * 8))
}

// MemoryTypeOf returns the memory type that applies to virtAddr in the
// active address space. It walks the page tables without touching the TLB
// and returns false if the address is not mapped.
func (c *Core) MemoryTypeOf(virtAddr uintptr) (MemoryType, bool) {
	table := uintptr(c.cr3 & entryAddrMask)
	for level, shift := range [...]uint{39, 30, 21, 12} {
		entry := c.ram.Read64(table + ((virtAddr>>shift)&0x1ff)<<3)
		if entry&entryPresent == 0 {
			return 0, false
		}

		switch {
		case level == 2 && entry&entryHugePage != 0:
			return c.PATEntry(patIndex(entry, entryPATHuge)), true
		case level == 3:
			return c.PATEntry(patIndex(entry, entryPAT4K)), true
		}

		table = uintptr(entry & entryAddrMask)
	}

	return 0, false
}

// patIndex assembles the PAT entry number from the PAT, PCD and PWT bits of
// a leaf entry.
func patIndex(entry, patBit uint64) uint8 {
	var idx uint8
	if entry&entryPWT != 0 {
		idx |= 1
	}
	if entry&entryPCD != 0 {
		idx |= 2
	}
	if entry&patBit != 0 {
		idx |= 4
	}
	return idx
}
