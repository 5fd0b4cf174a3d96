package cpu

import "github.com/portasynthinca3/neutron-sub000/kernel"

const (
	pageShift = 12
	pageMask  = uintptr(1<<pageShift - 1)

	entryPresent  = uint64(1 << 0)
	entryHugePage = uint64(1 << 7)
	entryAddrMask = uint64(0x000ffffffffff000)

	hugePageMask = uintptr(1<<21 - 1)
)

var errNotPresent = &kernel.Error{Module: "cpu", Message: "page not present"}

type tlbKey struct {
	pcid uint16
	vpn  uintptr
}

// translate returns the physical address backing virtAddr. On a miss it
// walks the page tables of the active CR3 and fills the TLB. A missing
// translation raises a page fault.
func (c *Core) translate(virtAddr uintptr) (uintptr, bool) {
	key := tlbKey{pcid: c.pcid(), vpn: virtAddr >> pageShift}
	if frame, hit := c.tlb[key]; hit {
		return frame | (virtAddr & pageMask), true
	}

	table := uintptr(c.cr3 & entryAddrMask)
	for level, shift := range [...]uint{39, 30, 21, 12} {
		entry := c.ram.Read64(table + ((virtAddr>>shift)&0x1ff)<<3)
		if entry&entryPresent == 0 {
			c.fault(Fault{Vector: VectorPageFault, Addr: virtAddr, Err: errNotPresent})
			return 0, false
		}

		table = uintptr(entry & entryAddrMask)

		// 2M pages terminate the walk at the page directory.
		if level == 2 && entry&entryHugePage != 0 {
			frame := (table &^ hugePageMask) | (virtAddr & hugePageMask &^ pageMask)
			c.tlb[key] = frame
			return frame | (virtAddr & pageMask), true
		}
	}

	c.tlb[key] = table
	return table | (virtAddr & pageMask), true
}

// Translate performs an address translation the same way a memory access
// would, including TLB lookups and fills.
func (c *Core) Translate(virtAddr uintptr) (uintptr, bool) {
	return c.translate(virtAddr)
}

func (c *Core) flushAll() {
	for key := range c.tlb {
		delete(c.tlb, key)
	}
}

func (c *Core) flushPCID(pcid uint16) {
	for key := range c.tlb {
		if key.pcid == pcid {
			delete(c.tlb, key)
		}
	}
}
