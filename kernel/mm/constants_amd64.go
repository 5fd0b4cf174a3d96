package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The size of a
	// page table entry on this architecture is (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize).
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)
