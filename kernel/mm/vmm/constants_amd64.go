package vmm

const (
	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// pteIndexMask selects the 9 bits of a virtual address that index a
	// table at any level.
	pteIndexMask = uintptr(1<<9 - 1)

	// hugePageMask selects the offset within a 2M page.
	hugePageMask = uintptr(1<<21 - 1)

	// maxPCID is the largest process context identifier the MMU accepts.
	maxPCID = 1<<12 - 1
)

// Virtual memory layout shared by every address space.
const (
	// KernelBase is where the kernel image is mapped.
	KernelBase = uintptr(0xffff800000000000)

	// FramebufferBase is where the linear framebuffer is mapped.
	FramebufferBase = uintptr(0xffff880000000000)

	// DramBase is where the dynamic memory region is mapped.
	DramBase = uintptr(0xffffc00000000000)

	// physWindowAddr is the first of the two consecutive pages used by the
	// physical window. The second page lets accesses straddle a frame
	// boundary.
	physWindowAddr = uintptr(0xffffffffffffb000)

	// physWindowPTAddr is where the page table holding the window entries
	// is mapped. The window pages use indices 0x1fb and 0x1fc of that table.
	physWindowPTAddr = uintptr(0xffffffffffffd000)

	// APICBase is where the local APIC registers are mapped.
	APICBase = uintptr(0xffffffffffffe000)

	// APICPhys is the physical address of the local APIC registers.
	APICPhys = uintptr(0xfee00000)

	// UserSplit is the first address above the lower canonical half that
	// unprivileged code may use.
	UserSplit = uintptr(0x800000000000)
)

// Level identifies a page table entry by the level of the structure it
// points to.
type Level uint8

const (
	// LevelPDPT is the PML4 entry pointing to a page directory pointer table.
	LevelPDPT Level = iota

	// LevelPD is the PDPT entry pointing to a page directory.
	LevelPD

	// LevelPT is the PD entry pointing to a page table.
	LevelPT

	// LevelPage is the PT entry pointing to a physical page.
	LevelPage
)

// pageLevelShifts defines the shift required to access each page table component
// of a virtual address.
var pageLevelShifts = [...]uint8{
	39,
	30,
	21,
	12,
}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set on page directory entries mapping 2M pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)

// FlagPAT is the high bit of the PAT index on entries mapping 4K pages. It
// occupies the same bit as FlagHugePage.
const FlagPAT = FlagHugePage

// patIndexFlags are the leaf entry bits that select a PAT entry.
const patIndexFlags = FlagWriteThroughCaching | FlagDoNotCache | FlagPAT
