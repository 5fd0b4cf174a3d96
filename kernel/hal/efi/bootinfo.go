package efi

import (
	"strings"

	"github.com/portasynthinca3/neutron-sub000/kernel/mm/pmem"
)

type tagType uint32

// Tag numbers follow the multiboot2 information format.
const (
	tagSectionEnd      tagType = 0
	tagBootCmdLine     tagType = 1
	tagMemoryMap       tagType = 6
	tagFramebufferInfo tagType = 8
	tagKernelImage     tagType = 21
)

const (
	tagHeaderSize   = 8
	memMapEntrySize = 24
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemReserved marks memory that must not be touched.
	MemReserved MemoryEntryType = iota

	// MemLoaderCode holds the loaded kernel image.
	MemLoaderCode

	// MemLoaderData holds data the loader left for the kernel.
	MemLoaderData

	// MemConventional is free memory.
	MemConventional

	// MemMMIO is memory-mapped device memory.
	MemMMIO

	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemReserved:
		return "reserved"
	case MemLoaderCode:
		return "loader code"
	case MemLoaderData:
		return "loader data"
	case MemConventional:
		return "conventional"
	case MemMMIO:
		return "MMIO"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the firmware. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// FramebufferInfo describes the linear framebuffer set up by the firmware.
type FramebufferInfo struct {
	PhysAddr      uint64
	Pitch         uint32
	Width, Height uint32
	Bpp           uint8
}

// Size returns the size of the framebuffer in bytes.
func (fb *FramebufferInfo) Size() uint64 {
	return uint64(fb.Pitch) * uint64(fb.Height)
}

// BootInfo decodes the information block the firmware leaves in physical
// memory for the kernel.
type BootInfo struct {
	ram  *pmem.RAM
	addr uintptr

	cmdLineKV map[string]string
}

// NewBootInfo returns a decoder for the information block at physical
// address addr.
func NewBootInfo(ram *pmem.RAM, addr uintptr) *BootInfo {
	return &BootInfo{ram: ram, addr: addr}
}

// VisitMemRegions will invoke the supplied visitor for each memory region
// that is defined by the memory map. Entries with an unknown type are
// reported as reserved.
func (b *BootInfo) VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := b.findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	entrySize := uintptr(b.ram.Read32(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry MemoryMapEntry
	for ; curPtr < endPtr; curPtr += entrySize {
		entry.PhysAddress = b.ram.Read64(curPtr)
		entry.Length = b.ram.Read64(curPtr + 8)
		entry.Type = MemoryEntryType(b.ram.Read32(curPtr + 16))

		if entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// GetFramebufferInfo returns information about the framebuffer or nil if
// the firmware did not set one up.
func (b *BootInfo) GetFramebufferInfo() *FramebufferInfo {
	curPtr, size := b.findTagByType(tagFramebufferInfo)
	if size == 0 {
		return nil
	}

	return &FramebufferInfo{
		PhysAddr: b.ram.Read64(curPtr),
		Pitch:    b.ram.Read32(curPtr + 8),
		Width:    b.ram.Read32(curPtr + 12),
		Height:   b.ram.Read32(curPtr + 16),
		Bpp:      uint8(b.ram.Read32(curPtr + 20)),
	}
}

// GetKernelImage returns the physical location and size of the kernel image.
func (b *BootInfo) GetKernelImage() (uintptr, uintptr) {
	curPtr, size := b.findTagByType(tagKernelImage)
	if size == 0 {
		return 0, 0
	}

	return uintptr(b.ram.Read64(curPtr)), uintptr(b.ram.Read64(curPtr + 8))
}

// GetBootCmdLine returns the command line key-value pairs passed to the
// kernel. Bare flags are stored with their own name as the value.
func (b *BootInfo) GetBootCmdLine() map[string]string {
	if b.cmdLineKV != nil {
		return b.cmdLineKV
	}

	b.cmdLineKV = make(map[string]string)

	curPtr, size := b.findTagByType(tagBootCmdLine)
	if size == 0 {
		return b.cmdLineKV
	}

	cmdLine := b.ram.Bytes(curPtr, uintptr(size-1))
	for _, pair := range strings.Fields(string(cmdLine)) {
		kv := strings.Split(pair, "=")
		switch len(kv) {
		case 2: // foo=bar
			b.cmdLineKV[kv[0]] = kv[1]
		case 1: // nofoo
			b.cmdLineKV[kv[0]] = kv[0]
		}
	}

	return b.cmdLineKV
}

// findTagByType scans the information block for the first tag of the given
// type and returns the address of its payload and the payload size.
func (b *BootInfo) findTagByType(want tagType) (uintptr, uint32) {
	end := b.addr + uintptr(b.ram.Read32(b.addr))

	for curPtr := b.addr + 8; curPtr+tagHeaderSize <= end; {
		curType := tagType(b.ram.Read32(curPtr))
		curSize := b.ram.Read32(curPtr + 4)

		if curType == tagSectionEnd || curSize < tagHeaderSize {
			break
		}

		if curType == want {
			return curPtr + tagHeaderSize, curSize - tagHeaderSize
		}

		curPtr += uintptr((curSize + 7) &^ 7)
	}

	return 0, 0
}

// infoWriter encodes an information block into physical memory.
type infoWriter struct {
	ram  *pmem.RAM
	base uintptr
	cur  uintptr
}

func newInfoWriter(ram *pmem.RAM, base uintptr) *infoWriter {
	return &infoWriter{ram: ram, base: base, cur: base + 8}
}

// tag appends a tag of the given type whose payload is emitted by the
// supplied function.
func (w *infoWriter) tag(t tagType, payload func(put32 func(uint32), put64 func(uint64), putBytes func([]byte))) {
	start := w.cur
	w.cur += tagHeaderSize

	payload(
		func(v uint32) { w.ram.Write32(w.cur, v); w.cur += 4 },
		func(v uint64) { w.ram.Write64(w.cur, v); w.cur += 8 },
		func(p []byte) { copy(w.ram.Bytes(w.cur, uintptr(len(p))), p); w.cur += uintptr(len(p)) },
	)

	w.ram.Write32(start, uint32(t))
	w.ram.Write32(start+4, uint32(w.cur-start))
	w.cur = (w.cur + 7) &^ 7
}

func (w *infoWriter) finish() {
	w.ram.Write32(w.cur, uint32(tagSectionEnd))
	w.ram.Write32(w.cur+4, tagHeaderSize)
	w.cur += tagHeaderSize

	w.ram.Write32(w.base, uint32(w.cur-w.base))
	w.ram.Write32(w.base+4, 0)
}
