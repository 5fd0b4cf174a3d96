// Package dram implements the kernel's dynamic memory allocator. It hands out
// blocks carved from a single physical region, first from a list of freed
// blocks and then by bumping a pointer towards the end of the region. Once
// the kernel maps the region into the higher half the heap can be shifted so
// that every address it hands out is a higher-half virtual address.
package dram

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

// Policy selects what the heap does when it cannot satisfy a request.
type Policy uint8

const (
	// PolicyHalt panics the kernel on exhaustion.
	PolicyHalt Policy = iota

	// PolicyReturn returns ErrOutOfMemory to the caller which must check it.
	PolicyReturn
)

// DefaultAlign is the alignment Malloc and Calloc guarantee.
const DefaultAlign = uintptr(16)

var (
	// ErrOutOfMemory is returned when the heap region is exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "dram", Message: "malloc() failed due to lack of free memory"}

	errEmptyRegion  = &kernel.Error{Module: "dram", Message: "heap region is empty"}
	errInvalidFree  = &kernel.Error{Module: "dram", Message: "free() called with an address that was not allocated"}
	errInvalidAlign = &kernel.Error{Module: "dram", Message: "alignment must be a power of two"}
	errFillFailed   = &kernel.Error{Module: "dram", Message: "could not zero the allocated block"}

	// panicFn is used by tests to override calls to kfmt.Panic.
	panicFn = kfmt.Panic
)

// Filler zeroes memory at virtual addresses.
type Filler interface {
	Fill(virtAddr, size uintptr, value byte) bool
}

type block struct {
	addr, size uintptr
}

// Heap is the kernel's dynamic memory allocator.
type Heap struct {
	mem    Filler
	policy Policy

	physStart, physEnd uintptr

	// offset is added to a physical address inside the region to obtain the
	// virtual address handed out to callers.
	offset uintptr

	next uintptr
	free []block
	live map[uintptr]uintptr
}

// New creates a heap that manages the physical region [physStart, physEnd).
// Before Shift is called the region is assumed to be identity-mapped.
func New(mem Filler, physStart, physEnd uintptr, policy Policy) (*Heap, *kernel.Error) {
	physStart = mm.AlignUp(physStart, mm.PageSize)
	physEnd &^= mm.PageSize - 1
	if physEnd <= physStart {
		return nil, errEmptyRegion
	}

	kfmt.Printf("[dram] heap region: 0x%16x - 0x%16x (%d KiB)\n", physStart, physEnd, uint64(physEnd-physStart)/1024)

	return &Heap{
		mem:       mem,
		policy:    policy,
		physStart: physStart,
		physEnd:   physEnd,
		next:      physStart,
		live:      make(map[uintptr]uintptr),
	}, nil
}

// PhysRange returns the physical region managed by the heap.
func (h *Heap) PhysRange() (uintptr, uintptr) {
	return h.physStart, h.physEnd
}

// VirtBase returns the address at which the region is currently visible.
func (h *Heap) VirtBase() uintptr {
	return h.physStart + h.offset
}

// Used returns the number of bytes held by live allocations.
func (h *Heap) Used() uintptr {
	var used uintptr
	for _, size := range h.live {
		used += size
	}
	return used
}

// Shift relocates the heap so that the region is addressed starting at
// virtBase. Addresses handed out before the shift remain valid through the
// identity mapping only; the caller must map the region at virtBase before
// any further allocation.
func (h *Heap) Shift(virtBase uintptr) {
	delta := virtBase - h.VirtBase()
	h.offset += delta
	h.next += delta

	for i := range h.free {
		h.free[i].addr += delta
	}

	live := make(map[uintptr]uintptr, len(h.live))
	for addr, size := range h.live {
		live[addr+delta] = size
	}
	h.live = live

	kfmt.Printf("[dram] heap shifted to 0x%16x\n", virtBase)
}

// Malloc allocates size bytes.
func (h *Heap) Malloc(size uintptr) (uintptr, *kernel.Error) {
	return h.Amalloc(size, DefaultAlign)
}

// Calloc allocates size zeroed bytes.
func (h *Heap) Calloc(size uintptr) (uintptr, *kernel.Error) {
	addr, err := h.Amalloc(size, DefaultAlign)
	if err != nil {
		return 0, err
	}

	if !h.mem.Fill(addr, size, 0) {
		_ = h.Free(addr)
		return 0, errFillFailed
	}
	return addr, nil
}

// Amalloc allocates size bytes aligned to align which must be a power of two.
func (h *Heap) Amalloc(size, align uintptr) (uintptr, *kernel.Error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, errInvalidAlign
	}

	if size == 0 {
		size = 1
	}
	size = mm.AlignUp(size, DefaultAlign)

	if addr, ok := h.allocFree(size, align); ok {
		h.live[addr] = size
		return addr, nil
	}

	addr := mm.AlignUp(h.next, align)
	end := addr + size
	if addr < h.next || end < addr || end > h.physEnd+h.offset {
		return 0, h.exhausted()
	}

	if addr != h.next {
		h.release(h.next, addr-h.next)
	}

	h.next = end
	h.live[addr] = size
	return addr, nil
}

// Free releases a block returned by one of the allocation functions.
// Freeing address 0 is a no-op.
func (h *Heap) Free(addr uintptr) *kernel.Error {
	if addr == 0 {
		return nil
	}

	size, ok := h.live[addr]
	if !ok {
		return errInvalidFree
	}

	delete(h.live, addr)
	h.release(addr, size)
	return nil
}

// allocFree returns the first free block that can hold an aligned
// allocation of the given size, splitting off any unused head or tail.
func (h *Heap) allocFree(size, align uintptr) (uintptr, bool) {
	for i, b := range h.free {
		addr := mm.AlignUp(b.addr, align)
		if addr+size > b.addr+b.size || addr < b.addr {
			continue
		}

		h.free = append(h.free[:i], h.free[i+1:]...)
		if head := addr - b.addr; head != 0 {
			h.release(b.addr, head)
		}
		if tail := b.addr + b.size - (addr + size); tail != 0 {
			h.release(addr+size, tail)
		}

		return addr, true
	}

	return 0, false
}

// release inserts a block into the address-ordered free list, merging it
// with its neighbours. A block that ends at the bump pointer is returned to
// the unallocated tail instead.
func (h *Heap) release(addr, size uintptr) {
	if addr+size == h.next {
		h.next = addr
		if n := len(h.free); n != 0 && h.free[n-1].addr+h.free[n-1].size == h.next {
			h.next = h.free[n-1].addr
			h.free = h.free[:n-1]
		}
		return
	}

	i := 0
	for i < len(h.free) && h.free[i].addr < addr {
		i++
	}

	h.free = append(h.free, block{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = block{addr: addr, size: size}

	if i+1 < len(h.free) && addr+size == h.free[i+1].addr {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}

	if i > 0 && h.free[i-1].addr+h.free[i-1].size == addr {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

func (h *Heap) exhausted() *kernel.Error {
	if h.policy == PolicyHalt {
		panicFn(ErrOutOfMemory)
	}
	return ErrOutOfMemory
}
