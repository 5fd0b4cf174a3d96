package mtask

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

// PAlloc allocates pages of kernel memory and maps them into the address
// space of the task with the given UID. It returns the address at which the
// task sees the allocation.
func (m *Manager) PAlloc(uid uint64, pages uint64) (uintptr, *kernel.Error) {
	t := m.GetByUID(uid)
	if t == nil {
		return 0, ErrNoSuchTask
	}

	if pages == 0 {
		return 0, errInvalidPageCount
	}

	slot := -1
	for i := range t.Allocations {
		if !t.Allocations[i].Used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, ErrAllocTableFull
	}

	size := uintptr(pages) << mm.PageShift
	kernelAddr, err := m.heap.Amalloc(size, mm.PageSize)
	if err != nil {
		return 0, err
	}

	physAddr, err := m.spaces.VirtToPhys(m.spaces.ActiveCR3(), kernelAddr)
	if err == nil {
		err = m.spaces.MapUser(t.State.CR3, physAddr, physAddr+size, t.NextAlloc)
	}
	if err != nil {
		_ = m.heap.Free(kernelAddr)
		return 0, err
	}

	procAddr := t.NextAlloc
	t.NextAlloc += size
	t.Allocations[slot] = Allocation{
		Used:       true,
		KernelAddr: kernelAddr,
		ProcAddr:   procAddr,
		Pages:      pages,
	}

	return procAddr, nil
}

// PFree releases an allocation made by PAlloc. The pages are unmapped from
// the task but its page tables are kept.
func (m *Manager) PFree(uid uint64, procAddr uintptr) *kernel.Error {
	t := m.GetByUID(uid)
	if t == nil {
		return ErrNoSuchTask
	}

	for i := range t.Allocations {
		alloc := &t.Allocations[i]
		if !alloc.Used || alloc.ProcAddr != procAddr {
			continue
		}

		if err := m.heap.Free(alloc.KernelAddr); err != nil {
			return err
		}

		err := m.spaces.Unmap(t.State.CR3, procAddr, procAddr+uintptr(alloc.Pages)<<mm.PageShift)
		*alloc = Allocation{}
		return err
	}

	return errNoSuchAllocation
}
