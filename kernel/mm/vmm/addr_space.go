package vmm

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

// CreatePCID returns a process context identifier that has never been
// handed out before.
func (m *Manager) CreatePCID() (uint16, *kernel.Error) {
	if m.pcidNext > maxPCID {
		return 0, ErrPCIDExhausted
	}

	pcid := uint16(m.pcidNext)
	m.pcidNext++
	return pcid, nil
}

// CreatePML4 allocates an empty top-level table and returns the CR3 value
// that activates it. The PCID is only encoded when the core uses PCIDs.
func (m *Manager) CreatePML4(pcid uint16) (uint64, *kernel.Error) {
	table, err := m.allocTable()
	if err != nil {
		return 0, err
	}

	cr3 := uint64(table)
	if m.pcidSupported {
		cr3 |= uint64(pcid) & cpu.CR3PCIDMask
	}
	return cr3, nil
}

// Map maps the physical range [physStart, physEnd) at virtStart in the
// address space described by cr3. The pages are only accessible to the
// kernel.
func (m *Manager) Map(cr3 uint64, physStart, physEnd, virtStart uintptr) *kernel.Error {
	return m.bootstrap(func() *kernel.Error {
		return m.mapRange(cr3, physStart, physEnd, virtStart, m.CreatePage)
	})
}

// MapUser behaves like Map but makes the pages accessible to unprivileged
// code.
func (m *Manager) MapUser(cr3 uint64, physStart, physEnd, virtStart uintptr) *kernel.Error {
	return m.bootstrap(func() *kernel.Error {
		return m.mapRange(cr3, physStart, physEnd, virtStart, m.CreatePageUser)
	})
}

func (m *Manager) mapRange(cr3 uint64, physStart, physEnd, virtStart uintptr, createFn func(uint64, uintptr, uintptr) *kernel.Error) *kernel.Error {
	virt := virtStart &^ (pageSize - 1)
	for phys := physStart &^ (pageSize - 1); phys < physEnd; phys, virt = phys+pageSize, virt+pageSize {
		if err := createFn(cr3, virt, phys); err != nil {
			return err
		}
	}
	return nil
}

// Unmap removes the leaf entries for the pages in [virtStart, virtEnd).
// Page tables are left in place and the frames are not released. Pages
// that were never mapped are skipped.
func (m *Manager) Unmap(cr3 uint64, virtStart, virtEnd uintptr) *kernel.Error {
	active := m.core.CR3()

	return m.bootstrap(func() *kernel.Error {
		for virt := virtStart &^ (pageSize - 1); virt < virtEnd; virt += pageSize {
			entryAddr, err := m.entryAddr(LevelPage, cr3, virt)
			switch {
			case err == ErrInvalidMapping:
				continue
			case err != nil:
				return err
			}

			m.write64(entryAddr, 0)
			if cr3 == active {
				m.core.FlushTLBEntry(virt)
			}
		}
		return nil
	})
}

// VirtToPhys returns the physical address virtAddr maps to in the address
// space described by cr3. Before address translation is enabled the
// address is returned unchanged.
func (m *Manager) VirtToPhys(cr3 uint64, virtAddr uintptr) (uintptr, *kernel.Error) {
	if !m.transEnabled {
		return virtAddr, nil
	}

	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	m.walk(cr3, virtAddr, func(level Level, _ uintptr, pte pageTableEntry) bool {
		switch {
		case !pte.HasFlags(FlagPresent):
			return false
		case level == LevelPT && pte.HasFlags(FlagHugePage):
			physAddr, err = (pte.Address()&^hugePageMask)|(virtAddr&hugePageMask), nil
			return false
		case level == LevelPage:
			physAddr, err = pte.Address()|mm.PageOffset(virtAddr), nil
		}
		return true
	})

	return physAddr, err
}

// MapDefaults establishes the mappings every address space needs: the
// kernel image, dynamic memory, the local APIC registers, the framebuffer
// and the physical window together with the page table backing it. The
// local APIC registers are mapped uncacheable.
func (m *Manager) MapDefaults(cr3 uint64) *kernel.Error {
	layout := m.cfg.Layout
	flush := cr3 == m.core.CR3()

	return m.bootstrap(func() *kernel.Error {
		regions := []struct {
			physStart, size, virtStart uintptr
		}{
			{layout.KernelPhys, layout.KernelSize, KernelBase},
			{layout.DramPhys, layout.DramSize, DramBase},
			{APICPhys, pageSize, APICBase},
			{layout.FramebufferPhys, layout.FramebufferSize, FramebufferBase},
			{0, 2 * pageSize, physWindowAddr},
		}

		for _, r := range regions {
			if r.size == 0 {
				continue
			}
			if err := m.mapRange(cr3, r.physStart, r.physStart+r.size, r.virtStart, m.CreatePage); err != nil {
				return err
			}
		}

		if err := m.setCacheType(cr3, APICBase, APICBase+pageSize, cpu.Uncacheable, flush); err != nil {
			return err
		}

		windowPT, err := m.Addr(LevelPT, cr3, physWindowAddr)
		if err != nil {
			return err
		}

		return m.CreatePage(cr3, physWindowPTAddr, windowPT)
	})
}

// IsUserRange returns true if [start, start+length) lies entirely within
// the lower canonical half.
func IsUserRange(start, length uintptr) bool {
	end := start + length
	return end >= start && end <= UserSplit
}
