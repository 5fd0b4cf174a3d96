package vmm

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

const pageSize = mm.PageSize

// walkFn is invoked for each entry visited by walk together with the
// physical address of the entry. Returning false aborts the walk.
type walkFn func(level Level, entryAddr uintptr, pte pageTableEntry) bool

// walk visits the entries that translate virtAddr in the address space
// described by cr3, starting with the PML4 entry. It stops after the first
// entry that is not present or that maps a 2M page.
func (m *Manager) walk(cr3 uint64, virtAddr uintptr, fn walkFn) {
	table := uintptr(cr3) & ptePhysPageMask

	for level := LevelPDPT; level <= LevelPage; level++ {
		entryAddr := table + entryIndex(level, virtAddr)<<mm.PointerShift
		pte := pageTableEntry(m.read64(entryAddr))

		if !fn(level, entryAddr, pte) || !pte.HasFlags(FlagPresent) {
			return
		}

		if level == LevelPT && pte.HasFlags(FlagHugePage) {
			return
		}

		table = pte.Address()
	}
}

// entryAddr returns the physical address of the entry at level that
// translates virtAddr.
func (m *Manager) entryAddr(level Level, cr3 uint64, virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		addr uintptr
		err  = ErrInvalidMapping
	)

	m.walk(cr3, virtAddr, func(l Level, entryAddr uintptr, pte pageTableEntry) bool {
		if l == level {
			addr, err = entryAddr, nil
			return false
		}

		if l == LevelPT && pte.HasFlags(FlagPresent|FlagHugePage) {
			err = ErrHugePage
		}
		return true
	})

	return addr, err
}

// Present returns true if the entry at level that translates virtAddr is
// present. An entry whose parent tables are missing is never present.
func (m *Manager) Present(level Level, cr3 uint64, virtAddr uintptr) bool {
	var present bool

	m.walk(cr3, virtAddr, func(l Level, _ uintptr, pte pageTableEntry) bool {
		if l == level {
			present = pte.HasFlags(FlagPresent)
			return false
		}
		return true
	})

	return present
}

// Addr returns the physical address the entry at level points to: the base
// of the next table or, for LevelPage, the mapped frame.
func (m *Manager) Addr(level Level, cr3 uint64, virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		addr uintptr
		err  = ErrInvalidMapping
	)

	m.walk(cr3, virtAddr, func(l Level, _ uintptr, pte pageTableEntry) bool {
		switch {
		case !pte.HasFlags(FlagPresent):
			return false
		case l == LevelPT && pte.HasFlags(FlagHugePage):
			err = ErrHugePage
			return false
		case l == level:
			addr, err = pte.Address(), nil
			return false
		}
		return true
	})

	return addr, err
}

// Create allocates an empty table and installs it in the entry at level,
// creating any missing parent tables first. An existing entry is replaced.
func (m *Manager) Create(level Level, cr3 uint64, virtAddr uintptr) *kernel.Error {
	if level > LevelPT {
		return errInvalidLevel
	}

	if level > LevelPDPT && !m.Present(level-1, cr3, virtAddr) {
		if err := m.Create(level-1, cr3, virtAddr); err != nil {
			return err
		}
	}

	entryAddr, err := m.entryAddr(level, cr3, virtAddr)
	if err != nil {
		return err
	}

	table, err := m.allocTable()
	if err != nil {
		return err
	}

	var pte pageTableEntry
	pte.SetFrame(mm.FrameFromAddress(table))
	pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
	m.write64(entryAddr, uint64(pte))

	return nil
}

// CreatePage maps the page containing virtAddr to the frame containing
// physAddr. The page is only accessible to the kernel.
func (m *Manager) CreatePage(cr3 uint64, virtAddr, physAddr uintptr) *kernel.Error {
	return m.createPage(cr3, virtAddr, physAddr, FlagPresent|FlagRW)
}

// CreatePageUser maps the page containing virtAddr to the frame containing
// physAddr and makes it accessible to unprivileged code.
func (m *Manager) CreatePageUser(cr3 uint64, virtAddr, physAddr uintptr) *kernel.Error {
	return m.createPage(cr3, virtAddr, physAddr, FlagPresent|FlagRW|FlagUserAccessible)
}

func (m *Manager) createPage(cr3 uint64, virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if !m.Present(LevelPT, cr3, virtAddr) {
		if err := m.Create(LevelPT, cr3, virtAddr); err != nil {
			return err
		}
	}

	entryAddr, err := m.entryAddr(LevelPage, cr3, virtAddr)
	if err != nil {
		return err
	}

	// Caching stays write-back and the page executable.
	var pte pageTableEntry
	pte.SetFrame(mm.FrameFromAddress(physAddr))
	pte.SetFlags(flags)
	m.write64(entryAddr, uint64(pte))

	m.core.FlushTLBEntry(virtAddr)
	return nil
}
