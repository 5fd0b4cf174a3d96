package vmm

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
)

// patSpareEntry is overwritten when no PAT entry holds a requested type.
const patSpareEntry = uint8(cpu.PATEntries - 1)

var errInvalidMemType = &kernel.Error{Module: "vmem", Message: "reserved memory type"}

// SetPATEntry stores memType in entry idx of the page attribute table.
func (m *Manager) SetPATEntry(idx uint8, memType cpu.MemoryType) *kernel.Error {
	if !memType.Valid() {
		return errInvalidMemType
	}

	shift := uint(idx%cpu.PATEntries) * 8
	pat := m.core.PAT()&^(0xff<<shift) | uint64(memType)<<shift
	m.core.SetPAT(pat)
	return nil
}

// patEntryFor returns the PAT entry that holds memType, claiming the last
// entry if none does.
func (m *Manager) patEntryFor(memType cpu.MemoryType) (uint8, *kernel.Error) {
	for idx := uint8(0); idx < cpu.PATEntries; idx++ {
		if m.core.PATEntry(idx) == memType {
			return idx, nil
		}
	}

	if err := m.SetPATEntry(patSpareEntry, memType); err != nil {
		return 0, err
	}
	return patSpareEntry, nil
}

// SetCacheType applies memType to the 4K pages in [virtStart, virtEnd) of
// the address space described by cr3. Pages that are not mapped are
// skipped; a range that runs into a 2M page fails with ErrHugePage.
func (m *Manager) SetCacheType(cr3 uint64, virtStart, virtEnd uintptr, memType cpu.MemoryType) *kernel.Error {
	flush := cr3 == m.core.CR3()

	return m.bootstrap(func() *kernel.Error {
		return m.setCacheType(cr3, virtStart, virtEnd, memType, flush)
	})
}

func (m *Manager) setCacheType(cr3 uint64, virtStart, virtEnd uintptr, memType cpu.MemoryType, flush bool) *kernel.Error {
	if !memType.Valid() {
		return errInvalidMemType
	}

	idx, err := m.patEntryFor(memType)
	if err != nil {
		return err
	}

	var flags PageTableEntryFlag
	if idx&1 != 0 {
		flags |= FlagWriteThroughCaching
	}
	if idx&2 != 0 {
		flags |= FlagDoNotCache
	}
	if idx&4 != 0 {
		flags |= FlagPAT
	}

	for virt := virtStart &^ (pageSize - 1); virt < virtEnd; virt += pageSize {
		entryAddr, err := m.entryAddr(LevelPage, cr3, virt)
		switch {
		case err == ErrInvalidMapping:
			continue
		case err != nil:
			return err
		}

		pte := pageTableEntry(m.read64(entryAddr))
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		pte.ClearFlags(patIndexFlags)
		pte.SetFlags(flags)
		m.write64(entryAddr, uint64(pte))

		if flush {
			m.core.FlushTLBEntry(virt)
		}
	}

	return nil
}

// PrintPAT logs the memory type held by every PAT entry.
func (m *Manager) PrintPAT() {
	kfmt.Printf("[vmem] page attribute table:\n")
	for idx := uint8(0); idx < cpu.PATEntries; idx++ {
		kfmt.Printf("\t%d: %s\n", idx, m.core.PATEntry(idx).String())
	}
}
