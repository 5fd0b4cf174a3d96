package vmm

import "github.com/portasynthinca3/neutron-sub000/kernel/mm"

// Window entries live in the table mapped at physWindowPTAddr.
var (
	physWindowEntry     = physWindowPTAddr + entryIndex(LevelPage, physWindowAddr)<<mm.PointerShift
	physWindowNextEntry = physWindowEntry + 1<<mm.PointerShift
)

// setWindow points the physical window at the frame containing physAddr and
// the frame after it. It returns the offset of physAddr within the window.
func (m *Manager) setWindow(physAddr uintptr) uintptr {
	var pte pageTableEntry
	pte.SetFrame(mm.FrameFromAddress(physAddr))
	pte.SetFlags(FlagPresent | FlagRW)

	m.core.Store64(physWindowEntry, uint64(pte))
	m.core.FlushTLB()

	pte.SetFrame(mm.FrameFromAddress(physAddr) + 1)
	m.core.Store64(physWindowNextEntry, uint64(pte))
	m.core.FlushTLB()

	return mm.PageOffset(physAddr)
}

// useWindow returns true if physical memory must be reached through the
// window instead of the identity mapping.
func (m *Manager) useWindow() bool {
	return m.physwinEnabled && !m.physwinBypass
}

func (m *Manager) read32(physAddr uintptr) uint32 {
	if !m.useWindow() {
		return m.core.Load32(physAddr)
	}
	return m.core.Load32(physWindowAddr + m.setWindow(physAddr))
}

func (m *Manager) write32(physAddr uintptr, val uint32) {
	if !m.useWindow() {
		m.core.Store32(physAddr, val)
		return
	}
	m.core.Store32(physWindowAddr+m.setWindow(physAddr), val)
}

func (m *Manager) read64(physAddr uintptr) uint64 {
	if !m.useWindow() {
		return m.core.Load64(physAddr)
	}
	return m.core.Load64(physWindowAddr + m.setWindow(physAddr))
}

func (m *Manager) write64(physAddr uintptr, val uint64) {
	if !m.useWindow() {
		m.core.Store64(physAddr, val)
		return
	}
	m.core.Store64(physWindowAddr+m.setWindow(physAddr), val)
}

// ReadPhys32 reads a 32-bit value from physical memory.
func (m *Manager) ReadPhys32(physAddr uintptr) uint32 { return m.read32(physAddr) }

// WritePhys32 writes a 32-bit value to physical memory.
func (m *Manager) WritePhys32(physAddr uintptr, val uint32) { m.write32(physAddr, val) }

// ReadPhys64 reads a 64-bit value from physical memory.
func (m *Manager) ReadPhys64(physAddr uintptr) uint64 { return m.read64(physAddr) }

// WritePhys64 writes a 64-bit value to physical memory.
func (m *Manager) WritePhys64(physAddr uintptr, val uint64) { m.write64(physAddr, val) }
