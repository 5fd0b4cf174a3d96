// Package vmm manages x86-64 four-level address spaces. It builds and walks
// page tables that live in physical memory, reaching them either directly
// while the boot identity mapping is active or through a small sliding
// physical window once it is not.
package vmm

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/cpu"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmem", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePage is returned when a walk runs into a 2M page set up by the
	// firmware.
	ErrHugePage = &kernel.Error{Module: "vmem", Message: "huge pages are not supported"}

	// ErrPCIDExhausted is returned when all process context identifiers
	// have been handed out.
	ErrPCIDExhausted = &kernel.Error{Module: "vmem", Message: "out of process context identifiers"}

	errInvalidLevel = &kernel.Error{Module: "vmem", Message: "no table can be created at this level"}
)

// Allocator provides zeroed kernel memory for page tables.
type Allocator interface {
	Calloc(size uintptr) (uintptr, *kernel.Error)
}

// Layout describes the physical regions that MapDefaults maps into every
// address space.
type Layout struct {
	KernelPhys, KernelSize           uintptr
	DramPhys, DramSize               uintptr
	FramebufferPhys, FramebufferSize uintptr
}

// Config controls optional manager features.
type Config struct {
	// DisablePCID keeps CR4.PCIDE off even on cores that support it.
	DisablePCID bool

	Layout Layout
}

// Manager owns the paging state of the core: the identity-mapped bootstrap
// address space, the physical window and the PCID allocator.
type Manager struct {
	core *cpu.Core
	heap Allocator
	cfg  Config

	pcidSupported bool
	pcidNext      uint32

	transEnabled   bool
	physwinEnabled bool
	physwinBypass  bool

	identCR3 uint64
}

// New returns a manager for the given core that allocates page tables from
// heap.
func New(core *cpu.Core, heap Allocator, cfg Config) *Manager {
	return &Manager{
		core:     core,
		heap:     heap,
		cfg:      cfg,
		identCR3: core.CR3(),
	}
}

// Init prepares the core for the paging scheme used by the kernel. The
// address space active at the time of the call must identity-map physical
// memory; it becomes the bootstrap space used while building tables.
func (m *Manager) Init() {
	cr3 := m.core.CR3() &^ cpu.CR3PCIDMask
	m.core.SetCR3(cr3)
	m.identCR3 = cr3

	cr4 := (m.core.CR4() | cpu.CR4PAE) &^ (cpu.CR4SMAP | cpu.CR4PKE)
	if !m.cfg.DisablePCID && m.core.HasPCID() {
		cr4 |= cpu.CR4PCIDE
		m.pcidSupported = true
	}
	m.core.SetCR4(cr4)

	// The kernel writes into pages it maps read-only for user code.
	m.core.SetCR0(m.core.CR0() &^ cpu.CR0WriteProtect)

	kfmt.Printf("[vmem] bootstrap cr3: 0x%16x, pcid: %t\n", cr3, m.pcidSupported)
}

// SetLayout updates the regions mapped by MapDefaults.
func (m *Manager) SetLayout(layout Layout) {
	m.cfg.Layout = layout
}

// PCIDSupported returns true if address spaces are tagged with PCIDs.
func (m *Manager) PCIDSupported() bool {
	return m.pcidSupported
}

// EnableTrans marks the end of the identity-mapped boot phase. From now on
// virtual addresses handed to VirtToPhys are translated.
func (m *Manager) EnableTrans() {
	m.transEnabled = true
	kfmt.Printf("[vmem] address translation enabled\n")
}

// EnablePhysWin routes page table accesses through the physical window.
// Every address space that becomes active afterwards must have been set up
// with MapDefaults.
func (m *Manager) EnablePhysWin() {
	m.physwinEnabled = true
	kfmt.Printf("[vmem] physical window enabled\n")
}

// ActiveCR3 returns the CR3 value of the active address space.
func (m *Manager) ActiveCR3() uint64 {
	return m.core.CR3()
}

// SetActiveCR3 switches to another address space.
func (m *Manager) SetActiveCR3(cr3 uint64) {
	m.core.SetCR3(cr3)
}

// IdentityCR3 returns the CR3 value of the bootstrap address space.
func (m *Manager) IdentityCR3() uint64 {
	return m.identCR3
}

// bootstrap runs fn with the bootstrap address space active and the
// physical window bypassed, restoring both afterwards.
func (m *Manager) bootstrap(fn func() *kernel.Error) *kernel.Error {
	savedCR3, savedBypass := m.core.CR3(), m.physwinBypass
	if savedCR3 != m.identCR3 {
		m.core.SetCR3(m.identCR3)
	}
	m.physwinBypass = true

	err := fn()

	m.physwinBypass = savedBypass
	if savedCR3 != m.identCR3 {
		m.core.SetCR3(savedCR3)
	}

	return err
}

// allocTable returns the physical address of a zeroed, page-aligned table.
// The allocator only guarantees a small alignment so the table is carved out
// of an allocation twice its size.
func (m *Manager) allocTable() (uintptr, *kernel.Error) {
	addr, err := m.heap.Calloc(2 * pageSize)
	if err != nil {
		return 0, err
	}

	return m.VirtToPhys(m.core.CR3(), addr+pageSize-addr%pageSize)
}
