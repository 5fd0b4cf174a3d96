// Package mtask implements the multitasking engine: a fixed-size task table
// and a weighted round-robin scheduler driven by the timer interrupt.
//
// The kernel runs on a single core and the scheduler is only entered from
// the timer interrupt handler, so no state in this package is locked.
package mtask

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

var (
	// ErrTaskTableFull is returned by CreateTask when every slot is in use.
	ErrTaskTableFull = &kernel.Error{Module: "mtask", Message: "task table is full"}

	// ErrNoSuchTask is returned when a UID does not match any task.
	ErrNoSuchTask = &kernel.Error{Module: "mtask", Message: "no task with this uid"}

	// ErrAllocTableFull is returned by PAlloc when the allocation table of
	// the task is full.
	ErrAllocTableFull = &kernel.Error{Module: "mtask", Message: "task allocation table is full"}

	// ErrTooManyOpenFiles is returned by AddOpenFile when the open file
	// list of the task is full.
	ErrTooManyOpenFiles = &kernel.Error{Module: "mtask", Message: "too many open files"}

	errNoSuchAllocation = &kernel.Error{Module: "mtask", Message: "address was not returned by palloc"}
	errInvalidPageCount = &kernel.Error{Module: "mtask", Message: "palloc needs at least one page"}
	errFileNotOpen      = &kernel.Error{Module: "mtask", Message: "file is not open"}
	errNotWaiting       = &kernel.Error{Module: "mtask", Message: "task is not waiting for privileges"}
	errNoCurrentTask    = &kernel.Error{Module: "mtask", Message: "no task is running"}
)

// AddressSpaces is the part of the virtual memory manager used by tasks.
type AddressSpaces interface {
	ActiveCR3() uint64
	SetActiveCR3(cr3 uint64)
	EnablePhysWin()
	Map(cr3 uint64, physStart, physEnd, virtStart uintptr) *kernel.Error
	MapUser(cr3 uint64, physStart, physEnd, virtStart uintptr) *kernel.Error
	Unmap(cr3 uint64, virtStart, virtEnd uintptr) *kernel.Error
	VirtToPhys(cr3 uint64, virtAddr uintptr) (uintptr, *kernel.Error)
}

// Heap provides kernel memory for stacks and page allocations.
type Heap interface {
	Calloc(size uintptr) (uintptr, *kernel.Error)
	Amalloc(size, align uintptr) (uintptr, *kernel.Error)
	Free(addr uintptr) *kernel.Error
}

// Clock is the time source of the core.
type Clock interface {
	TSC() uint64

	// Pause spins for a short while.
	Pause()

	// Idle waits for the next interrupt.
	Idle()
}

// Trampoline transfers control to a saved task context. On hardware Enter
// never returns.
type Trampoline interface {
	Enter(state *State)
}

// Config sizes the task table.
type Config struct {
	MaxTasks       int
	MaxOpenFiles   int
	MaxAllocations int

	// IdentityMapSize is the size of the low range identity-mapped into
	// tasks that request it.
	IdentityMapSize uintptr

	// CPUHz is the TSC frequency.
	CPUHz uint64
}

// DefaultConfig returns the default task table configuration.
func DefaultConfig() Config {
	return Config{
		MaxTasks:        128,
		MaxOpenFiles:    16,
		MaxAllocations:  64,
		IdentityMapSize: uintptr(8 * mm.Gb),
		CPUHz:           1000000000,
	}
}

// Manager owns the task table and the scheduler state.
type Manager struct {
	cfg Config

	spaces AddressSpaces
	heap   Heap
	clock  Clock
	tramp  Trampoline

	tasks []Task

	// used is one past the highest slot ever occupied.
	used int
	cur  int

	nextUID uint64
	started bool
	frozen  bool
}

// New creates an empty task table.
func New(cfg Config, spaces AddressSpaces, heap Heap, clock Clock, tramp Trampoline) *Manager {
	if cfg.MaxTasks < 1 {
		cfg.MaxTasks = 1
	}

	return &Manager{
		cfg:     cfg,
		spaces:  spaces,
		heap:    heap,
		clock:   clock,
		tramp:   tramp,
		tasks:   make([]Task, cfg.MaxTasks),
		nextUID: 1,
	}
}

// Started returns true once the first task has been entered.
func (m *Manager) Started() bool {
	return m.started
}

// Freeze stops task switching until Thaw is called.
func (m *Manager) Freeze() {
	m.frozen = true
}

// Thaw resumes task switching.
func (m *Manager) Thaw() {
	m.frozen = false
}

// Snapshot invokes fn for every valid task with task switching frozen. The
// visitor must return true to continue or false to abort the scan.
func (m *Manager) Snapshot(fn func(*Task) bool) {
	wasFrozen := m.frozen
	m.frozen = true
	defer func() { m.frozen = wasFrozen }()

	for i := 0; i < m.used; i++ {
		if m.tasks[i].Valid && !fn(&m.tasks[i]) {
			return
		}
	}
}

// Current returns the running task or nil if none is running.
func (m *Manager) Current() *Task {
	if t := &m.tasks[m.cur]; m.started && t.Valid {
		return t
	}
	return nil
}

// CurrentUID returns the UID of the running task or 0 if none is running.
func (m *Manager) CurrentUID() uint64 {
	if t := m.Current(); t != nil {
		return t.UID
	}
	return 0
}

// GetByUID returns the task with the given UID or nil if it does not exist.
func (m *Manager) GetByUID(uid uint64) *Task {
	if idx := m.indexOf(uid); idx >= 0 {
		return &m.tasks[idx]
	}
	return nil
}

// Exists returns true if a task with the given UID exists.
func (m *Manager) Exists(uid uint64) bool {
	return m.indexOf(uid) >= 0
}

func (m *Manager) indexOf(uid uint64) int {
	if uid == 0 {
		return -1
	}

	for i := 0; i < m.used; i++ {
		if m.tasks[i].Valid && m.tasks[i].UID == uid {
			return i
		}
	}
	return -1
}
