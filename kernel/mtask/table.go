package mtask

import (
	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
)

// stackAlign is the alignment of the initial stack pointer.
const stackAlign = 16

// userAllocBase is the process address of the first PAlloc allocation.
const userAllocBase = uintptr(0x600000000000)

// TaskSpec describes a task to be created.
type TaskSpec struct {
	Name     string
	Priority uint8

	// StackSize bytes are allocated for the stack unless Stack is set.
	StackSize uintptr

	// Stack is the initial stack pointer of a stack supplied by the caller.
	Stack uintptr

	// IdentityMap maps the low IdentityMapSize bytes of physical memory
	// at the same addresses in the task's address space.
	IdentityMap bool

	// CR3 selects the address space; zero selects the caller's.
	CR3 uint64

	// Start makes the task eligible for scheduling right away. Otherwise
	// it waits in WaitingToRun until Start is called.
	Start bool

	Entry uintptr

	// Args is passed to the entry point in RCX.
	Args uintptr

	Privileges Privileges
}

// CreateTask places a new task in the first free slot of the table and
// returns its UID. Creating the first started task enables scheduling and
// transfers control to it; on hardware that call does not return.
func (m *Manager) CreateTask(spec TaskSpec) (uint64, *kernel.Error) {
	idx := -1
	for i := range m.tasks {
		if !m.tasks[i].Valid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrTaskTableFull
	}

	cr3 := spec.CR3
	if cr3 == 0 {
		cr3 = m.spaces.ActiveCR3()
	}

	if spec.IdentityMap {
		if err := m.spaces.Map(cr3, 0, m.cfg.IdentityMapSize, 0); err != nil {
			return 0, err
		}
	}

	rsp := spec.Stack
	if rsp == 0 {
		stack, err := m.heap.Calloc(spec.StackSize)
		if err != nil {
			return 0, err
		}
		rsp = (stack + spec.StackSize) &^ (stackAlign - 1)
	}

	t := &m.tasks[idx]
	*t = Task{
		State: State{
			RCX:    uint64(spec.Args),
			RSP:    uint64(rsp),
			RIP:    uint64(spec.Entry),
			RFlags: flagsInterruptsEnabled,
			CR3:    cr3,
		},
		Valid:       true,
		UID:         m.nextUID,
		Name:        spec.Name,
		Priority:    spec.Priority,
		StateCode:   WaitingToRun,
		Privileges:  m.ResolvePrivileges(spec.Privileges),
		OpenFiles:   make([]uintptr, m.cfg.MaxOpenFiles),
		Allocations: make([]Allocation, m.cfg.MaxAllocations),
		NextAlloc:   userAllocBase,
	}
	t.prioCnt = t.timeSlice()
	if spec.Start {
		t.StateCode = Running
	}

	m.nextUID++
	if idx >= m.used {
		m.used = idx + 1
	}

	kfmt.Printf("[mtask] created task %d (%s), slot %d\n", t.UID, t.Name, idx)

	if spec.Start && !m.started {
		m.cur = idx
		m.spaces.EnablePhysWin()
		m.started = true
		kfmt.Printf("[mtask] scheduling enabled\n")
		m.enter(t)
	}

	return t.UID, nil
}

// Start makes a task created without Start eligible for scheduling.
func (m *Manager) Start(uid uint64) *kernel.Error {
	t := m.GetByUID(uid)
	if t == nil {
		return ErrNoSuchTask
	}

	if t.StateCode == WaitingToRun {
		t.StateCode = Running
	}
	return nil
}

// StopTask removes a task from the table. Its stack, page allocations and
// open files are not released. Stopping the running task switches to the
// next one; on hardware that call does not return.
func (m *Manager) StopTask(uid uint64) *kernel.Error {
	idx := m.indexOf(uid)
	if idx < 0 {
		return ErrNoSuchTask
	}

	m.tasks[idx] = Task{}
	kfmt.Printf("[mtask] stopped task %d\n", uid)

	if idx != m.cur || !m.started {
		return nil
	}

	m.schedule()
	if next := &m.tasks[m.cur]; next.Valid {
		next.State.SwitchCount++
		m.enter(next)
	}
	return nil
}

func (m *Manager) enter(t *Task) {
	if t.State.CR3 != m.spaces.ActiveCR3() {
		m.spaces.SetActiveCR3(t.State.CR3)
	}
	m.tramp.Enter(&t.State)
}
