package mtask

import "github.com/portasynthinca3/neutron-sub000/kernel/irq"

// StateCode describes whether a task can be scheduled.
type StateCode uint8

const (
	// Running tasks are eligible for scheduling.
	Running StateCode = 0

	// BlockedForCycles tasks wait until the TSC reaches BlockedTill.
	BlockedForCycles StateCode = 1

	// WaitingToRun tasks were created without being started.
	WaitingToRun StateCode = 3

	// WaitingForPrivilegeEscalation tasks wait for a privilege request to
	// be resolved.
	WaitingForPrivilegeEscalation StateCode = 4
)

// String implements fmt.Stringer for StateCode.
func (s StateCode) String() string {
	switch s {
	case Running:
		return "running"
	case BlockedForCycles:
		return "blocked"
	case WaitingToRun:
		return "waiting to run"
	case WaitingForPrivilegeEscalation:
		return "waiting for privileges"
	default:
		return "unknown"
	}
}

// Privileges is a bitmask of operations a task may perform.
type Privileges uint64

const (
	// PrivKMesg allows writing to the kernel message log.
	PrivKMesg Privileges = 1 << 0

	// PrivSudoMode grants every escalation request without asking.
	PrivSudoMode Privileges = 1 << 62

	// PrivEverything is every privilege except PrivInherit.
	PrivEverything Privileges = 0x7fffffffffffffff

	// PrivInherit requests the privileges of the creating task.
	PrivInherit Privileges = 1 << 63
)

// flagsInterruptsEnabled is the RFLAGS value tasks start with: IF plus the
// always-set reserved bit 1.
const flagsInterruptsEnabled = uint64(0x202)

// State is the saved CPU context of a task.
type State struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	CR3, RIP, RFlags uint64

	// SwitchCount is the number of times the task was switched to.
	SwitchCount uint64
}

// save copies the interrupted context from regs.
func (s *State) save(regs *irq.Registers) {
	s.RAX, s.RBX, s.RCX, s.RDX = regs.RAX, regs.RBX, regs.RCX, regs.RDX
	s.RSI, s.RDI, s.RBP, s.RSP = regs.RSI, regs.RDI, regs.RBP, regs.RSP
	s.R8, s.R9, s.R10, s.R11 = regs.R8, regs.R9, regs.R10, regs.R11
	s.R12, s.R13, s.R14, s.R15 = regs.R12, regs.R13, regs.R14, regs.R15
	s.RIP, s.RFlags = regs.RIP, regs.RFlags
}

// Restore loads the saved context into regs.
func (s *State) Restore(regs *irq.Registers) {
	regs.RAX, regs.RBX, regs.RCX, regs.RDX = s.RAX, s.RBX, s.RCX, s.RDX
	regs.RSI, regs.RDI, regs.RBP, regs.RSP = s.RSI, s.RDI, s.RBP, s.RSP
	regs.R8, regs.R9, regs.R10, regs.R11 = s.R8, s.R9, s.R10, s.R11
	regs.R12, regs.R13, regs.R14, regs.R15 = s.R12, s.R13, s.R14, s.R15
	regs.RIP, regs.RFlags = s.RIP, s.RFlags
}

// Allocation records a run of kernel pages mapped into a task.
type Allocation struct {
	Used       bool
	KernelAddr uintptr
	ProcAddr   uintptr
	Pages      uint64
}

// Task is a slot of the task table.
type Task struct {
	State State

	Valid bool
	UID   uint64
	Name  string

	// Priority is the number of consecutive timer ticks the task runs
	// for before another task gets the CPU. Zero counts as one.
	Priority uint8
	prioCnt  uint8

	StateCode   StateCode
	BlockedTill uint64

	Privileges          Privileges
	requestedPrivileges Privileges

	// OpenFiles holds file handles; zero marks an empty slot.
	OpenFiles []uintptr

	Allocations []Allocation

	// NextAlloc is the process address the next PAlloc maps to.
	NextAlloc uintptr
}

// timeSlice returns the number of ticks a task runs for per turn.
func (t *Task) timeSlice() uint8 {
	if t.Priority == 0 {
		return 1
	}
	return t.Priority
}
