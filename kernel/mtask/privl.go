package mtask

import "github.com/portasynthinca3/neutron-sub000/kernel"

// ResolvePrivileges returns the privileges a new task receives when its
// creator requests the given set. PrivInherit yields the privileges of the
// running task instead.
func (m *Manager) ResolvePrivileges(requested Privileges) Privileges {
	if requested&PrivInherit == 0 {
		return requested
	}

	if cur := m.Current(); cur != nil {
		return cur.Privileges
	}
	return 0
}

// HasPrivileges returns true if the task with the given UID holds every
// privilege in mask.
func (m *Manager) HasPrivileges(uid uint64, mask Privileges) bool {
	t := m.GetByUID(uid)
	return t != nil && t.Privileges&mask == mask
}

// Escalate requests additional privileges for the running task. Tasks in
// sudo mode receive them immediately; any other task waits until the request
// is resolved with ResolveEscalation. It returns true if the task holds all
// of the requested privileges afterwards.
func (m *Manager) Escalate(mask Privileges) (bool, *kernel.Error) {
	t := m.Current()
	if t == nil {
		return false, errNoCurrentTask
	}

	mask &^= PrivInherit
	if t.Privileges&PrivSudoMode != 0 {
		t.Privileges |= mask
		return true, nil
	}

	t.requestedPrivileges = mask
	t.StateCode = WaitingForPrivilegeEscalation
	for t.StateCode == WaitingForPrivilegeEscalation {
		m.clock.Idle()
	}

	return t.Privileges&mask == mask, nil
}

// PendingEscalation returns the privileges requested by a task waiting in
// Escalate.
func (m *Manager) PendingEscalation(uid uint64) (Privileges, bool) {
	t := m.GetByUID(uid)
	if t == nil || t.StateCode != WaitingForPrivilegeEscalation {
		return 0, false
	}
	return t.requestedPrivileges, true
}

// ResolveEscalation answers the pending privilege request of a task and
// makes it runnable again.
func (m *Manager) ResolveEscalation(uid uint64, granted bool) *kernel.Error {
	t := m.GetByUID(uid)
	if t == nil {
		return ErrNoSuchTask
	}

	if t.StateCode != WaitingForPrivilegeEscalation {
		return errNotWaiting
	}

	if granted {
		t.Privileges |= t.requestedPrivileges
	}
	t.requestedPrivileges = 0
	t.StateCode = Running
	return nil
}
