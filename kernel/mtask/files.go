package mtask

import "github.com/portasynthinca3/neutron-sub000/kernel"

// AddOpenFile records a file handle as open by the running task and returns
// the slot it was stored in.
func (m *Manager) AddOpenFile(handle uintptr) (int, *kernel.Error) {
	t := m.Current()
	if t == nil {
		return -1, errNoCurrentTask
	}

	for i, h := range t.OpenFiles {
		if h == 0 {
			t.OpenFiles[i] = handle
			return i, nil
		}
	}
	return -1, ErrTooManyOpenFiles
}

// RemoveOpenFile forgets a file handle opened by the running task.
func (m *Manager) RemoveOpenFile(handle uintptr) *kernel.Error {
	t := m.Current()
	if t == nil {
		return errNoCurrentTask
	}

	for i, h := range t.OpenFiles {
		if h == handle && h != 0 {
			t.OpenFiles[i] = 0
			return nil
		}
	}
	return errFileNotOpen
}

// OpenFile returns the handle stored in a slot of the open file list of a
// task or zero if the task or the slot does not exist.
func (m *Manager) OpenFile(uid uint64, slot int) uintptr {
	t := m.GetByUID(uid)
	if t == nil || slot < 0 || slot >= len(t.OpenFiles) {
		return 0
	}
	return t.OpenFiles[slot]
}
