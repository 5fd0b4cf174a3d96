package mtask

// microsToCycles converts microseconds to TSC cycles.
func (m *Manager) microsToCycles(us uint64) uint64 {
	return m.cfg.CPUHz / 1000 * us / 1000
}

// DelayCycles spins for the given number of TSC cycles without giving up
// the CPU.
func (m *Manager) DelayCycles(cycles uint64) {
	end := m.clock.TSC() + cycles
	for m.clock.TSC() < end {
		m.clock.Pause()
	}
}

// DelayMicros spins for the given number of microseconds.
func (m *Manager) DelayMicros(us uint64) {
	m.DelayCycles(m.microsToCycles(us))
}

// SleepCycles blocks the running task for at least the given number of TSC
// cycles, letting other tasks run meanwhile. Before scheduling is enabled it
// behaves like DelayCycles.
func (m *Manager) SleepCycles(cycles uint64) {
	t := m.Current()
	if t == nil || m.frozen {
		m.DelayCycles(cycles)
		return
	}

	t.BlockedTill = m.clock.TSC() + cycles
	t.StateCode = BlockedForCycles

	// The scheduler flips the state back once the wake time has passed.
	for t.StateCode == BlockedForCycles {
		m.clock.Idle()
	}
}

// SleepMicros blocks the running task for at least the given number of
// microseconds.
func (m *Manager) SleepMicros(us uint64) {
	m.SleepCycles(m.microsToCycles(us))
}
