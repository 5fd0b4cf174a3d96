package mtask

import "github.com/portasynthinca3/neutron-sub000/kernel/irq"

// HandleTimer is the timer interrupt handler. It saves the interrupted
// context into the current task, picks the task to run next and loads its
// context into regs, switching address spaces if needed.
func (m *Manager) HandleTimer(regs *irq.Registers) {
	if !m.started || m.frozen {
		return
	}

	prev := m.cur
	if cur := &m.tasks[prev]; cur.Valid {
		cur.State.save(regs)
	}

	m.schedule()

	next := &m.tasks[m.cur]
	if !next.Valid {
		return
	}

	if m.cur != prev {
		next.State.SwitchCount++
	}

	next.State.Restore(regs)
	if next.State.CR3 != m.spaces.ActiveCR3() {
		m.spaces.SetActiveCR3(next.State.CR3)
	}
}

// schedule advances the cursor to the task that runs during the next tick.
// The current task keeps the CPU until it has used up its time slice; then
// the table is scanned circularly starting after it. Blocked tasks whose
// wake time has passed are woken during the scan. If no other task can run
// the cursor stays where it is.
func (m *Manager) schedule() {
	cur := &m.tasks[m.cur]
	if cur.Valid && cur.StateCode == Running && cur.prioCnt > 1 {
		cur.prioCnt--
		return
	}
	if cur.Valid {
		cur.prioCnt = cur.timeSlice()
	}

	now := m.clock.TSC()
	for i := 1; i <= m.used; i++ {
		idx := (m.cur + i) % m.used
		t := &m.tasks[idx]
		if !t.Valid {
			continue
		}

		if t.StateCode == BlockedForCycles && now >= t.BlockedTill {
			t.StateCode = Running
		}

		if t.StateCode == Running {
			m.cur = idx
			return
		}
	}
}
