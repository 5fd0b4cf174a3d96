package mtask

import "testing"

func TestResolvePrivileges(t *testing.T) {
	m, _ := newTestManager(testConfig())

	if got := m.ResolvePrivileges(PrivInherit); got != 0 {
		t.Fatalf("expected no privileges to be inherited without a running task; got 0x%x", got)
	}

	_, err := m.CreateTask(TaskSpec{StackSize: 0x100, Start: true, Privileges: PrivKMesg | PrivSudoMode})
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		requested Privileges
		exp       Privileges
	}{
		{0, 0},
		{PrivKMesg, PrivKMesg},
		{PrivInherit, PrivKMesg | PrivSudoMode},
		{PrivInherit | PrivEverything, PrivKMesg | PrivSudoMode},
		{PrivEverything, PrivEverything},
	}

	for specIndex, spec := range specs {
		if got := m.ResolvePrivileges(spec.requested); got != spec.exp {
			t.Errorf("[spec %d] expected 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestEscalate(t *testing.T) {
	t.Run("no task", func(t *testing.T) {
		m, _ := newTestManager(testConfig())
		if _, err := m.Escalate(PrivKMesg); err != errNoCurrentTask {
			t.Fatalf("expected errNoCurrentTask; got %v", err)
		}
	})

	t.Run("sudo mode", func(t *testing.T) {
		m, env := newTestManager(testConfig())
		uid, _ := m.CreateTask(TaskSpec{StackSize: 0x100, Start: true, Privileges: PrivSudoMode})

		env.clock.onIdle = func() { t.Fatal("expected sudo mode escalation not to wait") }

		ok, err := m.Escalate(PrivKMesg | PrivInherit)
		if err != nil || !ok {
			t.Fatalf("expected escalation to succeed; got %t, %v", ok, err)
		}

		if !m.HasPrivileges(uid, PrivKMesg|PrivSudoMode) || m.HasPrivileges(uid, PrivInherit) {
			t.Fatalf("unexpected privileges 0x%x", m.GetByUID(uid).Privileges)
		}
	})

	for _, granted := range []bool{true, false} {
		granted := granted
		t.Run("resolved", func(t *testing.T) {
			m, env := newTestManager(testConfig())
			uids := startTasks(t, m, 1, 1)

			var waited int
			env.clock.onIdle = func() {
				waited++
				tick(m)
				if m.CurrentUID() == uids[0] {
					t.Error("expected a task waiting for privileges not to be scheduled")
				}

				if waited < 3 {
					return
				}

				if req, ok := m.PendingEscalation(uids[0]); !ok || req != PrivKMesg {
					t.Errorf("expected pending request 0x%x; got 0x%x, %t", PrivKMesg, req, ok)
				}
				if err := m.ResolveEscalation(uids[0], granted); err != nil {
					t.Error(err)
				}
			}

			ok, err := m.Escalate(PrivKMesg)
			if err != nil {
				t.Fatal(err)
			}

			if ok != granted || m.HasPrivileges(uids[0], PrivKMesg) != granted {
				t.Fatalf("expected escalation result %t; got %t", granted, ok)
			}

			if _, pending := m.PendingEscalation(uids[0]); pending {
				t.Fatal("expected no pending request after resolution")
			}
		})
	}

	t.Run("resolve errors", func(t *testing.T) {
		m, _ := newTestManager(testConfig())
		uids := startTasks(t, m, 1)

		if err := m.ResolveEscalation(uids[0], true); err != errNotWaiting {
			t.Errorf("expected errNotWaiting; got %v", err)
		}

		if err := m.ResolveEscalation(uids[0]+1, true); err != ErrNoSuchTask {
			t.Errorf("expected ErrNoSuchTask; got %v", err)
		}
	})
}

func TestOpenFiles(t *testing.T) {
	m, _ := newTestManager(testConfig())

	if _, err := m.AddOpenFile(0x10); err != errNoCurrentTask {
		t.Fatalf("expected errNoCurrentTask; got %v", err)
	}
	if err := m.RemoveOpenFile(0x10); err != errNoCurrentTask {
		t.Fatalf("expected errNoCurrentTask; got %v", err)
	}

	uids := startTasks(t, m, 1)

	for i, handle := range []uintptr{0x10, 0x20} {
		slot, err := m.AddOpenFile(handle)
		if err != nil {
			t.Fatal(err)
		}
		if slot != i {
			t.Fatalf("expected handle 0x%x in slot %d; got %d", handle, i, slot)
		}
	}

	if _, err := m.AddOpenFile(0x30); err != ErrTooManyOpenFiles {
		t.Fatalf("expected ErrTooManyOpenFiles; got %v", err)
	}

	if err := m.RemoveOpenFile(0x10); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveOpenFile(0x10); err != errFileNotOpen {
		t.Fatalf("expected errFileNotOpen; got %v", err)
	}

	if slot, _ := m.AddOpenFile(0x30); slot != 0 {
		t.Fatalf("expected freed slot 0 to be reused; got %d", slot)
	}

	specs := []struct {
		uid  uint64
		slot int
		exp  uintptr
	}{
		{uids[0], 0, 0x30},
		{uids[0], 1, 0x20},
		{uids[0], 2, 0},
		{uids[0], -1, 0},
		{0, 0, 0},
		{uids[0] + 1, 0, 0},
	}

	for specIndex, spec := range specs {
		if got := m.OpenFile(spec.uid, spec.slot); got != spec.exp {
			t.Errorf("[spec %d] expected 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestDelay(t *testing.T) {
	m, env := newTestManager(testConfig())

	m.DelayMicros(5)
	if env.clock.tsc < 5000 || env.clock.tsc >= 5010 {
		t.Fatalf("expected the delay to last 5000 cycles; TSC is %d", env.clock.tsc)
	}

	if got := m.microsToCycles(1000000); got != m.cfg.CPUHz {
		t.Fatalf("expected one second to be %d cycles; got %d", m.cfg.CPUHz, got)
	}
}

func TestSleep(t *testing.T) {
	t.Run("before scheduling", func(t *testing.T) {
		m, env := newTestManager(testConfig())
		m.SleepCycles(100)
		if env.clock.tsc < 100 {
			t.Fatalf("expected sleep to fall back to a delay; TSC is %d", env.clock.tsc)
		}
	})

	t.Run("blocks task", func(t *testing.T) {
		m, env := newTestManager(testConfig())
		uids := startTasks(t, m, 1, 1)

		var ran []uint64
		env.clock.onIdle = func() {
			tick(m)
			ran = append(ran, m.CurrentUID())
		}

		m.SleepCycles(250)

		if env.clock.tsc < 250 {
			t.Fatalf("expected to sleep for at least 250 cycles; TSC is %d", env.clock.tsc)
		}

		exp := []uint64{uids[1], uids[1], uids[0]}
		if len(ran) != len(exp) {
			t.Fatalf("expected run order %v; got %v", exp, ran)
		}
		for i := range exp {
			if ran[i] != exp[i] {
				t.Fatalf("expected run order %v; got %v", exp, ran)
			}
		}
	})
}
