package mtask

import (
	"testing"

	"github.com/portasynthinca3/neutron-sub000/kernel"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

func TestPAlloc(t *testing.T) {
	m, env := newTestManager(testConfig())
	uids := startTasks(t, m, 1)
	task := m.GetByUID(uids[0])

	first, err := m.PAlloc(uids[0], 2)
	if err != nil {
		t.Fatal(err)
	}

	if first != userAllocBase {
		t.Fatalf("expected first allocation at 0x%x; got 0x%x", userAllocBase, first)
	}

	alloc := task.Allocations[0]
	if !alloc.Used || alloc.ProcAddr != first || alloc.Pages != 2 || alloc.KernelAddr%mm.PageSize != 0 {
		t.Fatalf("unexpected allocation record: %+v", alloc)
	}

	physAddr := alloc.KernelAddr - env.spaces.virtOffset
	exp := mapCall{task.State.CR3, physAddr, physAddr + 2*mm.PageSize, first, true}
	if n := len(env.spaces.maps); n != 1 || env.spaces.maps[0] != exp {
		t.Fatalf("expected user mapping %v; got %v", exp, env.spaces.maps)
	}

	second, err := m.PAlloc(uids[0], 1)
	if err != nil {
		t.Fatal(err)
	}
	if exp := first + 2*mm.PageSize; second != exp {
		t.Fatalf("expected second allocation at 0x%x; got 0x%x", exp, second)
	}

	t.Run("table full", func(t *testing.T) {
		if _, err := m.PAlloc(uids[0], 1); err != ErrAllocTableFull {
			t.Fatalf("expected ErrAllocTableFull; got %v", err)
		}
	})

	t.Run("free", func(t *testing.T) {
		if err := m.PFree(uids[0], first); err != nil {
			t.Fatal(err)
		}

		if len(env.heap.freed) != 1 || env.heap.freed[0] != alloc.KernelAddr {
			t.Errorf("expected kernel pages 0x%x to be freed; got %v", alloc.KernelAddr, env.heap.freed)
		}

		expUnmap := unmapCall{task.State.CR3, first, first + 2*mm.PageSize}
		if len(env.spaces.unmaps) != 1 || env.spaces.unmaps[0] != expUnmap {
			t.Errorf("expected unmap %v; got %v", expUnmap, env.spaces.unmaps)
		}

		if task.Allocations[0].Used {
			t.Error("expected allocation slot to be released")
		}

		if err := m.PFree(uids[0], first); err != errNoSuchAllocation {
			t.Errorf("expected errNoSuchAllocation on double free; got %v", err)
		}
	})

	t.Run("slot reuse", func(t *testing.T) {
		third, err := m.PAlloc(uids[0], 1)
		if err != nil {
			t.Fatal(err)
		}

		// Process addresses are never reused.
		if exp := second + mm.PageSize; third != exp {
			t.Errorf("expected allocation at 0x%x; got 0x%x", exp, third)
		}
	})
}

func TestPAllocErrors(t *testing.T) {
	m, env := newTestManager(testConfig())
	uids := startTasks(t, m, 1)

	if _, err := m.PAlloc(uids[0]+1, 1); err != ErrNoSuchTask {
		t.Errorf("expected ErrNoSuchTask; got %v", err)
	}

	if err := m.PFree(uids[0]+1, userAllocBase); err != ErrNoSuchTask {
		t.Errorf("expected ErrNoSuchTask; got %v", err)
	}

	t.Run("heap exhausted", func(t *testing.T) {
		env.heap.err = &kernel.Error{Module: "test", Message: "oom"}
		defer func() { env.heap.err = nil }()

		if _, err := m.PAlloc(uids[0], 1); err != env.heap.err {
			t.Fatalf("expected heap error; got %v", err)
		}
	})

	t.Run("map failure", func(t *testing.T) {
		env.spaces.mapErr = &kernel.Error{Module: "test", Message: "map failed"}
		defer func() { env.spaces.mapErr = nil }()

		if _, err := m.PAlloc(uids[0], 1); err != env.spaces.mapErr {
			t.Fatalf("expected map error; got %v", err)
		}

		task := m.GetByUID(uids[0])
		if len(env.heap.freed) != 1 || task.NextAlloc != userAllocBase || task.Allocations[0].Used {
			t.Fatal("expected failed allocation to be rolled back")
		}
	})
}

func TestPAllocZeroPages(t *testing.T) {
	m, env := newTestManager(testConfig())
	uids := startTasks(t, m, 1)
	task := m.GetByUID(uids[0])
	mapCount := len(env.spaces.maps)

	if _, err := m.PAlloc(uids[0], 0); err != errInvalidPageCount {
		t.Fatalf("expected errInvalidPageCount; got %v", err)
	}

	if len(env.spaces.maps) != mapCount || task.Allocations[0].Used {
		t.Fatal("expected a zero-page request to leave the task untouched")
	}

	addr, err := m.PAlloc(uids[0], 1)
	if err != nil {
		t.Fatal(err)
	}

	if addr != userAllocBase || task.NextAlloc != userAllocBase+mm.PageSize {
		t.Fatalf("expected the allocation at 0x%x; got 0x%x", userAllocBase, addr)
	}

	if err := m.PFree(uids[0], addr); err != nil {
		t.Fatal(err)
	}

	if len(env.heap.freed) != 1 || task.Allocations[0].Used || task.Allocations[1].Used {
		t.Fatal("expected PFree to release the single allocation record")
	}
}
