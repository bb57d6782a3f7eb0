package sfnet

import "testing"

func TestTaskPool_PopPush(t *testing.T) {
	p, err := newTaskPool(16, 4, 4096, 8192)
	if err != nil {
		t.Fatalf("newTaskPool: %v", err)
	}

	task := p.pop()
	if task == nil {
		t.Fatal("expected a task, got nil")
	}
	if task.fd != -1 {
		t.Errorf("expected fresh task fd=-1, got %d", task.fd)
	}

	allocated, inUse, max := p.stats()
	if inUse != 1 {
		t.Errorf("expected inUse=1, got %d", inUse)
	}
	if allocated < 1 || max != 16 {
		t.Errorf("unexpected stats: allocated=%d max=%d", allocated, max)
	}

	p.push(task)
	_, inUse, _ = p.stats()
	if inUse != 0 {
		t.Errorf("expected inUse=0 after push, got %d", inUse)
	}
}

func TestTaskPool_ExhaustionReturnsNil(t *testing.T) {
	p, err := newTaskPool(2, 2, 4096, 8192)
	if err != nil {
		t.Fatalf("newTaskPool: %v", err)
	}

	first := p.pop()
	second := p.pop()
	if first == nil || second == nil {
		t.Fatal("expected both tasks to be allocated")
	}

	if third := p.pop(); third != nil {
		t.Error("expected pool exhaustion to return nil")
	}
}

func TestTaskPool_GrowsLazilyUpToMax(t *testing.T) {
	p, err := newTaskPool(4096, 1, 64*1024, 64*1024)
	if err != nil {
		t.Fatalf("newTaskPool: %v", err)
	}

	allocated, _, _ := p.stats()
	if allocated != 1 {
		t.Fatalf("expected exactly the initial allocation, got %d", allocated)
	}

	// minBuf=64KiB means m=1, so allocOnce is the full 1024 chunk.
	if p.allocOnce != 1024 {
		t.Errorf("expected allocOnce=1024 for minBuf=64KiB, got %d", p.allocOnce)
	}

	p.pop() // drains the lone pre-allocated task
	p.pop() // free list is now empty, forcing a grow chunk
	allocated, _, _ = p.stats()
	if allocated <= 1 {
		t.Errorf("expected pop to trigger lazy growth, allocated=%d", allocated)
	}
}

func TestTaskPool_ResetsStateOnPop(t *testing.T) {
	p, err := newTaskPool(4, 1, 4096, 8192)
	if err != nil {
		t.Fatalf("newTaskPool: %v", err)
	}

	task := p.pop()
	task.fd = 42
	task.readState = Dispatched
	task.Arg = "leftover"
	p.push(task)

	reused := p.pop()
	if reused.fd != -1 {
		t.Errorf("expected fd reset to -1, got %d", reused.fd)
	}
	if reused.readState != AwaitingHeader {
		t.Errorf("expected readState reset to AwaitingHeader, got %v", reused.readState)
	}
	if reused.Arg != nil {
		t.Errorf("expected Arg reset to nil, got %v", reused.Arg)
	}
}
