package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchGate_AcquireRelease(t *testing.T) {
	g := NewBatchGate(time.Second)
	ctx := context.Background()

	if g.Status().Busy {
		t.Fatal("new gate should be idle")
	}
	if err := g.Acquire(ctx, "b1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	st := g.Status()
	if !st.Busy || st.BatchID != "b1" {
		t.Errorf("Status = %+v, want busy with b1", st)
	}

	g.Release()
	if g.Status().Busy {
		t.Error("gate should be idle after Release")
	}
}

func TestBatchGate_TimesOutWhenBusy(t *testing.T) {
	g := NewBatchGate(20 * time.Millisecond)
	ctx := context.Background()

	if err := g.Acquire(ctx, "b1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer g.Release()

	err := g.Acquire(ctx, "b2")
	if !errors.Is(err, ErrBatchInProgress) {
		t.Errorf("expected ErrBatchInProgress, got %v", err)
	}
}

func TestBatchGate_ContextCancelled(t *testing.T) {
	g := NewBatchGate(time.Second)
	if err := g.Acquire(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Acquire(ctx, "b2"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBatchGate_Serializes(t *testing.T) {
	g := NewBatchGate(5 * time.Second)
	var running, maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background(), "b"); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			g.Release()
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("max concurrent batches = %d, want 1", maxRunning)
	}
}

func TestBatchGate_WaitForDrain(t *testing.T) {
	g := NewBatchGate(time.Second)
	if err := g.Acquire(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}
}
