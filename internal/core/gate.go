package core

// gate.go serializes whole-batch runs in the long-running server.
//
// Files within a batch are already ingested one at a time. The gate makes
// sure two batches never run side by side either, since both could evolve
// the same raw table. A caller that cannot get the slot within maxWait
// receives ErrBatchInProgress.

import (
	"context"
	"sync"
	"time"
)

// DefaultBatchWaitTime is how long to wait for the slot before rejecting.
const DefaultBatchWaitTime = 30 * time.Second

// BatchGate is a single-slot semaphore.
type BatchGate struct {
	slot    chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	holder string
	since  time.Time
}

// NewBatchGate creates a gate. Non-positive maxWait uses DefaultBatchWaitTime.
func NewBatchGate(maxWait time.Duration) *BatchGate {
	if maxWait <= 0 {
		maxWait = DefaultBatchWaitTime
	}
	return &BatchGate{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire waits for the slot. The caller MUST call Release when done.
func (g *BatchGate) Acquire(ctx context.Context, batchID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
		g.mu.Lock()
		g.holder = batchID
		g.since = time.Now()
		g.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBatchInProgress
	}
}

// Release frees the slot. Must be called exactly once per successful Acquire.
func (g *BatchGate) Release() {
	g.mu.Lock()
	g.holder = ""
	g.since = time.Time{}
	g.mu.Unlock()

	<-g.slot
}

// BatchGateStatus is a snapshot of the gate.
type BatchGateStatus struct {
	Busy    bool      `json:"busy"`
	BatchID string    `json:"batch_id,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Status returns the current holder, if any.
func (g *BatchGate) Status() BatchGateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return BatchGateStatus{
		Busy:    len(g.slot) > 0,
		BatchID: g.holder,
		Since:   g.since,
	}
}

// WaitForDrain blocks until no batch holds the slot or ctx is done.
func (g *BatchGate) WaitForDrain(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		<-g.slot
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
