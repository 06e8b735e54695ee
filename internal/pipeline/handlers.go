package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/core"
)

// Steps holds what the standard handlers need. Gate may be nil, as in the
// one-shot CLI where the process itself is the only runner.
type Steps struct {
	Service        *core.Service
	Reconciler     *core.Reconciler
	Gate           *core.BatchGate
	DefaultStale   time.Duration
	DefaultPromote bool
}

// Standard returns a registry with the ingest, promote and reconcile steps.
func Standard(s Steps) *Registry {
	r := NewRegistry()
	r.Register(StepIngest, s.gated(s.ingest))
	r.Register(StepPromote, s.gated(s.promote))
	r.Register(StepReconcile, s.gated(s.reconcile))
	return r
}

func (s Steps) gated(h Handler) Handler {
	if s.Gate == nil {
		return h
	}
	return func(ctx context.Context, req Request) (*Result, error) {
		if err := s.Gate.Acquire(ctx, req.BatchID); err != nil {
			return nil, err
		}
		defer s.Gate.Release()
		return h(ctx, req)
	}
}

func (s Steps) ingest(ctx context.Context, req Request) (*Result, error) {
	res, err := s.Service.RunBatch(ctx, core.BatchRequest{
		BatchID:    req.BatchID,
		SourceID:   req.SourceID,
		SourceType: req.SourceType,
		Dir:        req.Dir,
		Promote:    s.promoteFor(req),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Batch: res}, nil
}

// promoteFor resolves the request's promote flag against DefaultPromote.
func (s Steps) promoteFor(req Request) bool {
	if req.Promote != nil {
		return *req.Promote
	}
	return s.DefaultPromote
}

func (s Steps) promote(ctx context.Context, req Request) (*Result, error) {
	if req.BatchID == "" {
		return nil, fmt.Errorf("%w: promote requires a batch id", core.ErrInvalidRequest)
	}
	promotions, err := s.Service.PromoteBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	return &Result{Promotions: promotions}, nil
}

func (s Steps) reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.BatchID != "" {
		res, err := s.Reconciler.ReconcileBatch(ctx, req.BatchID)
		if err != nil {
			return nil, err
		}
		return &Result{Reconciled: []core.ReconcileResult{*res}}, nil
	}

	olderThan := time.Duration(req.OlderThan)
	if olderThan <= 0 {
		olderThan = s.DefaultStale
	}
	results, err := s.Reconciler.ReconcileStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	return &Result{Reconciled: results}, nil
}
