package core

// reconcile.go closes batches left pending by a crashed or killed run.
//
// A run that dies between registration and finalization leaves its batch
// and some file rows pending forever. The reconciler finds batches that
// have been pending longer than a threshold, closes their pending file
// rows as errors and finalizes them through the normal aggregation, so a
// reconciled batch reads as partial or error, never success.
//
// Reconciliation is never implicit: it runs when asked (the reconcile step)
// or from the optional periodic scheduler.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AbandonedMessage is stored on file rows closed by the reconciler.
var AbandonedMessage = FormatLineageError(fmt.Errorf("%w: batch did not finish before the stale threshold", errAbandoned))

// ReconcileConfig controls the stale-batch reconciler.
type ReconcileConfig struct {
	StaleAfter    time.Duration // pending longer than this is abandoned
	CheckInterval time.Duration // scheduler period
}

// ReconcileResult reports one reconciled batch.
type ReconcileResult struct {
	BatchID     string        `json:"batch_id"`
	FilesClosed int64         `json:"files_closed"`
	Status      BatchStatus   `json:"status"`
	PendingFor  time.Duration `json:"pending_for_ns"`
	Error       string        `json:"error,omitempty"`
}

// Reconciler detects and closes stale batches.
type Reconciler struct {
	lineage LineageStore
	rec     Recorder
	now     func() time.Time
}

// NewReconciler returns a Reconciler. rec may be nil.
func NewReconciler(lineage LineageStore, rec Recorder) *Reconciler {
	return &Reconciler{lineage: lineage, rec: rec, now: time.Now}
}

// FindStaleBatches lists batches still pending after olderThan.
func (r *Reconciler) FindStaleBatches(ctx context.Context, olderThan time.Duration) ([]Batch, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: stale threshold must be positive, got %s", ErrInvalidRequest, olderThan)
	}
	return r.lineage.ListStaleBatches(ctx, r.now().Add(-olderThan))
}

// ReconcileBatch closes the pending file rows of one batch and finalizes it.
func (r *Reconciler) ReconcileBatch(ctx context.Context, batchID string) (*ReconcileResult, error) {
	ctx = ContextWithBatchID(ctx, batchID)

	closed, err := r.lineage.AbandonPending(ctx, batchID, AbandonedMessage)
	if err != nil {
		return nil, err
	}
	batch, err := r.lineage.FinalizeBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	audit(ctx, r.rec, EvolutionEvent{
		Action: ActionReconcileBatch,
		Schema: "lineage",
		Table:  "ingest_batch",
		Detail: fmt.Sprintf("closed %d pending files, status %s", closed, batch.Status),
	})

	return &ReconcileResult{
		BatchID:     batchID,
		FilesClosed: closed,
		Status:      batch.Status,
		PendingFor:  r.now().Sub(batch.StartedAt),
	}, nil
}

// ReconcileStale finds and reconciles every stale batch. A failure on one
// batch is reported in its result and does not stop the others.
func (r *Reconciler) ReconcileStale(ctx context.Context, olderThan time.Duration) ([]ReconcileResult, error) {
	stale, err := r.FindStaleBatches(ctx, olderThan)
	if err != nil {
		return nil, err
	}

	results := make([]ReconcileResult, 0, len(stale))
	for _, b := range stale {
		res, err := r.ReconcileBatch(ctx, b.ID)
		if err != nil {
			slog.Error("reconcile failed", "batch_id", b.ID, "error", err)
			results = append(results, ReconcileResult{BatchID: b.ID, Error: err.Error()})
			continue
		}
		slog.Warn("reconciled stale batch",
			"batch_id", res.BatchID,
			"files_closed", res.FilesClosed,
			"status", res.Status,
			"pending_for", res.PendingFor.Round(time.Second),
		)
		results = append(results, *res)
	}
	return results, nil
}

// StartScheduler reconciles immediately, then every CheckInterval, until
// ctx is cancelled.
func (r *Reconciler) StartScheduler(ctx context.Context, cfg ReconcileConfig) {
	slog.Info("reconcile scheduler started",
		"stale_after", cfg.StaleAfter,
		"check_interval", cfg.CheckInterval,
	)

	r.runOnce(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile scheduler stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx, cfg)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context, cfg ReconcileConfig) {
	start := time.Now()
	results, err := r.ReconcileStale(ctx, cfg.StaleAfter)
	if err != nil {
		slog.Error("reconcile job failed", "error", err)
		return
	}
	slog.Info("reconcile job completed",
		"batches", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
