package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/logging"
)

// ServiceConfig locates incoming files.
type ServiceConfig struct {
	IncomingRoot  string
	IncomingDir   string
	FileExtension string
}

// TablePromoter rebuilds staging tables. *Promoter satisfies it.
type TablePromoter interface {
	Promote(ctx context.Context, tables []string, decisions []TypeDecision) []PromotionResult
}

// DecisionSource supplies type decisions at promotion time.
type DecisionSource func(ctx context.Context) ([]TypeDecision, error)

// Service runs whole batches: discovery, registration, per-file ingestion,
// finalization and optional staging promotion.
type Service struct {
	lineage   LineageStore
	engine    *Engine
	promoter  TablePromoter
	decisions DecisionSource
	cfg       ServiceConfig
}

// NewService wires a Service. promoter and decisions may be nil, in which
// case promotion is skipped.
func NewService(lineage LineageStore, engine *Engine, promoter TablePromoter, decisions DecisionSource, cfg ServiceConfig) *Service {
	return &Service{
		lineage:   lineage,
		engine:    engine,
		promoter:  promoter,
		decisions: decisions,
		cfg:       cfg,
	}
}

// Lineage exposes the store for read-only inspection.
func (s *Service) Lineage() LineageStore {
	return s.lineage
}

// RunBatch processes every file discovered for the request.
//
// A missing directory or an already registered batch id fails before any
// lineage is written. Once registered, per-file failures are recorded as
// data and the batch is always finalized.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	start := time.Now()

	if req.BatchID == "" || req.SourceID == "" || req.SourceType == "" {
		return nil, fmt.Errorf("%w: batch id, source id and source type are required", ErrInvalidRequest)
	}

	dir := req.Dir
	if dir == "" {
		dir = IncomingDir(s.cfg.IncomingRoot, req.SourceID, s.cfg.IncomingDir)
	}
	files, err := DiscoverFiles(dir, s.cfg.FileExtension)
	if err != nil {
		return nil, err
	}

	ctx = ContextWithBatchID(ctx, req.BatchID)
	log := logging.FromContext(ctx)

	lineage, err := s.lineage.RegisterBatch(ctx, req, files)
	if err != nil {
		return nil, fmt.Errorf("register batch: %w", err)
	}
	log.Info("batch registered", "source_id", req.SourceID, "source_type", req.SourceType, "files", len(files), "dir", dir)

	// Lineage writes outlive a cancelled caller so the batch never stays
	// open because the request went away.
	persist := context.WithoutCancel(ctx)

	var tables []string
	for _, fl := range lineage {
		file := DiscoveredFile{Name: fl.FileName, Path: fl.FilePath}
		out := s.engine.IngestFile(ctx, file, req.SourceType)
		if err := s.lineage.RecordOutcome(persist, fl.ID, out); err != nil {
			log.Error("failed to record file outcome", "file", fl.FileName, "error", err)
			continue
		}
		if out.OK() {
			tables = append(tables, out.LakeTable)
		}
	}

	batch, err := s.lineage.FinalizeBatch(persist, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("finalize batch: %w", err)
	}

	result := &BatchResult{
		BatchID:  batch.ID,
		Status:   batch.Status,
		NFiles:   batch.FileCount,
		NSuccess: batch.FilesSuccess,
		NError:   batch.FilesError,
		Tables:   uniqueSorted(tables),
	}

	if req.Promote && len(result.Tables) > 0 {
		result.Promotions = s.PromoteTables(ctx, result.Tables)
	}

	result.Duration = time.Since(start)
	log.Info("batch finalized",
		"status", result.Status,
		"files", result.NFiles,
		"success", result.NSuccess,
		"error", result.NError,
		"tables", len(result.Tables),
		"duration", result.Duration,
	)
	return result, nil
}

// PromoteTables rebuilds the staging copies of tables. Promotion problems
// never change a batch's status; they are logged and reported per table.
func (s *Service) PromoteTables(ctx context.Context, tables []string) []PromotionResult {
	if s.promoter == nil || s.decisions == nil {
		return nil
	}
	decisions, err := s.decisions(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("failed to load type decisions", "error", err)
		return nil
	}
	return s.promoter.Promote(ctx, tables, decisions)
}

// PromoteBatch promotes every table a finished batch loaded successfully.
func (s *Service) PromoteBatch(ctx context.Context, batchID string) ([]PromotionResult, error) {
	ctx = ContextWithBatchID(ctx, batchID)

	batch, err := s.lineage.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == BatchPending {
		return nil, fmt.Errorf("%w: batch %s is still pending", ErrInvalidRequest, batchID)
	}

	files, err := s.lineage.ListFiles(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		if f.LoadStatus == LoadSuccess && f.LakeTableName != "" {
			tables = append(tables, f.LakeTableName)
		}
	}
	return s.PromoteTables(ctx, uniqueSorted(tables)), nil
}
