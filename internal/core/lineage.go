package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// LineageStore persists batches and per-file lineage.
//
// A batch is registered once with one pending row per file, each file row
// is closed exactly once, and the batch is finalized exactly once. Rows are
// never deleted.
type LineageStore interface {
	RegisterBatch(ctx context.Context, req BatchRequest, files []DiscoveredFile) ([]FileLineage, error)
	RecordOutcome(ctx context.Context, fileID string, out FileOutcome) error
	FinalizeBatch(ctx context.Context, batchID string) (*Batch, error)
	AbandonPending(ctx context.Context, batchID, message string) (int64, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListFiles(ctx context.Context, batchID string) ([]FileLineage, error)
	ListStaleBatches(ctx context.Context, startedBefore time.Time) ([]Batch, error)
}

// AggregateStatus derives a batch status from its file statuses: all
// success is success, all error is error, anything else is partial. A
// batch with no files has nothing ready downstream and is an error.
func AggregateStatus(statuses []LoadStatus) BatchStatus {
	if len(statuses) == 0 {
		return BatchError
	}
	var ok, bad int
	for _, s := range statuses {
		switch s {
		case LoadSuccess:
			ok++
		case LoadError:
			bad++
		}
	}
	switch {
	case ok == len(statuses):
		return BatchSuccess
	case bad == len(statuses):
		return BatchError
	default:
		return BatchPartial
	}
}

// PgLineageStore implements LineageStore on the lineage tables.
type PgLineageStore struct {
	pool Pool
}

// NewPgLineageStore returns a LineageStore backed by pool.
func NewPgLineageStore(pool Pool) *PgLineageStore {
	return &PgLineageStore{pool: pool}
}

// RegisterBatch creates the batch and its pending file rows in one
// transaction. An already used batch id is ErrBatchExists and nothing is
// written.
func (s *PgLineageStore) RegisterBatch(ctx context.Context, req BatchRequest, files []DiscoveredFile) ([]FileLineage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := database.New(tx)

	exists, err := q.BatchExists(ctx, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("check batch %s: %w", req.BatchID, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrBatchExists, req.BatchID)
	}

	err = q.InsertBatch(ctx, database.InsertBatchParams{
		BatchID:    req.BatchID,
		SourceID:   req.SourceID,
		SourceType: req.SourceType,
		FileCount:  int32(len(files)),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: %s", ErrBatchExists, req.BatchID)
		}
		return nil, fmt.Errorf("insert batch %s: %w", req.BatchID, err)
	}

	lineage := make([]FileLineage, len(files))
	for i, f := range files {
		id := uuid.New()
		err := q.InsertFileLineage(ctx, database.InsertFileLineageParams{
			FileID:   pgtype.UUID{Bytes: id, Valid: true},
			BatchID:  req.BatchID,
			FileName: f.Name,
			FilePath: f.Path,
			Seq:      int32(i + 1),
		})
		if err != nil {
			return nil, fmt.Errorf("insert lineage for %s: %w", f.Name, err)
		}
		lineage[i] = FileLineage{
			ID:         id.String(),
			BatchID:    req.BatchID,
			Seq:        i + 1,
			FileName:   f.Name,
			FilePath:   f.Path,
			LoadStatus: LoadPending,
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return lineage, nil
}

// RecordOutcome closes one pending file row. A row that is already closed
// is ErrLineageClosed.
func (s *PgLineageStore) RecordOutcome(ctx context.Context, fileID string, out FileOutcome) error {
	id, err := parseUUID(fileID)
	if err != nil {
		return err
	}

	q := database.New(s.pool)
	var n int64
	if out.OK() {
		n, err = q.MarkFileSuccess(ctx, database.MarkFileSuccessParams{
			FileID:        id,
			LakeTableName: out.LakeTable,
			RowCount:      out.RowCount,
			FileSizeBytes: out.FileSizeBytes,
			Checksum:      out.Checksum,
		})
	} else {
		n, err = q.MarkFileError(ctx, database.MarkFileErrorParams{
			FileID:        id,
			LakeTableName: textOrNull(out.LakeTable),
			ErrorMessage:  out.Message,
		})
	}
	if err != nil {
		return fmt.Errorf("update lineage %s: %w", fileID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLineageClosed, fileID)
	}
	return nil
}

// FinalizeBatch aggregates the file rows and closes the batch.
func (s *PgLineageStore) FinalizeBatch(ctx context.Context, batchID string) (*Batch, error) {
	q := database.New(s.pool)

	files, err := q.ListFileLineage(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list lineage %s: %w", batchID, err)
	}

	statuses := make([]LoadStatus, len(files))
	var ok, bad int32
	for i, f := range files {
		statuses[i] = LoadStatus(f.LoadStatus)
		switch statuses[i] {
		case LoadSuccess:
			ok++
		case LoadError:
			bad++
		}
	}

	n, err := q.FinalizeBatch(ctx, database.FinalizeBatchParams{
		BatchID:      batchID,
		FilesSuccess: ok,
		FilesError:   bad,
		Status:       string(AggregateStatus(statuses)),
	})
	if err != nil {
		return nil, fmt.Errorf("finalize batch %s: %w", batchID, err)
	}
	if n == 0 {
		if _, err := s.GetBatch(ctx, batchID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrBatchClosed, batchID)
	}
	return s.GetBatch(ctx, batchID)
}

// AbandonPending closes every still pending file row of a batch as an error.
func (s *PgLineageStore) AbandonPending(ctx context.Context, batchID, message string) (int64, error) {
	n, err := database.New(s.pool).MarkPendingFilesError(ctx, batchID, message)
	if err != nil {
		return 0, fmt.Errorf("abandon pending files of %s: %w", batchID, err)
	}
	return n, nil
}

func (s *PgLineageStore) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row, err := database.New(s.pool).GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	b := batchFromRow(row)
	return &b, nil
}

func (s *PgLineageStore) ListFiles(ctx context.Context, batchID string) ([]FileLineage, error) {
	rows, err := database.New(s.pool).ListFileLineage(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list lineage %s: %w", batchID, err)
	}
	out := make([]FileLineage, len(rows))
	for i, r := range rows {
		out[i] = lineageFromRow(r)
	}
	return out, nil
}

func (s *PgLineageStore) ListStaleBatches(ctx context.Context, startedBefore time.Time) ([]Batch, error) {
	rows, err := database.New(s.pool).ListStaleBatches(ctx, pgtype.Timestamptz{Time: startedBefore, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("list stale batches: %w", err)
	}
	out := make([]Batch, len(rows))
	for i, r := range rows {
		out[i] = batchFromRow(r)
	}
	return out, nil
}

func batchFromRow(r database.IngestBatch) Batch {
	return Batch{
		ID:           r.BatchID,
		SourceID:     r.SourceID,
		SourceType:   r.SourceType,
		FileCount:    int(r.FileCount),
		FilesSuccess: int(r.FilesSuccess.Int32),
		FilesError:   int(r.FilesError.Int32),
		Status:       BatchStatus(r.Status),
		StartedAt:    r.StartedAt.Time,
		CompletedAt:  timeOrNil(r.CompletedAt),
	}
}

func lineageFromRow(r database.IngestFileLineage) FileLineage {
	fl := FileLineage{
		ID:            uuid.UUID(r.FileID.Bytes).String(),
		BatchID:       r.BatchID,
		Seq:           int(r.Seq),
		FileName:      r.FileName,
		FilePath:      r.FilePath,
		LakeTableName: r.LakeTableName.String,
		LoadStatus:    LoadStatus(r.LoadStatus),
		Checksum:      r.Checksum.String,
		ErrorMessage:  r.ErrorMessage.String,
		CompletedAt:   timeOrNil(r.CompletedAt),
	}
	if r.RowCount.Valid {
		v := r.RowCount.Int64
		fl.RowCount = &v
	}
	if r.FileSizeBytes.Valid {
		v := r.FileSizeBytes.Int64
		fl.FileSizeBytes = &v
	}
	return fl
}

func timeOrNil(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func parseUUID(s string) (pgtype.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid lineage id %q: %w", s, err)
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}
