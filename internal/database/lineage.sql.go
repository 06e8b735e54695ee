package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertBatch = `
INSERT INTO ingest_batch (batch_id, source_id, source_type, file_count, status)
VALUES ($1, $2, $3, $4, 'pending')
`

type InsertBatchParams struct {
	BatchID    string
	SourceID   string
	SourceType string
	FileCount  int32
}

func (q *Queries) InsertBatch(ctx context.Context, arg InsertBatchParams) error {
	_, err := q.db.Exec(ctx, insertBatch, arg.BatchID, arg.SourceID, arg.SourceType, arg.FileCount)
	return err
}

const batchExists = `
SELECT EXISTS (SELECT 1 FROM ingest_batch WHERE batch_id = $1)
`

func (q *Queries) BatchExists(ctx context.Context, batchID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, batchExists, batchID).Scan(&exists)
	return exists, err
}

const insertFileLineage = `
INSERT INTO ingest_file_lineage (file_id, batch_id, file_name, file_path, seq, load_status)
VALUES ($1, $2, $3, $4, $5, 'pending')
`

type InsertFileLineageParams struct {
	FileID   pgtype.UUID
	BatchID  string
	FileName string
	FilePath string
	Seq      int32
}

func (q *Queries) InsertFileLineage(ctx context.Context, arg InsertFileLineageParams) error {
	_, err := q.db.Exec(ctx, insertFileLineage, arg.FileID, arg.BatchID, arg.FileName, arg.FilePath, arg.Seq)
	return err
}

const getBatch = `
SELECT batch_id, source_id, source_type, file_count, files_success, files_error,
       status, started_at, completed_at
FROM ingest_batch
WHERE batch_id = $1
`

func (q *Queries) GetBatch(ctx context.Context, batchID string) (IngestBatch, error) {
	var b IngestBatch
	err := q.db.QueryRow(ctx, getBatch, batchID).Scan(
		&b.BatchID, &b.SourceID, &b.SourceType, &b.FileCount, &b.FilesSuccess,
		&b.FilesError, &b.Status, &b.StartedAt, &b.CompletedAt,
	)
	return b, err
}

const listFileLineage = `
SELECT file_id, batch_id, file_name, file_path, lake_table_name, load_status,
       row_count, file_size_bytes, checksum, error_message, seq, completed_at
FROM ingest_file_lineage
WHERE batch_id = $1
ORDER BY seq
`

func (q *Queries) ListFileLineage(ctx context.Context, batchID string) ([]IngestFileLineage, error) {
	rows, err := q.db.Query(ctx, listFileLineage, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []IngestFileLineage
	for rows.Next() {
		var f IngestFileLineage
		if err := rows.Scan(
			&f.FileID, &f.BatchID, &f.FileName, &f.FilePath, &f.LakeTableName,
			&f.LoadStatus, &f.RowCount, &f.FileSizeBytes, &f.Checksum,
			&f.ErrorMessage, &f.Seq, &f.CompletedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

const markFileSuccess = `
UPDATE ingest_file_lineage
SET load_status = 'success',
    lake_table_name = $2,
    row_count = $3,
    file_size_bytes = $4,
    checksum = $5,
    error_message = NULL,
    completed_at = now()
WHERE file_id = $1 AND load_status = 'pending'
`

type MarkFileSuccessParams struct {
	FileID        pgtype.UUID
	LakeTableName string
	RowCount      int64
	FileSizeBytes int64
	Checksum      string
}

// MarkFileSuccess returns the number of rows updated; zero means the row
// was not pending.
func (q *Queries) MarkFileSuccess(ctx context.Context, arg MarkFileSuccessParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markFileSuccess,
		arg.FileID, arg.LakeTableName, arg.RowCount, arg.FileSizeBytes, arg.Checksum)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markFileError = `
UPDATE ingest_file_lineage
SET load_status = 'error',
    lake_table_name = $2,
    error_message = $3,
    row_count = NULL,
    file_size_bytes = NULL,
    checksum = NULL,
    completed_at = now()
WHERE file_id = $1 AND load_status = 'pending'
`

type MarkFileErrorParams struct {
	FileID        pgtype.UUID
	LakeTableName pgtype.Text
	ErrorMessage  string
}

func (q *Queries) MarkFileError(ctx context.Context, arg MarkFileErrorParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markFileError, arg.FileID, arg.LakeTableName, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markPendingFilesError = `
UPDATE ingest_file_lineage
SET load_status = 'error',
    error_message = $2,
    completed_at = now()
WHERE batch_id = $1 AND load_status = 'pending'
`

func (q *Queries) MarkPendingFilesError(ctx context.Context, batchID, message string) (int64, error) {
	tag, err := q.db.Exec(ctx, markPendingFilesError, batchID, message)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const finalizeBatch = `
UPDATE ingest_batch
SET files_success = $2,
    files_error = $3,
    status = $4,
    completed_at = now()
WHERE batch_id = $1 AND status = 'pending'
`

type FinalizeBatchParams struct {
	BatchID      string
	FilesSuccess int32
	FilesError   int32
	Status       string
}

func (q *Queries) FinalizeBatch(ctx context.Context, arg FinalizeBatchParams) (int64, error) {
	tag, err := q.db.Exec(ctx, finalizeBatch, arg.BatchID, arg.FilesSuccess, arg.FilesError, arg.Status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listStaleBatches = `
SELECT batch_id, source_id, source_type, file_count, files_success, files_error,
       status, started_at, completed_at
FROM ingest_batch
WHERE status = 'pending' AND started_at < $1
ORDER BY started_at
`

func (q *Queries) ListStaleBatches(ctx context.Context, startedBefore pgtype.Timestamptz) ([]IngestBatch, error) {
	rows, err := q.db.Query(ctx, listStaleBatches, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []IngestBatch
	for rows.Next() {
		var b IngestBatch
		if err := rows.Scan(
			&b.BatchID, &b.SourceID, &b.SourceType, &b.FileCount, &b.FilesSuccess,
			&b.FilesError, &b.Status, &b.StartedAt, &b.CompletedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
