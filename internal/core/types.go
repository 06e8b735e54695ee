// Package core provides the batch ingestion and lineage engine.
// It has no transport dependencies and is driven by the CLI, the HTTP
// surface and tests alike.
package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/database"
	"github.com/jackc/pgx/v5"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX = database.DBTX

// TxBeginner starts a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool is the single storage handle injected into every component.
type Pool interface {
	DBTX
	TxBeginner
}

// BatchStatus is the aggregate outcome of a batch.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchError   BatchStatus = "error"
)

// LoadStatus is the outcome of a single file.
type LoadStatus string

const (
	LoadPending LoadStatus = "pending"
	LoadSuccess LoadStatus = "success"
	LoadError   LoadStatus = "error"
)

// Batch is one ingestion run over the files discovered for a source.
type Batch struct {
	ID           string      `json:"batch_id"`
	SourceID     string      `json:"source_id"`
	SourceType   string      `json:"source_type"`
	FileCount    int         `json:"file_count"`
	FilesSuccess int         `json:"files_success"`
	FilesError   int         `json:"files_error"`
	Status       BatchStatus `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// FileLineage is the provenance record of one discovered file.
// Nullable columns are pointers or empty strings.
type FileLineage struct {
	ID            string     `json:"file_id"`
	BatchID       string     `json:"batch_id"`
	Seq           int        `json:"seq"`
	FileName      string     `json:"file_name"`
	FilePath      string     `json:"file_path"`
	LakeTableName string     `json:"lake_table_name,omitempty"`
	LoadStatus    LoadStatus `json:"load_status"`
	RowCount      *int64     `json:"row_count"`
	FileSizeBytes *int64     `json:"file_size_bytes"`
	Checksum      string     `json:"checksum,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// DiscoveredFile is a candidate file found in a source's incoming directory.
type DiscoveredFile struct {
	Name string
	Path string
}

// FileOutcome is what the ingestion engine reports for one file.
// Every failure is carried here as data; IngestFile never returns an error.
type FileOutcome struct {
	File          DiscoveredFile
	Status        LoadStatus
	LakeTable     string // set once resolution succeeded, even on later failure
	RowCount      int64
	FileSizeBytes int64
	Checksum      string
	AddedColumns  []string
	Err           error  // technical cause, nil on success
	Code          string // error code from MapError
	Message       string // human-readable message stored in lineage
	Duration      time.Duration
}

// OK reports whether the file was appended.
func (o FileOutcome) OK() bool {
	return o.Status == LoadSuccess
}

// BatchRequest describes a run to perform.
type BatchRequest struct {
	BatchID    string `json:"batch_id"`
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	Dir        string `json:"dir,omitempty"` // overrides the configured incoming location
	Promote    bool   `json:"promote"`
}

// BatchResult is the contract handed to the orchestrating sequencer.
type BatchResult struct {
	BatchID    string            `json:"batch_id"`
	Status     BatchStatus       `json:"status"`
	NFiles     int               `json:"n_files"`
	NSuccess   int               `json:"n_success"`
	NError     int               `json:"n_error"`
	Tables     []string          `json:"tables,omitempty"`
	Promotions []PromotionResult `json:"promotions,omitempty"`
	Duration   time.Duration     `json:"duration_ns"`
}

// RowSet is an all-text row set bound for a raw table. Each value is a
// string or nil.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of col, or -1.
func (rs *RowSet) ColumnIndex(col string) int {
	for i, c := range rs.Columns {
		if c == col {
			return i
		}
	}
	return -1
}
