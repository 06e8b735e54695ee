package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type memTable struct {
	cols []string
	rows [][]any
}

// memWarehouse is an in-memory Warehouse.
type memWarehouse struct {
	mu         sync.Mutex
	tables     map[string]*memTable
	failAppend error
	failCreate error
}

func newMemWarehouse() *memWarehouse {
	return &memWarehouse{tables: make(map[string]*memTable)}
}

func (w *memWarehouse) key(schema, table string) string { return schema + "." + table }

func (w *memWarehouse) TableColumns(_ context.Context, schema, table string) ([]string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[w.key(schema, table)]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), t.cols...), true, nil
}

func (w *memWarehouse) CreateTable(_ context.Context, schema, table string, columns []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failCreate != nil {
		return w.failCreate
	}
	if _, ok := w.tables[w.key(schema, table)]; !ok {
		w.tables[w.key(schema, table)] = &memTable{cols: append([]string(nil), columns...)}
	}
	return nil
}

func (w *memWarehouse) AddColumn(_ context.Context, schema, table, column string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.tables[w.key(schema, table)]
	for _, c := range t.cols {
		if c == column {
			return nil
		}
	}
	t.cols = append(t.cols, column)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
	return nil
}

func (w *memWarehouse) Append(_ context.Context, schema, table string, rows *RowSet) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAppend != nil {
		return 0, w.failAppend
	}
	t, ok := w.tables[w.key(schema, table)]
	if !ok {
		return 0, fmt.Errorf("relation %s.%s does not exist", schema, table)
	}
	if len(rows.Columns) != len(t.cols) {
		return 0, fmt.Errorf("column count mismatch: %d vs %d", len(rows.Columns), len(t.cols))
	}
	for i, c := range rows.Columns {
		if t.cols[i] != c {
			return 0, fmt.Errorf("column %d is %s, table has %s", i, c, t.cols[i])
		}
	}
	t.rows = append(t.rows, rows.Rows...)
	return int64(len(rows.Rows)), nil
}

// column returns every value of col in schema.table.
func (w *memWarehouse) column(schema, table, col string) []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[w.key(schema, table)]
	if !ok {
		return nil
	}
	idx := -1
	for i, c := range t.cols {
		if c == col {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[idx]
	}
	return out
}

// memLineage is an in-memory LineageStore with the same state rules as
// the PostgreSQL store.
type memLineage struct {
	mu      sync.Mutex
	batches map[string]*Batch
	files   map[string][]*FileLineage
	now     func() time.Time
}

func newMemLineage() *memLineage {
	return &memLineage{
		batches: make(map[string]*Batch),
		files:   make(map[string][]*FileLineage),
		now:     time.Now,
	}
}

func (m *memLineage) RegisterBatch(_ context.Context, req BatchRequest, files []DiscoveredFile) ([]FileLineage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[req.BatchID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchExists, req.BatchID)
	}
	m.batches[req.BatchID] = &Batch{
		ID:         req.BatchID,
		SourceID:   req.SourceID,
		SourceType: req.SourceType,
		FileCount:  len(files),
		Status:     BatchPending,
		StartedAt:  m.now(),
	}
	out := make([]FileLineage, len(files))
	for i, f := range files {
		fl := &FileLineage{
			ID:         uuid.NewString(),
			BatchID:    req.BatchID,
			Seq:        i + 1,
			FileName:   f.Name,
			FilePath:   f.Path,
			LoadStatus: LoadPending,
		}
		m.files[req.BatchID] = append(m.files[req.BatchID], fl)
		out[i] = *fl
	}
	return out, nil
}

func (m *memLineage) RecordOutcome(_ context.Context, fileID string, out FileOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rows := range m.files {
		for _, fl := range rows {
			if fl.ID != fileID {
				continue
			}
			if fl.LoadStatus != LoadPending {
				return fmt.Errorf("%w: %s", ErrLineageClosed, fileID)
			}
			now := m.now()
			fl.CompletedAt = &now
			fl.LakeTableName = out.LakeTable
			if out.OK() {
				rc, sz := out.RowCount, out.FileSizeBytes
				fl.LoadStatus = LoadSuccess
				fl.RowCount = &rc
				fl.FileSizeBytes = &sz
				fl.Checksum = out.Checksum
			} else {
				fl.LoadStatus = LoadError
				fl.ErrorMessage = out.Message
			}
			return nil
		}
	}
	return fmt.Errorf("lineage %s not found", fileID)
}

func (m *memLineage) FinalizeBatch(_ context.Context, batchID string) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if b.Status != BatchPending {
		return nil, fmt.Errorf("%w: %s", ErrBatchClosed, batchID)
	}
	var statuses []LoadStatus
	b.FilesSuccess, b.FilesError = 0, 0
	for _, fl := range m.files[batchID] {
		statuses = append(statuses, fl.LoadStatus)
		switch fl.LoadStatus {
		case LoadSuccess:
			b.FilesSuccess++
		case LoadError:
			b.FilesError++
		}
	}
	b.Status = AggregateStatus(statuses)
	now := m.now()
	b.CompletedAt = &now
	cp := *b
	return &cp, nil
}

func (m *memLineage) AbandonPending(_ context.Context, batchID, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, fl := range m.files[batchID] {
		if fl.LoadStatus == LoadPending {
			fl.LoadStatus = LoadError
			fl.ErrorMessage = message
			n++
		}
	}
	return n, nil
}

func (m *memLineage) GetBatch(_ context.Context, batchID string) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	cp := *b
	return &cp, nil
}

func (m *memLineage) ListFiles(_ context.Context, batchID string) ([]FileLineage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FileLineage, 0, len(m.files[batchID]))
	for _, fl := range m.files[batchID] {
		out = append(out, *fl)
	}
	return out, nil
}

func (m *memLineage) ListStaleBatches(_ context.Context, startedBefore time.Time) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Batch
	for _, b := range m.batches {
		if b.Status == BatchPending && b.StartedAt.Before(startedBefore) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// memRecorder collects schema evolution events.
type memRecorder struct {
	mu     sync.Mutex
	events []EvolutionEvent
}

func (r *memRecorder) Record(_ context.Context, ev EvolutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) actions() []EvolutionAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EvolutionAction, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

// writeFiles creates name -> content files in a fresh temp dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func mustDictionary(t *testing.T, rules ...MappingRule) *Dictionary {
	t.Helper()
	d, err := NewDictionary(rules)
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	return d
}

func writeFilesAt(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func pgTimestamptz(t time.Time, valid bool) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: valid}
}
