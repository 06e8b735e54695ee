package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/logging"
)

// Row tagging columns, added when EngineConfig.TagRows is set.
const (
	ColumnBatchID    = "_ingest_batch_id"
	ColumnSourceFile = "_source_file"
)

// EngineConfig tunes the ingestion engine.
type EngineConfig struct {
	RawSchema     string
	MaxFileSize   int64
	TagRows       bool
	DerivedColumn string // receives the year parsed by pattern resolution
}

// Engine ingests one file at a time into the raw layer.
type Engine struct {
	dict  *Dictionary
	wh    Warehouse
	guard *SchemaGuard
	cfg   EngineConfig
}

// NewEngine wires an engine. rec may be nil.
func NewEngine(dict *Dictionary, wh Warehouse, rec Recorder, cfg EngineConfig) *Engine {
	return &Engine{
		dict:  dict,
		wh:    wh,
		guard: NewSchemaGuard(wh, rec, cfg.RawSchema),
		cfg:   cfg,
	}
}

// IngestFile resolves, loads, aligns and appends one file. It never
// returns an error or panics: every failure is reported in the outcome so
// the surrounding batch loop keeps going.
func (e *Engine) IngestFile(ctx context.Context, file DiscoveredFile, sourceType string) (out FileOutcome) {
	start := time.Now()
	out = FileOutcome{File: file, Status: LoadPending}

	defer func() {
		if r := recover(); r != nil {
			out = failed(out, fmt.Errorf("%w: %v", errPanic, r))
		}
		out.Duration = time.Since(start)
		logOutcome(ctx, out)
	}()

	res, err := e.dict.Resolve(sourceType, file.Name)
	if err != nil {
		return failed(out, err)
	}
	out.LakeTable = res.LakeTable

	data, err := readLimited(file.Path, e.cfg.MaxFileSize)
	if err != nil {
		return failed(out, err)
	}
	size := int64(len(data))
	checksum := Checksum(data)

	rows, err := e.buildRows(ctx, file, res, data)
	if err != nil {
		return failed(out, err)
	}

	aligned, err := e.guard.Align(ctx, res.LakeTable, rows)
	if err != nil {
		return failed(out, err)
	}

	// A header-only file still creates or widens the table.
	var n int64
	if len(aligned.Rows.Rows) > 0 {
		n, err = e.wh.Append(ctx, e.cfg.RawSchema, res.LakeTable, aligned.Rows)
		if err != nil {
			return failed(out, fmt.Errorf("%w: %w", errAppend, err))
		}
	}

	out.Status = LoadSuccess
	out.RowCount = n
	out.FileSizeBytes = size
	out.Checksum = checksum
	out.AddedColumns = aligned.Added
	return out
}

// buildRows applies the rename plan to the parsed file. Lake columns come
// out in plan order; the first present source column feeds each one.
func (e *Engine) buildRows(ctx context.Context, file DiscoveredFile, res *Resolution, data []byte) (*RowSet, error) {
	records, err := parseCSV(data)
	if err != nil {
		return nil, err
	}

	headerAt := -1
	for i, rec := range records {
		if !isEmptyRow(rec) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, fmt.Errorf("%w: no header row", ErrEmptyFile)
	}

	// Unmapped columns are dropped, so only a duplicate the plan reads is
	// ambiguous.
	hdr, dups := IndexHeader(records[headerAt])

	lakeCols := res.LakeColumns()
	sources := make(map[string][]int, len(lakeCols))
	mapped := 0
	for _, c := range res.Columns {
		if err := dups[c.Source]; err != nil {
			return nil, err
		}
		if i, ok := hdr[c.Source]; ok {
			if len(sources[c.Lake]) == 0 {
				mapped++
			}
			sources[c.Lake] = append(sources[c.Lake], i)
		}
	}
	if mapped == 0 {
		return nil, fmt.Errorf("%w: expected one of %d dictionary columns for %s", ErrNoMappedColumns, len(res.Columns), res.LakeTable)
	}

	rs := &RowSet{Columns: append([]string(nil), lakeCols...)}
	var constants []any
	addConstant := func(col, val string) {
		if col == "" || rs.ColumnIndex(col) >= 0 {
			return
		}
		rs.Columns = append(rs.Columns, col)
		constants = append(constants, val)
	}
	if res.Derived != "" {
		addConstant(e.cfg.DerivedColumn, res.Derived)
	}
	if e.cfg.TagRows {
		addConstant(ColumnBatchID, BatchIDFromContext(ctx))
		addConstant(ColumnSourceFile, file.Name)
	}

	for _, rec := range records[headerAt+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make([]any, 0, len(rs.Columns))
		for _, col := range lakeCols {
			row = append(row, firstPresent(rec, sources[col]))
		}
		row = append(row, constants...)
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// firstPresent returns the cell at the first index the record reaches.
// Short rows yield null.
func firstPresent(rec []string, idx []int) any {
	for _, i := range idx {
		if i < len(rec) {
			return rec[i]
		}
	}
	return nil
}

// readLimited reads the whole file, refusing anything above limit bytes.
func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, path, limit)
	}
	return data, nil
}

// Checksum is the hex SHA-256 of the raw file bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func failed(out FileOutcome, err error) FileOutcome {
	msg := MapError(err)
	out.Status = LoadError
	out.Err = err
	out.Code = msg.Code
	out.Message = FormatLineageError(err)
	out.RowCount = 0
	out.FileSizeBytes = 0
	out.Checksum = ""
	out.AddedColumns = nil
	return out
}

func logOutcome(ctx context.Context, out FileOutcome) {
	log := logging.FromContext(ctx)
	if out.OK() {
		log.Info("file ingested",
			"file", out.File.Name,
			"table", out.LakeTable,
			"rows", out.RowCount,
			"bytes", out.FileSizeBytes,
			"added_columns", len(out.AddedColumns),
			"duration", out.Duration,
		)
		return
	}
	log.Warn("file failed",
		"file", out.File.Name,
		"table", out.LakeTable,
		"code", out.Code,
		"error", out.Err,
	)
}
