package core

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgFake is a Pool that understands the lineage queries and treats any
// other statement as DDL. Writes made in a transaction are applied only on
// Commit, so a rollback leaves no trace.
type pgFake struct {
	mu        sync.Mutex
	batches   map[string]database.IngestBatch
	files     []database.IngestFileLineage
	committed []string
	rollbacks int

	// afterExistsCheck runs once BatchExists has answered, letting a test
	// slip a competing registration in before the insert.
	afterExistsCheck func()
	// failExec fails any statement it returns an error for.
	failExec func(sql string) error
}

func newPgFake() *pgFake {
	return &pgFake{batches: make(map[string]database.IngestBatch)}
}

func (db *pgFake) Begin(context.Context) (pgx.Tx, error) {
	return &pgFakeTx{db: db}, nil
}

func (db *pgFake) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := db.checkExec(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	apply, err := db.prepare(sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	tag := apply()
	db.committed = append(db.committed, sql)
	return tag, nil
}

func (db *pgFake) checkExec(sql string) error {
	if db.failExec != nil {
		return db.failExec(sql)
	}
	return nil
}

// prepare validates a write against committed state and returns the
// mutation to run under db.mu.
func (db *pgFake) prepare(sql string, args []any) (func() pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO ingest_batch"):
		id := args[0].(string)
		db.mu.Lock()
		_, exists := db.batches[id]
		db.mu.Unlock()
		if exists {
			return nil, &pgconn.PgError{Code: "23505", Message: `duplicate key value violates unique constraint "ingest_batch_pkey"`}
		}
		return func() pgconn.CommandTag {
			db.batches[id] = database.IngestBatch{
				BatchID:    id,
				SourceID:   args[1].(string),
				SourceType: args[2].(string),
				FileCount:  args[3].(int32),
				Status:     string(BatchPending),
				StartedAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
			}
			return pgconn.NewCommandTag("INSERT 0 1")
		}, nil

	case strings.Contains(sql, "INSERT INTO ingest_file_lineage"):
		return func() pgconn.CommandTag {
			db.files = append(db.files, database.IngestFileLineage{
				FileID:     args[0].(pgtype.UUID),
				BatchID:    args[1].(string),
				FileName:   args[2].(string),
				FilePath:   args[3].(string),
				Seq:        args[4].(int32),
				LoadStatus: string(LoadPending),
			})
			return pgconn.NewCommandTag("INSERT 0 1")
		}, nil

	case strings.Contains(sql, "UPDATE ingest_file_lineage") && strings.Contains(sql, "WHERE batch_id = $1"):
		return func() pgconn.CommandTag {
			n := 0
			for i := range db.files {
				f := &db.files[i]
				if f.BatchID == args[0].(string) && f.LoadStatus == string(LoadPending) {
					f.LoadStatus = string(LoadError)
					f.ErrorMessage = pgtype.Text{String: args[1].(string), Valid: true}
					f.CompletedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
					n++
				}
			}
			return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n))
		}, nil

	case strings.Contains(sql, "UPDATE ingest_file_lineage"):
		success := strings.Contains(sql, "load_status = 'success'")
		return func() pgconn.CommandTag {
			f := db.pendingFile(args[0].(pgtype.UUID))
			if f == nil {
				return pgconn.NewCommandTag("UPDATE 0")
			}
			f.CompletedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			if success {
				f.LoadStatus = string(LoadSuccess)
				f.LakeTableName = pgtype.Text{String: args[1].(string), Valid: true}
				f.RowCount = pgtype.Int8{Int64: args[2].(int64), Valid: true}
				f.FileSizeBytes = pgtype.Int8{Int64: args[3].(int64), Valid: true}
				f.Checksum = pgtype.Text{String: args[4].(string), Valid: true}
			} else {
				f.LoadStatus = string(LoadError)
				f.LakeTableName = args[1].(pgtype.Text)
				f.ErrorMessage = pgtype.Text{String: args[2].(string), Valid: true}
			}
			return pgconn.NewCommandTag("UPDATE 1")
		}, nil

	case strings.Contains(sql, "UPDATE ingest_batch"):
		return func() pgconn.CommandTag {
			b, ok := db.batches[args[0].(string)]
			if !ok || b.Status != string(BatchPending) {
				return pgconn.NewCommandTag("UPDATE 0")
			}
			b.FilesSuccess = pgtype.Int4{Int32: args[1].(int32), Valid: true}
			b.FilesError = pgtype.Int4{Int32: args[2].(int32), Valid: true}
			b.Status = args[3].(string)
			b.CompletedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			db.batches[b.BatchID] = b
			return pgconn.NewCommandTag("UPDATE 1")
		}, nil
	}

	return func() pgconn.CommandTag { return pgconn.NewCommandTag("OK") }, nil
}

// pendingFile must be called with db.mu held.
func (db *pgFake) pendingFile(id pgtype.UUID) *database.IngestFileLineage {
	for i := range db.files {
		if db.files[i].FileID.Bytes == id.Bytes && db.files[i].LoadStatus == string(LoadPending) {
			return &db.files[i]
		}
	}
	return nil
}

func (db *pgFake) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	row, hook := db.queryRow(sql, args)
	db.mu.Unlock()
	if hook != nil {
		hook()
	}
	return row
}

func (db *pgFake) queryRow(sql string, args []any) (pgx.Row, func()) {
	switch {
	case strings.Contains(sql, "SELECT EXISTS"):
		_, ok := db.batches[args[0].(string)]
		hook := db.afterExistsCheck
		db.afterExistsCheck = nil
		return pgFakeRow{vals: []any{ok}}, hook
	case strings.Contains(sql, "FROM ingest_batch"):
		b, ok := db.batches[args[0].(string)]
		if !ok {
			return pgFakeRow{err: pgx.ErrNoRows}, nil
		}
		return pgFakeRow{vals: batchValues(b)}, nil
	}
	return pgFakeRow{err: fmt.Errorf("pgFake: unexpected query %q", sql)}, nil
}

func (db *pgFake) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var rows [][]any
	switch {
	case strings.Contains(sql, "FROM ingest_file_lineage"):
		files := make([]database.IngestFileLineage, 0, len(db.files))
		for _, f := range db.files {
			if f.BatchID == args[0].(string) {
				files = append(files, f)
			}
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Seq < files[j].Seq })
		for _, f := range files {
			rows = append(rows, fileValues(f))
		}
	case strings.Contains(sql, "FROM ingest_batch"):
		before := args[0].(pgtype.Timestamptz).Time
		var stale []database.IngestBatch
		for _, b := range db.batches {
			if b.Status == string(BatchPending) && b.StartedAt.Time.Before(before) {
				stale = append(stale, b)
			}
		}
		sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Time.Before(stale[j].StartedAt.Time) })
		for _, b := range stale {
			rows = append(rows, batchValues(b))
		}
	default:
		return nil, fmt.Errorf("pgFake: unexpected query %q", sql)
	}
	return &pgFakeRows{rows: rows, pos: -1}, nil
}

// setBatch stores a committed batch row directly.
func (db *pgFake) setBatch(b database.IngestBatch) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches[b.BatchID] = b
}

func (db *pgFake) fileCount(batchID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, f := range db.files {
		if f.BatchID == batchID {
			n++
		}
	}
	return n
}

func (db *pgFake) committedSQL() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.committed...)
}

func batchValues(b database.IngestBatch) []any {
	return []any{
		b.BatchID, b.SourceID, b.SourceType, b.FileCount, b.FilesSuccess,
		b.FilesError, b.Status, b.StartedAt, b.CompletedAt,
	}
}

func fileValues(f database.IngestFileLineage) []any {
	return []any{
		f.FileID, f.BatchID, f.FileName, f.FilePath, f.LakeTableName,
		f.LoadStatus, f.RowCount, f.FileSizeBytes, f.Checksum,
		f.ErrorMessage, f.Seq, f.CompletedAt,
	}
}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("pgFake: scan %d values into %d targets", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("pgFake: target %d is not a pointer", i)
		}
		sv := reflect.ValueOf(vals[i])
		if !sv.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf("pgFake: cannot scan %T into %T", vals[i], d)
		}
		dv.Elem().Set(sv)
	}
	return nil
}

type pgFakeRow struct {
	vals []any
	err  error
}

func (r pgFakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

// pgFakeRows embeds pgx.Rows so methods the queries never call panic.
type pgFakeRows struct {
	pgx.Rows
	rows [][]any
	pos  int
}

func (r *pgFakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *pgFakeRows) Scan(dest ...any) error { return scanInto(r.rows[r.pos], dest) }
func (r *pgFakeRows) Err() error             { return nil }
func (r *pgFakeRows) Close()                 {}

// pgFakeTx queues writes until Commit. Reads see committed state only.
type pgFakeTx struct {
	pgx.Tx
	db      *pgFake
	pending []func() pgconn.CommandTag
	stmts   []string
	done    bool
}

func (tx *pgFakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx.done {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	if err := tx.db.checkExec(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	apply, err := tx.db.prepare(sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tx.pending = append(tx.pending, apply)
	tx.stmts = append(tx.stmts, sql)
	return pgconn.NewCommandTag("OK"), nil
}

func (tx *pgFakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.db.QueryRow(ctx, sql, args...)
}

func (tx *pgFakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.db.Query(ctx, sql, args...)
}

func (tx *pgFakeTx) Commit(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for _, apply := range tx.pending {
		apply()
	}
	tx.db.committed = append(tx.db.committed, tx.stmts...)
	return nil
}

func (tx *pgFakeTx) Rollback(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return nil
}
