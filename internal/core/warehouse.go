package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/lakeingest/internal/ident"
	"github.com/jackc/pgx/v5"
)

// Warehouse is the raw-layer storage the engine writes into. Every method
// is its own short transaction.
type Warehouse interface {
	// TableColumns returns the table's columns in ordinal order and whether
	// the table exists.
	TableColumns(ctx context.Context, schema, table string) ([]string, bool, error)
	// CreateTable creates a table whose columns are all nullable text.
	CreateTable(ctx context.Context, schema, table string, columns []string) error
	// AddColumn adds one nullable text column.
	AddColumn(ctx context.Context, schema, table, column string) error
	// Append writes rows whose columns match the table exactly.
	Append(ctx context.Context, schema, table string, rows *RowSet) (int64, error)
}

// PgWarehouse implements Warehouse on PostgreSQL.
type PgWarehouse struct {
	pool Pool
}

// NewPgWarehouse returns a Warehouse backed by pool.
func NewPgWarehouse(pool Pool) *PgWarehouse {
	return &PgWarehouse{pool: pool}
}

const tableColumnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position
`

func (w *PgWarehouse) TableColumns(ctx context.Context, schema, table string) ([]string, bool, error) {
	rows, err := w.pool.Query(ctx, tableColumnsQuery, schema, table)
	if err != nil {
		return nil, false, fmt.Errorf("read columns of %s.%s: %w", schema, table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, false, fmt.Errorf("read columns of %s.%s: %w", schema, table, err)
	}
	return cols, len(cols) > 0, nil
}

func (w *PgWarehouse) CreateTable(ctx context.Context, schema, table string, columns []string) error {
	stmts, err := createTableSQL(schema, table, columns)
	if err != nil {
		return err
	}
	return w.execTx(ctx, stmts...)
}

func (w *PgWarehouse) AddColumn(ctx context.Context, schema, table, column string) error {
	stmt, err := addColumnSQL(schema, table, column)
	if err != nil {
		return err
	}
	return w.execTx(ctx, stmt)
}

func (w *PgWarehouse) Append(ctx context.Context, schema, table string, rows *RowSet) (int64, error) {
	if err := ident.ValidateAll(append([]string{schema, table}, rows.Columns...)...); err != nil {
		return 0, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{schema, table}, rows.Columns, pgx.CopyFromRows(rows.Rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s.%s: %w", schema, table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (w *PgWarehouse) execTx(ctx context.Context, stmts ...string) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// createTableSQL builds the schema and table DDL. Identifiers are checked
// against the allow-list before they are interpolated.
func createTableSQL(schema, table string, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("create %s.%s: no columns", schema, table)
	}
	qschema, err := ident.Quote(schema)
	if err != nil {
		return nil, err
	}
	qtable, err := ident.Qualified(schema, table)
	if err != nil {
		return nil, err
	}
	qcols, err := ident.QuoteList(columns)
	if err != nil {
		return nil, err
	}

	defs := make([]string, len(qcols))
	for i, c := range qcols {
		defs[i] = c + " TEXT"
	}
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + qschema,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qtable, strings.Join(defs, ", ")),
	}, nil
}

func addColumnSQL(schema, table, column string) (string, error) {
	qtable, err := ident.Qualified(schema, table)
	if err != nil {
		return "", err
	}
	qcol, err := ident.Quote(column)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT", qtable, qcol), nil
}
