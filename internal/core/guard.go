package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/lakeingest/internal/ident"
)

// SchemaGuard makes a raw table structurally compatible with an incoming
// row set. Columns are only ever added, never dropped or retyped.
//
// Two guards must not evolve the same table at the same time; callers
// serialize writes per table.
type SchemaGuard struct {
	wh     Warehouse
	rec    Recorder
	schema string
}

// NewSchemaGuard returns a guard for tables in schema. rec may be nil.
func NewSchemaGuard(wh Warehouse, rec Recorder, schema string) *SchemaGuard {
	return &SchemaGuard{wh: wh, rec: rec, schema: schema}
}

// Alignment is the result of Align.
type Alignment struct {
	Rows    *RowSet
	Created bool
	Added   []string
}

// Align creates table from the row shape if it does not exist, otherwise
// adds any incoming column the table lacks and fills any table column the
// rows lack with null. The returned rows follow the table's column order,
// so the append cannot fail on a column mismatch.
func (g *SchemaGuard) Align(ctx context.Context, table string, rows *RowSet) (*Alignment, error) {
	if err := ident.ValidateAll(append([]string{g.schema, table}, rows.Columns...)...); err != nil {
		return nil, fmt.Errorf("%w: %w", errSchemaEvolution, err)
	}
	if len(rows.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s: row set has no columns", errSchemaEvolution, g.schema, table)
	}

	existing, ok, err := g.wh.TableColumns(ctx, g.schema, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSchemaEvolution, err)
	}

	if !ok {
		if err := g.wh.CreateTable(ctx, g.schema, table, rows.Columns); err != nil {
			return nil, fmt.Errorf("%w: create %s.%s: %w", errSchemaEvolution, g.schema, table, err)
		}
		audit(ctx, g.rec, EvolutionEvent{
			Action: ActionCreateTable,
			Schema: g.schema,
			Table:  table,
			Detail: fmt.Sprintf("%d text columns", len(rows.Columns)),
		})
		return &Alignment{Rows: rows, Created: true}, nil
	}

	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}

	var added []string
	for _, c := range rows.Columns {
		if have[c] {
			continue
		}
		if err := g.wh.AddColumn(ctx, g.schema, table, c); err != nil {
			return nil, fmt.Errorf("%w: add column %s to %s.%s: %w", errSchemaEvolution, c, g.schema, table, err)
		}
		audit(ctx, g.rec, EvolutionEvent{
			Action: ActionAddColumn,
			Schema: g.schema,
			Table:  table,
			Column: c,
			Detail: "nullable text",
		})
		have[c] = true
		existing = append(existing, c)
		added = append(added, c)
	}

	return &Alignment{Rows: reorder(rows, existing), Added: added}, nil
}

// reorder projects rows onto columns; columns the rows lack become null.
func reorder(rows *RowSet, columns []string) *RowSet {
	src := make([]int, len(columns))
	for i, c := range columns {
		src[i] = rows.ColumnIndex(c)
	}

	out := &RowSet{Columns: columns, Rows: make([][]any, len(rows.Rows))}
	for r, row := range rows.Rows {
		aligned := make([]any, len(columns))
		for i, j := range src {
			if j >= 0 && j < len(row) {
				aligned[i] = row[j]
			}
		}
		out.Rows[r] = aligned
	}
	return out
}
