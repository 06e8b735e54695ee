package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/ident"
	"github.com/JonMunkholm/lakeingest/internal/logging"
)

// TypeDecision is one row of the externally governed type-decision table.
type TypeDecision struct {
	Table         string `yaml:"table_name" json:"table_name"`
	Column        string `yaml:"column_name" json:"column_name"`
	SuggestedType string `yaml:"suggested_type" json:"suggested_type,omitempty"`
	FinalType     string `yaml:"final_type" json:"final_type,omitempty"`
}

// PromotionResult reports the promotion of one raw table.
type PromotionResult struct {
	Table    string        `json:"table"`
	Columns  int           `json:"columns"`
	Typed    int           `json:"typed_columns"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the staging table was rebuilt. Error is checked too
// since Err does not survive a JSON round trip.
func (r PromotionResult) OK() bool {
	return r.Err == nil && r.Error == ""
}

const textType = "text"

var (
	simpleTypes = map[string]string{
		"text": "text", "string": "text",
		"integer": "integer", "int": "integer", "int4": "integer",
		"bigint": "bigint", "int8": "bigint",
		"smallint": "smallint", "int2": "smallint",
		"numeric": "numeric", "decimal": "numeric",
		"real": "real", "float4": "real",
		"double precision": "double precision", "float8": "double precision",
		"boolean": "boolean", "bool": "boolean",
		"date":        "date",
		"timestamp":   "timestamp",
		"timestamptz": "timestamptz",
		"time":        "time",
		"uuid":        "uuid",
		"jsonb":       "jsonb",
	}
	varcharType = regexp.MustCompile(`^varchar\((\d{1,5})\)$`)
	numericType = regexp.MustCompile(`^(?:numeric|decimal)\((\d{1,3})(?:,(\d{1,3}))?\)$`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// NormalizeType maps a declared type onto the closed set promotion may
// emit. Anything else is rejected, since type names are interpolated
// into DDL.
func NormalizeType(t string) (string, bool) {
	t = strings.ToLower(strings.TrimSpace(t))
	t = spaceRun.ReplaceAllString(t, " ")
	t = strings.ReplaceAll(strings.ReplaceAll(t, "( ", "("), " )", ")")
	t = strings.ReplaceAll(t, ", ", ",")

	if s, ok := simpleTypes[t]; ok {
		return s, true
	}
	if m := varcharType.FindStringSubmatch(t); m != nil {
		return "varchar(" + m[1] + ")", true
	}
	if m := numericType.FindStringSubmatch(t); m != nil {
		if m[2] == "" {
			return "numeric(" + m[1] + ")", true
		}
		return "numeric(" + m[1] + "," + m[2] + ")", true
	}
	return "", false
}

// ResolveType applies the precedence final > suggested > text. A declared
// type outside the allowed set is passed over in favor of the next one.
func ResolveType(d TypeDecision) (string, bool) {
	clean := true
	for _, t := range []string{d.FinalType, d.SuggestedType} {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if nt, ok := NormalizeType(t); ok {
			return nt, clean
		}
		clean = false
	}
	return textType, clean
}

// columnTypes resolves decisions into table -> column -> type.
func columnTypes(ctx context.Context, decisions []TypeDecision) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, d := range decisions {
		table, col := NormalizeName(d.Table), NormalizeName(d.Column)
		if table == "" || col == "" {
			continue
		}
		typ, clean := ResolveType(d)
		if !clean {
			logging.FromContext(ctx).Warn("ignoring unsupported type decision",
				"table", table, "column", col,
				"final_type", d.FinalType, "suggested_type", d.SuggestedType,
				"using", typ)
		}
		if out[table] == nil {
			out[table] = make(map[string]string)
		}
		out[table][col] = typ
	}
	return out
}

// BuildPromotionSQL returns the statements that rebuild the typed staging
// copy of a raw table. Columns without a decision stay text. Blank cells
// become null before the cast.
func BuildPromotionSQL(rawSchema, stagingSchema, table string, columns []string, types map[string]string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("promote %s: no columns", table)
	}
	src, err := ident.Qualified(rawSchema, table)
	if err != nil {
		return nil, err
	}
	dst, err := ident.Qualified(stagingSchema, table)
	if err != nil {
		return nil, err
	}
	qschema, err := ident.Quote(stagingSchema)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(columns))
	for i, c := range columns {
		qc, err := ident.Quote(c)
		if err != nil {
			return nil, err
		}
		typ, ok := types[c]
		if !ok || typ == textType {
			exprs[i] = qc
			continue
		}
		if _, valid := NormalizeType(typ); !valid {
			return nil, fmt.Errorf("%w: type %q", ident.ErrUnsafeIdentifier, typ)
		}
		exprs[i] = fmt.Sprintf("CAST(NULLIF(BTRIM(%s), '') AS %s) AS %s", qc, typ, qc)
	}

	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + qschema,
		"DROP TABLE IF EXISTS " + dst,
		fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s", dst, strings.Join(exprs, ", "), src),
	}, nil
}

// Promoter rebuilds typed staging tables from raw tables.
type Promoter struct {
	pool          Pool
	wh            Warehouse
	rec           Recorder
	rawSchema     string
	stagingSchema string
}

// NewPromoter wires a promoter. rec may be nil.
func NewPromoter(pool Pool, wh Warehouse, rec Recorder, rawSchema, stagingSchema string) *Promoter {
	return &Promoter{pool: pool, wh: wh, rec: rec, rawSchema: rawSchema, stagingSchema: stagingSchema}
}

// Promote rebuilds each table in its own transaction. A failed table is
// rolled back and reported; the others still run. With no decisions it
// does nothing.
func (p *Promoter) Promote(ctx context.Context, tables []string, decisions []TypeDecision) []PromotionResult {
	log := logging.FromContext(ctx)
	if len(decisions) == 0 {
		log.Info("staging promotion skipped: no type decisions")
		return nil
	}

	types := columnTypes(ctx, decisions)
	tables = uniqueSorted(tables)

	results := make([]PromotionResult, 0, len(tables))
	for _, table := range tables {
		start := time.Now()
		res := p.promoteTable(ctx, table, types[table])
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
			log.Error("staging promotion failed", "table", table, "error", res.Err)
		} else {
			log.Info("staging table rebuilt", "table", table, "columns", res.Columns, "typed", res.Typed)
		}
		results = append(results, res)
	}
	return results
}

func (p *Promoter) promoteTable(ctx context.Context, table string, types map[string]string) PromotionResult {
	res := PromotionResult{Table: table}

	cols, ok, err := p.wh.TableColumns(ctx, p.rawSchema, table)
	if err != nil {
		res.Err = err
		return res
	}
	if !ok {
		res.Err = fmt.Errorf("raw table %s.%s does not exist", p.rawSchema, table)
		return res
	}

	stmts, err := BuildPromotionSQL(p.rawSchema, p.stagingSchema, table, cols, types)
	if err != nil {
		res.Err = err
		return res
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		res.Err = fmt.Errorf("begin transaction: %w", err)
		return res
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			res.Err = fmt.Errorf("promote %s: %w", table, err)
			return res
		}
	}
	if err := tx.Commit(ctx); err != nil {
		res.Err = fmt.Errorf("commit promotion of %s: %w", table, err)
		return res
	}

	res.Columns = len(cols)
	for _, c := range cols {
		if t, ok := types[c]; ok && t != textType {
			res.Typed++
		}
	}
	audit(ctx, p.rec, EvolutionEvent{
		Action: ActionPromoteTable,
		Schema: p.stagingSchema,
		Table:  table,
		Detail: fmt.Sprintf("rebuilt from %s.%s with %d typed of %d columns", p.rawSchema, table, res.Typed, res.Columns),
	})
	return res
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
