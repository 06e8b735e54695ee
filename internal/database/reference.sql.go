package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listMappingRules = `
SELECT source_type, source_table_name_or_pattern, source_column, lake_table, lake_column, is_wildcard
FROM mapping_dictionary
ORDER BY source_type, source_table_name_or_pattern, source_column
`

func (q *Queries) ListMappingRules(ctx context.Context) ([]MappingDictionary, error) {
	rows, err := q.db.Query(ctx, listMappingRules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MappingDictionary
	for rows.Next() {
		var m MappingDictionary
		if err := rows.Scan(
			&m.SourceType, &m.SourceTableNameOrPattern, &m.SourceColumn,
			&m.LakeTable, &m.LakeColumn, &m.IsWildcard,
		); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const listTypeDecisions = `
SELECT table_name, column_name, suggested_type, final_type
FROM type_decision
ORDER BY table_name, column_name
`

func (q *Queries) ListTypeDecisions(ctx context.Context) ([]TypeDecision, error) {
	rows, err := q.db.Query(ctx, listTypeDecisions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TypeDecision
	for rows.Next() {
		var d TypeDecision
		if err := rows.Scan(&d.TableName, &d.ColumnName, &d.SuggestedType, &d.FinalType); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const insertSchemaEvolution = `
INSERT INTO schema_evolution_log
    (id, batch_id, schema_name, table_name, column_name, action, severity, detail, actor)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

type InsertSchemaEvolutionParams struct {
	ID         pgtype.UUID
	BatchID    pgtype.Text
	SchemaName string
	TableName  string
	ColumnName pgtype.Text
	Action     string
	Severity   string
	Detail     pgtype.Text
	Actor      pgtype.Text
}

func (q *Queries) InsertSchemaEvolution(ctx context.Context, arg InsertSchemaEvolutionParams) error {
	_, err := q.db.Exec(ctx, insertSchemaEvolution,
		arg.ID, arg.BatchID, arg.SchemaName, arg.TableName, arg.ColumnName,
		arg.Action, arg.Severity, arg.Detail, arg.Actor)
	return err
}
