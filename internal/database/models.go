package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type IngestBatch struct {
	BatchID      string
	SourceID     string
	SourceType   string
	FileCount    int32
	FilesSuccess pgtype.Int4
	FilesError   pgtype.Int4
	Status       string
	StartedAt    pgtype.Timestamptz
	CompletedAt  pgtype.Timestamptz
}

type IngestFileLineage struct {
	FileID        pgtype.UUID
	BatchID       string
	FileName      string
	FilePath      string
	LakeTableName pgtype.Text
	LoadStatus    string
	RowCount      pgtype.Int8
	FileSizeBytes pgtype.Int8
	Checksum      pgtype.Text
	ErrorMessage  pgtype.Text
	Seq           int32
	CompletedAt   pgtype.Timestamptz
}

type MappingDictionary struct {
	SourceType               string
	SourceTableNameOrPattern string
	SourceColumn             string
	LakeTable                string
	LakeColumn               string
	IsWildcard               bool
}

type TypeDecision struct {
	TableName     string
	ColumnName    string
	SuggestedType pgtype.Text
	FinalType     pgtype.Text
}
