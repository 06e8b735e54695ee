package core

import (
	"context"
	"testing"

	"github.com/JonMunkholm/lakeingest/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"INTEGER", "integer", true},
		{"int", "integer", true},
		{" Double   Precision ", "double precision", true},
		{"numeric(10, 2)", "numeric(10,2)", true},
		{"DECIMAL( 8 )", "numeric(8)", true},
		{"varchar(255)", "varchar(255)", true},
		{"timestamptz", "timestamptz", true},
		{"bool", "boolean", true},
		{"text; drop table x", "", false},
		{"money", "", false},
		{"varchar(abc)", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTypePrecedence(t *testing.T) {
	tests := []struct {
		name      string
		d         TypeDecision
		want      string
		wantClean bool
	}{
		{"final wins", TypeDecision{FinalType: "date", SuggestedType: "integer"}, "date", true},
		{"suggested when no final", TypeDecision{SuggestedType: "bigint"}, "bigint", true},
		{"text fallback", TypeDecision{}, "text", true},
		{"bad final falls to suggested", TypeDecision{FinalType: "blob", SuggestedType: "integer"}, "integer", false},
		{"bad both falls to text", TypeDecision{FinalType: "blob", SuggestedType: "blob"}, "text", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clean := ResolveType(tt.d)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClean, clean)
		})
	}
}

func TestBuildPromotionSQL(t *testing.T) {
	stmts, err := BuildPromotionSQL("raw", "staging", "labs",
		[]string{"patient_id", "result_value", "file_year"},
		map[string]string{"result_value": "numeric(10,2)", "file_year": "integer", "patient_id": "text"},
	)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "staging"`, stmts[0])
	assert.Equal(t, `DROP TABLE IF EXISTS "staging"."labs"`, stmts[1])
	assert.Equal(t,
		`CREATE TABLE "staging"."labs" AS SELECT "patient_id", `+
			`CAST(NULLIF(BTRIM("result_value"), '') AS numeric(10,2)) AS "result_value", `+
			`CAST(NULLIF(BTRIM("file_year"), '') AS integer) AS "file_year" `+
			`FROM "raw"."labs"`,
		stmts[2])
}

func TestBuildPromotionSQLRejectsUnsafeInput(t *testing.T) {
	_, err := BuildPromotionSQL("raw", "staging", "labs", []string{"a"}, map[string]string{"a": "integer); drop table x; --"})
	assert.ErrorIs(t, err, ident.ErrUnsafeIdentifier)

	_, err = BuildPromotionSQL("raw", "staging", "Labs", []string{"a"}, nil)
	assert.ErrorIs(t, err, ident.ErrUnsafeIdentifier)

	_, err = BuildPromotionSQL("raw", "staging", "labs", nil, nil)
	assert.Error(t, err)
}

func TestColumnTypesNormalizesNames(t *testing.T) {
	types := columnTypes(context.Background(), []TypeDecision{
		{Table: "Labs", Column: "Result Value", SuggestedType: "REAL"},
		{Table: "", Column: "x", FinalType: "integer"},
	})
	assert.Equal(t, map[string]map[string]string{"labs": {"result_value": "real"}}, types)
}

func TestPromoteSkipsWithoutDecisions(t *testing.T) {
	p := NewPromoter(nil, newMemWarehouse(), nil, "raw", "staging")
	assert.Nil(t, p.Promote(context.Background(), []string{"labs"}, nil))
}

func TestPromoteReportsMissingRawTable(t *testing.T) {
	p := NewPromoter(nil, newMemWarehouse(), nil, "raw", "staging")
	res := p.Promote(context.Background(), []string{"labs", "labs"}, []TypeDecision{{Table: "labs", Column: "a", FinalType: "integer"}})
	require.Len(t, res, 1)
	assert.False(t, res[0].OK())
	assert.Contains(t, res[0].Error, "does not exist")
}
