package core

// reference.go loads the two read-only reference inputs, the mapping
// dictionary and the type decisions, from the database, a CSV file or a
// YAML file. Whatever the source, rows end up in the same structs and go
// through the same validation.

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/lakeingest/internal/database"
	"gopkg.in/yaml.v3"
)

var (
	dictionaryColumns = []string{
		"source_type", "source_table_name_or_pattern", "source_column",
		"lake_table", "lake_column", "is_wildcard",
	}
	decisionColumns = []string{"table_name", "column_name", "suggested_type", "final_type"}
)

type dictionaryFile struct {
	Rules []MappingRule `yaml:"rules"`
}

type decisionsFile struct {
	Decisions []TypeDecision `yaml:"decisions"`
}

// LoadDictionary reads the mapping dictionary from the mapping_dictionary table.
func LoadDictionary(ctx context.Context, db DBTX) (*Dictionary, error) {
	rows, err := database.New(db).ListMappingRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mapping dictionary: %w", err)
	}

	rules := make([]MappingRule, len(rows))
	for i, r := range rows {
		rules[i] = MappingRule{
			SourceType:   r.SourceType,
			SourceTable:  r.SourceTableNameOrPattern,
			SourceColumn: r.SourceColumn,
			LakeTable:    r.LakeTable,
			LakeColumn:   r.LakeColumn,
			IsWildcard:   r.IsWildcard,
		}
	}
	return NewDictionary(rules)
}

// LoadDictionaryFile reads the mapping dictionary from a .csv or .yaml file.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping dictionary %s: %w", path, err)
	}
	defer f.Close()

	var rules []MappingRule
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		rules, err = ParseDictionaryYAML(f)
	case ".csv":
		rules, err = ParseDictionaryCSV(f)
	default:
		return nil, fmt.Errorf("mapping dictionary %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("mapping dictionary %s: %w", path, err)
	}
	return NewDictionary(rules)
}

// ParseDictionaryYAML reads a "rules:" list.
func ParseDictionaryYAML(r io.Reader) ([]MappingRule, error) {
	var df dictionaryFile
	if err := yaml.NewDecoder(r).Decode(&df); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return df.Rules, nil
}

// ParseDictionaryCSV reads a CSV whose header carries the six dictionary
// columns in any order. Extra columns are ignored.
func ParseDictionaryCSV(r io.Reader) ([]MappingRule, error) {
	records, err := readReferenceCSV(r, dictionaryColumns)
	if err != nil {
		return nil, err
	}

	rules := make([]MappingRule, 0, len(records))
	for i, rec := range records {
		wildcard, err := parseFlag(rec["is_wildcard"])
		if err != nil {
			return nil, fmt.Errorf("row %d: is_wildcard: %w", i+2, err)
		}
		rules = append(rules, MappingRule{
			SourceType:   rec["source_type"],
			SourceTable:  rec["source_table_name_or_pattern"],
			SourceColumn: rec["source_column"],
			LakeTable:    rec["lake_table"],
			LakeColumn:   rec["lake_column"],
			IsWildcard:   wildcard,
		})
	}
	return rules, nil
}

// LoadTypeDecisions reads the type_decision table.
func LoadTypeDecisions(ctx context.Context, db DBTX) ([]TypeDecision, error) {
	rows, err := database.New(db).ListTypeDecisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load type decisions: %w", err)
	}

	out := make([]TypeDecision, len(rows))
	for i, r := range rows {
		out[i] = TypeDecision{
			Table:         r.TableName,
			Column:        r.ColumnName,
			SuggestedType: r.SuggestedType.String,
			FinalType:     r.FinalType.String,
		}
	}
	return out, nil
}

// LoadTypeDecisionsFile reads type decisions from a .csv or .yaml file.
func LoadTypeDecisionsFile(path string) ([]TypeDecision, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open type decisions %s: %w", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		var df decisionsFile
		if err := yaml.NewDecoder(f).Decode(&df); err != nil && err != io.EOF {
			return nil, fmt.Errorf("type decisions %s: parse YAML: %w", path, err)
		}
		return df.Decisions, nil
	case ".csv":
		records, err := readReferenceCSV(f, decisionColumns)
		if err != nil {
			return nil, fmt.Errorf("type decisions %s: %w", path, err)
		}
		out := make([]TypeDecision, len(records))
		for i, rec := range records {
			out[i] = TypeDecision{
				Table:         rec["table_name"],
				Column:        rec["column_name"],
				SuggestedType: rec["suggested_type"],
				FinalType:     rec["final_type"],
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("type decisions %s: unsupported extension %q", path, ext)
	}
}

// readReferenceCSV returns one map per non-empty data row, keyed by the
// normalized header. Every required column must be present.
func readReferenceCSV(r io.Reader, required []string) ([]map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	records, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idx, err := MakeHeaderIndex(records[0])
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	out := make([]map[string]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}
		rec := make(map[string]string, len(required))
		for _, col := range required {
			if i := idx[col]; i < len(row) {
				rec[col] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
