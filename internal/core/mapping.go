package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/JonMunkholm/lakeingest/internal/ident"
)

// MappingRule is one row of the mapping dictionary.
type MappingRule struct {
	SourceType   string `yaml:"source_type" json:"source_type"`
	SourceTable  string `yaml:"source_table_name_or_pattern" json:"source_table_name_or_pattern"`
	SourceColumn string `yaml:"source_column" json:"source_column"`
	LakeTable    string `yaml:"lake_table" json:"lake_table"`
	LakeColumn   string `yaml:"lake_column" json:"lake_column"`
	IsWildcard   bool   `yaml:"is_wildcard" json:"is_wildcard"`
}

// ColumnMapping renames one normalized source column to a lake column.
type ColumnMapping struct {
	Source string
	Lake   string
}

// Resolution is the outcome of resolving a file name within one source type.
type Resolution struct {
	LakeTable string
	Columns   []ColumnMapping
	// Rule is the declared name or pattern that matched.
	Rule string
	// Pattern is true when the match came from a wildcard rule.
	Pattern bool
	// Derived is the year parsed from the variable part of a pattern match,
	// empty when none was found.
	Derived string
}

// LakeColumns returns the distinct lake columns in plan order.
func (r *Resolution) LakeColumns() []string {
	seen := make(map[string]bool, len(r.Columns))
	var out []string
	for _, c := range r.Columns {
		if !seen[c.Lake] {
			seen[c.Lake] = true
			out = append(out, c.Lake)
		}
	}
	return out
}

// tableRule groups every dictionary row sharing a declared name and lake table.
type tableRule struct {
	declared  string
	lakeTable string
	wildcard  bool
	stem      string         // exact rules
	pattern   *regexp.Regexp // wildcard rules
	literal   int            // specificity of a wildcard rule
	columns   []ColumnMapping
}

// Dictionary is the validated, source-type-partitioned mapping dictionary.
// It is immutable after construction and safe for concurrent use.
type Dictionary struct {
	partitions map[string][]*tableRule
}

var yearPattern = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)

// NewDictionary validates rules and partitions them by normalized source
// type. Every lake table and column must pass the identifier allow-list,
// so a bad dictionary fails here rather than halfway through a batch.
func NewDictionary(rules []MappingRule) (*Dictionary, error) {
	d := &Dictionary{partitions: make(map[string][]*tableRule)}
	index := make(map[string]*tableRule)

	var errs []error
	for i, r := range rules {
		st := NormalizeKey(r.SourceType)
		declared := NormalizeKey(r.SourceTable)
		src := NormalizeName(r.SourceColumn)
		lakeTable := NormalizeName(r.LakeTable)
		lakeCol := NormalizeName(r.LakeColumn)

		switch {
		case st == "":
			errs = append(errs, fmt.Errorf("rule %d: source_type is empty", i+1))
			continue
		case declared == "":
			errs = append(errs, fmt.Errorf("rule %d: source table name or pattern is empty", i+1))
			continue
		case src == "":
			errs = append(errs, fmt.Errorf("rule %d: source_column %q is empty after normalization", i+1, r.SourceColumn))
			continue
		}
		if err := ident.ValidateAll(lakeTable, lakeCol); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i+1, err))
			continue
		}

		key := st + "\x00" + declared + "\x00" + lakeTable + "\x00" + fmt.Sprint(r.IsWildcard)
		tr, ok := index[key]
		if !ok {
			tr = &tableRule{declared: declared, lakeTable: lakeTable, wildcard: r.IsWildcard}
			if r.IsWildcard {
				tr.pattern, tr.literal = compilePattern(declared)
			} else {
				tr.stem = fileStem(declared)
			}
			index[key] = tr
			d.partitions[st] = append(d.partitions[st], tr)
		}
		tr.addColumn(ColumnMapping{Source: src, Lake: lakeCol})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid mapping dictionary: %w", errors.Join(errs...))
	}
	return d, nil
}

func (tr *tableRule) addColumn(c ColumnMapping) {
	for _, existing := range tr.columns {
		if existing == c {
			return
		}
	}
	tr.columns = append(tr.columns, c)
}

// compilePattern turns a wildcard rule into an anchored regexp over file
// stems. '*' matches any run of characters. A rule without '*' is a
// prefix: "labs_" behaves like "labs_*". The returned int is the number
// of literal characters, used to rank competing patterns.
func compilePattern(p string) (*regexp.Regexp, int) {
	if ext := filepath.Ext(p); ext != "" && !strings.Contains(ext, "*") {
		p = strings.TrimSuffix(p, ext)
	}
	if !strings.Contains(p, "*") {
		p += "*"
	}

	parts := strings.Split(p, "*")
	literal := 0
	quoted := make([]string, len(parts))
	for i, part := range parts {
		literal += len(part)
		quoted[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(quoted, "(.*)") + "$"), literal
}

// SourceTypes returns the normalized source types present, sorted.
func (d *Dictionary) SourceTypes() []string {
	out := make([]string, 0, len(d.partitions))
	for st := range d.partitions {
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

// Resolve maps a file name to a lake table within one source type.
//
// Only rules of the given source type are consulted. Exact declared names
// beat patterns. Among patterns the one with the most literal characters
// wins. Ties that point at different lake tables are ErrAmbiguousMapping.
func (d *Dictionary) Resolve(sourceType, fileName string) (*Resolution, error) {
	st := NormalizeKey(sourceType)
	rules := d.partitions[st]
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMappingForSourceType, st)
	}

	stem := fileStem(fileName)

	var exact []*tableRule
	for _, r := range rules {
		if !r.wildcard && r.stem == stem {
			exact = append(exact, r)
		}
	}
	if len(exact) > 0 {
		return merge(exact, fileName)
	}

	var best []*tableRule
	var bestMatch []string
	for _, r := range rules {
		if !r.wildcard {
			continue
		}
		m := r.pattern.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		switch {
		case len(best) == 0 || r.literal > best[0].literal:
			best = []*tableRule{r}
			bestMatch = m
		case r.literal == best[0].literal:
			best = append(best, r)
		}
	}
	if len(best) == 0 {
		return nil, fmt.Errorf("%w: %q under source type %q", ErrUnresolvedMapping, filepath.Base(fileName), st)
	}

	res, err := merge(best, fileName)
	if err != nil {
		return nil, err
	}
	res.Pattern = true
	res.Derived = derivedYear(bestMatch[1:])
	return res, nil
}

// merge combines equally ranked matches. They must agree on the lake table.
func merge(matches []*tableRule, fileName string) (*Resolution, error) {
	res := &Resolution{LakeTable: matches[0].lakeTable, Rule: matches[0].declared}
	for _, m := range matches[1:] {
		if m.lakeTable != res.LakeTable {
			return nil, fmt.Errorf("%w: %q matches %q (table %s) and %q (table %s)",
				ErrAmbiguousMapping, filepath.Base(fileName),
				res.Rule, res.LakeTable, m.declared, m.lakeTable)
		}
	}

	seen := make(map[ColumnMapping]bool)
	for _, m := range matches {
		for _, c := range m.columns {
			if !seen[c] {
				seen[c] = true
				res.Columns = append(res.Columns, c)
			}
		}
	}
	return res, nil
}

func derivedYear(captures []string) string {
	for _, c := range captures {
		if m := yearPattern.FindStringSubmatch(c); m != nil {
			return m[1]
		}
	}
	return ""
}
