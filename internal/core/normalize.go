package core

// normalize.go holds the one canonical name normalization shared by file
// headers and dictionary source columns, plus the helpers that turn raw
// file bytes into string records.
//
// NormalizeName must be applied identically on both sides of a mapping.
// If a header and a dictionary entry normalized differently the rename plan
// would silently miss the column, so nothing else in the package compares
// column names any other way.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NormalizeName converts a column name to its canonical form:
// trimmed, case-folded, runs of anything but letters and digits collapsed
// to a single underscore, no leading or trailing underscores.
//
//	NormalizeName("  Patient ID ") == "patient_id"
//	NormalizeName("patient_id")    == "patient_id"
//	NormalizeName("Patient-ID#")   == "patient_id"
func NormalizeName(s string) string {
	s = CleanCell(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// NormalizeKey trims and case-folds a source type or file name.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// fileStem returns the normalized base name without its extension.
func fileStem(name string) string {
	name = NormalizeKey(filepath.Base(name))
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CleanCell removes common CSV artifacts from a header cell:
// surrounding whitespace, a stray BOM, the Excel formula prefix (="...")
// and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// HeaderIndex maps normalized column names to their position in a record.
type HeaderIndex map[string]int

// MakeHeaderIndex normalizes a header row. Two headers that normalize to
// the same name are rejected: the mapping could not tell them apart.
// Blank headers are ignored.
func MakeHeaderIndex(header []string) (HeaderIndex, error) {
	idx, dups := IndexHeader(header)
	for _, h := range header {
		if err := dups[NormalizeName(h)]; err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// IndexHeader is the lenient form of MakeHeaderIndex. A repeated name keeps
// its first position and gets an ErrDuplicateHeader entry in dups, so a
// caller can reject only the duplicates it actually reads.
func IndexHeader(header []string) (idx HeaderIndex, dups map[string]error) {
	idx = make(HeaderIndex, len(header))
	for i, h := range header {
		key := NormalizeName(h)
		if key == "" {
			continue
		}
		prev, ok := idx[key]
		if !ok {
			idx[key] = i
			continue
		}
		if dups == nil {
			dups = make(map[string]error)
		}
		if _, seen := dups[key]; !seen {
			dups[key] = fmt.Errorf("%w: %q (columns %d and %d)", ErrDuplicateHeader, key, prev+1, i+1)
		}
	}
	return idx, dups
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteRune(r)
		}
		data = data[size:]
	}

	return buf.Bytes()
}

// parseCSV reads every record as text. Ragged rows are allowed and short
// rows are padded with nulls later. Broken quoting is an error: a malformed
// file is rejected rather than loaded with shifted columns.
func parseCSV(data []byte) ([][]string, error) {
	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// isEmptyRow reports whether every cell is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseFlag accepts the usual spreadsheet spellings of a boolean.
func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
