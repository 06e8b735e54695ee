package core

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Patient ID ", "patient_id"},
		{"patient_id", "patient_id"},
		{"PATIENT_ID", "patient_id"},
		{"Patient-ID#", "patient_id"},
		{"__Patient  ID__", "patient_id"},
		{`="Patient ID"`, "patient_id"},
		{"\ufeffPatient ID", "patient_id"},
		{"Amount ($)", "amount"},
		{"Q1 2020 Total", "q1_2020_total"},
		{"", ""},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeName(tt.in); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeNameIsIdempotent(t *testing.T) {
	for _, in := range []string{" Patient ID ", "Lab Result (mg/dL)", "x__y", "Ärzte Name"} {
		once := NormalizeName(in)
		if twice := NormalizeName(once); twice != once {
			t.Errorf("NormalizeName not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeNameSymmetry(t *testing.T) {
	// A dictionary rule keyed on "patient_id" must match a file header "  Patient ID  ".
	if NormalizeName("  Patient ID  ") != NormalizeName("patient_id") {
		t.Fatal("header and dictionary spellings normalize differently")
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx, err := MakeHeaderIndex([]string{" Patient ID ", "Result", "", "Unit"})
	if err != nil {
		t.Fatalf("MakeHeaderIndex: %v", err)
	}
	if idx["patient_id"] != 0 || idx["result"] != 1 || idx["unit"] != 3 {
		t.Errorf("unexpected index: %v", idx)
	}
	if len(idx) != 3 {
		t.Errorf("blank header should be ignored, got %d entries", len(idx))
	}

	_, err = MakeHeaderIndex([]string{"Patient ID", "patient_id"})
	if !errors.Is(err, ErrDuplicateHeader) {
		t.Errorf("expected ErrDuplicateHeader, got %v", err)
	}
}

func TestIndexHeaderKeepsFirstDuplicate(t *testing.T) {
	idx, dups := IndexHeader([]string{"Comment", "Patient ID", "comment", "COMMENT"})
	if idx["comment"] != 0 || idx["patient_id"] != 1 {
		t.Errorf("unexpected index: %v", idx)
	}
	if len(dups) != 1 || !errors.Is(dups["comment"], ErrDuplicateHeader) {
		t.Fatalf("expected one duplicate for comment, got %v", dups)
	}
	if want := `"comment" (columns 1 and 3)`; !strings.Contains(dups["comment"].Error(), want) {
		t.Errorf("duplicate error %q should mention %s", dups["comment"], want)
	}

	if _, dups := IndexHeader([]string{"a", "b"}); dups != nil {
		t.Errorf("no duplicates expected, got %v", dups)
	}

	_, err := MakeHeaderIndex([]string{"x", "b", "B", "x"})
	if err == nil || !strings.Contains(err.Error(), `"x"`) {
		t.Errorf("strict index should report the first duplicated header in order, got %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n1,\xff\n3\n")...)
	records, err := parseCSV(data)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0][0] != "a" {
		t.Errorf("BOM not stripped: %q", records[0][0])
	}
	if records[1][1] != "\uFFFD" {
		t.Errorf("invalid UTF-8 not replaced: %q", records[1][1])
	}
	if len(records[2]) != 1 {
		t.Errorf("ragged row should be kept, got %v", records[2])
	}

	if _, err := parseCSV([]byte("a,b\n1,x\"y\n")); err == nil {
		t.Error("expected error for a bare quote")
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"Y", true, false},
		{"1", true, false},
		{"false", false, false},
		{"", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseFlag(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseFlag(%q) = %v, %v", tt.in, got, err)
		}
	}
}
