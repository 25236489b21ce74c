package model

import (
	"encoding/json"
	"testing"
)

func TestRecordField(t *testing.T) {
	t.Parallel()

	rec := Record{
		"Etat":   "OK",
		"Source": "A",
		"code":   float64(42),
		"ok":     true,
		"nested": map[string]any{"a": "b"},
		"null":   nil,
	}

	tests := []struct {
		field string
		want  string
	}{
		{"Etat", "OK"},
		{"Source", "A"},
		{"code", "42"},
		{"ok", "true"},
		{"null", MissingField},
		{"absent", MissingField},
	}
	for _, tt := range tests {
		if got := rec.Field(tt.field); got != tt.want {
			t.Errorf("Field(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
	if got := rec.Field("nested"); got == MissingField {
		t.Errorf("Field(nested) = %q, want a rendered value", got)
	}
}

func TestRecordOpportunisticFieldsDefault(t *testing.T) {
	t.Parallel()

	rec := Record{"msg": "hello"}
	if rec.Etat() != MissingField {
		t.Errorf("Etat() = %q, want %q", rec.Etat(), MissingField)
	}
	if rec.Source() != MissingField {
		t.Errorf("Source() = %q, want %q", rec.Source(), MissingField)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	for i, want := range []string{"log-0", "log-1", "log-2"} {
		if got := Key(i); got != want {
			t.Errorf("Key(%d) = %q, want %q", i, got, want)
		}
	}
	if got := Key(1234); got != "log-1234" {
		t.Errorf("Key(1234) = %q, want log-1234", got)
	}
}

func TestRecordFieldJSONNumber(t *testing.T) {
	t.Parallel()

	rec := Record{"id": json.Number("12345678901234567890")}
	if got := rec.Field("id"); got != "12345678901234567890" {
		t.Errorf("Field(id) = %q, want exact number text", got)
	}
}

func TestBatchEntries(t *testing.T) {
	t.Parallel()

	batch := Batch{{"Etat": "OK"}, {"Etat": "ERR"}}
	entries := batch.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for i, e := range entries {
		if e.Index != i || e.Key != Key(i) {
			t.Errorf("entry %d = (%d, %q), want (%d, %q)", i, e.Index, e.Key, i, Key(i))
		}
	}
	if entries[1].Record.Etat() != "ERR" {
		t.Errorf("entries[1].Etat = %q, want ERR", entries[1].Record.Etat())
	}
}
