package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MissingField is substituted when an opportunistic field is absent.
const MissingField = "N/A"

// KeyPrefix prefixes the counter-derived publish key.
const KeyPrefix = "log-"

// Record is one JSON object read from a single line of the source document.
// No schema is enforced. Records are treated as immutable once loaded.
type Record map[string]any

// Field returns the string form of a top-level field, or MissingField when
// the field is absent or null.
func (r Record) Field(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return MissingField
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Etat returns the record status field used in progress lines.
func (r Record) Etat() string { return r.Field("Etat") }

// Source returns the record origin field used in progress lines.
func (r Record) Source() string { return r.Field("Source") }

// Batch is the ordered sequence of records loaded for a single run.
type Batch []Record

// Key returns the publish key for the record at zero-based index i.
func Key(i int) string {
	return KeyPrefix + strconv.Itoa(i)
}

// Entries pairs every record with its index and counter-derived key.
func (b Batch) Entries() []Entry {
	out := make([]Entry, len(b))
	for i, rec := range b {
		out[i] = Entry{Index: i, Key: Key(i), Record: rec}
	}
	return out
}

// Entry is one record scheduled for publishing. A non-nil Err marks a
// source failure that ends the feed at this position.
type Entry struct {
	Index  int
	Key    string
	Record Record
	Err    error
}
