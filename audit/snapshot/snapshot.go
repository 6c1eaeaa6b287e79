// Package snapshot captures, masks, encodes and diffs the field-by-field
// state of persisted resources.
package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
)

// Snapshot maps a column name to its JSON-safe value.
type Snapshot map[string]interface{}

// Change is one field that differs between two snapshots.
type Change struct {
	Field  string      `json:"field"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// sensitiveKeys are matched as substrings of the lowercased key.
var sensitiveKeys = []string{"password", "token", "secret", "key", "auth"}

// Sensitive reports whether a field name must never be stored in clear.
func Sensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Mask returns a copy of s with every sensitive key replaced by placeholder.
// Nested maps and slices of maps are masked too.
func Mask(s map[string]interface{}, placeholder string) Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		if Sensitive(k) {
			out[k] = placeholder
			continue
		}
		out[k] = maskValue(v, placeholder)
	}
	return out
}

func maskValue(v interface{}, placeholder string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(Mask(t, placeholder))
	case Snapshot:
		return Mask(t, placeholder)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = maskValue(e, placeholder)
		}
		return out
	default:
		return v
	}
}

// Encode serialises s for a JSON column. A nil snapshot encodes to NULL.
func Encode(s Snapshot) (datatypes.JSON, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return datatypes.JSON(b), nil
}

// Decode parses a JSON column. Empty or null columns decode to nil.
func Decode(j datatypes.JSON) (Snapshot, error) {
	if len(j) == 0 || string(j) == "null" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(j, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return s, nil
}

// MustDecode is Decode for display paths: malformed data yields nil.
func MustDecode(j datatypes.JSON) Snapshot {
	s, _ := Decode(j)
	return s
}

// Diff lists the fields whose values differ between before and after, in
// field-name order. Keys present on one side only are reported too.
func Diff(before, after Snapshot) []Change {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []Change
	for _, k := range names {
		b, bok := before[k]
		a, aok := after[k]
		if bok && aok && Equal(b, a) {
			continue
		}
		changes = append(changes, Change{Field: k, Before: b, After: a})
	}
	return changes
}

// autoFields are maintained by the ORM on every write.
var autoFields = map[string]bool{"updated_at": true}

// AutoField reports whether field is touched by every write and so carries
// no meaning in a change summary.
func AutoField(field string) bool { return autoFields[field] }

// Meaningful drops the auto-maintained fields from changes.
func Meaningful(changes []Change) []Change {
	out := changes[:0:0]
	for _, c := range changes {
		if !AutoField(c.Field) {
			out = append(out, c)
		}
	}
	return out
}

// ChangedFields returns the names from Diff, auto-maintained fields excluded.
func ChangedFields(before, after Snapshot) []string {
	changes := Meaningful(Diff(before, after))
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Field
	}
	return out
}

// Equal compares two JSON-safe values by their canonical encoding, so that
// int64(3) and float64(3) read back from a column compare equal.
func Equal(a, b interface{}) bool {
	ab, err1 := json.Marshal(normalizeNumber(a))
	bb, err2 := json.Marshal(normalizeNumber(b))
	if err1 != nil || err2 != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(ab) == string(bb)
}

func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// Merge returns the union of the snapshots; later ones win on conflicts.
func Merge(snaps ...Snapshot) Snapshot {
	var out Snapshot
	for _, s := range snaps {
		if s == nil {
			continue
		}
		if out == nil {
			out = Snapshot{}
		}
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// String renders a value for prose and tables.
func String(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "(vide)"
	case string:
		if t == "" {
			return "(vide)"
		}
		return t
	case bool:
		if t {
			return "oui"
		}
		return "non"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = String(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
