// Package record defines the flat key-value metadata record shared by the
// vector store, the metadata store, and the query engine.
//
// A record is flat: the value stored under the key "metadata", if any, is
// neither a map nor a list.
// Producers frequently wrap their payload one or more levels deep
// ({"metadata": {"metadata": {"text": ...}}}); [Flatten] hoists those nested
// fields to the top level so every consumer can index fields directly.
package record

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"time"
)

// Well-known field names.
const (
	KeyVectorID        = "vector_id"
	KeyAddedAt         = "added_at"
	KeyUpdatedAt       = "updated_at"
	KeyCreatedAt       = "created_at"
	KeyDeleted         = "deleted"
	KeyDeletedAt       = "deleted_at"
	KeyDocID           = "doc_id"
	KeyFilename        = "filename"
	KeyChunkIndex      = "chunk_index"
	KeyPageNumber      = "page_number"
	KeyText            = "text"
	KeySourceType      = "source_type"
	KeyFileID          = "file_id"
	KeyChunkID         = "chunk_id"
	KeyChunkCount      = "chunk_count"
	KeyPath            = "path"
	KeySimilarityScore = "similarity_score"

	// KeyNested is the wrapper key that Flatten removes.
	KeyNested = "metadata"
)

// Fields is a flat metadata record.
type Fields map[string]any

// Flatten returns a flat copy of in. Every map found under the "metadata" key
// is merged into the top level, recursively. Keys already present at an outer
// level win over keys hoisted from an inner level. A list under "metadata" has
// its map elements hoisted in order; any other elements are kept as a JSON
// string under "metadata".
func Flatten(in map[string]any) Fields {
	out := make(Fields, len(in))
	hoist(out, in)
	return out
}

// hoist copies src into dst without overwriting existing keys, then descends
// into the maps found under a nested "metadata" value.
func hoist(dst Fields, src map[string]any) {
	var nested []map[string]any
	for k, v := range src {
		if k == KeyNested {
			if m, ok := asMap(v); ok {
				nested = append(nested, m)
				continue
			}
			if items, ok := asList(v); ok {
				var rest []any
				for _, item := range items {
					if m, ok := asMap(item); ok {
						nested = append(nested, m)
					} else {
						rest = append(rest, item)
					}
				}
				if len(rest) == 0 {
					continue
				}
				v = encodeList(rest)
			}
		}
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	for _, m := range nested {
		hoist(dst, m)
	}
}

// asMap reports whether v is a map-typed value that must be hoisted.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// asList reports whether v is a slice or array, returning its elements.
func asList(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// encodeList renders leftover list elements as a single scalar.
func encodeList(items []any) string {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Sprint(items)
	}
	return string(data)
}

// IsFlat reports whether the "metadata" key, if present, holds neither a map
// nor a list.
func (f Fields) IsFlat() bool {
	v := f[KeyNested]
	_, nested := asMap(v)
	_, list := asList(v)
	return !nested && !list
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return maps.Clone(f)
}

// Merge overlays the flattened updates onto f in place. Unlike Flatten,
// update keys replace existing ones.
func (f Fields) Merge(updates map[string]any) {
	for k, v := range Flatten(updates) {
		f[k] = v
	}
}

// Fill copies the flattened defaults into f for keys f does not have yet and
// returns how many were added.
func (f Fields) Fill(defaults map[string]any) int {
	added := 0
	for k, v := range Flatten(defaults) {
		if _, ok := f[k]; !ok {
			f[k] = v
			added++
		}
	}
	return added
}

// String returns the value at key as a string. Numbers are formatted;
// missing or non-scalar values return "".
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case Reference:
		return v.String()
	}
	return ""
}

// Int returns the value at key as an int64. The second result is false when
// the key is missing or cannot be interpreted as an integer.
func (f Fields) Int(key string) (int64, bool) {
	switch v := f[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true //nolint:gosec // record ids are far below MaxInt64
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Bool returns the value at key as a bool; anything but true or "true" is false.
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Time parses the value at key as an RFC 3339 timestamp.
func (f Fields) Time(key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// Timestamp formats t the way every store stamps its records.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
