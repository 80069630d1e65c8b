package record

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlatten_HoistsDoubleNestedMetadata(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"doc_id": "doc1",
		"metadata": map[string]any{
			"filename": "a.txt",
			"metadata": map[string]any{
				"text":   "hello",
				"doc_id": "inner-should-lose",
			},
		},
	}

	got := Flatten(in)

	if !got.IsFlat() {
		t.Fatalf("expected flat record, got %v", got)
	}
	if _, ok := got["metadata"]; ok {
		t.Errorf("metadata key should be removed, got %v", got["metadata"])
	}
	if got.String(KeyText) != "hello" {
		t.Errorf("text: want hello, got %q", got.String(KeyText))
	}
	if got.String(KeyFilename) != "a.txt" {
		t.Errorf("filename: want a.txt, got %q", got.String(KeyFilename))
	}
	if got.String(KeyDocID) != "doc1" {
		t.Errorf("outer doc_id must win, got %q", got.String(KeyDocID))
	}
}

func TestFlatten_ScalarMetadataKept(t *testing.T) {
	t.Parallel()

	got := Flatten(map[string]any{"metadata": "just a label"})
	if got["metadata"] != "just a label" {
		t.Errorf("scalar metadata value should be kept, got %v", got["metadata"])
	}
	if !got.IsFlat() {
		t.Error("scalar metadata value is flat")
	}
}

func TestFlatten_ListUnderMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		in           map[string]any
		want         Fields
		wantMetadata any
	}{
		{
			name: "maps are hoisted in order",
			in: map[string]any{
				"doc_id": "d1",
				"metadata": []any{
					map[string]any{"text": "first", "filename": "a.txt"},
					map[string]any{"text": "second", "page_number": 2},
				},
			},
			want: Fields{"doc_id": "d1", "text": "first", "filename": "a.txt", "page_number": 2},
		},
		{
			name: "typed map slice",
			in: map[string]any{
				"metadata": []map[string]any{{"source_type": "ticket"}},
			},
			want: Fields{"source_type": "ticket"},
		},
		{
			name: "scalars kept as a string",
			in: map[string]any{
				"metadata": []any{map[string]any{"text": "t"}, "tag", 3},
			},
			want:         Fields{"text": "t"},
			wantMetadata: `["tag",3]`,
		},
		{
			name:         "string slice",
			in:           map[string]any{"metadata": []string{"x", "y"}},
			want:         Fields{},
			wantMetadata: `["x","y"]`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Flatten(tc.in)
			if !got.IsFlat() {
				t.Fatalf("expected flat record, got %v", got)
			}
			if got[KeyNested] != tc.wantMetadata {
				t.Errorf("metadata: want %v, got %v", tc.wantMetadata, got[KeyNested])
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s: want %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestFields_IsFlatRejectsList(t *testing.T) {
	t.Parallel()
	if (Fields{"metadata": []any{"x"}}).IsFlat() {
		t.Error("a list under metadata is not flat")
	}
}

func TestFlatten_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	inner := map[string]any{"text": "x"}
	in := map[string]any{"metadata": inner}
	_ = Flatten(in)

	if _, ok := in["metadata"]; !ok {
		t.Error("input map was mutated")
	}
}

func TestFields_Merge(t *testing.T) {
	t.Parallel()

	f := Fields{"text": "old", "doc_id": "d"}
	f.Merge(map[string]any{"metadata": map[string]any{"text": "new"}, "page_number": 3})

	if f.String("text") != "new" {
		t.Errorf("merge should overwrite text, got %q", f.String("text"))
	}
	if n, ok := f.Int("page_number"); !ok || n != 3 {
		t.Errorf("page_number: want 3, got %d (%v)", n, ok)
	}
	if !f.IsFlat() {
		t.Error("merged record must stay flat")
	}
}

func TestFields_Fill(t *testing.T) {
	t.Parallel()

	f := Fields{"text": "kept", "vector_id": 4}
	added := f.Fill(map[string]any{
		"text":     "ignored",
		"metadata": map[string]any{"filename": "a.txt", "source_type": "ticket"},
	})

	if added != 2 {
		t.Errorf("added: want 2, got %d", added)
	}
	if f.String("text") != "kept" {
		t.Errorf("existing values must win, got %q", f.String("text"))
	}
	if f.String("filename") != "a.txt" || f.String("source_type") != "ticket" {
		t.Errorf("nested defaults must be hoisted, got %v", f)
	}
	if !f.IsFlat() {
		t.Error("filled record must stay flat")
	}
}

func TestFields_Int(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  int64
		ok    bool
	}{
		{"int", 4, 4, true},
		{"int64", int64(9), 9, true},
		{"float64 from json", float64(12), 12, true},
		{"json number", json.Number("42"), 42, true},
		{"numeric string", "7", 7, true},
		{"garbage string", "seven", 0, false},
		{"missing", nil, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := Fields{}
			if tc.value != nil {
				f["k"] = tc.value
			}
			got, ok := f.Int("k")
			if ok != tc.ok || got != tc.want {
				t.Errorf("Int() = %d, %v; want %d, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestFields_Time(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := Fields{"at": Timestamp(now)}
	got, ok := f.Time("at")
	if !ok || !got.Equal(now) {
		t.Errorf("Time() = %v, %v; want %v", got, ok, now)
	}
}

func TestParseReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     any
		kind    RefKind
		display string
		value   string
	}{
		{"plain string", "Jane Doe", RefPlain, "Jane Doe", "Jane Doe"},
		{"linked display_value", map[string]any{"value": "abc123", "display_value": "Jane Doe"}, RefLinked, "Jane Doe", "abc123"},
		{"linked display", map[string]any{"value": "abc123", "display": "Jane"}, RefLinked, "Jane", "abc123"},
		{"linked value only", map[string]any{"value": "abc123"}, RefLinked, "abc123", "abc123"},
		{"nil", nil, RefPlain, "", ""},
		{"number", 17, RefPlain, "17", "17"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := ParseReference(tc.raw)
			if r.Kind != tc.kind {
				t.Errorf("kind: want %d, got %d", tc.kind, r.Kind)
			}
			if r.String() != tc.display {
				t.Errorf("String(): want %q, got %q", tc.display, r.String())
			}
			if r.Value != tc.value {
				t.Errorf("Value: want %q, got %q", tc.value, r.Value)
			}
		})
	}
}

func TestReference_Fields(t *testing.T) {
	t.Parallel()

	f := Linked("u1", "Jane").Fields("assigned_to")
	if f.String("assigned_to") != "Jane" || f.String("assigned_to_value") != "u1" {
		t.Errorf("linked fields: got %v", f)
	}

	p := Plain("ops").Fields("group")
	if _, ok := p["group_value"]; ok {
		t.Errorf("plain reference must not emit _value, got %v", p)
	}
}
