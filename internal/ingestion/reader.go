package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/ragstore-go/internal/record"
)

// ErrUnsupportedFormat is returned for files the pipeline cannot read.
var ErrUnsupportedFormat = errors.New("ingestion: unsupported format")

// Document is one unit of readable text within a file. Plain files yield one
// Document per form-feed separated page; ticket exports yield one per ticket.
type Document struct {
	// Text is the content to chunk and embed.
	Text string
	// PageNumber is 1-based.
	PageNumber int
	// Fields overrides or extends the file-level metadata for this document.
	Fields record.Fields
}

// ReadDocuments reads path according to src.
func ReadDocuments(path string, src Source) ([]Document, error) {
	if !src.Supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.SourceType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not UTF-8 text", ErrUnsupportedFormat, src.Filename)
	}

	if strings.EqualFold(filepath.Ext(src.Filename), ".json") {
		if docs, ok := readTickets(data); ok {
			return docs, nil
		}
	}
	return readPages(string(data)), nil
}

// readPages splits text on form feeds, the page separator of text exported
// from paginated formats.
func readPages(text string) []Document {
	pages := strings.Split(text, "\f")
	docs := make([]Document, 0, len(pages))
	for i, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		docs = append(docs, Document{Text: p, PageNumber: i + 1})
	}
	return docs
}

// ticketRefFields are reference-typed ticket fields kept as metadata.
var ticketRefFields = []string{"assigned_to", "assignment_group", "caller_id", "opened_by", "cmdb_ci", "location"}

// ticketPlainFields are scalar ticket fields kept as metadata.
var ticketPlainFields = []string{"category", "subcategory", "priority", "state", "opened_at", "closed_at"}

// readTickets decodes a ticket export: a JSON array of records, or an object
// wrapping one under "records" or "result". It reports false when data has
// no ticket records, in which case the caller treats it as plain text.
func readTickets(data []byte) ([]Document, bool) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	if obj, ok := raw.(map[string]any); ok {
		switch {
		case obj["records"] != nil:
			raw = obj["records"]
		case obj["result"] != nil:
			raw = obj["result"]
		default:
			raw = []any{obj}
		}
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	var docs []Document
	for _, it := range items {
		t, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if d, ok := ticketDocument(t); ok {
			d.PageNumber = len(docs) + 1
			docs = append(docs, d)
		}
	}
	return docs, len(docs) > 0
}

// ticketDocument renders one ticket as text plus flat metadata. Reference
// fields are resolved once here so readers never see raw export shapes.
func ticketDocument(t map[string]any) (Document, bool) {
	number := record.ParseReference(t["number"]).String()
	short := record.ParseReference(t["short_description"]).String()
	desc := record.ParseReference(t["description"]).String()
	resolution := record.ParseReference(firstPresent(t, "close_notes", "resolution", "resolution_notes")).String()
	if number == "" && short == "" && desc == "" {
		return Document{}, false
	}

	var b strings.Builder
	if number != "" {
		fmt.Fprintf(&b, "Ticket %s", number)
		if short != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(short)
	if desc != "" {
		b.WriteString("\n\n")
		b.WriteString(desc)
	}
	if resolution != "" {
		b.WriteString("\n\nResolution: ")
		b.WriteString(resolution)
	}

	fields := record.Fields{record.KeySourceType: SourceTicket}
	if number != "" {
		fields[record.KeyDocID] = number
		fields["ticket_number"] = number
	}
	for _, k := range ticketRefFields {
		if ref := record.ParseReference(t[k]); !ref.IsZero() {
			fields.Merge(ref.Fields(k))
		}
	}
	for _, k := range ticketPlainFields {
		if v := record.ParseReference(t[k]).String(); v != "" {
			fields[k] = v
		}
	}
	return Document{Text: b.String(), Fields: fields}, true
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
