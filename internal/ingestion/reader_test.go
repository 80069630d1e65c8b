package ingestion

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

const ticketExport = `{"records": [
  {
    "number": "INC0012345",
    "short_description": "VPN drops every hour",
    "description": "User reports the VPN disconnects hourly.",
    "close_notes": "Reinstalled the VPN client.",
    "assigned_to": {"value": "6816f79c", "display_value": "Dana Lee"},
    "assignment_group": "Service Desk",
    "priority": 2
  },
  {"sys_id": "not a ticket"}
]}`

func TestReadDocuments_TicketExport(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "incidents.json")
	writeFile(t, path, ticketExport)

	docs, err := ReadDocuments(path, InferSource(path))
	if err != nil {
		t.Fatalf("ReadDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("want 1 ticket, got %d", len(docs))
	}
	d := docs[0]
	for _, want := range []string{"Ticket INC0012345: VPN drops every hour", "disconnects hourly", "Resolution: Reinstalled the VPN client."} {
		if !strings.Contains(d.Text, want) {
			t.Errorf("text missing %q:\n%s", want, d.Text)
		}
	}
	checks := map[string]string{
		"doc_id":            "INC0012345",
		"assigned_to":       "Dana Lee",
		"assigned_to_value": "6816f79c",
		"assignment_group":  "Service Desk",
		"priority":          "2",
		"source_type":       "ticket",
	}
	for k, want := range checks {
		if got := d.Fields.String(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if !d.Fields.IsFlat() {
		t.Errorf("ticket fields must be flat: %v", d.Fields)
	}
}

func TestReadDocuments_JSONWithoutTicketsIsText(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	writeFile(t, path, `{"proxy": "10.0.0.1"}`)

	docs, err := ReadDocuments(path, InferSource(path))
	if err != nil {
		t.Fatalf("ReadDocuments: %v", err)
	}
	if len(docs) != 1 || !strings.Contains(docs[0].Text, "proxy") {
		t.Errorf("want the raw JSON as one text document, got %+v", docs)
	}
}

func TestReadDocuments_Pages(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "manual.txt")
	writeFile(t, path, "one\ftwo\f \fthree")

	docs, err := ReadDocuments(path, InferSource(path))
	if err != nil {
		t.Fatalf("ReadDocuments: %v", err)
	}
	var pages []int
	for _, d := range docs {
		pages = append(pages, d.PageNumber)
	}
	if len(pages) != 3 || pages[0] != 1 || pages[1] != 2 || pages[2] != 4 {
		t.Errorf("pages: got %v, want [1 2 4]", pages)
	}
}

func TestReadDocuments_Unsupported(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	pdf := filepath.Join(dir, "scan.pdf")
	writeFile(t, pdf, "%PDF-1.7")
	if _, err := ReadDocuments(pdf, InferSource(pdf)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pdf: want ErrUnsupportedFormat, got %v", err)
	}

	bin := filepath.Join(dir, "dump.txt")
	writeFile(t, bin, "\xff\xfe\x00binary")
	if _, err := ReadDocuments(bin, InferSource(bin)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("binary text: want ErrUnsupportedFormat, got %v", err)
	}
}
