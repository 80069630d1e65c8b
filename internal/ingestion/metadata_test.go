package ingestion

import "testing"

func TestInferSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		docID      string
		sourceType string
		supported  bool
	}{
		// ── Plain documents ─────────────────────────────────────────────
		{
			name:       "markdown runbook",
			path:       "docs/runbooks/VPN Reset Guide.md",
			docID:      "vpn-reset-guide",
			sourceType: "markdown",
			supported:  true,
		},
		{
			name:       "plain text",
			path:       "notes/printer_setup.txt",
			docID:      "printer-setup",
			sourceType: "text",
			supported:  true,
		},
		{
			name:       "log file",
			path:       "/var/log/sync-agent.log",
			docID:      "sync-agent",
			sourceType: "log",
			supported:  true,
		},
		// ── Tickets ─────────────────────────────────────────────────────
		{
			name:       "ticket number in name",
			path:       "exports/inc0012345_resolution.txt",
			docID:      "INC0012345",
			sourceType: "ticket",
			supported:  true,
		},
		{
			name:       "tickets directory",
			path:       "data/tickets/laptop-wont-boot.md",
			docID:      "laptop-wont-boot",
			sourceType: "ticket",
			supported:  true,
		},
		{
			name:       "json export",
			path:       "exports/incidents-2024.json",
			docID:      "incidents-2024",
			sourceType: "ticket",
			supported:  true,
		},
		// ── Knowledge base ──────────────────────────────────────────────
		{
			name:       "kb number",
			path:       "KB0010023 Outlook profile.md",
			docID:      "KB0010023",
			sourceType: "kb_article",
			supported:  true,
		},
		{
			name:       "knowledge directory",
			path:       "Knowledge/mfa.txt",
			docID:      "mfa",
			sourceType: "kb_article",
			supported:  true,
		},
		// ── Unsupported ─────────────────────────────────────────────────
		{
			name:       "pdf",
			path:       "docs/handbook.pdf",
			docID:      "handbook",
			sourceType: "pdf",
		},
		{
			name:       "screenshot",
			path:       "tickets/INC0099999.png",
			docID:      "INC0099999",
			sourceType: "image",
		},
		{
			name:       "unknown extension",
			path:       "archive.tar",
			docID:      "archive",
			sourceType: "unknown",
		},
		{
			name:       "no usable stem",
			path:       "___.md",
			docID:      "document",
			sourceType: "markdown",
			supported:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferSource(tt.path)

			if got.DocID != tt.docID {
				t.Errorf("DocID: got %q, want %q", got.DocID, tt.docID)
			}
			if got.SourceType != tt.sourceType {
				t.Errorf("SourceType: got %q, want %q", got.SourceType, tt.sourceType)
			}
			if got.Supported != tt.supported {
				t.Errorf("Supported: got %v, want %v", got.Supported, tt.supported)
			}
		})
	}
}
