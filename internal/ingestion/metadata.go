package ingestion

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Source types assigned by InferSource.
const (
	SourceMarkdown = "markdown"
	SourceText     = "text"
	SourceLog      = "log"
	SourceCSV      = "csv"
	SourceTicket   = "ticket"
	SourceKB       = "kb_article"
	SourcePDF      = "pdf"
	SourceExcel    = "excel"
	SourceWord     = "word"
	SourceImage    = "image"
	SourceUnknown  = "unknown"
)

// Source holds the identity InferSource derives from a file path. Values set
// explicitly by the caller take precedence; this is the best-effort fallback.
type Source struct {
	// DocID groups every chunk of one logical document.
	DocID string
	// Filename is the base name of the path.
	Filename string
	// SourceType classifies the content (markdown, ticket, kb_article, ...).
	SourceType string
	// Supported reports whether the pipeline can read the format.
	Supported bool
}

// extensionTypes maps lower-case file extensions to a source type and
// whether the pipeline reads that format.
var extensionTypes = map[string]struct {
	sourceType string
	supported  bool
}{
	".md":       {SourceMarkdown, true},
	".markdown": {SourceMarkdown, true},
	".txt":      {SourceText, true},
	".text":     {SourceText, true},
	".log":      {SourceLog, true},
	".csv":      {SourceCSV, true},
	".json":     {SourceTicket, true},
	".pdf":      {SourcePDF, false},
	".xlsx":     {SourceExcel, false},
	".xls":      {SourceExcel, false},
	".docx":     {SourceWord, false},
	".doc":      {SourceWord, false},
	".png":      {SourceImage, false},
	".jpg":      {SourceImage, false},
	".jpeg":     {SourceImage, false},
	".tiff":     {SourceImage, false},
}

// ticketNumber matches ServiceNow-style record numbers anywhere in a name.
var ticketNumber = regexp.MustCompile(`(?i)(?:^|[^a-z])((?:INC|RITM|REQ|CHG|PRB|TASK|KB)\d{5,})`)

// InferSource inspects path and returns best-effort document identity.
//
// Rules, in order:
//
//	a ticket or KB number in the file name becomes the doc_id
//	otherwise the doc_id is the slugged file stem
//	the extension selects the source type
//	text files under a tickets/ or incidents/ directory are tickets
//	text files under a kb/ or knowledge/ directory, or named KB..., are KB articles
func InferSource(path string) Source {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	s := Source{Filename: base, SourceType: SourceUnknown}
	if t, ok := extensionTypes[ext]; ok {
		s.SourceType = t.sourceType
		s.Supported = t.supported
	}

	var number string
	if m := ticketNumber.FindStringSubmatch(stem); m != nil {
		number = strings.ToUpper(m[1])
	}
	if number != "" {
		s.DocID = number
	} else {
		s.DocID = slug(stem)
	}

	if !s.Supported || s.SourceType == SourceTicket {
		return s
	}
	switch {
	case strings.HasPrefix(number, "KB") || underDir(path, "kb", "knowledge"):
		s.SourceType = SourceKB
	case number != "" || underDir(path, "tickets", "incidents"):
		s.SourceType = SourceTicket
	}
	return s
}

// underDir reports whether any parent directory of path has one of names.
func underDir(path string, names ...string) bool {
	dir := filepath.ToSlash(filepath.Dir(path))
	for _, seg := range strings.Split(strings.ToLower(dir), "/") {
		for _, n := range names {
			if seg == n {
				return true
			}
		}
	}
	return false
}

// slug lower-cases s and collapses runs of non-alphanumerics into '-'.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "document"
	}
	return out
}
