// Package export renders saved notes to PDF, DOCX, HTML and plain text and
// optionally archives the result in object storage.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
	FormatText Format = "txt"
)

// ParseFormat accepts the format names the dashboard sends.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatPDF, FormatDOCX, FormatHTML, FormatText:
		return Format(value), nil
	case "text":
		return FormatText, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	Format Format
	// Archive also stores the rendered file under Owner's prefix.
	Archive bool
	Owner   string
}

// Note is the note content to export.
type Note struct {
	ID         string
	Title      string
	Content    string
	Structured bool
	Tags       []string
	// Source is the source document name, or the source type when the note
	// has no document.
	Source    string
	SourceID  string
	Color     string
	Starred   bool
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data       []byte `json:"-"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	ArchiveKey string `json:"archiveKey,omitempty"`
	ArchiveURL string `json:"archiveUrl,omitempty"`
}

var (
	ErrUnsupportedFormat = errors.New("export: unsupported format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrArchiveNotConfigured  = errors.New("export: object storage not configured")
)
