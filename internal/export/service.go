package export

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"time"
)

// Renderer turns rendered HTML into binary documents.
type Renderer interface {
	PDF(ctx context.Context, html, title string) (*Result, error)
	DOCX(ctx context.Context, html, title string) (*Result, error)
}

// Archive stores exported files.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// Service provides note export functionality
type Service struct {
	renderer Renderer
	archive  Archive
	now      func() time.Time
}

// NewService creates an export service. A nil renderer uses headless
// Chrome and pandoc; a nil archive disables archiving.
func NewService(renderer Renderer, archive Archive) *Service {
	if renderer == nil {
		renderer = ToolRenderer{}
	}
	return &Service{renderer: renderer, archive: archive, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, note Note, req Request) (*Result, error) {
	if req.Archive && s.archive == nil {
		return nil, ErrArchiveNotConfigured
	}

	var (
		result *Result
		err    error
	)
	switch req.Format {
	case FormatText:
		result = &Result{
			Data:     []byte(RenderText(note)),
			Filename: sanitizeFilename(note.Title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}
	case FormatHTML, FormatPDF, FormatDOCX:
		html, renderErr := RenderNoteHTML(templateData(note))
		if renderErr != nil {
			return nil, fmt.Errorf("render template: %w", renderErr)
		}
		switch req.Format {
		case FormatHTML:
			result = &Result{Data: []byte(html), Filename: sanitizeFilename(note.Title) + ".html", MimeType: "text/html; charset=utf-8"}
		case FormatPDF:
			result, err = s.renderer.PDF(ctx, html, note.Title)
		default:
			result, err = s.renderer.DOCX(ctx, html, note.Title)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Archive {
		key := fmt.Sprintf("%s/notes/%s/%s-%s", sanitizeFilename(req.Owner), sanitizeFilename(note.ID), s.now().UTC().Format("20060102T150405Z"), result.Filename)
		if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
			return nil, fmt.Errorf("archive export: %w", err)
		}
		result.ArchiveKey = key
		if url, err := s.archive.URL(ctx, key); err != nil {
			log.Printf("export: presign %s: %v", key, err)
		} else {
			result.ArchiveURL = url
		}
	}
	return result, nil
}

func templateData(note Note) TemplateData {
	var body template.HTML
	if note.Structured {
		body = StructuredToHTML(note.Content)
	} else {
		body = MarkdownToHTML(note.Content)
	}
	return TemplateData{
		Title:       note.Title,
		ContentHTML: body,
		Tags:        note.Tags,
		Source:      sourceLine(note),
		Color:       note.Color,
		Starred:     note.Starred,
		UpdatedAt:   note.UpdatedAt,
	}
}

func sourceLine(note Note) string {
	if note.Source == "" {
		return ""
	}
	if note.SourceID == "" {
		return note.Source
	}
	return fmt.Sprintf("%s (%s)", note.Source, note.SourceID)
}
