// Package comparison runs side-by-side document comparisons and keeps the
// comparison history.
package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
	"github.com/Abhijagtp/ThinkThank/internal/util"
)

var (
	ErrBusy     = errors.New("comparison: a comparison is already running")
	ErrNoResult = errors.New("comparison: no comparison result")
	ErrNotFound = errors.New("comparison: history entry not found")
)

type NoteSaveError struct {
	Err error
}

func (e *NoteSaveError) Error() string { return fmt.Sprintf("save comparison note: %v", e.Err) }

func (e *NoteSaveError) Unwrap() error { return e.Err }

type Backend interface {
	Compare(ctx context.Context, req backend.CompareRequest) (backend.ComparisonResult, error)
	SaveComparisonNote(ctx context.Context, req backend.ComparisonNoteRequest) (backend.SaveNoteResponse, error)
	ComparisonHistory(ctx context.Context) ([]backend.ComparisonRecord, error)
}

// Result is a comparison tagged with the documents it compared.
type Result struct {
	backend.ComparisonResult
	Document1 backend.DocumentRef `json:"document1"`
	Document2 backend.DocumentRef `json:"document2"`
	HistoryID backend.ID          `json:"historyId,omitempty"`
}

type Snapshot struct {
	Result    *Result                    `json:"result"`
	History   []backend.ComparisonRecord `json:"history"`
	Comparing bool                       `json:"comparing"`
	Format    string                     `json:"outputFormat"`
}

type Session struct {
	backend  Backend
	notifier notify.Notifier
	now      func() time.Time

	mu        sync.Mutex
	comparing bool
	format    string
	result    *Result
	history   []backend.ComparisonRecord
}

func New(b Backend, notifier notify.Notifier) *Session {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Session{backend: b, notifier: notifier, now: time.Now, format: "markdown", history: []backend.ComparisonRecord{}}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Result: s.result, History: s.history, Comparing: s.comparing, Format: s.format}
}

func (s *Session) SetOutputFormat(format string) error {
	if format != "markdown" && format != "json" {
		return &backend.ValidationError{Field: "output_format", Message: "Unsupported output format"}
	}
	s.mu.Lock()
	s.format = format
	s.mu.Unlock()
	return nil
}

// Compare compares two distinct documents. Only one comparison runs at a
// time.
func (s *Session) Compare(ctx context.Context, doc1, doc2 backend.DocumentRef) (Result, error) {
	if doc1.ID == "" || doc2.ID == "" {
		return Result{}, &backend.ValidationError{Field: "documents", Message: "Please select two documents to compare"}
	}
	if doc1.ID == doc2.ID {
		return Result{}, &backend.ValidationError{Field: "documents", Message: "Cannot compare the same document"}
	}

	s.mu.Lock()
	if s.comparing {
		s.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("comparison", "compare").Inc()
		return Result{}, ErrBusy
	}
	s.comparing = true
	format := s.format
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.comparing = false
		s.mu.Unlock()
	}()

	out, err := s.backend.Compare(ctx, backend.CompareRequest{
		Document1ID:  doc1.ID,
		Document2ID:  doc2.ID,
		OutputFormat: format,
	})
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Comparison failed: "+backend.Reason(err))
		return Result{}, fmt.Errorf("compare %s with %s: %w", doc1.ID, doc2.ID, err)
	}
	if format == "json" {
		out.IsJSON = true
	}
	result := Result{ComparisonResult: out, Document1: doc1, Document2: doc2}

	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()
	s.notifier.Notify(notify.LevelInfo, "Comparison completed!")
	return result, nil
}

func (s *Session) LoadHistory(ctx context.Context) error {
	records, err := s.backend.ComparisonHistory(ctx)
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to load comparison history")
		return fmt.Errorf("load comparison history: %w", err)
	}
	if records == nil {
		records = []backend.ComparisonRecord{}
	}
	s.mu.Lock()
	s.history = records
	s.mu.Unlock()
	return nil
}

// View makes a history entry the active result.
func (s *Session) View(id backend.ID) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.history {
		if record.ID != id {
			continue
		}
		result := Result{
			ComparisonResult: record.Result,
			Document1:        record.Document1,
			Document2:        record.Document2,
			HistoryID:        record.ID,
		}
		s.result = &result
		return result, nil
	}
	return Result{}, ErrNotFound
}

// SaveAsNote stores the active result as a note. Structured results are
// saved as indented JSON, others as their summary.
func (s *Session) SaveAsNote(ctx context.Context, meta backend.NoteMetadata) (backend.Note, error) {
	s.mu.Lock()
	if s.result == nil {
		s.mu.Unlock()
		return backend.Note{}, ErrNoResult
	}
	result := *s.result
	s.mu.Unlock()

	name1 := nameOr(result.Document1.Name, "Document 1")
	name2 := nameOr(result.Document2.Name, "Document 2")
	resolved, err := meta.Resolve(
		fmt.Sprintf("Comparison of %s vs %s", name1, name2),
		[]string{"comparison", util.Slug(nameOr(result.Document1.Name, "doc1")), util.Slug(nameOr(result.Document2.Name, "doc2"))},
		"purple",
	)
	if err != nil {
		return backend.Note{}, err
	}

	content := string(result.Summary)
	if result.IsJSON {
		pretty, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return backend.Note{}, fmt.Errorf("encode comparison: %w", err)
		}
		content = string(pretty)
	}
	sourceID := result.ID.String()
	if sourceID == "" {
		sourceID = strconv.FormatInt(s.now().UnixMilli(), 10)
	}

	resp, err := s.backend.SaveComparisonNote(ctx, backend.ComparisonNoteRequest{
		Document1ID: result.Document1.ID,
		Document2ID: result.Document2.ID,
		NoteRequest: backend.NoteRequest{
			NoteTitle:      resolved.Title,
			Content:        content,
			Tags:           resolved.Tags,
			SourceDocument: result.Document1.ID,
			SourceType:     "comparison",
			SourceID:       sourceID,
			Color:          resolved.Color,
		},
	})
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to save note: "+backend.Reason(err))
		return backend.Note{}, &NoteSaveError{Err: err}
	}
	if resp.SavedNote == nil {
		s.notifier.Notify(notify.LevelError, "Failed to save note: No note returned")
		return backend.Note{}, &NoteSaveError{Err: &backend.ReconciliationError{Op: "save_comparison_note", Detail: "no note returned"}}
	}
	s.notifier.Notify(notify.LevelSuccess, "Note saved successfully")
	return *resp.SavedNote, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
