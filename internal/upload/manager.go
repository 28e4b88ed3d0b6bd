// Package upload validates picked files locally and submits them to the
// backend as one batch.
package upload

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
	"github.com/Abhijagtp/ThinkThank/internal/util"
	"github.com/dustin/go-humanize"
)

const MaxFileSize = 10 * 1024 * 1024

var AllowedTypes = []string{"pdf", "docx", "doc", "csv", "xlsx"}

const (
	ReasonUnsupportedType = "Unsupported file type"
	ReasonTooLarge        = "File size exceeds 10MB"
	ReasonUploadFailed    = "Upload failed"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"sizeBytes"`
	Size        string `json:"size"`
	FileType    string `json:"fileType"`
	Status      Status `json:"status"`
	ErrorReason string `json:"errorReason,omitempty"`
	file        File
}

type Backend interface {
	Upload(ctx context.Context, files []backend.UploadFile) ([]backend.UploadResult, error)
	Documents(ctx context.Context) ([]backend.Document, error)
}

type Snapshot struct {
	Queue     []Candidate        `json:"queue"`
	Documents []backend.Document `json:"documents"`
}

// BatchResult counts what happened to the candidates of one submission.
type BatchResult struct {
	Submitted int `json:"submitted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Unmatched int `json:"unmatched"`
}

type BatchError struct {
	Err error
}

func (e *BatchError) Error() string { return fmt.Sprintf("upload batch: %v", e.Err) }

func (e *BatchError) Unwrap() error { return e.Err }

type Manager struct {
	backend  Backend
	notifier notify.Notifier

	mu        sync.Mutex
	queue     []Candidate
	documents []backend.Document
}

func New(b Backend, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Manager{backend: b, notifier: notifier, queue: []Candidate{}, documents: []backend.Document{}}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Queue: m.queue, Documents: m.documents}
}

// Validate returns the status a file enters the queue with. The type check
// wins when both checks fail.
func Validate(name string, size int64) (Status, string) {
	if !slices.Contains(AllowedTypes, fileType(name)) {
		return StatusError, ReasonUnsupportedType
	}
	if size > MaxFileSize {
		return StatusError, ReasonTooLarge
	}
	return StatusPending, ""
}

// AddFiles appends one candidate per file. Existing entries are untouched.
func (m *Manager) AddFiles(files []File) []Candidate {
	added := make([]Candidate, 0, len(files))
	for _, f := range files {
		status, reason := Validate(f.Name, f.Size)
		added = append(added, Candidate{
			ID:          util.NewID("upl"),
			Name:        f.Name,
			SizeBytes:   f.Size,
			Size:        humanize.IBytes(uint64(max(f.Size, 0))),
			FileType:    fileType(f.Name),
			Status:      status,
			ErrorReason: reason,
			file:        f,
		})
	}
	m.mu.Lock()
	queue := make([]Candidate, 0, len(m.queue)+len(added))
	queue = append(queue, m.queue...)
	m.queue = append(queue, added...)
	m.mu.Unlock()
	return added
}

func (m *Manager) RemoveFile(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := make([]Candidate, 0, len(m.queue))
	for _, c := range m.queue {
		if c.ID != id {
			queue = append(queue, c)
		}
	}
	removed := len(queue) != len(m.queue)
	m.queue = queue
	return removed
}

func (m *Manager) ClearQueue() {
	m.mu.Lock()
	m.queue = []Candidate{}
	m.mu.Unlock()
}

// SubmitBatch uploads every pending candidate in one request and reconciles
// the per-file results by name. Each candidate takes the first result that
// carries its name; candidates without a result go back to pending. When
// the request itself fails every submitted candidate ends in error.
func (m *Manager) SubmitBatch(ctx context.Context) (BatchResult, error) {
	m.mu.Lock()
	submitted := map[string]bool{}
	files := make([]backend.UploadFile, 0)
	queue := make([]Candidate, len(m.queue))
	copy(queue, m.queue)
	for i, c := range queue {
		if c.Status != StatusPending {
			continue
		}
		submitted[c.ID] = true
		files = append(files, backend.UploadFile{Name: c.Name, Open: c.file.Open})
		queue[i].Status = StatusUploading
	}
	if len(files) == 0 {
		m.mu.Unlock()
		return BatchResult{}, nil
	}
	m.queue = queue
	m.mu.Unlock()

	result := BatchResult{Submitted: len(files)}
	results, err := m.backend.Upload(ctx, files)
	if err != nil {
		m.settle(submitted, func(c *Candidate) {
			c.Status = StatusError
			c.ErrorReason = ReasonUploadFailed
			result.Failed++
		})
		metrics.UploadOutcomes.WithLabelValues(string(StatusError)).Add(float64(result.Failed))
		m.notifier.Notify(notify.LevelError, "Upload failed: "+backend.Reason(err))
		return result, &BatchError{Err: err}
	}

	m.settle(submitted, func(c *Candidate) {
		i := slices.IndexFunc(results, func(r backend.UploadResult) bool { return r.Name == c.Name })
		switch {
		case i < 0:
			c.Status = StatusPending
			result.Unmatched++
		case results[i].Error != "":
			c.Status = StatusError
			c.ErrorReason = results[i].Error
			result.Failed++
		default:
			c.Status = StatusCompleted
			c.ErrorReason = ""
			result.Completed++
		}
	})
	metrics.UploadOutcomes.WithLabelValues(string(StatusCompleted)).Add(float64(result.Completed))
	metrics.UploadOutcomes.WithLabelValues(string(StatusError)).Add(float64(result.Failed))
	m.notifier.Notify(notify.LevelSuccess, "Files uploaded successfully!")

	if err := m.RefreshDocuments(ctx); err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to load documents: "+backend.Reason(err))
	}
	return result, nil
}

// settle applies fn to the submitted candidates still queued and uploading.
// Candidates removed while the request was out are skipped.
func (m *Manager) settle(submitted map[string]bool, fn func(c *Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := make([]Candidate, len(m.queue))
	copy(queue, m.queue)
	for i := range queue {
		if submitted[queue[i].ID] && queue[i].Status == StatusUploading {
			fn(&queue[i])
		}
	}
	m.queue = queue
}

// RefreshDocuments reloads the list of documents already on the backend.
func (m *Manager) RefreshDocuments(ctx context.Context) error {
	docs, err := m.backend.Documents(ctx)
	if err != nil {
		return fmt.Errorf("refresh documents: %w", err)
	}
	if docs == nil {
		docs = []backend.Document{}
	}
	m.mu.Lock()
	m.documents = docs
	m.mu.Unlock()
	return nil
}
