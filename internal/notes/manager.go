// Package notes manages the user's saved notes: the list, starring,
// deletion, local filters and exports.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/export"
	"github.com/Abhijagtp/ThinkThank/internal/gitrepo"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
)

var (
	ErrNoteNotFound = errors.New("notes: note not found")
	ErrNoExporter   = errors.New("notes: export not configured")
)

// recentCount is how many notes the recent filter shows.
const recentCount = 5

type Filter string

const (
	FilterAll     Filter = "all"
	FilterStarred Filter = "starred"
	FilterRecent  Filter = "recent"
	FilterTag     Filter = "tag"
)

type Backend interface {
	Notes(ctx context.Context) ([]backend.Note, error)
	CreateNote(ctx context.Context, in backend.NoteRequest) (backend.Note, error)
	UpdateNote(ctx context.Context, noteID backend.ID, fields backend.NoteFields) (backend.Note, error)
	DeleteNote(ctx context.Context, noteID backend.ID) error
}

type Exporter interface {
	Export(ctx context.Context, note export.Note, req export.Request) (*export.Result, error)
}

// View selects which notes to show. Tag is used with FilterTag; Query is
// matched case-insensitively against title, content and tags.
type View struct {
	Filter Filter `json:"filter"`
	Tag    string `json:"tag,omitempty"`
	Query  string `json:"query,omitempty"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type Snapshot struct {
	Notes  []backend.Note `json:"notes"`
	Loaded bool           `json:"loaded"`
	Error  string         `json:"error,omitempty"`
}

type Option func(*Manager)

func WithMirror(m Mirror) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.mirror = m
		}
	}
}

func WithExporter(e Exporter) Option {
	return func(mgr *Manager) { mgr.exporter = e }
}

// Manager owns one user's note list. owner keys the mirrors.
type Manager struct {
	backend  Backend
	notifier notify.Notifier
	owner    string
	mirror   Mirror
	exporter Exporter

	mu     sync.Mutex
	notes  []backend.Note
	loaded bool
	err    string
}

func New(b Backend, owner string, notifier notify.Notifier, opts ...Option) *Manager {
	if notifier == nil {
		notifier = notify.Discard
	}
	m := &Manager{
		backend:  b,
		notifier: notifier,
		owner:    owner,
		mirror:   NoMirror,
		notes:    []backend.Note{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Notes: m.notes, Loaded: m.loaded, Error: m.err}
}

func (m *Manager) Note(id backend.ID) (backend.Note, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := indexOf(m.notes, id); i >= 0 {
		return m.notes[i], true
	}
	return backend.Note{}, false
}

// Load replaces the list with the backend's and mirrors it.
func (m *Manager) Load(ctx context.Context) error {
	notes, err := m.backend.Notes(ctx)
	if err != nil {
		m.mu.Lock()
		m.loaded = true
		m.err = "Failed to load notes"
		m.mu.Unlock()
		m.notifier.Notify(notify.LevelError, "Failed to load notes")
		return fmt.Errorf("load notes: %w", err)
	}
	if notes == nil {
		notes = []backend.Note{}
	}
	m.mu.Lock()
	m.notes = notes
	m.loaded = true
	m.err = ""
	m.mu.Unlock()

	m.mirror.Sync(ctx, m.owner, notes)
	return nil
}

// Create saves a free-standing note and puts it first in the list.
func (m *Manager) Create(ctx context.Context, content string, meta backend.NoteMetadata) (backend.Note, error) {
	if strings.TrimSpace(content) == "" {
		return backend.Note{}, &backend.ValidationError{Field: "content", Message: "Note content cannot be empty"}
	}
	resolved, err := meta.Resolve("", nil, "blue")
	if err != nil {
		return backend.Note{}, err
	}
	note, err := m.backend.CreateNote(ctx, backend.NoteRequest{
		NoteTitle:  resolved.Title,
		Content:    content,
		Tags:       nonNilTags(resolved.Tags),
		SourceType: "manual",
		Color:      resolved.Color,
	})
	if err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to save note: "+backend.Reason(err))
		return backend.Note{}, fmt.Errorf("create note: %w", err)
	}
	m.mu.Lock()
	m.notes = append([]backend.Note{note}, m.notes...)
	m.mu.Unlock()

	m.notifier.Notify(notify.LevelSuccess, "Note saved successfully")
	m.mirror.Record(ctx, m.owner, note)
	return note, nil
}

// Observe takes in a note saved through another component (an analysis
// answer or a comparison) so it shows up in the list and is mirrored.
func (m *Manager) Observe(ctx context.Context, note backend.Note) {
	if note.ID == "" {
		return
	}
	m.mu.Lock()
	if i := indexOf(m.notes, note.ID); i >= 0 {
		next := slices.Clone(m.notes)
		next[i] = note
		m.notes = next
	} else {
		m.notes = append([]backend.Note{note}, m.notes...)
	}
	m.mu.Unlock()

	m.mirror.Record(ctx, m.owner, note)
}

// ToggleStar flips the starred flag on the backend, then locally.
func (m *Manager) ToggleStar(ctx context.Context, id backend.ID) (backend.Note, error) {
	note, ok := m.Note(id)
	if !ok {
		return backend.Note{}, ErrNoteNotFound
	}
	starred := !note.Starred
	if _, err := m.backend.UpdateNote(ctx, id, backend.NoteFields{Starred: &starred}); err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to update note")
		return backend.Note{}, fmt.Errorf("star note %s: %w", id, err)
	}
	updated, err := m.update(id, func(n *backend.Note) { n.Starred = starred })
	if err != nil {
		return backend.Note{}, err
	}
	if starred {
		m.notifier.Notify(notify.LevelSuccess, "Note starred")
	} else {
		m.notifier.Notify(notify.LevelSuccess, "Note unstarred")
	}
	m.mirror.Record(ctx, m.owner, updated)
	return updated, nil
}

// Update edits a note. The backend's copy replaces the local one; when
// the backend answers without a note the fields are applied locally.
func (m *Manager) Update(ctx context.Context, id backend.ID, fields backend.NoteFields) (backend.Note, error) {
	if _, ok := m.Note(id); !ok {
		return backend.Note{}, ErrNoteNotFound
	}
	if fields.Title != nil && strings.TrimSpace(*fields.Title) == "" {
		return backend.Note{}, &backend.ValidationError{Field: "title", Message: "Note title cannot be empty"}
	}
	if fields.Color != nil && !slices.Contains(backend.NoteColors, *fields.Color) {
		return backend.Note{}, &backend.ValidationError{Field: "color", Message: "Unsupported note color"}
	}
	saved, err := m.backend.UpdateNote(ctx, id, fields)
	if err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to update note")
		return backend.Note{}, fmt.Errorf("update note %s: %w", id, err)
	}
	updated, err := m.update(id, func(n *backend.Note) {
		if saved.ID == id {
			*n = saved
			return
		}
		applyFields(n, fields)
	})
	if err != nil {
		return backend.Note{}, err
	}
	m.notifier.Notify(notify.LevelSuccess, "Note updated")
	m.mirror.Record(ctx, m.owner, updated)
	return updated, nil
}

func (m *Manager) Delete(ctx context.Context, id backend.ID) error {
	if _, ok := m.Note(id); !ok {
		return ErrNoteNotFound
	}
	if err := m.backend.DeleteNote(ctx, id); err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to delete note")
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	m.mu.Lock()
	if i := indexOf(m.notes, id); i >= 0 {
		m.notes = slices.Delete(slices.Clone(m.notes), i, i+1)
	}
	m.mu.Unlock()

	m.notifier.Notify(notify.LevelSuccess, "Note deleted")
	m.mirror.Remove(ctx, m.owner, id)
	return nil
}

// List applies a view to the loaded notes without touching the network.
func (m *Manager) List(view View) []backend.Note {
	m.mu.Lock()
	notes := m.notes
	m.mu.Unlock()

	var selected []backend.Note
	switch view.Filter {
	case FilterStarred:
		for _, note := range notes {
			if note.Starred {
				selected = append(selected, note)
			}
		}
	case FilterRecent:
		selected = notes[:min(recentCount, len(notes))]
	case FilterTag:
		tag := strings.ToLower(strings.TrimSpace(view.Tag))
		for _, note := range notes {
			if hasTag(note, tag) {
				selected = append(selected, note)
			}
		}
	default:
		selected = notes
	}

	query := strings.ToLower(strings.TrimSpace(view.Query))
	out := make([]backend.Note, 0, len(selected))
	for _, note := range selected {
		if query == "" || matches(note, query) {
			out = append(out, note)
		}
	}
	return out
}

// Tags counts notes per tag, most used first.
func (m *Manager) Tags() []TagCount {
	m.mu.Lock()
	notes := m.notes
	m.mu.Unlock()

	counts := map[string]int{}
	for _, note := range notes {
		seen := map[string]bool{}
		for _, tag := range note.Tags {
			tag = strings.ToLower(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

func (m *Manager) Revisions(id backend.ID, limit int) ([]gitrepo.Revision, error) {
	if _, ok := m.Note(id); !ok {
		return nil, ErrNoteNotFound
	}
	return m.mirror.History(m.owner, id, limit)
}

func (m *Manager) Export(ctx context.Context, id backend.ID, format export.Format, archive bool) (*export.Result, error) {
	if m.exporter == nil {
		return nil, ErrNoExporter
	}
	note, ok := m.Note(id)
	if !ok {
		return nil, ErrNoteNotFound
	}
	result, err := m.exporter.Export(ctx, exportNote(note), export.Request{Format: format, Archive: archive, Owner: m.owner})
	if err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to export note")
		return nil, fmt.Errorf("export note %s: %w", id, err)
	}
	return result, nil
}

func (m *Manager) update(id backend.ID, apply func(*backend.Note)) (backend.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := indexOf(m.notes, id)
	if i < 0 {
		return backend.Note{}, ErrNoteNotFound
	}
	next := slices.Clone(m.notes)
	apply(&next[i])
	m.notes = next
	return next[i], nil
}

func applyFields(n *backend.Note, fields backend.NoteFields) {
	if fields.Title != nil {
		n.Title = *fields.Title
	}
	if fields.Content != nil {
		n.Content = backend.Text(*fields.Content)
	}
	if fields.Tags != nil {
		n.Tags = slices.Clone(*fields.Tags)
	}
	if fields.Starred != nil {
		n.Starred = *fields.Starred
	}
	if fields.Color != nil {
		n.Color = *fields.Color
	}
}

func exportNote(note backend.Note) export.Note {
	out := export.Note{
		ID:         note.ID.String(),
		Title:      note.Title,
		Content:    string(note.Content),
		Structured: isStructured(string(note.Content)),
		Tags:       note.Tags,
		Source:     note.SourceType,
		SourceID:   string(note.SourceID),
		Color:      note.Color,
		Starred:    note.Starred,
		UpdatedAt:  note.UpdatedAt.Time,
	}
	if note.SourceDocument != nil && note.SourceDocument.Name != "" {
		out.Source = note.SourceDocument.Name
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = note.CreatedAt.Time
	}
	return out
}

func isStructured(content string) bool {
	trimmed := strings.TrimSpace(content)
	return (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed))
}

func matches(note backend.Note, query string) bool {
	if strings.Contains(strings.ToLower(note.Title), query) ||
		strings.Contains(strings.ToLower(string(note.Content)), query) {
		return true
	}
	for _, tag := range note.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func hasTag(note backend.Note, tag string) bool {
	for _, candidate := range note.Tags {
		if strings.ToLower(candidate) == tag {
			return true
		}
	}
	return false
}

func indexOf(notes []backend.Note, id backend.ID) int {
	for i, note := range notes {
		if note.ID == id {
			return i
		}
	}
	return -1
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
