package notes

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/gitrepo"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"github.com/Abhijagtp/ThinkThank/internal/search"
	"github.com/Abhijagtp/ThinkThank/internal/store"
)

// Mirror receives every note the manager observes. Implementations log
// their own failures; nothing here reaches the user.
type Mirror interface {
	Sync(ctx context.Context, owner string, notes []backend.Note)
	Record(ctx context.Context, owner string, note backend.Note)
	Remove(ctx context.Context, owner string, noteID backend.ID)
	History(owner string, noteID backend.ID, limit int) ([]gitrepo.Revision, error)
}

type NoteStore interface {
	UpsertNote(ctx context.Context, note store.NoteRecord) error
	DeleteNote(ctx context.Context, owner, noteID string) error
	PruneNotes(ctx context.Context, owner string, keep []string) (int64, error)
	InsertNoteRevision(ctx context.Context, owner, noteID, commitHash string) error
}

type Indexer interface {
	IndexNotes(notes []search.NoteRecord)
	DeleteNote(owner, noteID string)
}

type Vault interface {
	RecordNote(owner string, note gitrepo.Note) (gitrepo.Revision, bool, error)
	RemoveNote(owner, noteID string) error
	NoteIDs(owner string) ([]string, error)
	History(owner, noteID string, limit int) ([]gitrepo.Revision, error)
}

// Mirrors fans notes out to the Postgres mirror, the search index and the
// git vault. Any of them may be nil.
type Mirrors struct {
	Store   NoteStore
	Index   Indexer
	Vault   Vault
	Timeout time.Duration
}

// NoMirror drops every note.
var NoMirror Mirror = &Mirrors{}

func (m *Mirrors) Sync(ctx context.Context, owner string, notes []backend.Note) {
	ctx, cancel := m.context(ctx)
	defer cancel()

	keep := make([]string, 0, len(notes))
	for _, note := range notes {
		keep = append(keep, note.ID.String())
		m.record(ctx, owner, note, false)
	}
	m.index(owner, notes)

	if m.Store != nil {
		if removed, err := m.Store.PruneNotes(ctx, owner, keep); err != nil {
			m.fail("postgres", "prune notes for %s: %v", owner, err)
		} else if removed > 0 {
			log.Printf("notes: pruned %d mirrored notes for %s", removed, owner)
		}
	}
	if m.Vault != nil {
		present, err := m.Vault.NoteIDs(owner)
		if err != nil {
			m.fail("vault", "list vault notes for %s: %v", owner, err)
			return
		}
		kept := make(map[string]bool, len(keep))
		for _, id := range keep {
			kept[gitrepo.FileID(id)] = true
		}
		for _, id := range present {
			if kept[id] {
				continue
			}
			if err := m.Vault.RemoveNote(owner, id); err != nil {
				m.fail("vault", "remove vault note %s: %v", id, err)
			}
		}
	}
}

func (m *Mirrors) Record(ctx context.Context, owner string, note backend.Note) {
	ctx, cancel := m.context(ctx)
	defer cancel()
	m.record(ctx, owner, note, true)
}

func (m *Mirrors) Remove(ctx context.Context, owner string, noteID backend.ID) {
	ctx, cancel := m.context(ctx)
	defer cancel()

	if m.Store != nil {
		if err := m.Store.DeleteNote(ctx, owner, noteID.String()); err != nil {
			m.fail("postgres", "delete note %s: %v", noteID, err)
		}
	}
	if m.Index != nil {
		m.Index.DeleteNote(owner, noteID.String())
	}
	if m.Vault != nil {
		if err := m.Vault.RemoveNote(owner, noteID.String()); err != nil {
			m.fail("vault", "remove vault note %s: %v", noteID, err)
		}
	}
}

func (m *Mirrors) History(owner string, noteID backend.ID, limit int) ([]gitrepo.Revision, error) {
	if m.Vault == nil {
		return []gitrepo.Revision{}, nil
	}
	return m.Vault.History(owner, noteID.String(), limit)
}

func (m *Mirrors) record(ctx context.Context, owner string, note backend.Note, index bool) {
	if m.Store != nil {
		if err := m.Store.UpsertNote(ctx, storeRecord(owner, note)); err != nil {
			m.fail("postgres", "upsert note %s: %v", note.ID, err)
		}
	}
	if index {
		m.index(owner, []backend.Note{note})
	}
	if m.Vault != nil {
		rev, changed, err := m.Vault.RecordNote(owner, vaultNote(note))
		if err != nil {
			m.fail("vault", "record note %s: %v", note.ID, err)
			return
		}
		if changed && m.Store != nil {
			if err := m.Store.InsertNoteRevision(ctx, owner, note.ID.String(), rev.Hash); err != nil {
				m.fail("postgres", "record revision of note %s: %v", note.ID, err)
			}
		}
	}
}

func (m *Mirrors) index(owner string, notes []backend.Note) {
	if m.Index == nil || len(notes) == 0 {
		return
	}
	records := make([]search.NoteRecord, 0, len(notes))
	for _, note := range notes {
		records = append(records, indexRecord(owner, note))
	}
	m.Index.IndexNotes(records)
}

func (m *Mirrors) context(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Mirroring outlives the request that triggered it.
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (m *Mirrors) fail(target, format string, args ...any) {
	metrics.MirrorFailures.WithLabelValues(target).Inc()
	log.Printf("notes: "+format, args...)
}

func storeRecord(owner string, note backend.Note) store.NoteRecord {
	return store.NoteRecord{
		Owner:          owner,
		ID:             note.ID.String(),
		Title:          note.Title,
		Content:        string(note.Content),
		Tags:           note.Tags,
		SourceDocument: sourceDocumentID(note),
		SourceType:     note.SourceType,
		SourceID:       string(note.SourceID),
		Starred:        note.Starred,
		Color:          note.Color,
		CreatedAt:      timePtr(note.CreatedAt),
		UpdatedAt:      timePtr(note.UpdatedAt),
	}
}

func indexRecord(owner string, note backend.Note) search.NoteRecord {
	var updated int64
	if !note.UpdatedAt.IsZero() {
		updated = note.UpdatedAt.Unix()
	}
	tags := make([]string, 0, len(note.Tags))
	for _, tag := range note.Tags {
		tags = append(tags, strings.ToLower(tag))
	}
	return search.NoteRecord{
		Key:        search.DocumentKey(owner, note.ID.String()),
		NoteID:     note.ID.String(),
		Owner:      owner,
		Title:      note.Title,
		Content:    string(note.Content),
		Tags:       tags,
		SourceType: note.SourceType,
		Starred:    note.Starred,
		Color:      note.Color,
		UpdatedAt:  updated,
	}
}

func vaultNote(note backend.Note) gitrepo.Note {
	out := gitrepo.Note{
		ID:             note.ID.String(),
		Title:          note.Title,
		Content:        string(note.Content),
		Tags:           note.Tags,
		SourceDocument: sourceDocumentID(note),
		SourceType:     note.SourceType,
		SourceID:       string(note.SourceID),
		Starred:        note.Starred,
		Color:          note.Color,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if !note.UpdatedAt.IsZero() {
		out.UpdatedAt = note.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func sourceDocumentID(note backend.Note) string {
	if note.SourceDocument == nil {
		return ""
	}
	return note.SourceDocument.ID.String()
}

func timePtr(ts backend.Timestamp) *time.Time {
	if ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
