package store

import "time"

// NoteRecord is the mirrored copy of a saved note, scoped to the backend
// user that owns it.
type NoteRecord struct {
	Owner          string
	ID             string
	Title          string
	Content        string
	Tags           []string
	SourceDocument string
	SourceType     string
	SourceID       string
	Starred        bool
	Color          string
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
}

type NoteHit struct {
	NoteRecord
	Snippet string
	Rank    float64
}

type NoteRevision struct {
	NoteID     string
	CommitHash string
	RecordedAt time.Time
}
