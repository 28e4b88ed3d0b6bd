package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNotesMirrorPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := ApplyMigrations(ctx, db, os.DirFS(filepath.Join("..", "..", "db", "migrations"))); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	store := NewPostgresStore(db)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	notes := []NoteRecord{
		{Owner: "u1", ID: "1", Title: "Quarterly revenue", Content: "Revenue grew in the fourth quarter", Tags: []string{"finance"}, Color: "blue", UpdatedAt: &updated},
		{Owner: "u1", ID: "2", Title: "Hiring plan", Content: "Open two engineering roles", Tags: []string{"people"}, Color: "green"},
		{Owner: "u2", ID: "1", Title: "Other user", Content: "Revenue elsewhere", Color: "pink"},
	}
	for _, note := range notes {
		if err := store.UpsertNote(ctx, note); err != nil {
			t.Fatalf("UpsertNote() error = %v", err)
		}
	}

	notes[0].Starred = true
	if err := store.UpsertNote(ctx, notes[0]); err != nil {
		t.Fatalf("UpsertNote() update error = %v", err)
	}

	listed, err := store.ListNotes(ctx, "u1")
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "1" || !listed[0].Starred {
		t.Fatalf("unexpected notes: %+v", listed)
	}

	hits, total, err := store.SearchNotes(ctx, "u1", "revenue", "", 10, 0)
	if err != nil {
		t.Fatalf("SearchNotes() error = %v", err)
	}
	if total != 1 || len(hits) != 1 || hits[0].ID != "1" {
		t.Fatalf("unexpected hits: total=%d %+v", total, hits)
	}
	if hits, _, err := store.SearchNotes(ctx, "u1", "people", "", 10, 0); err != nil || len(hits) != 1 || hits[0].ID != "2" {
		t.Fatalf("tag search = %+v, %v", hits, err)
	}

	if hits, _, err := store.SearchNotes(ctx, "u1", "revenue", "people", 10, 0); err != nil || len(hits) != 0 {
		t.Fatalf("tag-filtered search = %+v, %v", hits, err)
	}

	removed, err := store.PruneNotes(ctx, "u1", []string{"2"})
	if err != nil {
		t.Fatalf("PruneNotes() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("PruneNotes() removed = %d, want 1", removed)
	}
	if others, _ := store.ListNotes(ctx, "u2"); len(others) != 1 {
		t.Fatalf("prune touched another owner: %+v", others)
	}

	if err := store.InsertNoteRevision(ctx, "u1", "2", "abc123"); err != nil {
		t.Fatalf("InsertNoteRevision() error = %v", err)
	}
	revisions, err := store.ListNoteRevisions(ctx, "u1", "2")
	if err != nil || len(revisions) != 1 || revisions[0].CommitHash != "abc123" {
		t.Fatalf("ListNoteRevisions() = %+v, %v", revisions, err)
	}
}
