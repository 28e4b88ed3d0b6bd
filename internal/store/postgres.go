package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) UpsertNote(ctx context.Context, note NoteRecord) error {
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal note tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (owner, id, title, content, tags, source_document, source_type, source_id, starred, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (owner, id) DO UPDATE SET
			title=EXCLUDED.title,
			content=EXCLUDED.content,
			tags=EXCLUDED.tags,
			source_document=EXCLUDED.source_document,
			source_type=EXCLUDED.source_type,
			source_id=EXCLUDED.source_id,
			starred=EXCLUDED.starred,
			color=EXCLUDED.color,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			mirrored_at=NOW()
	`, note.Owner, note.ID, note.Title, note.Content, string(encodedTags), note.SourceDocument, note.SourceType, note.SourceID, note.Starred, note.Color, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, owner, noteID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE owner=$1 AND id=$2`, owner, noteID); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// PruneNotes removes the owner's mirrored notes whose ids are not in keep.
// It returns the number of rows removed.
func (s *PostgresStore) PruneNotes(ctx context.Context, owner string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	encodedKeep, err := json.Marshal(keep)
	if err != nil {
		return 0, fmt.Errorf("marshal kept ids: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notes
		WHERE owner=$1
			AND NOT (to_jsonb(id) <@ $2::jsonb)
	`, owner, string(encodedKeep))
	if err != nil {
		return 0, fmt.Errorf("prune notes: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune notes rows: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, owner string) ([]NoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, id, title, content, tags, source_document, source_type, source_id, starred, color, created_at, updated_at
		FROM notes
		WHERE owner=$1
		ORDER BY updated_at DESC NULLS LAST, id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]NoteRecord, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

// AllNotes returns every mirrored note across owners, for reindexing.
func (s *PostgresStore) AllNotes(ctx context.Context) ([]NoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, id, title, content, tags, source_document, source_type, source_id, starred, color, created_at, updated_at
		FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	items := make([]NoteRecord, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

// SearchNotes ranks the owner's notes against text with Postgres full-text
// search. An exact tag match also counts as a hit. A non-empty tag restricts
// hits to notes carrying it.
func (s *PostgresStore) SearchNotes(ctx context.Context, owner, text, tag string, limit, offset int) ([]NoteHit, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const where = `
		WHERE owner=$1
			AND (fts @@ plainto_tsquery('english', $2) OR tags ? lower($2))
			AND ($3 = '' OR tags ? $3)`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM notes`+where, owner, text, tag).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count note hits: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, id, title, content, tags, source_document, source_type, source_id, starred, color, created_at, updated_at,
			ts_headline('english', content, plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(fts, plainto_tsquery('english', $2)) AS rank
		FROM notes`+where+`
		ORDER BY rank DESC, updated_at DESC NULLS LAST
		LIMIT $4 OFFSET $5
	`, owner, text, tag, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	hits := make([]NoteHit, 0)
	for rows.Next() {
		var hit NoteHit
		var tagsRaw []byte
		if err := rows.Scan(
			&hit.Owner,
			&hit.ID,
			&hit.Title,
			&hit.Content,
			&tagsRaw,
			&hit.SourceDocument,
			&hit.SourceType,
			&hit.SourceID,
			&hit.Starred,
			&hit.Color,
			&hit.CreatedAt,
			&hit.UpdatedAt,
			&hit.Snippet,
			&hit.Rank,
		); err != nil {
			return nil, 0, fmt.Errorf("scan note hit: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &hit.Tags)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate note hits: %w", err)
	}
	return hits, total, nil
}

func (s *PostgresStore) InsertNoteRevision(ctx context.Context, owner, noteID, commitHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_revisions (owner, note_id, commit_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, note_id, commit_hash) DO NOTHING
	`, owner, noteID, commitHash)
	if err != nil {
		return fmt.Errorf("insert note revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNoteRevisions(ctx context.Context, owner, noteID string) ([]NoteRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note_id, commit_hash, recorded_at
		FROM note_revisions
		WHERE owner=$1 AND note_id=$2
		ORDER BY recorded_at DESC
	`, owner, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note revisions: %w", err)
	}
	defer rows.Close()

	items := make([]NoteRevision, 0)
	for rows.Next() {
		var item NoteRevision
		if err := rows.Scan(&item.NoteID, &item.CommitHash, &item.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan note revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note revisions: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (NoteRecord, error) {
	var item NoteRecord
	var tagsRaw []byte
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(
		&item.Owner,
		&item.ID,
		&item.Title,
		&item.Content,
		&tagsRaw,
		&item.SourceDocument,
		&item.SourceType,
		&item.SourceID,
		&item.Starred,
		&item.Color,
		&createdAt,
		&updatedAt,
	); err != nil {
		return NoteRecord{}, fmt.Errorf("scan note: %w", err)
	}
	_ = json.Unmarshal(tagsRaw, &item.Tags)
	item.CreatedAt = nullTime(createdAt)
	item.UpdatedAt = nullTime(updatedAt)
	return item, nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
