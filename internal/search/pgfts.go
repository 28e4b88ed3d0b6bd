package search

import (
	"context"

	"github.com/Abhijagtp/ThinkThank/internal/store"
)

// NoteSearcher is the slice of the Postgres mirror used for fallback search.
type NoteSearcher interface {
	SearchNotes(ctx context.Context, owner, text, tag string, limit, offset int) ([]store.NoteHit, int, error)
}

// PgFTS implements Searcher over the Postgres notes mirror.
type PgFTS struct {
	notes NoteSearcher
}

func NewPgFTS(notes NoteSearcher) *PgFTS {
	return &PgFTS{notes: notes}
}

// Healthy always returns true; query errors surface from Search.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	hits, total, err := p.notes.SearchNotes(ctx, q.Owner, q.Text, q.Tag, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		snippet := hit.Snippet
		if snippet == "" {
			snippet = hit.Content
		}
		results = append(results, Result{
			NoteID:  hit.ID,
			Title:   hit.Title,
			Snippet: snippet,
			Tags:    hit.Tags,
			Color:   hit.Color,
			Starred: hit.Starred,
		})
	}
	return results, total, nil
}
