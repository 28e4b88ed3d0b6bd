package search

import (
	"context"
	"log"
	"strings"

	"github.com/Abhijagtp/ThinkThank/internal/metrics"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Either side may be nil when it is not configured.
type Service struct {
	meili *Meili
	pgfts Searcher
}

func NewService(meili *Meili, pgfts Searcher) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Enabled reports whether any search backend is configured.
func (s *Service) Enabled() bool {
	return s != nil && (s.meili != nil || s.pgfts != nil)
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}, nil
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}, nil
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{}, ErrUnavailable
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{}, ErrUnavailable
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}, nil
}

// IndexNotes pushes notes to Meilisearch in the background.
func (s *Service) IndexNotes(notes []NoteRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() || len(notes) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexNotes(notes); err != nil {
			metrics.MirrorFailures.WithLabelValues("search").Inc()
			log.Printf("search: index %d notes: %v", len(notes), err)
		}
	}()
}

// DeleteNote removes a note from Meilisearch in the background.
func (s *Service) DeleteNote(owner, noteID string) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(owner, noteID); err != nil {
			metrics.MirrorFailures.WithLabelValues("search").Inc()
			log.Printf("search: delete note %s: %v", noteID, err)
		}
	}()
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s != nil && s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
