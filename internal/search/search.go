package search

import (
	"context"
	"errors"
)

// ErrUnavailable means no search backend could serve the query.
var ErrUnavailable = errors.New("search: no backend available")

// Result is a single note hit returned to the caller.
type Result struct {
	NoteID  string   `json:"noteId"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags"`
	Color   string   `json:"color"`
	Starred bool     `json:"starred"`
}

// Query describes a search request. Owner scopes hits to one backend user.
type Query struct {
	Text   string
	Owner  string
	Tag    string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	Key        string   `json:"key"`
	NoteID     string   `json:"noteId"`
	Owner      string   `json:"owner"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	SourceType string   `json:"sourceType"`
	Starred    bool     `json:"starred"`
	Color      string   `json:"color"`
	UpdatedAt  int64    `json:"updatedAt"`
}
