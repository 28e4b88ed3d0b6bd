package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.do(ctx, call{op: "documents", method: http.MethodGet, path: "/documents/"}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) ChatHistory(ctx context.Context, documentID ID) ([]HistoryRecord, error) {
	req := call{op: "chat_history", method: http.MethodGet, path: "/chat-history/" + url.PathEscape(documentID.String()) + "/"}
	var records []HistoryRecord
	if err := c.do(ctx, req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Analyze(ctx context.Context, in AnalyzeRequest) (AnalyzeResponse, error) {
	if in.ChatHistory == nil {
		in.ChatHistory = []Turn{}
	}
	req, err := jsonCall("analyze", http.MethodPost, "/analyze/", in)
	if err != nil {
		return AnalyzeResponse{}, err
	}
	var out AnalyzeResponse
	if err := c.do(ctx, req, &out); err != nil {
		return AnalyzeResponse{}, err
	}
	return out, nil
}

// SaveAnalysisNote stores analysis content as a note through the analyze
// endpoint's save_to_notes side channel.
func (c *Client) SaveAnalysisNote(ctx context.Context, in AnalysisNoteRequest) (SaveNoteResponse, error) {
	if in.ChatHistory == nil {
		in.ChatHistory = []Turn{}
	}
	in.SaveToNotes = true
	req, err := jsonCall("save_analysis_note", http.MethodPost, "/analyze/", in)
	if err != nil {
		return SaveNoteResponse{}, err
	}
	var out SaveNoteResponse
	if err := c.do(ctx, req, &out); err != nil {
		return SaveNoteResponse{}, err
	}
	return out, nil
}

// UploadFile is one part of a batch upload.
type UploadFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Upload sends every file as a "files" part of a single multipart request.
func (c *Client) Upload(ctx context.Context, files []UploadFile) ([]UploadResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range files {
		if err := copyPart(writer, file); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("upload: close multipart: %w", err)
	}
	req := call{
		op:          "upload",
		method:      http.MethodPost,
		path:        "/documents/upload/",
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
	}
	var results []UploadResult
	if err := c.do(ctx, req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func copyPart(writer *multipart.Writer, file UploadFile) error {
	return copyFormFile(writer, "files", file)
}

// Posts fails with a ReconciliationError when the payload is not a list.
func (c *Client) Posts(ctx context.Context) ([]Post, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "posts", method: http.MethodGet, path: "/posts/"}, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &ReconciliationError{Op: "posts", Detail: "expected a list of posts"}
	}
	var posts []Post
	if err := json.Unmarshal(trimmed, &posts); err != nil {
		return nil, &ReconciliationError{Op: "posts", Detail: err.Error()}
	}
	return posts, nil
}

func (c *Client) CreatePost(ctx context.Context, in NewPost) (Post, error) {
	req, err := jsonCall("create_post", http.MethodPost, "/posts/", in)
	if err != nil {
		return Post{}, err
	}
	var post Post
	if err := c.do(ctx, req, &post); err != nil {
		return Post{}, err
	}
	if post.ID == "" {
		return Post{}, &ReconciliationError{Op: "create_post", Detail: "missing post id"}
	}
	return post, nil
}

func (c *Client) Interact(ctx context.Context, postID ID, action Action) (InteractResponse, error) {
	req, err := jsonCall("interact", http.MethodPost, postPath(postID, "interact"), map[string]Action{"action": action})
	if err != nil {
		return InteractResponse{}, err
	}
	var out InteractResponse
	if err := c.do(ctx, req, &out); err != nil {
		return InteractResponse{}, err
	}
	return out, nil
}

func (c *Client) Comments(ctx context.Context, postID ID) ([]Comment, error) {
	var comments []Comment
	if err := c.do(ctx, call{op: "comments", method: http.MethodGet, path: postPath(postID, "comments")}, &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}

func (c *Client) AddComment(ctx context.Context, postID ID, content string) (Comment, error) {
	req, err := jsonCall("add_comment", http.MethodPost, postPath(postID, "comments"), map[string]string{"content": content})
	if err != nil {
		return Comment{}, err
	}
	var comment Comment
	if err := c.do(ctx, req, &comment); err != nil {
		return Comment{}, err
	}
	if comment.ID == "" {
		return Comment{}, &ReconciliationError{Op: "add_comment", Detail: "missing comment id"}
	}
	return comment, nil
}

func (c *Client) Notes(ctx context.Context) ([]Note, error) {
	var notes []Note
	if err := c.do(ctx, call{op: "notes", method: http.MethodGet, path: "/notes/"}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) CreateNote(ctx context.Context, in NoteRequest) (Note, error) {
	req, err := jsonCall("create_note", http.MethodPost, "/notes/", in)
	if err != nil {
		return Note{}, err
	}
	var note Note
	if err := c.do(ctx, req, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

// UpdateNote returns the backend's copy of the note when it sends one; an
// empty body yields a zero Note.
func (c *Client) UpdateNote(ctx context.Context, noteID ID, fields NoteFields) (Note, error) {
	req, err := jsonCall("update_note", http.MethodPut, notePath(noteID), fields)
	if err != nil {
		return Note{}, err
	}
	var note Note
	if err := c.do(ctx, req, &note); err != nil {
		return Note{}, err
	}
	return note, nil
}

func (c *Client) DeleteNote(ctx context.Context, noteID ID) error {
	return c.do(ctx, call{op: "delete_note", method: http.MethodDelete, path: notePath(noteID)}, nil)
}

func (c *Client) Compare(ctx context.Context, in CompareRequest) (ComparisonResult, error) {
	req, err := jsonCall("compare", http.MethodPost, "/compare/", in)
	if err != nil {
		return ComparisonResult{}, err
	}
	var out CompareResponse
	if err := c.do(ctx, req, &out); err != nil {
		return ComparisonResult{}, err
	}
	if out.Result == nil {
		return ComparisonResult{}, &ReconciliationError{Op: "compare", Detail: "missing result"}
	}
	return *out.Result, nil
}

func (c *Client) SaveComparisonNote(ctx context.Context, in ComparisonNoteRequest) (SaveNoteResponse, error) {
	in.SaveToNotes = true
	req, err := jsonCall("save_comparison_note", http.MethodPost, "/compare/", in)
	if err != nil {
		return SaveNoteResponse{}, err
	}
	var out SaveNoteResponse
	if err := c.do(ctx, req, &out); err != nil {
		return SaveNoteResponse{}, err
	}
	return out, nil
}

func (c *Client) ComparisonHistory(ctx context.Context) ([]ComparisonRecord, error) {
	var records []ComparisonRecord
	if err := c.do(ctx, call{op: "comparison_history", method: http.MethodGet, path: "/comparison-history/"}, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func postPath(postID ID, action string) string {
	return "/posts/" + url.PathEscape(postID.String()) + "/" + action + "/"
}

func notePath(noteID ID) string {
	return "/notes/" + url.PathEscape(noteID.String()) + "/"
}
