package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/comparison"
	"github.com/Abhijagtp/ThinkThank/internal/conversation"
	"github.com/Abhijagtp/ThinkThank/internal/export"
	"github.com/Abhijagtp/ThinkThank/internal/feed"
	"github.com/Abhijagtp/ThinkThank/internal/gitrepo"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"github.com/Abhijagtp/ThinkThank/internal/notes"
	"github.com/Abhijagtp/ThinkThank/internal/search"
	"github.com/Abhijagtp/ThinkThank/internal/session"
	"github.com/Abhijagtp/ThinkThank/internal/upload"
)

const (
	maxUploadMemory = 32 << 20
	// Room for a full dashboard batch plus one oversized file to reject.
	maxUploadRequest = 10*upload.MaxFileSize + 1<<20
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	maxUploadBytes int64
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxUploadBytes: maxUploadRequest}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ok, checks := s.service.Ready(ctx)
		status := "ready"
		statusCode := http.StatusOK
		if !ok {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ok,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session" {
		var body struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.StartSession(r.Context(), auth.Credential{Access: body.Access, Refresh: body.Refresh})
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"sessionId": ws.SessionID,
			"userId":    ws.UserID,
		})
		return
	}

	ws, ok := s.requireWorkspace(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": ws.SessionID,
			"userId":    ws.UserID,
		})
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		if err := s.service.EndSession(r.Context(), ws.SessionID); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notices" {
		writeJSON(w, http.StatusOK, map[string]any{"notices": ws.Notices.Drain()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		if err := ws.Uploads.RefreshDocuments(r.Context()); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": ws.Uploads.Snapshot().Documents})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		response, err := s.service.Search(r.Context(), ws, search.Query{
			Text:   query.Get("q"),
			Tag:    query.Get("tag"),
			Limit:  queryInt(query.Get("limit"), 20),
			Offset: queryInt(query.Get("offset"), 0),
		})
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "conversation":
			s.handleConversation(w, r, ws, parts[2:])
			return
		case "feed":
			s.handleFeed(w, r, ws, parts[2:])
			return
		case "uploads":
			s.handleUploads(w, r, ws, parts[2:])
			return
		case "comparison":
			s.handleComparison(w, r, ws, parts[2:])
			return
		case "notes":
			s.handleNotes(w, r, ws, parts[2:])
			return
		case "profile":
			s.handleProfile(w, r, ws, parts[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleConversation(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	conv := ws.Conversation

	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, conv.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "document" && r.Method == http.MethodPost {
		var body struct {
			DocumentID backend.ID `json:"documentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.Document(r.Context(), ws, body.DocumentID)
		if err != nil {
			fail(w, err)
			return
		}
		conv.SelectDocument(doc)
		writeJSON(w, http.StatusAccepted, conv.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodPost {
		snap := conv.Snapshot()
		if snap.Document == nil {
			fail(w, conversation.ErrNoDocument)
			return
		}
		if err := conv.LoadHistory(r.Context(), snap.Document.ID); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "format" && r.Method == http.MethodPut {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := conv.SetOutputFormat(conversation.OutputFormat(body.Format)); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "messages" && r.Method == http.MethodPost {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := conv.SendMessage(r.Context(), body.Text)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  reply,
			"snapshot": conv.Snapshot(),
		})
		return
	}

	if len(parts) == 3 && parts[0] == "messages" && parts[2] == "note" && r.Method == http.MethodPost {
		message, ok := conv.Message(parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", nil)
			return
		}
		var meta backend.NoteMetadata
		if err := decodeBody(r, &meta); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := conv.SaveMessageAsNote(r.Context(), message, meta)
		if err != nil {
			fail(w, err)
			return
		}
		ws.Notes.Observe(r.Context(), note)
		writeJSON(w, http.StatusCreated, note)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	engine := ws.Feed

	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, engine.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "load" && r.Method == http.MethodPost {
		if err := engine.LoadFeed(r.Context()); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, engine.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "posts" && r.Method == http.MethodPost {
		var body struct {
			Type string `json:"type"`
			feed.Draft
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		post, err := engine.CreatePost(r.Context(), feed.PostType(body.Type), body.Draft)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)
		return
	}

	if len(parts) < 3 || parts[0] != "posts" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	postID := backend.ID(parts[1])
	action := strings.Join(parts[2:], "/")

	var (
		post feed.Post
		err  error
	)
	switch action {
	case "like":
		post, err = engine.ToggleLike(r.Context(), postID)
	case "save":
		post, err = engine.ToggleSave(r.Context(), postID)
	case "comments/toggle":
		post, err = engine.ToggleComments(r.Context(), postID)
	case "comments/expand":
		post, err = engine.ExpandComments(r.Context(), postID)
	case "comments/collapse":
		post, err = engine.CollapseComments(postID)
	case "comments":
		var body struct {
			Content string `json:"content"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		comment, commentErr := engine.SubmitComment(r.Context(), postID, body.Content)
		if commentErr != nil {
			fail(w, commentErr)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleUploads(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	uploads := ws.Uploads

	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, uploads.Snapshot())
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload request too large", map[string]any{"limit": tooLarge.Limit})
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with files", nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no files provided", map[string]any{"field": "files"})
			return
		}
		files := make([]upload.File, 0, len(headers))
		for _, header := range headers {
			file, err := bufferedFile(header)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			files = append(files, file)
		}
		added := uploads.AddFiles(files)
		writeJSON(w, http.StatusOK, map[string]any{
			"added":    added,
			"snapshot": uploads.Snapshot(),
		})
		return
	}

	if len(parts) == 0 && r.Method == http.MethodDelete {
		uploads.ClearQueue()
		writeJSON(w, http.StatusOK, uploads.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "submit" && r.Method == http.MethodPost {
		result, err := uploads.SubmitBatch(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":   result,
			"snapshot": uploads.Snapshot(),
		})
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if !uploads.RemoveFile(parts[0]) {
			writeError(w, http.StatusNotFound, "CANDIDATE_NOT_FOUND", "File not in queue", nil)
			return
		}
		writeJSON(w, http.StatusOK, uploads.Snapshot())
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// bufferedFile copies an accepted part into memory: the server removes
// multipart temp files when the request ends, long before the batch is
// submitted. Oversized parts are never opened, so they stay as headers.
func bufferedFile(header *multipart.FileHeader) (upload.File, error) {
	if header.Size > upload.MaxFileSize {
		return upload.FromMultipart(header), nil
	}
	src, err := header.Open()
	if err != nil {
		return upload.File{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return upload.File{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return upload.File{
		Name: header.Filename,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}, nil
}

func (s *HTTPServer) handleComparison(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	cmp := ws.Comparison

	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, cmp.Snapshot())
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			Document1ID backend.ID `json:"document1Id"`
			Document2ID backend.ID `json:"document2Id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc1 := s.service.DocumentRef(r.Context(), ws, body.Document1ID)
		doc2 := s.service.DocumentRef(r.Context(), ws, body.Document2ID)
		result, err := cmp.Compare(r.Context(), doc1, doc2)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 1 && parts[0] == "format" && r.Method == http.MethodPut {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := cmp.SetOutputFormat(body.Format); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cmp.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodPost {
		if err := cmp.LoadHistory(r.Context()); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cmp.Snapshot())
		return
	}

	if len(parts) == 3 && parts[0] == "history" && parts[2] == "view" && r.Method == http.MethodPost {
		result, err := cmp.View(backend.ID(parts[1]))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 1 && parts[0] == "note" && r.Method == http.MethodPost {
		var meta backend.NoteMetadata
		if err := decodeBody(r, &meta); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := cmp.SaveAsNote(r.Context(), meta)
		if err != nil {
			fail(w, err)
			return
		}
		ws.Notes.Observe(r.Context(), note)
		writeJSON(w, http.StatusCreated, note)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.service.Profile(ws))
		return
	}

	if len(parts) == 1 && parts[0] == "load" && r.Method == http.MethodPost {
		if err := s.service.LoadProfile(r.Context(), ws); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Profile(ws))
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPut {
		update, err := profileUpdate(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := ws.Profile.Update(r.Context(), update)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}

	if len(parts) == 1 && parts[0] == "comments" && r.Method == http.MethodGet {
		comments, err := ws.Profile.LoadComments(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// profileUpdate reads the edit form as JSON, or as multipart when it
// carries an "avatar" file.
func profileUpdate(w http.ResponseWriter, r *http.Request) (backend.ProfileUpdate, error) {
	var update backend.ProfileUpdate
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err := decodeBody(r, &update)
		return update, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return update, fmt.Errorf("expected multipart profile form: %w", err)
	}
	update.Username = r.FormValue("username")
	update.Email = r.FormValue("email")
	update.CompanyName = r.FormValue("company_name")
	if headers := r.MultipartForm.File["avatar"]; len(headers) > 0 {
		file, err := bufferedFile(headers[0])
		if err != nil {
			return update, err
		}
		update.Avatar = &backend.UploadFile{Name: file.Name, Open: file.Open}
	}
	return update, nil
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	mgr := ws.Notes

	if len(parts) == 0 && r.Method == http.MethodGet {
		query := r.URL.Query()
		view := notes.View{
			Filter: notes.Filter(query.Get("filter")),
			Tag:    query.Get("tag"),
			Query:  query.Get("q"),
		}
		snap := mgr.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"notes":  mgr.List(view),
			"total":  len(snap.Notes),
			"loaded": snap.Loaded,
			"error":  snap.Error,
		})
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			Content string `json:"content"`
			backend.NoteMetadata
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := mgr.Create(r.Context(), body.Content, body.NoteMetadata)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
		return
	}

	if len(parts) == 1 && parts[0] == "load" && r.Method == http.MethodPost {
		if err := mgr.Load(r.Context()); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mgr.Snapshot())
		return
	}

	if len(parts) == 1 && parts[0] == "tags" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"tags": mgr.Tags()})
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	noteID := backend.ID(parts[0])

	if len(parts) == 1 && r.Method == http.MethodGet {
		note, ok := mgr.Note(noteID)
		if !ok {
			fail(w, notes.ErrNoteNotFound)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPut {
		var fields backend.NoteFields
		if err := decodeBody(r, &fields); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := mgr.Update(r.Context(), noteID, fields)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := mgr.Delete(r.Context(), noteID); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 2 && parts[1] == "star" && r.Method == http.MethodPost {
		note, err := mgr.ToggleStar(r.Context(), noteID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return
	}

	if len(parts) == 2 && parts[1] == "revisions" && r.Method == http.MethodGet {
		revisions, err := mgr.Revisions(noteID, queryInt(r.URL.Query().Get("limit"), 20))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format  string `json:"format"`
			Archive bool   `json:"archive"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format, err := export.ParseFormat(body.Format)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be one of pdf, docx, html, txt", map[string]any{"field": "format"})
			return
		}
		result, err := mgr.Export(r.Context(), noteID, format, body.Archive)
		if err != nil {
			fail(w, err)
			return
		}
		if body.Archive {
			writeJSON(w, http.StatusOK, result)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireWorkspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return nil, false
	}
	ws, err := s.service.Workspace(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return nil, false
		}
		log.Printf("app: session lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return nil, false
	}
	return ws, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("app: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *backend.ValidationError
	if errors.As(err, &validationErr) {
		var fieldDetails any
		if validationErr.Field != "" {
			fieldDetails = map[string]any{"field": validationErr.Field}
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, fieldDetails
	}

	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Message cannot be empty", map[string]any{"field": "text"}
	case errors.Is(err, conversation.ErrNoDocument):
		return http.StatusConflict, "NO_DOCUMENT", "Select a document first", nil
	case errors.Is(err, conversation.ErrBusy), errors.Is(err, comparison.ErrBusy):
		return http.StatusConflict, "BUSY", "Another request is still running", nil
	case errors.Is(err, comparison.ErrNoResult):
		return http.StatusConflict, "NO_RESULT", "Run a comparison first", nil
	case errors.Is(err, feed.ErrPostNotFound),
		errors.Is(err, notes.ErrNoteNotFound),
		errors.Is(err, comparison.ErrNotFound),
		errors.Is(err, gitrepo.ErrNoteNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", map[string]any{"field": "format"}
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export tooling is not installed", nil
	case errors.Is(err, export.ErrArchiveNotConfigured), errors.Is(err, notes.ErrNoExporter):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil
	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not available", nil
	}

	var authErr *backend.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, "BACKEND_UNAUTHORIZED", "Backend session expired, sign in again", nil
	}

	var commentErr *feed.CommentError
	if errors.As(err, &commentErr) {
		return backendStatus(err), "BACKEND_ERROR", commentErr.Message, nil
	}

	var netErr *backend.NetworkError
	if errors.As(err, &netErr) {
		return http.StatusBadGateway, "BACKEND_UNREACHABLE", backend.Reason(err), nil
	}
	var httpErr *backend.HTTPError
	var reconcileErr *backend.ReconciliationError
	if errors.As(err, &httpErr) || errors.As(err, &reconcileErr) {
		return backendStatus(err), "BACKEND_ERROR", backend.Reason(err), map[string]any{"backendStatus": backend.StatusCode(err)}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// backendStatus passes backend client errors through and reports everything
// else as a bad gateway.
func backendStatus(err error) int {
	status := backend.StatusCode(err)
	if status >= 400 && status < 500 && status != http.StatusUnauthorized {
		return status
	}
	return http.StatusBadGateway
}
