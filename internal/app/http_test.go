package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/comparison"
	"github.com/Abhijagtp/ThinkThank/internal/config"
	"github.com/Abhijagtp/ThinkThank/internal/session"
)

// fakeBackend answers the analysis API routes the dashboard uses. Requests
// carrying the "stale" access token are rejected until refreshed.
type fakeBackend struct {
	mu        sync.Mutex
	refreshes int
	uploads   []string
	username  string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/token/refresh/" {
		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"access":"fresh"}`)
		return
	}
	if r.Header.Get("Authorization") == "Bearer stale" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"token expired"}`)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/documents/":
		_, _ = io.WriteString(w, `[{"id":1,"name":"Q3 Report.pdf","file_type":"pdf","size":1024},{"id":2,"name":"Q4 Report.pdf","file_type":"pdf","size":2048}]`)
	case r.Method == http.MethodPost && r.URL.Path == "/documents/upload/":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var results []backend.UploadResult
		f.mu.Lock()
		for _, header := range r.MultipartForm.File["files"] {
			f.uploads = append(f.uploads, header.Filename)
			results = append(results, backend.UploadResult{Name: header.Filename})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(results)
	case r.Method == http.MethodGet && r.URL.Path == "/notes/":
		_, _ = io.WriteString(w, `[{"id":7,"title":"Growth","content":"Revenue up 12%","tags":["finance","q4"],"starred":false,"color":"blue"},{"id":8,"title":"Risks","content":"Churn","tags":["finance"],"starred":true,"color":"pink"}]`)
	case r.Method == http.MethodPut && r.URL.Path == "/notes/7/":
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && r.URL.Path == "/compare/":
		var body struct {
			SaveToNotes bool   `json:"save_to_notes"`
			NoteTitle   string `json:"note_title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.SaveToNotes {
			_ = json.NewEncoder(w).Encode(map[string]any{"saved_note": map[string]any{"id": 50, "title": body.NoteTitle, "content": "Q4 beat Q3", "tags": []string{"comparison"}, "color": "purple"}})
			return
		}
		_, _ = io.WriteString(w, `{"result":{"id":"c1","summary":"Q4 beat Q3","keyDifferences":[],"insights":["margin up"],"recommendations":[]}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/posts/":
		_, _ = io.WriteString(w, `[{"id":3,"user":{"id":4,"username":"ana"},"post_type":"question","question":"Why did churn drop?","likes":1,"is_liked":false,"is_saved":false,"comments_count":0},{"id":6,"user":{"id":5,"username":"bo"},"post_type":"question","question":"Any Q4 risks?","likes":0,"is_liked":false,"is_saved":false,"comments_count":0}]`)
	case r.Method == http.MethodGet && r.URL.Path == "/user/":
		f.mu.Lock()
		name := f.username
		f.mu.Unlock()
		if name == "" {
			name = "ana"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 4, "username": name, "email": "ana@example.com"})
	case r.Method == http.MethodPut && r.URL.Path == "/users/me/":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.username = r.FormValue("username")
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodGet && r.URL.Path == "/comments/":
		_, _ = io.WriteString(w, `[{"id":11,"user":{"id":4,"username":"ana"},"content":"Good question"}]`)
	case r.Method == http.MethodPost && r.URL.Path == "/posts/3/interact/":
		_, _ = io.WriteString(w, `{"likes":2,"is_liked":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"not found"}`)
	}
}

func (f *fakeBackend) stats() (refreshes int, uploads []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, append([]string(nil), f.uploads...)
}

func newTestServer(t *testing.T, deps Deps) (*Service, http.Handler, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	upstream := httptest.NewServer(fb)
	t.Cleanup(upstream.Close)

	svc := New(config.Config{
		BackendURL:     upstream.URL,
		RefreshPath:    "/token/refresh/",
		RequestTimeout: 5 * time.Second,
		SessionTTL:     time.Hour,
		NotesSyncCron:  "* * * * *",
	}, deps)
	t.Cleanup(svc.Close)
	return svc, NewHTTPServer(svc, "*").Handler(), fb
}

func doJSON(t *testing.T, handler http.Handler, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func startSession(t *testing.T, handler http.Handler, access string) string {
	t.Helper()
	rr := doJSON(t, handler, http.MethodPost, "/api/session", "", map[string]string{"access": access, "refresh": "refresh-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("start session status = %d, body %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}
	decodeResponse(t, rr, &payload)
	if payload.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return payload.SessionID
}

func TestHealthEndpoint(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})

	rr := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpointReportsFailingCheck(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{Checks: map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("connection refused") },
	}})

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response struct {
		OK     bool                         `json:"ok"`
		Checks map[string]map[string]string `json:"checks"`
	}
	decodeResponse(t, rr, &response)
	if response.OK {
		t.Error("expected ok=false")
	}
	if response.Checks["database"]["status"] != "error" || response.Checks["redis"]["status"] != "ok" {
		t.Errorf("unexpected checks: %+v", response.Checks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	doJSON(t, handler, http.MethodGet, "/api/health", "", nil)

	rr := doJSON(t, handler, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "thinkthank_http_requests_total") {
		t.Error("expected http request counter in metrics output")
	}
}

func TestRoutesRequireSession(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})

	for _, sessionID := range []string{"", "sess-unknown"} {
		rr := doJSON(t, handler, http.MethodGet, "/api/notes", sessionID, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("session %q: expected 401, got %d", sessionID, rr.Code)
		}
	}
}

func TestStartSessionRequiresAccessToken(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})

	rr := doJSON(t, handler, http.MethodPost, "/api/session", "", map[string]string{"refresh": "r"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", response["code"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "opaque-token")

	rr := doJSON(t, handler, http.MethodGet, "/api/session", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload map[string]string
	decodeResponse(t, rr, &payload)
	if payload["userId"] != localOwner {
		t.Errorf("opaque token user = %q, want %q", payload["userId"], localOwner)
	}

	if rr := doJSON(t, handler, http.MethodDelete, "/api/session", sessionID, nil); rr.Code != http.StatusOK {
		t.Fatalf("end session status = %d", rr.Code)
	}
	if rr := doJSON(t, handler, http.MethodGet, "/api/session", sessionID, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestRefreshedCredentialIsPersisted(t *testing.T) {
	sessions := session.NewMemoryStore()
	_, handler, fb := newTestServer(t, Deps{Sessions: sessions})
	sessionID := startSession(t, handler, "stale")

	rr := doJSON(t, handler, http.MethodGet, "/api/documents", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if refreshes, _ := fb.stats(); refreshes != 1 {
		t.Errorf("expected one refresh, got %d", refreshes)
	}
	record, err := sessions.Lookup(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("lookup session: %v", err)
	}
	if record.Credential != (auth.Credential{Access: "fresh", Refresh: "refresh-1"}) {
		t.Errorf("stored credential = %+v", record.Credential)
	}
}

func TestSelectDocumentByID(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	rr := doJSON(t, handler, http.MethodPost, "/api/conversation/document", sessionID, map[string]string{"documentId": "2"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var snap struct {
		Document *backend.Document `json:"document"`
	}
	decodeResponse(t, rr, &snap)
	if snap.Document == nil || snap.Document.Name != "Q4 Report.pdf" {
		t.Fatalf("selected document = %+v", snap.Document)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/conversation/document", sessionID, map[string]string{"documentId": "99"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown document, got %d", rr.Code)
	}
}

func TestSendMessageWithoutDocument(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	rr := doJSON(t, handler, http.MethodPost, "/api/conversation/messages", sessionID, map[string]string{"text": "summarize"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNotesLoadStarAndFilter(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	if rr := doJSON(t, handler, http.MethodPost, "/api/notes/load", sessionID, nil); rr.Code != http.StatusOK {
		t.Fatalf("load notes status = %d: %s", rr.Code, rr.Body.String())
	}

	rr := doJSON(t, handler, http.MethodPost, "/api/notes/7/star", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("star status = %d: %s", rr.Code, rr.Body.String())
	}
	var starred backend.Note
	decodeResponse(t, rr, &starred)
	if !starred.Starred {
		t.Error("expected note 7 to be starred")
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notes?filter=starred", sessionID, nil)
	var listing struct {
		Notes []backend.Note `json:"notes"`
		Total int            `json:"total"`
	}
	decodeResponse(t, rr, &listing)
	if len(listing.Notes) != 2 || listing.Total != 2 {
		t.Errorf("starred notes = %d of %d, want 2 of 2", len(listing.Notes), listing.Total)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notes/tags", sessionID, nil)
	var tags struct {
		Tags []struct {
			Tag   string `json:"tag"`
			Count int    `json:"count"`
		} `json:"tags"`
	}
	decodeResponse(t, rr, &tags)
	if len(tags.Tags) == 0 || tags.Tags[0].Tag != "finance" || tags.Tags[0].Count != 2 {
		t.Errorf("unexpected tag facets: %+v", tags.Tags)
	}

	if rr := doJSON(t, handler, http.MethodPost, "/api/notes/404/star", sessionID, nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown note, got %d", rr.Code)
	}
}

func TestExportWithoutExporter(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")
	doJSON(t, handler, http.MethodPost, "/api/notes/load", sessionID, nil)

	rr := doJSON(t, handler, http.MethodPost, "/api/notes/7/export", sessionID, map[string]any{"format": "txt"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/notes/7/export", sessionID, map[string]any{"format": "odt"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unknown format, got %d", rr.Code)
	}
}

func TestCompareDocuments(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	rr := doJSON(t, handler, http.MethodPost, "/api/comparison", sessionID, map[string]string{"document1Id": "1", "document2Id": "1"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var failure map[string]any
	decodeResponse(t, rr, &failure)
	if failure["error"] != "Cannot compare the same document" {
		t.Errorf("unexpected error message: %v", failure["error"])
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/comparison", sessionID, map[string]string{"document1Id": "1", "document2Id": "2"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result comparison.Result
	decodeResponse(t, rr, &result)
	if result.Summary != "Q4 beat Q3" {
		t.Errorf("summary = %q", result.Summary)
	}
	if result.Document1.Name != "Q3 Report.pdf" || result.Document2.Name != "Q4 Report.pdf" {
		t.Errorf("documents = %+v / %+v", result.Document1, result.Document2)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/comparison/note", sessionID, map[string]any{})
	if rr.Code != http.StatusCreated {
		t.Fatalf("save note status = %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodGet, "/api/notes", sessionID, nil)
	var listed struct {
		Notes []struct {
			ID    json.Number `json:"id"`
			Title string      `json:"title"`
		} `json:"notes"`
	}
	decodeResponse(t, rr, &listed)
	if len(listed.Notes) != 1 || listed.Notes[0].ID != "50" || listed.Notes[0].Title != "Comparison of Q3 Report.pdf vs Q4 Report.pdf" {
		t.Errorf("saved comparison note not in the notes list: %+v", listed.Notes)
	}
}

func TestFeedLoadAndLike(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	if rr := doJSON(t, handler, http.MethodPost, "/api/feed/load", sessionID, nil); rr.Code != http.StatusOK {
		t.Fatalf("load feed status = %d: %s", rr.Code, rr.Body.String())
	}
	rr := doJSON(t, handler, http.MethodPost, "/api/feed/posts/3/like", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("like status = %d: %s", rr.Code, rr.Body.String())
	}
	var post struct {
		LikeCount int  `json:"likeCount"`
		IsLiked   bool `json:"isLiked"`
	}
	decodeResponse(t, rr, &post)
	if post.LikeCount != 2 || !post.IsLiked {
		t.Errorf("post after like = %+v", post)
	}

	if rr := doJSON(t, handler, http.MethodPost, "/api/feed/posts/3/comments", sessionID, map[string]string{"content": "  "}); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for blank comment, got %d", rr.Code)
	}
}

func TestUploadQueueAndSubmit(t *testing.T) {
	_, handler, fb := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range []string{"report.pdf", "virus.exe"} {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("content of " + name))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+sessionID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("add files status = %d: %s", rr.Code, rr.Body.String())
	}
	var added struct {
		Added []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"added"`
	}
	decodeResponse(t, rr, &added)
	if len(added.Added) != 2 || added.Added[0].Status != "pending" || added.Added[1].Status != "error" {
		t.Fatalf("unexpected candidates: %+v", added.Added)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/uploads/submit", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rr.Code, rr.Body.String())
	}
	var submitted struct {
		Result struct {
			Submitted int `json:"submitted"`
			Completed int `json:"completed"`
		} `json:"result"`
	}
	decodeResponse(t, rr, &submitted)
	if submitted.Result.Submitted != 1 || submitted.Result.Completed != 1 {
		t.Errorf("batch result = %+v", submitted.Result)
	}
	if _, uploads := fb.stats(); len(uploads) != 1 || uploads[0] != "report.pdf" {
		t.Errorf("backend received %v", uploads)
	}

	rr = doJSON(t, handler, http.MethodDelete, "/api/uploads", sessionID, nil)
	var snap struct {
		Queue []any `json:"queue"`
	}
	decodeResponse(t, rr, &snap)
	if len(snap.Queue) != 0 {
		t.Errorf("expected empty queue after clear, got %d", len(snap.Queue))
	}
}

func TestUploadRequestTooLarge(t *testing.T) {
	svc, handler, fb := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")
	server := NewHTTPServer(svc, "*")
	server.maxUploadBytes = 1 << 10
	handler = server.Handler()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", "big.pdf")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(bytes.Repeat([]byte("x"), 4<<10))
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+sessionID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.activeWorkspaces()[0].Uploads.Snapshot().Queue) != 0 {
		t.Error("expected nothing queued")
	}
	if _, uploads := fb.stats(); len(uploads) != 0 {
		t.Errorf("backend received %v", uploads)
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"bad": make(chan int)})
	if !strings.Contains(logged.String(), "app: encode response") {
		t.Errorf("expected encode failure to be logged, got %q", logged.String())
	}
}

func TestProfileLoadAndUpdate(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	rr := doJSON(t, handler, http.MethodPost, "/api/profile/load", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("load profile status = %d: %s", rr.Code, rr.Body.String())
	}
	var view struct {
		User struct {
			ID       json.Number `json:"id"`
			Username string      `json:"username"`
		} `json:"user"`
		Loaded   bool `json:"loaded"`
		Activity struct {
			Posts []struct {
				ID json.Number `json:"id"`
			} `json:"posts"`
			Documents []any `json:"documents"`
			Notes     []any `json:"notes"`
		} `json:"activity"`
	}
	decodeResponse(t, rr, &view)
	if !view.Loaded || view.User.ID != "4" {
		t.Fatalf("profile = %+v", view)
	}
	if len(view.Activity.Posts) != 1 || view.Activity.Posts[0].ID != "3" {
		t.Errorf("own posts = %+v", view.Activity.Posts)
	}
	if len(view.Activity.Documents) != 2 || len(view.Activity.Notes) != 2 {
		t.Errorf("activity documents=%d notes=%d", len(view.Activity.Documents), len(view.Activity.Notes))
	}

	if rr := doJSON(t, handler, http.MethodPut, "/api/profile", sessionID, map[string]string{"username": " "}); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for blank username, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodPut, "/api/profile", sessionID, map[string]string{"username": "ana r", "company_name": "Acme"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update profile status = %d: %s", rr.Code, rr.Body.String())
	}
	var user struct {
		Username string `json:"username"`
	}
	decodeResponse(t, rr, &user)
	if user.Username != "ana r" {
		t.Errorf("updated username = %q", user.Username)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/profile/comments", sessionID, nil)
	var comments struct {
		Comments []struct {
			Content string `json:"content"`
		} `json:"comments"`
	}
	decodeResponse(t, rr, &comments)
	if len(comments.Comments) != 1 || comments.Comments[0].Content != "Good question" {
		t.Errorf("comments = %+v", comments.Comments)
	}
}

func TestSearchWithoutEngine(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")

	rr := doJSON(t, handler, http.MethodGet, "/api/search?q=growth", sessionID, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestNoticesDrain(t *testing.T) {
	_, handler, _ := newTestServer(t, Deps{})
	sessionID := startSession(t, handler, "good")
	doJSON(t, handler, http.MethodPost, "/api/comparison", sessionID, map[string]string{"document1Id": "1", "document2Id": "2"})

	rr := doJSON(t, handler, http.MethodGet, "/api/notices", sessionID, nil)
	var first struct {
		Notices []struct {
			Message string `json:"message"`
		} `json:"notices"`
	}
	decodeResponse(t, rr, &first)
	if len(first.Notices) != 1 || first.Notices[0].Message != "Comparison completed!" {
		t.Fatalf("notices = %+v", first.Notices)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notices", sessionID, nil)
	var second struct {
		Notices []any `json:"notices"`
	}
	decodeResponse(t, rr, &second)
	if len(second.Notices) != 0 {
		t.Errorf("expected drained feed, got %d notices", len(second.Notices))
	}
}
