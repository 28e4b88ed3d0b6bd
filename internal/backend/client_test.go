package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *auth.Holder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	holder := auth.NewHolder(auth.Credential{Access: "access-1", Refresh: "refresh-1"})
	return New(server.URL+"/api", holder, opts...), holder
}

func TestChatHistoryDecodesWrappedRecords(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat-history/42/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `[
			{"message":{"id":7,"type":"user","content":"Summarize","timestamp":"2024-05-01T10:00:00.123Z"}},
			{"message":{"id":"8","type":"ai","content":{"summary":"ok"},"timestamp":"2024-05-01T10:00:01.5","is_json":true,
			 "insights":[{"label":"Revenue","value":12}],"token_usage":{"total_tokens":30}}}
		]`)
	})

	records, err := client.ChatHistory(context.Background(), "42")
	if err != nil {
		t.Fatalf("ChatHistory() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ChatHistory() returned %d records", len(records))
	}
	first, second := records[0].Message, records[1].Message
	if first.ID != "7" || first.Content != "Summarize" || first.Timestamp.UnixMilli() != 1714557600123 {
		t.Fatalf("unexpected first message: %+v", first)
	}
	if second.ID != "8" || second.Content != `{"summary":"ok"}` || !second.IsJSON {
		t.Fatalf("unexpected second message: %+v", second)
	}
	if second.Insights[0].Value != "12" || second.TokenUsage.TotalTokens != 30 {
		t.Fatalf("unexpected insight or usage: %+v", second)
	}
}

func TestAnalyzeSendsTurns(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body["document_id"] != float64(3) || body["query"] != "Summarize" || body["output_format"] != "json" {
			t.Errorf("unexpected body: %v", body)
		}
		if turns, ok := body["chat_history"].([]any); !ok || len(turns) != 0 {
			t.Errorf("chat_history = %v, want empty list", body["chat_history"])
		}
		_, _ = io.WriteString(w, `{"content":"A summary","insights":[]}`)
	})

	resp, err := client.Analyze(context.Background(), AnalyzeRequest{DocumentID: "3", Query: "Summarize", OutputFormat: "json"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if resp.Content != "A summary" {
		t.Fatalf("Content = %q", resp.Content)
	}
}

func TestRetriesOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "refresh-1" {
			t.Errorf("refresh body = %v", body)
		}
		_, _ = io.WriteString(w, `{"access":"access-2"}`)
	})
	mux.HandleFunc("/api/documents/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[{"id":1,"name":"Q3.pdf","file_type":"pdf","size":2048}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	holder := auth.NewHolder(auth.Credential{Access: "access-1", Refresh: "refresh-1"})
	var persisted auth.Credential
	refresher := NewTokenRefresher(server.URL+"/api", "/token/refresh/", holder, func(c auth.Credential) { persisted = c })
	client := New(server.URL+"/api", holder, WithRefresher(refresher))

	docs, err := client.Documents(context.Background())
	if err != nil {
		t.Fatalf("Documents() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "Q3.pdf" {
		t.Fatalf("unexpected documents: %+v", docs)
	}
	if calls.Load() != 2 {
		t.Fatalf("documents called %d times, want 2", calls.Load())
	}
	if holder.Current().Access != "access-2" || persisted.Access != "access-2" || persisted.Refresh != "refresh-1" {
		t.Fatalf("credential not updated: holder=%+v persisted=%+v", holder.Current(), persisted)
	}
}

func TestFailedRefreshIsAuthError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/posts/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	holder := auth.NewHolder(auth.Credential{Access: "access-1", Refresh: "refresh-1"})
	client := New(server.URL+"/api", holder, WithRefresher(NewTokenRefresher(server.URL+"/api", "token/refresh/", holder, nil)))

	_, err := client.Posts(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Posts() error = %v, want AuthError", err)
	}
}

func TestPostsRejectsNonList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"detail":"paginated"}`)
	})
	_, err := client.Posts(context.Background())
	var shapeErr *ReconciliationError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Posts() error = %v, want ReconciliationError", err)
	}
}

func TestHTTPErrorFieldExtraction(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"non_field_errors":["Post is closed"]}`)
	})
	_, err := client.AddComment(context.Background(), "5", "hi")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("AddComment() error = %v, want HTTPError", err)
	}
	if got := httpErr.FieldError("content", "non_field_errors"); got != "Post is closed" {
		t.Fatalf("FieldError() = %q", got)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("StatusCode() = %d", StatusCode(err))
	}
}

func TestUploadSendsMultipartFiles(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 || files[0].Filename != "a.pdf" || files[1].Filename != "b.csv" {
			t.Errorf("unexpected files: %+v", files)
		}
		_, _ = io.WriteString(w, `[{"name":"a.pdf"},{"name":"b.csv","error":"Duplicate file"}]`)
	})
	open := func(content string) func() (io.ReadCloser, error) {
		return func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil }
	}
	results, err := client.Upload(context.Background(), []UploadFile{
		{Name: "a.pdf", Open: open("%PDF")},
		{Name: "b.csv", Open: open("x,y")},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(results) != 2 || results[1].Error != "Duplicate file" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestNetworkError(t *testing.T) {
	client := New("http://127.0.0.1:1/api", auth.NewHolder(auth.Credential{Access: "a"}))
	_, err := client.Documents(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Documents() error = %v, want NetworkError", err)
	}
}

func TestIDMarshalsNumericAsNumber(t *testing.T) {
	raw, err := json.Marshal(struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}{A: "12", B: "msg_x"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"a":12,"b":"msg_x"}` {
		t.Fatalf("Marshal() = %s", raw)
	}
}

func TestIDMarshalsOnlyCanonicalIntegersAsNumbers(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{"7", `7`},
		{"-3", `-3`},
		{"007", `"007"`},
		{"+1", `"+1"`},
		{"-0", `"-0"`},
		{"99999999999999999999", `"99999999999999999999"`},
		{"", `""`},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.id)
		if err != nil {
			t.Fatalf("Marshal(%q) error = %v", tt.id, err)
		}
		if string(raw) != tt.want {
			t.Errorf("Marshal(%q) = %s, want %s", tt.id, raw, tt.want)
		}
	}
}

func TestDocumentRefAcceptsIDOrObject(t *testing.T) {
	var notes []Note
	raw := `[{"id":1,"title":"a","source_document":4},{"id":2,"title":"b","source_document":{"id":5,"name":"Q3.pdf"}}]`
	if err := json.Unmarshal([]byte(raw), &notes); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if notes[0].SourceDocument.ID != "4" || notes[1].SourceDocument.Name != "Q3.pdf" {
		t.Fatalf("unexpected refs: %+v %+v", notes[0].SourceDocument, notes[1].SourceDocument)
	}
}
