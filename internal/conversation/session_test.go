package conversation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
)

type fakeBackend struct {
	chatHistoryFn func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error)
	analyzeFn     func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error)
	saveNoteFn    func(ctx context.Context, req backend.AnalysisNoteRequest) (backend.SaveNoteResponse, error)
}

func (f *fakeBackend) ChatHistory(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
	if f.chatHistoryFn != nil {
		return f.chatHistoryFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeBackend) Analyze(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
	if f.analyzeFn != nil {
		return f.analyzeFn(ctx, req)
	}
	return backend.AnalyzeResponse{Content: "ok"}, nil
}

func (f *fakeBackend) SaveAnalysisNote(ctx context.Context, req backend.AnalysisNoteRequest) (backend.SaveNoteResponse, error) {
	if f.saveNoteFn != nil {
		return f.saveNoteFn(ctx, req)
	}
	return backend.SaveNoteResponse{}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ notify.Level, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func record(id string, kind, content string, at time.Time) backend.HistoryRecord {
	return backend.HistoryRecord{Message: backend.HistoryMessage{
		ID:        backend.ID(id),
		Type:      kind,
		Content:   backend.Text(content),
		Timestamp: backend.Timestamp{Time: at},
	}}
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := []Message{
		{ID: "1", Content: "first", CreatedAt: base},
		{ID: "2", Content: "second", CreatedAt: base.Add(time.Second)},
		{ID: "1", Content: "replayed", CreatedAt: base.Add(200 * time.Microsecond)},
		{ID: "1", Content: "later", CreatedAt: base.Add(time.Minute)},
		{ID: "2", Content: "dup", CreatedAt: base.Add(time.Second)},
	}
	got := Dedup(in)
	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	want := []string{"first", "second", "later"}
	if !reflect.DeepEqual(contents, want) {
		t.Fatalf("Dedup() contents = %v, want %v", contents, want)
	}
}

func TestLoadHistoryDedupsServerRecords(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeBackend{chatHistoryFn: func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
		return []backend.HistoryRecord{
			record("10", "user", "Summarize", at),
			record("11", "ai", "Summary", at.Add(time.Second)),
			record("10", "user", "Summarize", at),
		}, nil
	}}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "5", Name: "Q3.pdf"})

	if err := session.LoadHistory(context.Background(), "5"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	thread := session.Snapshot().Thread
	if len(thread.Messages) != 2 || thread.Pending {
		t.Fatalf("unexpected thread: %+v", thread)
	}
	if thread.Messages[0].Role != RoleUser || thread.Messages[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %+v", thread.Messages)
	}
}

func TestEndToEndGreetingThenExchange(t *testing.T) {
	var analyzed backend.AnalyzeRequest
	fake := &fakeBackend{
		chatHistoryFn: func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
			return []backend.HistoryRecord{}, nil
		},
		analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
			analyzed = req
			return backend.AnalyzeResponse{Content: "The report covers Q3 revenue."}, nil
		},
	}
	session := New(fake, WithDebounce(time.Millisecond))
	defer session.Close()

	session.SelectDocument(backend.Document{ID: "D1", Name: "Q3.pdf"})
	waitFor(t, "history load", func() bool {
		snap := session.Snapshot()
		return !snap.Thread.Pending && snap.State == StateIdle
	})

	thread := session.Snapshot().Thread
	if len(thread.Messages) != 1 || !thread.Messages[0].Synthetic || thread.Messages[0].Content != GreetingText {
		t.Fatalf("expected only the greeting, got %+v", thread.Messages)
	}

	if _, err := session.SendMessage(context.Background(), "Summarize"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	messages := session.Snapshot().Thread.Messages
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(messages), messages)
	}
	if !messages[0].Synthetic || messages[1].Role != RoleUser || messages[1].Content != "Summarize" {
		t.Fatalf("unexpected order: %+v", messages)
	}
	if messages[2].Role != RoleAssistant || messages[2].Content != "The report covers Q3 revenue." {
		t.Fatalf("unexpected reply: %+v", messages[2])
	}
	if analyzed.DocumentID != "D1" || analyzed.Query != "Summarize" || len(analyzed.ChatHistory) != 0 {
		t.Fatalf("greeting leaked into analyze request: %+v", analyzed)
	}
	if analyzed.OutputFormat != "markdown" {
		t.Fatalf("OutputFormat = %q", analyzed.OutputFormat)
	}
}

func TestSendMessageSingleFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &fakeBackend{analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
		calls.Add(1)
		close(started)
		<-unblock
		return backend.AnalyzeResponse{Content: "answer"}, nil
	}}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1", Name: "a.pdf"})

	done := make(chan error, 1)
	go func() {
		_, err := session.SendMessage(context.Background(), "first")
		done <- err
	}()
	<-started

	for i := 0; i < 5; i++ {
		if _, err := session.SendMessage(context.Background(), "again"); !errors.Is(err, ErrBusy) {
			t.Fatalf("SendMessage() during flight error = %v, want ErrBusy", err)
		}
	}
	if err := session.LoadHistory(context.Background(), "1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("LoadHistory() during send error = %v, want ErrBusy", err)
	}
	if session.Snapshot().State != StateSending {
		t.Fatalf("State = %v, want sending", session.Snapshot().State)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first SendMessage() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("analyze called %d times, want 1", calls.Load())
	}
	if session.Snapshot().State != StateIdle {
		t.Fatal("guard not released after send")
	}
	if _, err := session.SendMessage(context.Background(), "next"); err != nil {
		t.Fatalf("SendMessage() after release error = %v", err)
	}
}

func TestSendMessageNoOps(t *testing.T) {
	fake := &fakeBackend{analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
		t.Fatal("analyze must not be called")
		return backend.AnalyzeResponse{}, nil
	}}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()

	if _, err := session.SendMessage(context.Background(), "hello"); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("SendMessage() without document error = %v", err)
	}
	session.SelectDocument(backend.Document{ID: "1"})
	if _, err := session.SendMessage(context.Background(), "  \n\t"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("SendMessage() blank error = %v", err)
	}
	if len(session.Snapshot().Thread.Messages) != 1 {
		t.Fatal("no-op send mutated the thread")
	}
	if session.Snapshot().State != StateIdle {
		t.Fatal("no-op send left the guard taken")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	loadingA := make(chan struct{})
	releaseA := make(chan struct{})
	var loadsB atomic.Int32
	fake := &fakeBackend{chatHistoryFn: func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
		if documentID == "A" {
			close(loadingA)
			<-releaseA
			return []backend.HistoryRecord{record("1", "user", "about A", at)}, nil
		}
		loadsB.Add(1)
		return []backend.HistoryRecord{record("2", "user", "about B", at)}, nil
	}}
	session := New(fake, WithDebounce(time.Millisecond))
	defer session.Close()

	session.SelectDocument(backend.Document{ID: "A", Name: "a.pdf"})
	<-loadingA
	session.SelectDocument(backend.Document{ID: "B", Name: "b.pdf"})
	before := session.Snapshot().Thread

	// B's debounced load comes due while A's is still in flight.
	time.Sleep(20 * time.Millisecond)
	close(releaseA)

	waitFor(t, "deferred load of B", func() bool { return loadsB.Load() == 1 && session.Snapshot().State == StateIdle })
	after := session.Snapshot().Thread
	if after.DocumentID != "B" {
		t.Fatalf("DocumentID = %s, want B", after.DocumentID)
	}
	for _, m := range after.Messages {
		if m.Content == "about A" {
			t.Fatalf("stale history for A leaked into B: %+v", after.Messages)
		}
	}
	if len(after.Messages) != 1 || after.Messages[0].Content != "about B" {
		t.Fatalf("unexpected thread for B: %+v", after.Messages)
	}
	if len(before.Messages) != 1 || !before.Messages[0].Synthetic {
		t.Fatalf("re-selection did not reset the thread: %+v", before.Messages)
	}
}

func TestLoadHistoryFailureKeepsMessages(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fail := false
	fake := &fakeBackend{chatHistoryFn: func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
		if fail {
			return nil, &backend.NetworkError{Op: "chat_history", Err: errors.New("connection reset")}
		}
		return []backend.HistoryRecord{record("1", "user", "kept", at)}, nil
	}}
	notes := &recordingNotifier{}
	session := New(fake, WithDebounce(time.Hour), WithNotifier(notes))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1"})
	if err := session.LoadHistory(context.Background(), "1"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}

	fail = true
	err := session.LoadHistory(context.Background(), "1")
	var fetchErr *HistoryFetchError
	if !errors.As(err, &fetchErr) || fetchErr.DocumentID != "1" {
		t.Fatalf("LoadHistory() error = %v, want HistoryFetchError", err)
	}
	messages := session.Snapshot().Thread.Messages
	if len(messages) != 1 || messages[0].Content != "kept" {
		t.Fatalf("failed load changed thread: %+v", messages)
	}
	if got := notes.all(); len(got) != 1 || got[0] != "Failed to load chat history" {
		t.Fatalf("notices = %v", got)
	}
	if session.Snapshot().State != StateIdle {
		t.Fatal("guard not released after failed load")
	}
}

func TestSendFailureAppendsErrorNotice(t *testing.T) {
	fake := &fakeBackend{analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
		return backend.AnalyzeResponse{}, &backend.HTTPError{Op: "analyze", Status: 500, Body: []byte(`{"error":"model unavailable"}`)}
	}}
	notes := &recordingNotifier{}
	session := New(fake, WithDebounce(time.Hour), WithNotifier(notes))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1"})

	notice, err := session.SendMessage(context.Background(), "Summarize")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("SendMessage() error = %v, want SendError", err)
	}
	messages := session.Snapshot().Thread.Messages
	if len(messages) != 3 {
		t.Fatalf("expected greeting, user and notice, got %+v", messages)
	}
	last := messages[2]
	if last.Role != RoleAssistant || last.Content != ErrorNoticeText || last.ID != notice.ID {
		t.Fatalf("unexpected notice: %+v", last)
	}
	if got := notes.all(); len(got) != 1 || got[0] != "Analysis failed: model unavailable" {
		t.Fatalf("notices = %v", got)
	}
	if session.Snapshot().State != StateIdle {
		t.Fatal("guard not released after failed send")
	}
}

func TestDuplicateReplyIsNotAppended(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeBackend{
		chatHistoryFn: func(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error) {
			return []backend.HistoryRecord{record("9", "ai", "Same answer", at)}, nil
		},
		analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
			return backend.AnalyzeResponse{Content: "Same answer", Timestamp: backend.Timestamp{Time: at}}, nil
		},
	}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1"})
	if err := session.LoadHistory(context.Background(), "1"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if _, err := session.SendMessage(context.Background(), "Repeat"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	messages := session.Snapshot().Thread.Messages
	if len(messages) != 2 {
		t.Fatalf("duplicate reply appended: %+v", messages)
	}
}

func TestTurnsCarryPriorMessages(t *testing.T) {
	var requests []backend.AnalyzeRequest
	fake := &fakeBackend{analyzeFn: func(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error) {
		requests = append(requests, req)
		return backend.AnalyzeResponse{Content: backend.Text("answer " + req.Query)}, nil
	}}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1"})
	if err := session.SetOutputFormat(FormatJSON); err != nil {
		t.Fatalf("SetOutputFormat() error = %v", err)
	}

	for _, q := range []string{"one", "two"} {
		if _, err := session.SendMessage(context.Background(), q); err != nil {
			t.Fatalf("SendMessage(%q) error = %v", q, err)
		}
	}
	want := []backend.Turn{{Role: "user", Content: "one"}, {Role: "assistant", Content: "answer one"}}
	if !reflect.DeepEqual(requests[1].ChatHistory, want) {
		t.Fatalf("ChatHistory = %+v, want %+v", requests[1].ChatHistory, want)
	}
	if last := session.Snapshot().Thread.Messages[4]; !last.IsStructured {
		t.Fatalf("json reply not marked structured: %+v", last)
	}
}

func TestSnapshotsAreNotMutatedByLaterAppends(t *testing.T) {
	session := New(&fakeBackend{}, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "1"})
	before := session.Snapshot().Thread.Messages
	if _, err := session.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("earlier snapshot changed: %+v", before)
	}
}

func TestSaveMessageAsNote(t *testing.T) {
	var got backend.AnalysisNoteRequest
	fake := &fakeBackend{saveNoteFn: func(ctx context.Context, req backend.AnalysisNoteRequest) (backend.SaveNoteResponse, error) {
		got = req
		return backend.SaveNoteResponse{SavedNote: &backend.Note{ID: "77", Title: req.NoteTitle}}, nil
	}}
	session := New(fake, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "3", Name: "Q3 Report"})

	note, err := session.SaveMessageAsNote(context.Background(), Message{ID: "m1", Content: "Revenue grew"}, backend.NoteMetadata{})
	if err != nil {
		t.Fatalf("SaveMessageAsNote() error = %v", err)
	}
	if note.ID != "77" || got.NoteTitle != "Analysis of Q3 Report" {
		t.Fatalf("unexpected note %+v / request %+v", note, got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"analysis", "q3-report"}) || got.Color != "blue" {
		t.Fatalf("unexpected defaults: %+v", got.NoteRequest)
	}
	if got.SourceType != "analysis" || got.SourceID != "m1" || got.SourceDocument != "3" || got.Starred {
		t.Fatalf("unexpected source fields: %+v", got.NoteRequest)
	}
}

func TestSaveMessageAsNoteRequiresSavedNote(t *testing.T) {
	session := New(&fakeBackend{}, WithDebounce(time.Hour))
	defer session.Close()
	session.SelectDocument(backend.Document{ID: "3", Name: "Q3"})

	_, err := session.SaveMessageAsNote(context.Background(), Message{ID: "m1", Content: "x"}, backend.NoteMetadata{})
	var saveErr *NoteSaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("SaveMessageAsNote() error = %v, want NoteSaveError", err)
	}
	var shapeErr *backend.ReconciliationError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected wrapped ReconciliationError, got %v", err)
	}
}
