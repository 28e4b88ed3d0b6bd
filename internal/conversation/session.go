// Package conversation keeps the chat thread for the selected document in
// step with the backend's stored history.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/metrics"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
	"github.com/Abhijagtp/ThinkThank/internal/util"
)

const DefaultDebounce = 100 * time.Millisecond

type State int

const (
	StateIdle State = iota
	StateLoading
	StateSending
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSending:
		return "sending"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
)

type Backend interface {
	ChatHistory(ctx context.Context, documentID backend.ID) ([]backend.HistoryRecord, error)
	Analyze(ctx context.Context, req backend.AnalyzeRequest) (backend.AnalyzeResponse, error)
	SaveAnalysisNote(ctx context.Context, req backend.AnalysisNoteRequest) (backend.SaveNoteResponse, error)
}

type Snapshot struct {
	Document *backend.Document `json:"document"`
	Thread   Thread            `json:"thread"`
	State    State             `json:"state"`
	Format   OutputFormat      `json:"outputFormat"`
}

type Option func(*Session)

func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounce = d }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithObserver registers fn to receive a snapshot after every state change.
// fn runs without the session lock held.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observer = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns one chat thread. History loads and sends share a single
// in-flight slot: while one runs, the other is refused.
type Session struct {
	backend  Backend
	notifier notify.Notifier
	observer func(Snapshot)
	debounce time.Duration
	now      func() time.Time
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	doc        *backend.Document
	thread     Thread
	format     OutputFormat
	generation uint64
	timer      *time.Timer
	deferred   bool
	closed     bool
}

func New(b Backend, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:  b,
		notifier: notify.Discard,
		debounce: DefaultDebounce,
		now:      time.Now,
		newID:    func() string { return util.NewID("msg") },
		ctx:      ctx,
		cancel:   cancel,
		format:   FormatMarkdown,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.thread = Thread{Messages: []Message{greeting(s.now())}}
	return s
}

// Close stops any scheduled load and cancels loads started by the scheduler.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{Thread: s.thread, State: s.state, Format: s.format}
	if s.doc != nil {
		doc := *s.doc
		snap.Document = &doc
	}
	return snap
}

func (s *Session) emit(snap Snapshot) {
	if s.observer != nil {
		s.observer(snap)
	}
}

// Message looks up a message of the current thread by id.
func (s *Session) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.thread.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Session) SetOutputFormat(format OutputFormat) error {
	if format != FormatMarkdown && format != FormatJSON {
		return &backend.ValidationError{Field: "output_format", Message: "Unsupported output format"}
	}
	s.mu.Lock()
	s.format = format
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return nil
}

// SelectDocument replaces the thread with a fresh one showing only the
// greeting and schedules a history load after the debounce window. A load
// that comes due while another operation is in flight runs when it finishes.
func (s *Session) SelectDocument(doc backend.Document) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	selected := doc
	s.doc = &selected
	s.thread = Thread{DocumentID: doc.ID, Messages: []Message{greeting(s.now())}, Pending: true}
	if s.timer != nil {
		s.timer.Stop()
	}
	if !s.closed {
		s.timer = time.AfterFunc(s.debounce, func() { s.scheduledLoad(gen) })
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) scheduledLoad(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.doc == nil || s.closed {
		s.mu.Unlock()
		return
	}
	documentID := s.doc.ID
	s.mu.Unlock()

	if err := s.load(s.ctx, documentID, true); err != nil && !errors.Is(err, ErrBusy) {
		log.Printf("conversation: scheduled history load: %v", err)
	}
}

// LoadHistory fetches and applies the stored history of documentID. The
// result is dropped if another document was selected meanwhile.
func (s *Session) LoadHistory(ctx context.Context, documentID backend.ID) error {
	return s.load(ctx, documentID, false)
}

func (s *Session) load(ctx context.Context, documentID backend.ID, deferIfBusy bool) error {
	s.mu.Lock()
	if s.state != StateIdle {
		if deferIfBusy {
			s.deferred = true
		}
		s.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("conversation", "load_history").Inc()
		return ErrBusy
	}
	s.state = StateLoading
	gen := s.generation
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer s.release()
	s.emit(snap)

	records, err := s.backend.ChatHistory(ctx, documentID)
	if err != nil {
		s.mu.Lock()
		current := s.isCurrent(gen, documentID)
		if current {
			thread := s.thread
			thread.Pending = false
			s.thread = thread
		}
		s.mu.Unlock()
		if current {
			s.notifier.Notify(notify.LevelError, "Failed to load chat history")
		}
		return &HistoryFetchError{DocumentID: documentID, Err: err}
	}

	history := Dedup(fromHistory(records))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isCurrent(gen, documentID) {
		metrics.StaleDiscards.WithLabelValues("conversation").Inc()
		log.Printf("conversation: discarded stale history for document %s", documentID)
		return nil
	}
	if len(history) == 0 {
		history = []Message{s.greetingLocked()}
	}
	s.thread = Thread{DocumentID: documentID, Messages: history}
	return nil
}

func (s *Session) isCurrent(gen uint64, documentID backend.ID) bool {
	return s.doc != nil && s.doc.ID == documentID && s.generation == gen
}

func (s *Session) greetingLocked() Message {
	if len(s.thread.Messages) > 0 && s.thread.Messages[0].Synthetic {
		return s.thread.Messages[0]
	}
	return greeting(s.now())
}

// release returns the session to idle and starts a load that was deferred
// while the slot was taken.
func (s *Session) release() {
	s.mu.Lock()
	s.state = StateIdle
	runDeferred := s.deferred && s.doc != nil && !s.closed
	s.deferred = false
	gen := s.generation
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	if runDeferred {
		go s.scheduledLoad(gen)
	}
}

// SendMessage appends text as a user message and asks the analyzer about the
// selected document. Blank text, no selection, or an operation already in
// flight make it a no-op reported through ErrEmptyMessage, ErrNoDocument
// and ErrBusy. A failed analysis leaves an assistant error notice in the
// thread and returns a *SendError.
func (s *Session) SendMessage(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return Message{}, ErrNoDocument
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("conversation", "send").Inc()
		return Message{}, ErrBusy
	}
	s.state = StateSending
	gen := s.generation
	documentID := s.doc.ID
	format := s.format
	history := turns(s.thread.Messages)
	user := Message{
		ID:        s.newID(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: s.now(),
		Insights:  []backend.Insight{},
	}
	s.thread = s.thread.with(user)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer s.release()
	s.emit(snap)

	resp, err := s.backend.Analyze(ctx, backend.AnalyzeRequest{
		DocumentID:   documentID,
		Query:        text,
		ChatHistory:  history,
		OutputFormat: string(format),
	})
	if err != nil {
		notice := Message{
			ID:        s.newID(),
			Role:      RoleAssistant,
			Content:   ErrorNoticeText,
			CreatedAt: s.now(),
			Insights:  []backend.Insight{},
		}
		s.mu.Lock()
		if s.generation == gen {
			s.thread = s.thread.with(notice)
		}
		s.mu.Unlock()
		s.notifier.Notify(notify.LevelError, "Analysis failed: "+backend.Reason(err))
		return notice, &SendError{Err: err}
	}

	reply := fromAnalysis(resp, format, s.now(), s.newID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		metrics.StaleDiscards.WithLabelValues("conversation").Inc()
		log.Printf("conversation: discarded reply for document %s after re-selection", documentID)
		return reply, nil
	}
	if !hasReply(s.thread.Messages, reply) {
		s.thread = s.thread.with(reply)
	}
	return reply, nil
}

// SaveMessageAsNote stores message as a note sourced from the selected
// document. The title defaults to "Analysis of <document name>".
func (s *Session) SaveMessageAsNote(ctx context.Context, message Message, meta backend.NoteMetadata) (backend.Note, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return backend.Note{}, ErrNoDocument
	}
	doc := *s.doc
	s.mu.Unlock()

	resolved, err := meta.Resolve("Analysis of "+doc.Name, []string{"analysis", util.Slug(doc.Name)}, "blue")
	if err != nil {
		return backend.Note{}, err
	}

	resp, err := s.backend.SaveAnalysisNote(ctx, backend.AnalysisNoteRequest{
		DocumentID:  doc.ID,
		Query:       message.Content,
		ChatHistory: []backend.Turn{},
		NoteRequest: backend.NoteRequest{
			NoteTitle:      resolved.Title,
			Content:        message.Content,
			Tags:           resolved.Tags,
			SourceDocument: doc.ID,
			SourceType:     "analysis",
			SourceID:       message.ID,
			Starred:        false,
			Color:          resolved.Color,
		},
	})
	if err != nil {
		s.notifier.Notify(notify.LevelError, "Failed to save note: "+backend.Reason(err))
		return backend.Note{}, &NoteSaveError{Err: err}
	}
	if resp.SavedNote == nil {
		s.notifier.Notify(notify.LevelError, "Failed to save note: No note returned")
		return backend.Note{}, &NoteSaveError{Err: &backend.ReconciliationError{Op: "save_analysis_note", Detail: "no note returned"}}
	}
	s.notifier.Notify(notify.LevelSuccess, "Note saved successfully")
	return *resp.SavedNote, nil
}
