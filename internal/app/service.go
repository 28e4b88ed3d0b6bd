package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/comparison"
	"github.com/Abhijagtp/ThinkThank/internal/config"
	"github.com/Abhijagtp/ThinkThank/internal/conversation"
	"github.com/Abhijagtp/ThinkThank/internal/feed"
	"github.com/Abhijagtp/ThinkThank/internal/notes"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
	"github.com/Abhijagtp/ThinkThank/internal/profile"
	"github.com/Abhijagtp/ThinkThank/internal/search"
	"github.com/Abhijagtp/ThinkThank/internal/session"
	"github.com/Abhijagtp/ThinkThank/internal/upload"
	"github.com/Abhijagtp/ThinkThank/internal/util"
)

const (
	noticeLimit     = 100
	defaultSyncCron = "*/15 * * * *"
	// Used for opaque tokens that carry no subject claim.
	localOwner = "local"
)

// Check reports whether one optional dependency is reachable.
type Check func(ctx context.Context) error

// Deps are the optional collaborators wired by cmd/thinkthank. A nil field
// disables the feature that needs it.
type Deps struct {
	Sessions session.Store
	Mirror   notes.Mirror
	Search   *search.Service
	Exporter notes.Exporter
	Checks   map[string]Check
}

// Workspace is everything one dashboard session works with: the credential,
// the backend client built on it and one instance of every component.
type Workspace struct {
	SessionID    string
	UserID       string
	Credentials  *auth.Holder
	Client       *backend.Client
	Notices      *notify.Feed
	Conversation *conversation.Session
	Feed         *feed.Engine
	Uploads      *upload.Manager
	Comparison   *comparison.Session
	Notes        *notes.Manager
	Profile      *profile.Manager
}

// ProfileView is the profile page: the account plus the user's own posts,
// documents and saved notes as currently loaded.
type ProfileView struct {
	profile.Snapshot
	Activity profile.Activity `json:"activity"`
}

func (w *Workspace) close() {
	w.Conversation.Close()
}

type Service struct {
	cfg      config.Config
	sessions session.Store
	mirror   notes.Mirror
	search   *search.Service
	exporter notes.Exporter
	checks   map[string]Check
	now      func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
	syncing    atomic.Bool
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}
	if deps.Mirror == nil {
		deps.Mirror = notes.NoMirror
	}
	return &Service{
		cfg:        cfg,
		sessions:   deps.Sessions,
		mirror:     deps.Mirror,
		search:     deps.Search,
		exporter:   deps.Exporter,
		checks:     deps.Checks,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// StartSession stores cred under a new local session id and builds the
// workspace for it.
func (s *Service) StartSession(ctx context.Context, cred auth.Credential) (*Workspace, error) {
	cred.Access = strings.TrimSpace(cred.Access)
	cred.Refresh = strings.TrimSpace(cred.Refresh)
	if cred.Access == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "access token is required", map[string]any{"field": "access"})
	}
	if cred.Refresh == "" && auth.Expired(cred.Access, s.now(), 0) {
		return nil, domainError(http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token has expired", nil)
	}

	userID := auth.Subject(cred.Access)
	if userID == "" {
		userID = localOwner
	}
	record := session.Record{Credential: cred, UserID: userID, CreatedAt: s.now().UTC()}
	sessionID := util.NewID("sess")
	if err := s.sessions.Save(ctx, sessionID, record, s.cfg.SessionTTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	ws := s.newWorkspace(sessionID, record)
	s.mu.Lock()
	s.workspaces[sessionID] = ws
	s.mu.Unlock()
	log.Printf("app: session started for user %s", userID)
	return ws, nil
}

// Workspace resolves a session id. The session store is consulted on every
// call so an expired or revoked session stops working even while its
// workspace is cached; a known session without a workspace (after a restart
// with Redis) gets a fresh one.
func (s *Service) Workspace(ctx context.Context, sessionID string) (*Workspace, error) {
	record, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.dropWorkspace(sessionID)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[sessionID]; ok {
		return ws, nil
	}
	ws := s.newWorkspace(sessionID, record)
	s.workspaces[sessionID] = ws
	return ws, nil
}

func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	s.dropWorkspace(sessionID)
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) dropWorkspace(sessionID string) {
	s.mu.Lock()
	ws, ok := s.workspaces[sessionID]
	delete(s.workspaces, sessionID)
	s.mu.Unlock()
	if ok {
		ws.close()
	}
}

func (s *Service) newWorkspace(sessionID string, record session.Record) *Workspace {
	holder := auth.NewHolder(record.Credential)
	refresher := backend.NewTokenRefresher(s.cfg.BackendURL, s.cfg.RefreshPath, holder, func(cred auth.Credential) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sessions.UpdateCredential(ctx, sessionID, cred); err != nil {
			log.Printf("app: persist refreshed credential: %v", err)
		}
	})
	client := backend.New(s.cfg.BackendURL, holder,
		backend.WithTimeout(s.cfg.RequestTimeout),
		backend.WithRateLimit(s.cfg.RequestRPS, s.cfg.RequestBurst),
		backend.WithRefresher(refresher),
	)

	notices := notify.NewFeed(noticeLimit)
	convOpts := []conversation.Option{conversation.WithNotifier(notices)}
	if s.cfg.HistoryDebounce > 0 {
		convOpts = append(convOpts, conversation.WithDebounce(s.cfg.HistoryDebounce))
	}
	noteOpts := []notes.Option{notes.WithMirror(s.mirror)}
	if s.exporter != nil {
		noteOpts = append(noteOpts, notes.WithExporter(s.exporter))
	}

	return &Workspace{
		SessionID:    sessionID,
		UserID:       record.UserID,
		Credentials:  holder,
		Client:       client,
		Notices:      notices,
		Conversation: conversation.New(client, convOpts...),
		Feed:         feed.New(client, notices),
		Uploads:      upload.New(client, notices),
		Comparison:   comparison.New(client, notices),
		Notes:        notes.New(client, record.UserID, notices, noteOpts...),
		Profile:      profile.New(client, notices),
	}
}

func (s *Service) activeWorkspaces() []*Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Document finds a document by id in the workspace's document list,
// refetching the list once when it is not there.
func (s *Service) Document(ctx context.Context, ws *Workspace, id backend.ID) (backend.Document, error) {
	if doc, ok := findDocument(ws.Uploads.Snapshot().Documents, id); ok {
		return doc, nil
	}
	if err := ws.Uploads.RefreshDocuments(ctx); err != nil {
		return backend.Document{}, err
	}
	if doc, ok := findDocument(ws.Uploads.Snapshot().Documents, id); ok {
		return doc, nil
	}
	return backend.Document{}, notFound("Document", map[string]any{"documentId": id})
}

func findDocument(docs []backend.Document, id backend.ID) (backend.Document, bool) {
	for _, doc := range docs {
		if doc.ID == id {
			return doc, true
		}
	}
	return backend.Document{}, false
}

// DocumentRef names a document for a comparison. Unknown ids are passed
// through without a name and left for the backend to reject.
func (s *Service) DocumentRef(ctx context.Context, ws *Workspace, id backend.ID) backend.DocumentRef {
	if strings.TrimSpace(id.String()) == "" {
		return backend.DocumentRef{}
	}
	doc, err := s.Document(ctx, ws, id)
	if err != nil {
		return backend.DocumentRef{ID: id}
	}
	return backend.DocumentRef{ID: doc.ID, Name: doc.Name}
}

// LoadProfile fetches the account, the feed, the documents and the notes
// together. The first failure is returned once all have finished.
func (s *Service) LoadProfile(ctx context.Context, ws *Workspace) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ws.Profile.Load(ctx) })
	g.Go(func() error { return ws.Feed.LoadFeed(ctx) })
	g.Go(func() error { return ws.Uploads.RefreshDocuments(ctx) })
	g.Go(func() error { return ws.Notes.Load(ctx) })
	return g.Wait()
}

// Profile builds the profile page from what the workspace has loaded.
// Posts are matched on the account id, or the token subject before the
// account is loaded.
func (s *Service) Profile(ws *Workspace) ProfileView {
	snap := ws.Profile.Snapshot()
	userID := backend.ID("")
	if snap.User != nil {
		userID = snap.User.ID
	} else if ws.UserID != localOwner {
		userID = backend.ID(ws.UserID)
	}
	return ProfileView{
		Snapshot: snap,
		Activity: profile.BuildActivity(userID, ws.Feed.Snapshot().Posts, ws.Uploads.Snapshot().Documents, ws.Notes.List(notes.View{Filter: notes.FilterAll})),
	}
}

// Search runs a full-text search over the workspace owner's mirrored notes.
func (s *Service) Search(ctx context.Context, ws *Workspace, q search.Query) (search.Response, error) {
	if s.search == nil || !s.search.Enabled() {
		return search.Response{}, search.ErrUnavailable
	}
	q.Owner = ws.UserID
	return s.search.Search(ctx, q)
}

// SyncNotes reloads the notes of every active workspace, which refreshes
// their mirrors. It returns how many workspaces loaded successfully.
func (s *Service) SyncNotes(ctx context.Context) int {
	synced := 0
	for _, ws := range s.activeWorkspaces() {
		if err := ws.Notes.Load(ctx); err != nil {
			log.Printf("app: notes sync for user %s: %v", ws.UserID, err)
			continue
		}
		synced++
	}
	return synced
}

// StartNotesSync runs SyncNotes on the configured cron schedule until ctx is
// done. A run that is still going when the next tick fires makes that tick
// a no-op.
func (s *Service) StartNotesSync(ctx context.Context) (context.CancelFunc, error) {
	expr := strings.TrimSpace(s.cfg.NotesSyncCron)
	if expr == "" {
		expr = defaultSyncCron
	}
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid notes sync cron expression: %s", expr)
	}
	ctx, cancel := context.WithCancel(ctx)
	go s.runNotesSync(ctx, expr)
	log.Printf("app: notes sync scheduled (%s)", expr)
	return cancel, nil
}

func (s *Service) runNotesSync(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, s.now().UTC(), false)
		wait := 30 * time.Second
		if err != nil {
			log.Printf("app: notes sync next tick: %v", err)
		} else {
			wait = time.Until(next)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}
		go s.syncOnce(ctx)
	}
}

func (s *Service) syncOnce(ctx context.Context) {
	if !s.syncing.CompareAndSwap(false, true) {
		log.Printf("app: notes sync still running, skipping tick")
		return
	}
	defer s.syncing.Store(false)
	started := s.now()
	synced := s.SyncNotes(ctx)
	log.Printf("app: notes sync finished: %d workspaces in %s", synced, time.Since(started).Round(time.Millisecond))
}

// Ready runs every configured dependency check.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := make(map[string]any, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ok = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}

// Close stops every workspace. Sessions stay in the store.
func (s *Service) Close() {
	s.mu.Lock()
	workspaces := s.workspaces
	s.workspaces = make(map[string]*Workspace)
	s.mu.Unlock()
	for _, ws := range workspaces {
		ws.close()
	}
	if s.search != nil {
		s.search.Close()
	}
}
