// Package profile holds the signed-in user's account details and the
// activity view built from the other dashboard components.
package profile

import (
	"context"
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/feed"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
)

var avatarExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

type Backend interface {
	Me(ctx context.Context) (backend.User, error)
	UpdateMe(ctx context.Context, in backend.ProfileUpdate) (backend.User, error)
	UserComments(ctx context.Context) ([]backend.Comment, error)
}

type Snapshot struct {
	User     *backend.User     `json:"user"`
	Comments []backend.Comment `json:"comments"`
	Loaded   bool              `json:"loaded"`
	Error    string            `json:"error,omitempty"`
}

// Activity is what the profile page lists under its tabs.
type Activity struct {
	Posts     []feed.Post        `json:"posts"`
	Documents []backend.Document `json:"documents"`
	Notes     []backend.Note     `json:"notes"`
}

type Manager struct {
	backend  Backend
	notifier notify.Notifier

	mu       sync.Mutex
	user     *backend.User
	comments []backend.Comment
	loaded   bool
	err      string
}

func New(b Backend, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Manager{backend: b, notifier: notifier, comments: []backend.Comment{}}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{Comments: m.comments, Loaded: m.loaded, Error: m.err}
	if m.user != nil {
		user := *m.user
		snap.User = &user
	}
	return snap
}

// User returns the loaded account, if any.
func (m *Manager) User() (backend.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return backend.User{}, false
	}
	return *m.user, true
}

func (m *Manager) Load(ctx context.Context) error {
	user, err := m.backend.Me(ctx)
	m.mu.Lock()
	m.loaded = true
	if err != nil {
		m.err = "Failed to load profile data. Please try again."
		m.mu.Unlock()
		m.notifier.Notify(notify.LevelError, "Failed to load profile data. Please try again.")
		return fmt.Errorf("load profile: %w", err)
	}
	m.user = &user
	m.err = ""
	m.mu.Unlock()
	return nil
}

// LoadComments fetches every comment the user wrote.
func (m *Manager) LoadComments(ctx context.Context) ([]backend.Comment, error) {
	comments, err := m.backend.UserComments(ctx)
	if err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to load comments")
		return nil, fmt.Errorf("load user comments: %w", err)
	}
	m.mu.Lock()
	m.comments = comments
	m.mu.Unlock()
	return comments, nil
}

// Update validates and submits the edit form, then refetches the account.
// When the refetch fails the submitted fields are applied locally.
func (m *Manager) Update(ctx context.Context, in backend.ProfileUpdate) (backend.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	if in.Username == "" {
		return backend.User{}, &backend.ValidationError{Field: "username", Message: "Username is required"}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return backend.User{}, &backend.ValidationError{Field: "email", Message: "Invalid email address"}
		}
	}
	if in.Avatar != nil && !avatarExtensions[strings.ToLower(filepath.Ext(in.Avatar.Name))] {
		return backend.User{}, &backend.ValidationError{Field: "avatar", Message: "Profile image must be an image file"}
	}

	if _, err := m.backend.UpdateMe(ctx, in); err != nil {
		m.notifier.Notify(notify.LevelError, "Failed to update profile. Please try again.")
		return backend.User{}, fmt.Errorf("update profile: %w", err)
	}

	user, err := m.backend.Me(ctx)
	if err != nil {
		current, _ := m.User()
		current.Username = in.Username
		if in.Email != "" {
			current.Email = in.Email
		}
		if in.CompanyName != "" {
			current.CompanyName = in.CompanyName
		}
		user = current
	}
	m.mu.Lock()
	m.user = &user
	m.loaded = true
	m.err = ""
	m.mu.Unlock()
	m.notifier.Notify(notify.LevelSuccess, "Profile updated successfully")
	return user, nil
}

// BuildActivity keeps the posts authored by userID. Documents and notes
// are already scoped to the user by the backend.
func BuildActivity(userID backend.ID, posts []feed.Post, documents []backend.Document, notes []backend.Note) Activity {
	own := make([]feed.Post, 0)
	if userID != "" {
		for _, post := range posts {
			if post.Author.ID == userID {
				own = append(own, post)
			}
		}
	}
	if documents == nil {
		documents = []backend.Document{}
	}
	if notes == nil {
		notes = []backend.Note{}
	}
	return Activity{Posts: own, Documents: documents, Notes: notes}
}

// Initials is the avatar fallback: first letters of the first and last
// words, or the first two letters of a single word.
func Initials(username string) string {
	words := strings.Fields(username)
	switch {
	case len(words) == 0:
		return "U"
	case len(words) > 1:
		first := []rune(words[0])
		last := []rune(words[len(words)-1])
		return strings.ToUpper(string(first[0]) + string(last[0]))
	default:
		runes := []rune(words[0])
		if len(runes) > 2 {
			runes = runes[:2]
		}
		return strings.ToUpper(string(runes))
	}
}
