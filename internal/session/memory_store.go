package session

import (
	"context"
	"sync"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
)

// MemoryStore is the session store used when no Redis URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, record Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.entries[sessionID] = memoryEntry{record: record, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, sessionID)
		return Record{}, ErrNotFound
	}
	return entry.record, nil
}

func (s *MemoryStore) UpdateCredential(ctx context.Context, sessionID string, cred auth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return ErrNotFound
	}
	entry.record.Credential = cred
	s.entries[sessionID] = entry
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}
