// Package notify collects user-facing notices raised by background operations.
package notify

import (
	"log"
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notice struct {
	Seq     uint64    `json:"seq"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives fire-and-forget notices. Implementations must not block.
type Notifier interface {
	Notify(level Level, message string)
}

// Discard drops every notice.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Level, string) {}

// Feed is a bounded notice buffer that a browser drains by polling.
type Feed struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	notices []Notice
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 100
	}
	return &Feed{limit: limit}
}

func (f *Feed) Notify(level Level, message string) {
	log.Printf("notify: %s: %s", level, message)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.notices = append(f.notices, Notice{Seq: f.seq, Level: level, Message: message, At: time.Now().UTC()})
	if overflow := len(f.notices) - f.limit; overflow > 0 {
		f.notices = append([]Notice(nil), f.notices[overflow:]...)
	}
}

// Drain returns buffered notices in order and empties the buffer.
func (f *Feed) Drain() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.notices
	f.notices = nil
	if out == nil {
		return []Notice{}
	}
	return out
}
