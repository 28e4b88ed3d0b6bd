package conversation

import (
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	GreetingText = "Hello! I'm your AI research assistant. Select a document from the left panel and ask me anything about it. " +
		"I can summarize, analyze trends, extract key insights, and answer specific questions."
	ErrorNoticeText = "Sorry, I encountered an error analyzing your query. Please try again."
	greetingID      = "1"
)

type Message struct {
	ID           string              `json:"id"`
	Role         Role                `json:"role"`
	Content      string              `json:"content"`
	CreatedAt    time.Time           `json:"createdAt"`
	Insights     []backend.Insight   `json:"insights"`
	TokenUsage   *backend.TokenUsage `json:"tokenUsage,omitempty"`
	IsStructured bool                `json:"isStructured"`
	// Synthetic marks the local greeting, which is never sent to the analyzer.
	Synthetic bool `json:"synthetic,omitempty"`
}

type Thread struct {
	DocumentID backend.ID `json:"documentId"`
	Messages   []Message  `json:"messages"`
	Pending    bool       `json:"pending"`
}

// with returns a copy of t with m appended. The receiver's slice is never
// written, so snapshots handed out earlier stay valid.
func (t Thread) with(m Message) Thread {
	messages := make([]Message, len(t.Messages), len(t.Messages)+1)
	copy(messages, t.Messages)
	t.Messages = append(messages, m)
	return t
}

func greeting(now time.Time) Message {
	return Message{
		ID:        greetingID,
		Role:      RoleAssistant,
		Content:   GreetingText,
		CreatedAt: now,
		Insights:  []backend.Insight{},
		Synthetic: true,
	}
}

type messageKey struct {
	id     string
	millis int64
}

// Dedup drops every message whose (id, createdAt in milliseconds) was already
// seen, keeping first-seen order.
func Dedup(messages []Message) []Message {
	seen := make(map[messageKey]struct{}, len(messages))
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		key := messageKey{id: m.ID, millis: m.CreatedAt.UnixMilli()}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// turns replays the thread to the analyzer as role-tagged turns.
func turns(messages []Message) []backend.Turn {
	out := make([]backend.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Synthetic {
			continue
		}
		role := "assistant"
		if m.Role == RoleUser {
			role = "user"
		}
		out = append(out, backend.Turn{Role: role, Content: m.Content})
	}
	return out
}

func hasReply(messages []Message, reply Message) bool {
	for _, m := range messages {
		if m.Role == reply.Role && m.Content == reply.Content && m.CreatedAt.UnixMilli() == reply.CreatedAt.UnixMilli() {
			return true
		}
	}
	return false
}

func fromHistory(records []backend.HistoryRecord) []Message {
	out := make([]Message, 0, len(records))
	for _, record := range records {
		wire := record.Message
		role := RoleAssistant
		if wire.Type == "user" || wire.Role == "user" {
			role = RoleUser
		}
		insights := wire.Insights
		if insights == nil {
			insights = []backend.Insight{}
		}
		out = append(out, Message{
			ID:           wire.ID.String(),
			Role:         role,
			Content:      string(wire.Content),
			CreatedAt:    wire.Timestamp.Time,
			Insights:     insights,
			TokenUsage:   wire.TokenUsage,
			IsStructured: wire.IsJSON,
		})
	}
	return out
}

func fromAnalysis(resp backend.AnalyzeResponse, format OutputFormat, now time.Time, newID func() string) Message {
	id := resp.ID.String()
	if id == "" {
		id = newID()
	}
	createdAt := resp.Timestamp.Time
	if createdAt.IsZero() {
		createdAt = now
	}
	insights := resp.Insights
	if insights == nil {
		insights = []backend.Insight{}
	}
	return Message{
		ID:           id,
		Role:         RoleAssistant,
		Content:      string(resp.Content),
		CreatedAt:    createdAt,
		Insights:     insights,
		TokenUsage:   resp.TokenUsage,
		IsStructured: format == FormatJSON,
	}
}
