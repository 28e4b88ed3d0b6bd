package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a backend identifier. The backend emits integers; ids minted by the
// client are strings. Both decode into the same type.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = ID(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(number.String())
	return nil
}

// MarshalJSON writes canonical integers as JSON numbers. Anything else,
// including "007" or "+1", stays a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

// Text decodes a JSON string as-is and keeps any other JSON value as its
// compact source text. Structured analysis content arrives as an object.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*t = Text(value)
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return err
		}
		*t = Text(compact.String())
	}
	return nil
}

// Timestamp accepts RFC 3339 and the zone-less ISO form some serializers
// emit. Empty and null decode to the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var value *string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if value == nil || strings.TrimSpace(*value) == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, *value); err == nil {
			ts.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decode timestamp: unsupported format %q", *value)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

type Document struct {
	ID         ID        `json:"id"`
	Name       string    `json:"name"`
	FileType   string    `json:"file_type"`
	Size       int64     `json:"size"`
	UploadedAt Timestamp `json:"uploaded_at"`
}

// DocumentRef is a document reference that the backend sends either as a bare
// id or as an embedded {id, name} object.
type DocumentRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name,omitempty"`
}

func (d *DocumentRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		type plain DocumentRef
		var ref plain
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*d = DocumentRef(ref)
		return nil
	}
	var id ID
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	*d = DocumentRef{ID: id}
	return nil
}

type Insight struct {
	Label Text `json:"label"`
	Value Text `json:"value"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HistoryRecord wraps one stored chat message.
type HistoryRecord struct {
	Message HistoryMessage `json:"message"`
}

type HistoryMessage struct {
	ID         ID          `json:"id"`
	Type       string      `json:"type"`
	Role       string      `json:"role"`
	Content    Text        `json:"content"`
	Timestamp  Timestamp   `json:"timestamp"`
	Insights   []Insight   `json:"insights"`
	TokenUsage *TokenUsage `json:"token_usage"`
	IsJSON     bool        `json:"is_json"`
}

// Turn is one prior message replayed to the analyzer.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnalyzeRequest struct {
	DocumentID   ID     `json:"document_id"`
	Query        string `json:"query"`
	ChatHistory  []Turn `json:"chat_history"`
	OutputFormat string `json:"output_format,omitempty"`
}

type AnalyzeResponse struct {
	ID         ID          `json:"id,omitempty"`
	Content    Text        `json:"content"`
	Insights   []Insight   `json:"insights"`
	TokenUsage *TokenUsage `json:"token_usage"`
	Timestamp  Timestamp   `json:"timestamp"`
}

// NoteRequest is the note metadata accepted by the notes endpoint and by the
// analyze and compare endpoints when save_to_notes is set.
type NoteRequest struct {
	NoteTitle      string   `json:"note_title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	SourceDocument ID       `json:"source_document"`
	SourceType     string   `json:"source_type"`
	SourceID       string   `json:"source_id"`
	Starred        bool     `json:"starred"`
	Color          string   `json:"color"`
	SaveToNotes    bool     `json:"save_to_notes"`
}

type AnalysisNoteRequest struct {
	DocumentID  ID     `json:"document_id"`
	Query       string `json:"query"`
	ChatHistory []Turn `json:"chat_history"`
	NoteRequest
}

type ComparisonNoteRequest struct {
	Document1ID ID `json:"document1_id"`
	Document2ID ID `json:"document2_id"`
	NoteRequest
}

type SaveNoteResponse struct {
	SavedNote *Note `json:"saved_note"`
}

type Note struct {
	ID             ID           `json:"id"`
	Title          string       `json:"title"`
	Content        Text         `json:"content"`
	Tags           []string     `json:"tags"`
	SourceDocument *DocumentRef `json:"source_document"`
	SourceType     string       `json:"source_type"`
	SourceID       Text         `json:"source_id"`
	Starred        bool         `json:"starred"`
	Color          string       `json:"color"`
	CreatedAt      Timestamp    `json:"created_at"`
	UpdatedAt      Timestamp    `json:"updated_at"`
}

// NoteFields is a partial note update; nil fields are left out of the body.
type NoteFields struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Starred *bool     `json:"starred,omitempty"`
	Color   *string   `json:"color,omitempty"`
}

type User struct {
	ID          ID     `json:"id,omitempty"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

type Post struct {
	ID            ID        `json:"id"`
	User          User      `json:"user"`
	PostType      string    `json:"post_type"`
	Summary       string    `json:"summary,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Question      string    `json:"question,omitempty"`
	Title         string    `json:"title,omitempty"`
	Bullets       []string  `json:"bullets,omitempty"`
	Likes         int       `json:"likes"`
	IsLiked       bool      `json:"is_liked"`
	IsSaved       bool      `json:"is_saved"`
	CommentsCount int       `json:"comments_count"`
	Comments      []Comment `json:"comments,omitempty"`
	CreatedAt     Timestamp `json:"created_at"`
}

// NewPost is the create-post payload; only the fields of its type are sent.
type NewPost struct {
	PostType string   `json:"post_type"`
	Summary  string   `json:"summary,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Question string   `json:"question,omitempty"`
	Title    string   `json:"title,omitempty"`
	Bullets  []string `json:"bullets,omitempty"`
}

type Comment struct {
	ID        ID        `json:"id"`
	User      User      `json:"user"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

type Action string

const (
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
	ActionSave   Action = "save"
	ActionUnsave Action = "unsave"
)

// InteractResponse fields are pointers so a missing field is
// distinguishable from a zero value.
type InteractResponse struct {
	Likes   *int  `json:"likes"`
	IsLiked *bool `json:"is_liked"`
	IsSaved *bool `json:"is_saved"`
}

type UploadResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type CompareRequest struct {
	Document1ID  ID     `json:"document1_id"`
	Document2ID  ID     `json:"document2_id"`
	OutputFormat string `json:"output_format,omitempty"`
}

type KeyDifference struct {
	Category  Text `json:"category"`
	Doc1Value Text `json:"doc1Value"`
	Doc2Value Text `json:"doc2Value"`
	Change    Text `json:"change"`
	Insight   Text `json:"insight"`
}

type ComparisonResult struct {
	ID              ID              `json:"id,omitempty"`
	Summary         Text            `json:"summary"`
	KeyDifferences  []KeyDifference `json:"keyDifferences"`
	Insights        []Text          `json:"insights"`
	Recommendations []Text          `json:"recommendations"`
	IsJSON          bool            `json:"is_json"`
}

type CompareResponse struct {
	Result    *ComparisonResult `json:"result"`
	SavedNote *Note             `json:"saved_note"`
}

type ComparisonRecord struct {
	ID        ID               `json:"id"`
	Document1 DocumentRef      `json:"document1"`
	Document2 DocumentRef      `json:"document2"`
	Result    ComparisonResult `json:"result"`
	CreatedAt Timestamp        `json:"created_at"`
}
