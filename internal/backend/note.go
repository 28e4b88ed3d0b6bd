package backend

import (
	"slices"
	"strings"

	"github.com/Abhijagtp/ThinkThank/internal/util"
)

// NoteColors is the palette the dashboard renders notes with.
var NoteColors = []string{"blue", "purple", "green", "orange", "cyan", "pink"}

// NoteMetadata is what the user types into a save-to-notes form.
type NoteMetadata struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Color string   `json:"color"`
}

// Resolve fills in defaults and validates the color. Tags are trimmed and
// lowercased; when none remain, defaultTags are used.
func (m NoteMetadata) Resolve(defaultTitle string, defaultTags []string, defaultColor string) (NoteMetadata, error) {
	out := NoteMetadata{
		Title: strings.TrimSpace(m.Title),
		Tags:  util.SplitTags(strings.Join(m.Tags, ",")),
		Color: strings.ToLower(strings.TrimSpace(m.Color)),
	}
	if out.Title == "" {
		out.Title = defaultTitle
	}
	if out.Title == "" {
		return NoteMetadata{}, &ValidationError{Field: "title", Message: "Note title cannot be empty"}
	}
	if len(out.Tags) == 0 {
		out.Tags = append([]string(nil), defaultTags...)
	}
	if out.Color == "" {
		out.Color = defaultColor
	}
	if !slices.Contains(NoteColors, out.Color) {
		return NoteMetadata{}, &ValidationError{Field: "color", Message: "Unsupported note color"}
	}
	return out, nil
}
