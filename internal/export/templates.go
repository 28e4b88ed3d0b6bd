package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var noteTemplate = template.Must(template.New("note").Funcs(template.FuncMap{
	"accent": accent,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(noteHTML))

// TemplateData holds data for note template rendering
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Tags        []string
	Source      string
	Color       string
	Starred     bool
	UpdatedAt   time.Time
}

// RenderNoteHTML renders the note template with provided data
func RenderNoteHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := noteTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderText is the plain-text download format: title, source, tags, then
// the content.
func RenderText(note Note) string {
	var b strings.Builder
	b.WriteString(note.Title)
	b.WriteString("\n\n")
	if line := sourceLine(note); line != "" {
		fmt.Fprintf(&b, "Source: %s\n", line)
	}
	if len(note.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(note.Tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(note.Content)
	if !strings.HasSuffix(note.Content, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

var noteColors = map[string]string{
	"blue":   "#2563eb",
	"purple": "#7c3aed",
	"green":  "#16a34a",
	"orange": "#ea580c",
	"cyan":   "#0891b2",
	"pink":   "#db2777",
}

func accent(color string) template.CSS {
	if hex, ok := noteColors[color]; ok {
		return template.CSS(hex)
	}
	return template.CSS(noteColors["blue"])
}

const noteHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1f2937; }
    h1 { border-bottom: 3px solid {{accent .Color}}; padding-bottom: 0.5rem; }
    .meta { color: #6b7280; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { display: inline-block; background: #f3f4f6; border-radius: 4px; padding: 0 0.4rem; margin-right: 0.3rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #e5e7eb; padding: 0.4rem; text-align: left; vertical-align: top; }
    pre { background: #f9fafb; padding: 1rem; white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{if .Starred}}&#9733; {{end}}{{.Title}}</h1>
  <div class="meta">
    {{if .Source}}<div>Source: {{.Source}}</div>{{end}}
    {{if not .UpdatedAt.IsZero}}<div>Updated {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>{{end}}
    {{if .Tags}}<div>{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</div>{{end}}
  </div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
