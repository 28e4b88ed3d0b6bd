package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strings"
	"unicode"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^*\s][^*]*)\*`)
	codePattern   = regexp.MustCompile("`([^`]+)`")
	orderedItem   = regexp.MustCompile(`^\d+[.)]\s+`)
)

// MarkdownToHTML converts the markdown subset the analysis service emits:
// headings, bullet and numbered lists, fenced code, bold, italic and inline
// code. Everything else is escaped text in paragraphs.
func MarkdownToHTML(source string) template.HTML {
	var out strings.Builder
	var paragraph []string
	list := ""
	inCode := false

	flushParagraph := func() {
		if len(paragraph) > 0 {
			fmt.Fprintf(&out, "<p>%s</p>\n", strings.Join(paragraph, "<br>"))
			paragraph = nil
		}
	}
	closeList := func() {
		if list != "" {
			fmt.Fprintf(&out, "</%s>\n", list)
			list = ""
		}
	}
	openList := func(kind string) {
		if list != kind {
			closeList()
			fmt.Fprintf(&out, "<%s>\n", kind)
			list = kind
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			flushParagraph()
			closeList()
			if inCode {
				out.WriteString("</code></pre>\n")
			} else {
				out.WriteString("<pre><code>")
			}
			inCode = !inCode
			continue
		}
		if inCode {
			out.WriteString(html.EscapeString(line))
			out.WriteString("\n")
			continue
		}

		switch {
		case trimmed == "":
			flushParagraph()
			closeList()
		case strings.HasPrefix(trimmed, "#"):
			flushParagraph()
			closeList()
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			if level > 6 {
				level = 6
			}
			text := strings.TrimSpace(trimmed[level:])
			fmt.Fprintf(&out, "<h%d>%s</h%d>\n", level, inline(text), level)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushParagraph()
			openList("ul")
			fmt.Fprintf(&out, "<li>%s</li>\n", inline(strings.TrimSpace(trimmed[2:])))
		case orderedItem.MatchString(trimmed):
			flushParagraph()
			openList("ol")
			fmt.Fprintf(&out, "<li>%s</li>\n", inline(orderedItem.ReplaceAllString(trimmed, "")))
		default:
			closeList()
			paragraph = append(paragraph, inline(trimmed))
		}
	}
	if inCode {
		out.WriteString("</code></pre>\n")
	}
	flushParagraph()
	closeList()
	return template.HTML(out.String())
}

func inline(text string) string {
	escaped := html.EscapeString(text)
	escaped = codePattern.ReplaceAllString(escaped, "<code>$1</code>")
	escaped = boldPattern.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicPattern.ReplaceAllString(escaped, "<em>$1</em>")
	return escaped
}

// field keeps JSON object members in document order.
type field struct {
	key   string
	value any
}

type object []field

// StructuredToHTML renders a structured (JSON) note. Objects become headed
// sections in their original key order, arrays of objects become tables and
// other arrays become lists. Content that is not JSON is shown verbatim.
func StructuredToHTML(content string) template.HTML {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	value, err := decodeOrdered(dec)
	if err == nil {
		if _, trailing := dec.Token(); trailing != io.EOF {
			err = fmt.Errorf("trailing data")
		}
	}
	if err != nil {
		return template.HTML("<pre>" + html.EscapeString(content) + "</pre>\n")
	}
	var out bytes.Buffer
	renderValue(&out, value, 2)
	return template.HTML(out.String())
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch delim := tok.(type) {
	case json.Delim:
		switch delim {
		case '{':
			obj := object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, field{key: key, value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			list := []any{}
			for dec.More() {
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	default:
		return tok, nil
	}
}

func renderValue(out *bytes.Buffer, value any, level int) {
	switch v := value.(type) {
	case object:
		for _, f := range v {
			if isScalar(f.value) {
				fmt.Fprintf(out, "<p><strong>%s:</strong> %s</p>\n", html.EscapeString(label(f.key)), scalarText(f.value))
				continue
			}
			heading := level
			if heading > 6 {
				heading = 6
			}
			fmt.Fprintf(out, "<h%d>%s</h%d>\n", heading, html.EscapeString(label(f.key)), heading)
			renderValue(out, f.value, level+1)
		}
	case []any:
		if columns, ok := tableColumns(v); ok {
			out.WriteString("<table>\n<tr>")
			for _, column := range columns {
				fmt.Fprintf(out, "<th>%s</th>", html.EscapeString(label(column)))
			}
			out.WriteString("</tr>\n")
			for _, row := range v {
				out.WriteString("<tr>")
				for _, column := range columns {
					fmt.Fprintf(out, "<td>%s</td>", scalarText(lookup(row.(object), column)))
				}
				out.WriteString("</tr>\n")
			}
			out.WriteString("</table>\n")
			return
		}
		out.WriteString("<ul>\n")
		for _, item := range v {
			if isScalar(item) {
				fmt.Fprintf(out, "<li>%s</li>\n", scalarText(item))
				continue
			}
			out.WriteString("<li>")
			renderValue(out, item, level+1)
			out.WriteString("</li>\n")
		}
		out.WriteString("</ul>\n")
	default:
		fmt.Fprintf(out, "<p>%s</p>\n", scalarText(v))
	}
}

// tableColumns returns the union of keys when every element is an object
// of scalars.
func tableColumns(items []any) ([]string, bool) {
	if len(items) == 0 {
		return nil, false
	}
	var columns []string
	seen := map[string]bool{}
	for _, item := range items {
		obj, ok := item.(object)
		if !ok {
			return nil, false
		}
		for _, f := range obj {
			if !isScalar(f.value) {
				return nil, false
			}
			if !seen[f.key] {
				seen[f.key] = true
				columns = append(columns, f.key)
			}
		}
	}
	return columns, len(columns) > 0
}

func lookup(obj object, key string) any {
	for _, f := range obj {
		if f.key == key {
			return f.value
		}
	}
	return nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case object, []any:
		return false
	}
	return true
}

func scalarText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return inline(v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	default:
		return html.EscapeString(fmt.Sprint(v))
	}
}

// label turns snake_case and camelCase keys into "Title Case" headings.
func label(key string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = nil
		}
	}
	for i, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && i > 0:
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
