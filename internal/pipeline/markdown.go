package pipeline

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is what the splitter lifts out of a document besides its
// segments: the YAML frontmatter fields worth keeping.
type Metadata struct {
	Title    string
	Summary  string
	Keywords []string
	Authors  []string
}

var h1Regex = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// splitFrontmatter separates an optional leading YAML frontmatter block
// from the body. bodyStart is the body's byte offset in the input, so
// segment offsets can stay relative to the stored content. Malformed YAML
// is ignored rather than failing the whole document.
func splitFrontmatter(content string) (meta Metadata, body string, bodyStart int) {
	body = content
	if !strings.HasPrefix(content, "---\n") {
		meta.Title = firstH1(body)
		return meta, body, 0
	}
	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		meta.Title = firstH1(body)
		return meta, body, 0
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(content[4:4+end]), &fm); err != nil {
		fm = nil
	}

	bodyStart = 4 + end + 4
	if bodyStart < len(content) && content[bodyStart] == '\n' {
		bodyStart++
	}
	body = content[bodyStart:]

	meta = Metadata{
		Title:    fmString(fm, "title"),
		Summary:  fmString(fm, "summary"),
		Keywords: fmStrings(fm, "keywords"),
		Authors:  fmStrings(fm, "authors"),
	}
	if meta.Summary == "" {
		meta.Summary = fmString(fm, "description")
	}
	if meta.Keywords == nil {
		meta.Keywords = fmStrings(fm, "tags")
	}
	if meta.Authors == nil {
		if a := fmString(fm, "author"); a != "" {
			meta.Authors = []string{a}
		}
	}
	if meta.Title == "" {
		meta.Title = firstH1(body)
	}
	return meta, body, bodyStart
}

func firstH1(body string) string {
	if m := h1Regex.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func fmString(fm map[string]any, key string) string {
	if v, ok := fm[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func fmStrings(fm map[string]any, key string) []string {
	switch v := fm[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// section is one heading plus the text under it, with byte offsets into
// the body it was scanned from.
type section struct {
	level   int // 0 means preamble before the first heading
	heading string
	body    string
	start   int
	end     int
}

var headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// scanSections cuts the body at markdown headings. Text before the first
// heading becomes a level-0 preamble section.
func scanSections(body string) []section {
	var sections []section
	var cur *section
	var content strings.Builder

	offset := 0
	flush := func(end int) {
		if cur == nil {
			return
		}
		cur.body = strings.TrimSpace(content.String())
		cur.end = end
		if cur.body != "" || cur.heading != "" {
			sections = append(sections, *cur)
		}
		content.Reset()
		cur = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lineStart := offset
		offset += len(line) + 1

		if m := headingRegex.FindStringSubmatch(line); len(m) > 0 {
			flush(lineStart)
			cur = &section{
				level:   len(m[1]),
				heading: strings.TrimSpace(m[2]),
				start:   lineStart,
			}
			continue
		}
		if cur == nil {
			cur = &section{level: 0, start: lineStart}
		}
		content.WriteString(line)
		content.WriteString("\n")
	}
	flush(min(offset, len(body)))
	return sections
}
