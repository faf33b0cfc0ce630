package pipeline

import (
	"strconv"
	"strings"

	"github.com/docflowd/docflow/internal/models"
)

// SplitConfig tunes how document bodies are cut up.
type SplitConfig struct {
	// MaxSegmentSize is the body length above which a section gets
	// sub-chunked into child segments.
	MaxSegmentSize int
	// MinSegmentSize merges trailing tiny paragraphs into their
	// predecessor instead of emitting noise segments.
	MinSegmentSize int
}

// DefaultSplitConfig returns the standing defaults.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{MaxSegmentSize: 2000, MinSegmentSize: 200}
}

// HeadingSplitter cuts a document into segments along its markdown heading
// hierarchy. Heading nesting maps directly onto dot-separated positions:
// the second h2 under the first h1 becomes "1.2", its oversized body spills
// into children "1.2.1", "1.2.2" and so on. Frontmatter is lifted into
// Metadata rather than segmented.
type HeadingSplitter struct {
	Config SplitConfig
}

// Split returns the segments of doc in document order, ids unset. An empty
// body yields zero segments, which is a valid outcome, not an error.
func (s HeadingSplitter) Split(doc *models.Document) ([]*models.Segment, *Metadata, error) {
	cfg := s.Config
	if cfg.MaxSegmentSize <= 0 {
		cfg = DefaultSplitConfig()
	}

	meta, body, bodyStart := splitFrontmatter(doc.Content)
	sections := scanSections(body)

	var segs []*models.Segment
	add := func(pos, heading, content, label string, start, end int) {
		segs = append(segs, &models.Segment{
			DocumentID:  doc.ID,
			DocSinkID:   doc.DocSinkID,
			KBID:        doc.KBID,
			Content:     content,
			Position:    pos,
			Heading:     heading,
			StartOffset: bodyStart + start,
			EndOffset:   bodyStart + end,
			Label:       label,
		})
	}

	counters := map[string]int{}
	next := func(parent string) string {
		counters[parent]++
		n := strconv.Itoa(counters[parent])
		if parent == "" {
			return n
		}
		return parent + "." + n
	}

	type frame struct {
		level int
		pos   string
	}
	var stack []frame

	for _, sec := range sections {
		parent := ""
		if sec.level > 0 {
			for len(stack) > 0 && stack[len(stack)-1].level >= sec.level {
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 {
				parent = stack[len(stack)-1].pos
			}
		} else {
			stack = stack[:0]
		}
		pos := next(parent)
		if sec.level > 0 {
			stack = append(stack, frame{sec.level, pos})
		}

		label := "section"
		if sec.level == 0 {
			label = "preamble"
		}

		if len(sec.body) <= cfg.MaxSegmentSize {
			content := sec.body
			if content == "" {
				content = sec.heading
			}
			add(pos, sec.heading, content, label, sec.start, sec.end)
			continue
		}

		// Oversized section: the heading anchors the position, the body
		// spills into child passages.
		add(pos, sec.heading, sec.heading, label, sec.start, sec.end)
		bodyOff := sec.start
		if i := strings.Index(body[sec.start:sec.end], sec.body); i >= 0 {
			bodyOff = sec.start + i
		}
		for _, ch := range chunkParagraphs(sec.body, cfg.MaxSegmentSize, cfg.MinSegmentSize) {
			add(next(pos), sec.heading, ch.text, "passage", bodyOff+ch.start, bodyOff+ch.end)
		}
	}

	return segs, &meta, nil
}

type chunkSpan struct {
	text  string
	start int
	end   int
}

// chunkParagraphs groups paragraphs into chunks of at most max bytes,
// preserving byte offsets into the input. A single paragraph longer than
// max becomes one oversized chunk rather than being cut mid-sentence.
func chunkParagraphs(text string, max, min int) []chunkSpan {
	var chunks []chunkSpan
	var cur *chunkSpan

	flush := func() {
		if cur == nil {
			return
		}
		chunks = append(chunks, *cur)
		cur = nil
	}

	for start := 0; start < len(text); {
		end := len(text)
		if rel := strings.Index(text[start:], "\n\n"); rel >= 0 {
			end = start + rel
		}
		para := text[start:end]
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			start = end + 2
			continue
		}
		lead := len(para) - len(strings.TrimLeft(para, " \t\r\n"))
		pStart := start + lead
		pEnd := pStart + len(trimmed)

		switch {
		case cur == nil:
			cur = &chunkSpan{text: trimmed, start: pStart, end: pEnd}
		case len(cur.text)+2+len(trimmed) > max && len(trimmed) >= min:
			flush()
			cur = &chunkSpan{text: trimmed, start: pStart, end: pEnd}
		default:
			cur.text += "\n\n" + trimmed
			cur.end = pEnd
		}
		start = end + 2
	}
	flush()
	return chunks
}
