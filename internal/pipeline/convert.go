package pipeline

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// Conversion is the normalized form of one raw artifact.
type Conversion struct {
	// Content is markdown, whatever the input was.
	Content string
	Title   string
}

// Converter normalizes raw artifact bytes to markdown. HTML is converted,
// markdown and plain text pass through.
type Converter struct{}

// Convert picks a normalization strategy from the original URI's extension,
// falling back to sniffing the payload.
func (Converter) Convert(originalURI string, raw []byte) (*Conversion, error) {
	switch ext := strings.ToLower(path.Ext(strippedPath(originalURI))); ext {
	case ".html", ".htm":
		return convertHTML(raw)
	case ".md", ".markdown", ".txt", ".text":
		return &Conversion{Content: string(raw)}, nil
	case "":
		if looksLikeHTML(raw) {
			return convertHTML(raw)
		}
		return &Conversion{Content: string(raw)}, nil
	default:
		if looksLikeHTML(raw) {
			return convertHTML(raw)
		}
		if !isMostlyText(raw) {
			return nil, fmt.Errorf("unsupported content type for %s", originalURI)
		}
		return &Conversion{Content: string(raw)}, nil
	}
}

func convertHTML(raw []byte) (*Conversion, error) {
	md, err := htmltomarkdown.ConvertString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	return &Conversion{Content: md, Title: htmlTitle(raw)}, nil
}

// htmlTitle pulls the <title> text, if any.
func htmlTitle(raw []byte) string {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	for n := range root.Descendants() {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	return ""
}

func looksLikeHTML(raw []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(raw))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<head")) ||
		bytes.Contains(head, []byte("<body"))
}

// isMostlyText is a cheap binary detector: a NUL byte means not text.
func isMostlyText(raw []byte) bool {
	return !bytes.ContainsRune(raw, 0)
}

// strippedPath drops scheme and query so path.Ext sees the file name.
func strippedPath(uri string) string {
	s := uri
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return s
}
