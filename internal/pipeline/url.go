package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/docflowd/docflow/internal/models"
)

// URLConnector fetches a web page, and optionally the same-host pages it
// links to when the ingest config sets "follow_links". Fetches are rate
// limited so a directory-sized link list doesn't hammer the origin.
type URLConnector struct {
	Client      *http.Client
	Limiter     *rate.Limiter
	MaxPages    int
	Concurrency int
}

// NewURLConnector applies the defaults: 4 requests per second, at most 50
// linked pages, 4 fetches in flight.
func NewURLConnector() *URLConnector {
	return &URLConnector{
		Client:      &http.Client{Timeout: 30 * time.Second},
		Limiter:     rate.NewLimiter(rate.Limit(4), 1),
		MaxPages:    50,
		Concurrency: 4,
	}
}

func (*URLConnector) Type() models.SourceType { return models.SourceURL }

func (c *URLConnector) Fetch(ctx context.Context, src *models.DocSource, emit EmitFunc, progress ProgressFunc) error {
	base, err := url.Parse(src.URI)
	if err != nil {
		return fmt.Errorf("parse source uri: %w", err)
	}

	data, err := c.get(ctx, src.URI)
	if err != nil {
		return err
	}
	if err := emit(ctx, Artifact{OriginalURI: src.URI, Data: data}); err != nil {
		return err
	}

	follow, _ := src.IngestConfig["follow_links"].(bool)
	if !follow {
		report(progress, 1)
		return nil
	}

	links := sameHostLinks(base, data, c.MaxPages)
	slog.Debug("url connector following links", "uri", src.URI, "links", len(links))
	if len(links) == 0 {
		report(progress, 1)
		return nil
	}

	var mu sync.Mutex
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for _, link := range links {
		g.Go(func() error {
			page, err := c.get(gctx, link)
			if err != nil {
				// A dead link is not a failed ingestion.
				slog.Warn("skipping unreachable link", "uri", link, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err := emit(gctx, Artifact{OriginalURI: link, Data: page}); err != nil {
				return err
			}
			done++
			report(progress, float64(done)/float64(len(links)))
			return nil
		})
	}
	return g.Wait()
}

func (c *URLConnector) get(ctx context.Context, uri string) ([]byte, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return data, nil
}

// sameHostLinks extracts up to max absolute links pointing at the base host.
func sameHostLinks(base *url.URL, page []byte, max int) []string {
	root, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil
	}

	seen := map[string]bool{base.String(): true}
	var links []string
	for n := range root.Descendants() {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		for _, attr := range n.Attr {
			if attr.Key != "href" {
				continue
			}
			ref, err := url.Parse(attr.Val)
			if err != nil {
				continue
			}
			abs := base.ResolveReference(ref)
			abs.Fragment = ""
			if abs.Host != base.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
				continue
			}
			s := abs.String()
			if seen[s] {
				continue
			}
			seen[s] = true
			links = append(links, s)
			if len(links) >= max {
				return links
			}
		}
	}
	return links
}
