package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"bldg_sync/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

const defaultMaxBody = 2 * 1024 * 1024

// Page is a fetched document, decoded to UTF-8
type Page struct {
	URL        string // final URL after redirects
	StatusCode int
	HTML       []byte
}

// Fetcher retrieves one page. Errors are *Failure values.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher fetches plain HTML with browser-like headers
type HTTPFetcher struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	userAgent string
	maxBody   int64
}

func NewHTTPFetcher(client *http.Client, limiter *ratelimit.Limiter, userAgent string, maxBody int64) *HTTPFetcher {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &HTTPFetcher{client: client, limiter: limiter, userAgent: userAgent, maxBody: maxBody}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.WaitURL(ctx, url); err != nil {
			return nil, networkFailure(url, "rate limiter", 0, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, configFailure(fmt.Sprintf("invalid website url %q", url))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkFailure(url, "request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, networkFailure(url, "non-success status", resp.StatusCode, nil)
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, networkFailure(url, "decode body", resp.StatusCode, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, networkFailure(url, "read body", resp.StatusCode, err)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, networkFailure(url, fmt.Sprintf("blocked by %s", kind), resp.StatusCode, nil)
	}

	zap.L().Debug("fetched page",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	return &Page{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, HTML: bytes.TrimSpace(body)}, nil
}
