package scraper

import (
	"context"
	"sync"
	"time"

	"bldg_sync/ratelimit"
	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserFetcher renders JavaScript-heavy sites in headless Chromium.
// One browser is shared; every fetch gets its own context.
type BrowserFetcher struct {
	limiter   *ratelimit.Limiter
	userAgent string
	waitFor   func(url string) string

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewBrowserFetcher(limiter *ratelimit.Limiter, userAgent string, waitFor func(url string) string) *BrowserFetcher {
	return &BrowserFetcher{limiter: limiter, userAgent: userAgent, waitFor: waitFor}
}

func (b *BrowserFetcher) ensureBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return eris.Wrap(err, "could not start playwright")
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return eris.Wrap(err, "could not launch browser")
	}
	b.pw = pw
	b.browser = browser
	return nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if b.limiter != nil {
		if err := b.limiter.WaitURL(ctx, url); err != nil {
			return nil, networkFailure(url, "rate limiter", 0, err)
		}
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, networkFailure(url, "browser unavailable", 0, err)
	}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(b.userAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
		Locale:    playwright.String("en-US"),
	})
	if err != nil {
		return nil, networkFailure(url, "browser context", 0, err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, networkFailure(url, "browser page", 0, err)
	}

	timeout := 60000.0
	if dl, ok := ctx.Deadline(); ok {
		if remaining := float64(time.Until(dl).Milliseconds()); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, networkFailure(url, "navigation failed", 0, err)
	}
	status := 0
	if resp != nil {
		status = resp.Status()
		if status < 200 || status > 299 {
			return nil, networkFailure(url, "non-success status", status, nil)
		}
	}

	if b.waitFor != nil {
		if sel := b.waitFor(url); sel != "" {
			if _, err := page.WaitForSelector(sel, playwright.PageWaitForSelectorOptions{
				Timeout: playwright.Float(15000),
			}); err != nil {
				zap.L().Debug("wait_for selector not found", zap.String("url", url), zap.String("selector", sel))
			}
		}
	}
	// let client-side widgets settle
	page.WaitForTimeout(1500)

	content, err := page.Content()
	if err != nil {
		return nil, networkFailure(url, "read page content", status, err)
	}
	if blocked, kind := DetectBlock(nil, []byte(content)); blocked {
		return nil, networkFailure(url, "blocked by "+string(kind), status, nil)
	}

	return &Page{URL: page.URL(), StatusCode: status, HTML: []byte(content)}, nil
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
}
