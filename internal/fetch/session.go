package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/pricewatch/pricewatch/internal/browser"
	"github.com/pricewatch/pricewatch/internal/config"
	"github.com/pricewatch/pricewatch/internal/models"
)

// payloadPathMarkers identify API-ish responses worth capturing while a
// page loads; their JSON bodies feed the structured-payload extraction
// stage.
var payloadPathMarkers = []string{
	"/api/",
	"composer-api",
	"widget-info",
}

const maxCapturedPayloads = 32

// SessionFetcher is the full strategy: a persistent browser context loaded
// from the region profile, home page warm-up, response interception and
// humanized scrolling. Exactly one page is live at a time; Release closes
// it before the coordinator moves to the next target.
type SessionFetcher struct {
	browser *browser.Browser
	homeURL string
	logger  *slog.Logger

	mu   sync.Mutex
	page playwright.Page

	// capMu guards captured separately: response callbacks fire while
	// Fetch still holds mu during navigation.
	capMu    sync.Mutex
	captured [][]byte
}

func NewSessionFetcher(cfg config.FetchConfig, region *models.RegionProfile, logger *slog.Logger) (*SessionFetcher, error) {
	if region == nil || region.StoragePath == "" {
		return nil, errors.New("session strategy requires a region profile with a storage path")
	}

	opts := browser.DefaultOptions()
	opts.StoragePath = region.StoragePath
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout

	b, err := browser.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	f := &SessionFetcher{
		browser: b,
		homeURL: cfg.HomeURL,
		logger:  logger.With("component", "session_fetcher", "region", region.Name),
	}

	// Warm up on the home page so the saved locale/pickup-point cookies
	// get applied before the first target.
	if err := f.warmUp(); err != nil {
		b.Close()
		return nil, err
	}

	return f, nil
}

func (f *SessionFetcher) warmUp() error {
	page, err := f.browser.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open warm-up page: %w", err)
	}
	defer page.Close()

	if _, err := page.Goto(f.homeURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("failed to load home page: %w", err)
	}

	page.WaitForTimeout(2000)
	return nil
}

func (f *SessionFetcher) Fetch(ctx context.Context, target string) (*RawDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closePageLocked()

	page, err := f.browser.NewPage()
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	f.page = page
	f.resetCaptured()

	page.OnResponse(func(resp playwright.Response) {
		if !looksLikePayload(resp) {
			return
		}
		body, err := resp.Body()
		if err != nil || len(body) == 0 {
			return
		}
		f.capMu.Lock()
		if len(f.captured) < maxCapturedPayloads {
			f.captured = append(f.captured, body)
		}
		f.capMu.Unlock()
	})

	f.logger.Info("navigating to target", "url", truncateURL(target))

	if _, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		if strings.Contains(err.Error(), "Timeout") {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	// Scroll down to trigger lazily mounted price widgets and look less
	// like a headless visitor.
	f.scrollLocked(page)
	page.WaitForTimeout(1500)

	return f.snapshotLocked(page)
}

func (f *SessionFetcher) snapshotLocked(page playwright.Page) (*RawDocument, error) {
	html, err := page.Content()
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	f.capMu.Lock()
	payloads := make([][]byte, len(f.captured))
	copy(payloads, f.captured)
	f.capMu.Unlock()

	return &RawDocument{HTML: html, Payloads: payloads}, nil
}

func (f *SessionFetcher) resetCaptured() {
	f.capMu.Lock()
	f.captured = nil
	f.capMu.Unlock()
}

// Scroll nudges the current page; the anti-block handler calls this between
// re-checks during its recovery loop.
func (f *SessionFetcher) Scroll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.page == nil {
		return nil
	}
	f.scrollLocked(f.page)
	return nil
}

func (f *SessionFetcher) scrollLocked(page playwright.Page) {
	page.Evaluate(`() => window.scrollBy(0, 400 + Math.random() * 400)`)
}

// Reload re-navigates the current page in place and returns the fresh
// document, used after a challenge token was obtained.
func (f *SessionFetcher) Reload(ctx context.Context) (*RawDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.page == nil {
		return nil, &Error{Kind: KindNetwork, Err: errors.New("no page to reload")}
	}

	if _, err := f.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	f.page.WaitForTimeout(1500)

	return f.snapshotLocked(f.page)
}

// Release closes the page opened for the last target. It must run on every
// exit path before the next target starts.
func (f *SessionFetcher) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closePageLocked()
	return nil
}

func (f *SessionFetcher) closePageLocked() {
	if f.page != nil {
		f.page.Close()
		f.page = nil
	}
	f.resetCaptured()
}

func (f *SessionFetcher) Close() error {
	f.mu.Lock()
	f.closePageLocked()
	f.mu.Unlock()
	return f.browser.Close()
}

func looksLikePayload(resp playwright.Response) bool {
	u := resp.URL()
	for _, marker := range payloadPathMarkers {
		if strings.Contains(u, marker) {
			return true
		}
	}
	ct, err := resp.HeaderValue("content-type")
	if err == nil && strings.Contains(ct, "application/json") {
		return true
	}
	return false
}
