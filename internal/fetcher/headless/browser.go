// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

const defaultNavigationTimeout = 45 * time.Second

// BrowserConfig controls the shared headless Chrome.
type BrowserConfig struct {
	// MaxParallel caps open tabs across every fetcher of the browser.
	// Zero means unlimited.
	MaxParallel int
	// UserAgents rotate per fetch across both modes. Empty keeps Chrome's agent.
	UserAgents        []string
	NavigationTimeout time.Duration
	// Settle is an extra wait after the body is ready, used in DOM mode.
	Settle time.Duration
}

// Browser owns one Chrome allocator. The DOM and source fetchers it hands out
// share its process and tab budget. Chrome starts on the first fetch.
type Browser struct {
	cfg      BrowserConfig
	slots    *semaphore.Weighted
	alloc    context.Context
	cancel   context.CancelFunc
	rotation atomic.Uint64
}

// NewBrowser validates cfg and prepares the allocator.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	cfg.Settle = max(cfg.Settle, 0)

	b := &Browser{cfg: cfg}
	if cfg.MaxParallel > 0 {
		b.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
	)
	b.alloc, b.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return b, nil
}

// Fetcher returns the strategy that reads pages in the given mode.
func (b *Browser) Fetcher(mode Mode) (*Fetcher, error) {
	switch mode {
	case ModeDOM, ModeSource:
		return &Fetcher{browser: b, mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown headless mode %q", mode)
	}
}

// Close shuts Chrome down. Fetches in flight fail.
func (b *Browser) Close() {
	b.cancel()
}

// pickUserAgent prefers the request's agent and otherwise rotates the pool.
func (b *Browser) pickUserAgent(request crawler.FetchRequest) string {
	if request.UserAgent != "" || len(b.cfg.UserAgents) == 0 {
		return request.UserAgent
	}
	n := b.rotation.Add(1) - 1
	return b.cfg.UserAgents[n%uint64(len(b.cfg.UserAgents))]
}

// openTab waits for a free slot and opens a tab bounded by the navigation
// timeout and ctx. The returned func releases both.
func (b *Browser) openTab(ctx context.Context) (context.Context, func(), error) {
	if b.slots != nil {
		if err := b.slots.Acquire(ctx, 1); err != nil {
			return nil, nil, fmt.Errorf("wait for browser tab: %w", err)
		}
	}
	tab, closeTab := chromedp.NewContext(b.alloc)
	tab, cancelNav := context.WithTimeout(tab, b.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancelNav)
	return tab, func() {
		stop()
		cancelNav()
		closeTab()
		if b.slots != nil {
			b.slots.Release(1)
		}
	}, nil
}
