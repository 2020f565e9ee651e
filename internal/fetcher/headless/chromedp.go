package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// Mode selects what a browser fetch returns.
type Mode string

const (
	// ModeDOM returns the rendered DOM after scripts have run.
	ModeDOM Mode = "dom"
	// ModeSource returns the document bytes as the browser received them.
	ModeSource Mode = "source"
)

// Fetcher is one browser strategy backed by a shared Browser.
type Fetcher struct {
	browser *Browser
	mode    Mode
}

// Name implements crawler.Fetcher.
func (f *Fetcher) Name() string {
	if f.mode == ModeSource {
		return crawler.StrategyBrowserSource
	}
	return crawler.StrategyBrowserDOM
}

// Supports limits the browser to http(s) URLs.
func (f *Fetcher) Supports(rawURL string) bool {
	return crawler.IsWebURL(rawURL)
}

// Fetch loads request.URL in a fresh tab. Document statuses of 400 and above
// come back as *crawler.StatusError so the chain can classify them.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	tab, done, err := f.browser.openTab(ctx)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer done()

	doc := &documentTracker{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var body, location string
	if err := chromedp.Run(tab, f.tasks(request, doc, &body, &location)); err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("browser fetch canceled: %w", ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("browser fetch %s: %w", f.mode, err)
	}

	resp := doc.response(request.URL, location)
	if resp.StatusCode >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &crawler.StatusError{Code: resp.StatusCode}
	}
	resp.Body = []byte(body)
	resp.Duration = time.Since(start)
	return resp, nil
}

func (f *Fetcher) tasks(request crawler.FetchRequest, doc *documentTracker, body, location *string) chromedp.Tasks {
	tasks := chromedp.Tasks{
		f.prepare(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(location),
	}
	if f.mode == ModeSource {
		return append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			id := doc.requestID()
			if id == "" {
				return errors.New("document response not observed")
			}
			raw, err := network.GetResponseBody(id).Do(ctx)
			if err != nil {
				return fmt.Errorf("read document body: %w", err)
			}
			*body = string(raw)
			return nil
		}))
	}
	if settle := f.browser.cfg.Settle; settle > 0 {
		tasks = append(tasks, chromedp.Sleep(settle))
	}
	return append(tasks, chromedp.OuterHTML("html", body, chromedp.ByQuery))
}

// prepare enables network events and applies the user agent and headers.
func (f *Fetcher) prepare(request crawler.FetchRequest) chromedp.Action {
	ua := f.browser.pickUserAgent(request)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := cdpHeaders(request.Headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set request headers: %w", err)
			}
		}
		return nil
	})
}

// cdpHeaders flattens h for the DevTools protocol. Single values stay strings.
func cdpHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for name, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[name] = values[0]
		default:
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
