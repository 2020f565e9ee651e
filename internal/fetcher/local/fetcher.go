// Package local serves file:// paths and inline raw: HTML without the network.
package local

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// Fetcher implements crawler.Fetcher for local inputs.
type Fetcher struct{}

// New returns a local Fetcher.
func New() *Fetcher {
	return &Fetcher{}
}

// Name implements crawler.Fetcher.
func (f *Fetcher) Name() string {
	return crawler.StrategyLocal
}

// Supports accepts file:// and raw: inputs only.
func (f *Fetcher) Supports(rawURL string) bool {
	switch crawler.SchemeOf(rawURL) {
	case crawler.SchemeFile, crawler.SchemeRaw:
		return true
	default:
		return false
	}
}

// Fetch reads the file or returns the inline payload.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("local fetch canceled: %w", err)
	}
	start := time.Now()
	var body []byte
	switch crawler.SchemeOf(request.URL) {
	case crawler.SchemeRaw:
		trimmed := strings.TrimSpace(request.URL)
		body = []byte(trimmed[len(crawler.RawPrefix):])
	case crawler.SchemeFile:
		path, err := filePath(request.URL)
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		body, err = os.ReadFile(path)
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("read local file: %w", err)
		}
	default:
		return crawler.FetchResponse{}, fmt.Errorf("local fetcher cannot serve %q", request.URL)
	}
	return crawler.FetchResponse{
		URL:        request.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func filePath(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("file url %q has no path", rawURL)
	}
	return path, nil
}
