package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// ErrDisabled is returned by Noop when headless browsing is turned off.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop stands in for a browser strategy when headless browsing is disabled,
// so the attempt log still shows why the browser step failed.
type Noop struct {
	name string
}

// NewNoop creates a Noop reporting the given strategy name.
func NewNoop(name string) *Noop {
	return &Noop{name: name}
}

// Name implements crawler.Fetcher.
func (n Noop) Name() string {
	return n.name
}

// Supports limits the stub to the URLs a real browser would accept.
func (Noop) Supports(rawURL string) bool {
	return crawler.IsWebURL(rawURL)
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrDisabled
}
