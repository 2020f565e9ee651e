package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/metrics"
)

// allowAllRobots is served in place of a robots.txt that never answered.
const allowAllRobots = "User-agent: *\nAllow: /"

// defaultRobotsBackoff is the wait before each retry of a robots.txt probe.
var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsProbe retries robots.txt requests that time out during the TLS
// handshake. When every try times out the page fetch proceeds as if
// robots.txt allowed everything, and the probe remembers why.
type robotsProbe struct {
	base    http.RoundTripper
	pauser  crawler.Pauser
	backoff []time.Duration

	mu       sync.Mutex
	fallback string
}

func newRobotsProbe(base http.RoundTripper, pauser crawler.Pauser) *robotsProbe {
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	return &robotsProbe{base: base, pauser: pauser, backoff: defaultRobotsBackoff}
}

// RoundTrip passes page requests straight through and retries robots.txt.
func (p *robotsProbe) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots probe: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := p.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	return p.probe(req)
}

func (p *robotsProbe) probe(req *http.Request) (*http.Response, error) {
	for try := 0; ; try++ {
		resp, err := p.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isHandshakeTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if try >= len(p.backoff) {
			p.markFallback(fmt.Sprintf("robots.txt timed out %d times", try+1))
			return allowAllResponse(req), nil
		}
		if perr := p.pauser.Pause(req.Context(), p.backoff[try]); perr != nil {
			return nil, fmt.Errorf("wait to retry robots.txt: %w", perr)
		}
	}
}

func (p *robotsProbe) markFallback(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fallback != "" {
		return
	}
	p.fallback = reason
	metrics.ObserveProbeTLSHandshakeTimeout()
}

// Fallback reports why robots.txt was assumed permissive, or "" if it was read.
func (p *robotsProbe) Fallback() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fallback
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout") || strings.Contains(err.Error(), "TLS handshake timeout")
}
