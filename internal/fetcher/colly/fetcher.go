// Package collyfetcher implements the direct-http strategy using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// UserAgents rotate per request. Empty keeps colly's default agent.
	UserAgents    []string
	RespectRobots bool
	Timeout       time.Duration
	// Pauser spaces robots.txt retries; nil sleeps on a timer.
	Pauser crawler.Pauser
	Logger *zap.Logger
}

// Fetcher implements crawler.Fetcher with one cloned collector per request.
// Clones share the transport and so its connection pool.
type Fetcher struct {
	cfg       Config
	base      *colly.Collector
	transport http.RoundTripper
	rotation  atomic.Uint64
	logger    *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newTransport()
	base := colly.NewCollector(colly.AllowURLRevisit())
	base.WithTransport(transport)
	return &Fetcher{
		cfg:       cfg,
		base:      base,
		transport: transport,
		logger:    logger.Named("colly"),
	}
}

// Name implements crawler.Fetcher.
func (f *Fetcher) Name() string {
	return crawler.StrategyDirectHTTP
}

// Supports limits the fetcher to http(s) URLs.
func (f *Fetcher) Supports(rawURL string) bool {
	return crawler.IsWebURL(rawURL)
}

// Fetch performs one GET. Responses of 400 and above return
// *crawler.StatusError; robots.txt refusals return colly.ErrRobotsTxtBlocked.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{request: request, start: time.Now()}
	c := f.base.Clone()
	c.SetRequestTimeout(f.cfg.Timeout)
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if ua := f.pickUserAgent(request); ua != "" {
		c.UserAgent = ua
	}
	var probe *robotsProbe
	if f.cfg.RespectRobots {
		probe = newRobotsProbe(f.transport, f.cfg.Pauser)
		c.WithTransport(probe)
	}
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)

	visited := make(chan error, 1)
	go func() { visited <- c.Visit(request.URL) }()

	var err error
	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("direct fetch canceled: %w", ctx.Err())
	case err = <-visited:
	}
	if probe != nil && probe.Fallback() != "" {
		f.logger.Warn("robots.txt unreachable, allowing fetch",
			zap.String("url", request.URL),
			zap.String("reason", probe.Fallback()),
		)
	}
	return v.result(err)
}

// pickUserAgent prefers the request's agent and otherwise rotates the pool.
func (f *Fetcher) pickUserAgent(request crawler.FetchRequest) string {
	if request.UserAgent != "" || len(f.cfg.UserAgents) == 0 {
		return request.UserAgent
	}
	n := f.rotation.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

// visit collects the callbacks of a single collector run.
type visit struct {
	request crawler.FetchRequest
	start   time.Time
	resp    crawler.FetchResponse
	failure error
}

func (v *visit) onRequest(r *colly.Request) {
	for name, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(name, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.resp = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode >= http.StatusBadRequest {
		v.failure = &crawler.StatusError{Code: r.StatusCode}
		return
	}
	v.failure = err
}

// result prefers the callback error, which carries the status, over the one
// returned by Visit.
func (v *visit) result(visitErr error) (crawler.FetchResponse, error) {
	if v.failure != nil {
		return crawler.FetchResponse{}, fmt.Errorf("direct fetch %s: %w", v.request.URL, v.failure)
	}
	if visitErr != nil {
		return crawler.FetchResponse{}, fmt.Errorf("direct fetch %s: %w", v.request.URL, visitErr)
	}
	return v.resp, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
