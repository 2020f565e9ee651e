// Package chain tries an ordered list of fetch strategies for one URL until
// one succeeds, recording every try.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/metrics"
)

// Config controls ordering, timeouts, and retries.
type Config struct {
	Order          crawler.StrategyOrder
	AttemptTimeout time.Duration
	Headers        http.Header
	// Retry is consulted after each failed try; nil disables retries.
	Retry crawler.RetryPolicy
	// Detector flags direct-http shells for browser promotion; nil disables it.
	Detector crawler.HeadlessDetector
	// Policy gates web fetches per domain; nil disables it.
	Policy crawler.Policy
	Pauser crawler.Pauser
}

// Chain implements the strategy fallback. It is safe for concurrent use.
type Chain struct {
	cfg        Config
	strategies []crawler.Fetcher
	logger     *zap.Logger
}

// New resolves the order against the registered fetchers. A fetcher named
// crawler.StrategyLocal, when registered, is always consulted first.
func New(cfg Config, registry []crawler.Fetcher, logger *zap.Logger) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pauser == nil {
		cfg.Pauser = crawler.TimerPauser{}
	}
	byName := make(map[string]crawler.Fetcher, len(registry))
	for _, f := range registry {
		byName[f.Name()] = f
	}
	names := cfg.Order.Strategies()
	if len(names) == 0 {
		return nil, &crawler.ConfigurationError{Field: "crawl.strategy", Reason: fmt.Sprintf("unknown strategy order %q", cfg.Order)}
	}
	var strategies []crawler.Fetcher
	if local, ok := byName[crawler.StrategyLocal]; ok {
		strategies = append(strategies, local)
	}
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return nil, &crawler.ConfigurationError{Field: "crawl.strategy", Reason: fmt.Sprintf("no fetcher registered for %s", name)}
		}
		strategies = append(strategies, f)
	}
	return &Chain{cfg: cfg, strategies: strategies, logger: logger.Named("chain")}, nil
}

// Strategies returns the resolved strategy names in try order.
func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, f := range c.strategies {
		names = append(names, f.Name())
	}
	return names
}

// Fetch walks the strategies for url. record, when non-nil, receives every
// try in order. Cancellation of ctx yields a *crawler.CancellationError and
// exhaustion a *crawler.RetrievalError.
func (c *Chain) Fetch(ctx context.Context, url string, record func(crawler.Attempt)) (crawler.FetchOutcome, error) {
	if record == nil {
		record = func(crawler.Attempt) {}
	}
	var (
		attempts int
		last     error
		shell    *crawler.FetchOutcome
	)
	for i, f := range c.strategies {
		if s, ok := f.(crawler.SchemeSupporter); ok && !s.Supports(url) {
			continue
		}
		for try := 1; ; try++ {
			if err := ctx.Err(); err != nil {
				return crawler.FetchOutcome{}, &crawler.CancellationError{Cause: err}
			}
			start := time.Now()
			outcome, probe, err := c.try(ctx, f, url)
			attempts++
			attempt := crawler.Attempt{Strategy: f.Name(), Try: try, Duration: time.Since(start)}

			if err == nil && c.isShell(f, i, probe) {
				attempt.Outcome = crawler.OutcomeShell
				c.observe(url, attempt)
				record(attempt)
				metrics.ObserveShellPromotion()
				shell = &outcome
				break
			}
			if err == nil {
				attempt.Outcome = crawler.OutcomeSuccess
				c.observe(url, attempt)
				record(attempt)
				return outcome, nil
			}

			if ctx.Err() != nil {
				return crawler.FetchOutcome{}, &crawler.CancellationError{Cause: ctx.Err()}
			}
			attempt.Outcome = classify(err)
			attempt.Err = err.Error()
			c.observe(url, attempt)
			record(attempt)
			last = err

			if c.cfg.Retry == nil || !c.cfg.Retry.ShouldRetry(err, try) {
				break
			}
			if perr := c.cfg.Pauser.Pause(ctx, c.cfg.Retry.Backoff(try)); perr != nil {
				return crawler.FetchOutcome{}, &crawler.CancellationError{Cause: ctx.Err()}
			}
		}
	}
	if shell != nil {
		c.logger.Debug("browser strategies failed, keeping direct shell", zap.String("url", url))
		return *shell, nil
	}
	if attempts == 0 {
		return crawler.FetchOutcome{}, &crawler.RetrievalError{URL: url, Last: crawler.ErrNoStrategy}
	}
	return crawler.FetchOutcome{}, &crawler.RetrievalError{URL: url, Attempts: attempts, Last: last}
}

func (c *Chain) try(ctx context.Context, f crawler.Fetcher, url string) (crawler.FetchOutcome, crawler.FetchResponse, error) {
	if c.cfg.Policy != nil && crawler.IsWebURL(url) {
		if err := c.cfg.Policy.Wait(ctx, url); err != nil {
			return crawler.FetchOutcome{}, crawler.FetchResponse{}, fmt.Errorf("wait for rate limit: %w", err)
		}
	}
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	resp, err := f.Fetch(attemptCtx, crawler.FetchRequest{URL: url, Headers: c.cfg.Headers.Clone()})
	if err != nil {
		return crawler.FetchOutcome{}, resp, fmt.Errorf("%s: %w", f.Name(), err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return crawler.FetchOutcome{}, resp, fmt.Errorf("%s: %w", f.Name(), &crawler.StatusError{Code: resp.StatusCode})
	}
	text, err := Normalize(resp)
	if err != nil {
		return crawler.FetchOutcome{}, resp, fmt.Errorf("%s: normalize body: %w", f.Name(), err)
	}
	resp.Body = []byte(text)
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = url
	}
	return crawler.FetchOutcome{
		URL:         finalURL,
		HTML:        text,
		Strategy:    f.Name(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Headers.Get("Content-Type"),
	}, resp, nil
}

// isShell reports whether a direct-http success should be handed to a later
// browser strategy.
func (c *Chain) isShell(f crawler.Fetcher, idx int, probe crawler.FetchResponse) bool {
	if c.cfg.Detector == nil || f.Name() != crawler.StrategyDirectHTTP || idx == len(c.strategies)-1 {
		return false
	}
	return c.cfg.Detector.ShouldPromote(probe)
}

func (c *Chain) observe(url string, attempt crawler.Attempt) {
	metrics.ObserveAttempt(attempt.Strategy, string(attempt.Outcome), attempt.Duration)
	c.logger.Debug("fetch attempt",
		zap.String("url", url),
		zap.String("strategy", attempt.Strategy),
		zap.Int("try", attempt.Try),
		zap.String("outcome", string(attempt.Outcome)),
		zap.String("error", attempt.Err),
		zap.Duration("duration", attempt.Duration),
	)
}

func classify(err error) crawler.AttemptOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.OutcomeTimeout
	}
	return crawler.OutcomeError
}
