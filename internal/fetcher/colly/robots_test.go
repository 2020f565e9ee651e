package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return ctx.Err()
}

type scriptedTransport struct {
	results []error
	calls   int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.results) && s.results[idx] != nil {
		return nil, s.results[idx]
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.WriteString("User-agent: *\nDisallow: /private")
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func TestRobotsProbeFallsBackAfterRepeatedTimeouts(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{results: []error{
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded,
	}}
	pauser := &recordingPauser{}
	probe := newRobotsProbe(base, pauser)

	resp, err := probe.RoundTrip(httptest.NewRequest(http.MethodGet, "https://docs.example.com/robots.txt", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, allowAllRobots, string(body))
	assert.Equal(t, 4, base.calls)
	assert.Equal(t, defaultRobotsBackoff, pauser.delays)
	assert.Equal(t, "robots.txt timed out 4 times", probe.Fallback())
}

func TestRobotsProbeStopsRetryingOnSuccess(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{results: []error{errors.New("net/http: TLS handshake timeout")}}
	pauser := &recordingPauser{}
	probe := newRobotsProbe(base, pauser)

	resp, err := probe.RoundTrip(httptest.NewRequest(http.MethodGet, "https://docs.example.com/robots.txt", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, 2, base.calls)
	assert.Len(t, pauser.delays, 1)
	assert.Empty(t, probe.Fallback())
}

func TestRobotsProbeDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{results: []error{errors.New("connection refused")}}
	probe := newRobotsProbe(base, &recordingPauser{})

	_, err := probe.RoundTrip(httptest.NewRequest(http.MethodGet, "https://docs.example.com/robots.txt", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch robots.txt")
	assert.Equal(t, 1, base.calls)
}

func TestRobotsProbePassesPagesThrough(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{results: []error{context.DeadlineExceeded}}
	probe := newRobotsProbe(base, &recordingPauser{})

	_, err := probe.RoundTrip(httptest.NewRequest(http.MethodGet, "https://docs.example.com/guide", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.calls)
	assert.Empty(t, probe.Fallback())
}

func TestRobotsProbeHonorsCancellation(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{results: []error{context.DeadlineExceeded}}
	probe := newRobotsProbe(base, &recordingPauser{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "https://docs.example.com/robots.txt", nil).WithContext(ctx)

	_, err := probe.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, base.calls)
}
