package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /drafts")
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Echo-Agent", r.UserAgent())
		w.Header().Set("X-Echo-Trace", r.Header.Get("X-Trace"))
		_, _ = fmt.Fprint(w, "<html><body><h1>Introduction</h1></body></html>")
	})
	mux.HandleFunc("/drafts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "unpublished")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = fmt.Fprint(w, "late")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgents: []string{"agent-a", "agent-b"}, Timeout: 5 * time.Second})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/docs/intro",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<h1>Introduction</h1>")
	require.Equal(t, "agent-a", resp.Headers.Get("X-Echo-Agent"))
	require.Equal(t, "yes", resp.Headers.Get("X-Echo-Trace"))

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/docs/intro"})
	require.NoError(t, err)
	require.Equal(t, "agent-b", resp.Headers.Get("X-Echo-Agent"))
}

func TestFetchRequestAgentOverridesRotation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgents: []string{"agent-a"}})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/docs/intro", UserAgent: "override"})
	require.NoError(t, err)
	require.Equal(t, "override", resp.Headers.Get("X-Echo-Agent"))
}

func TestFetchNon2xxIsStatusError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := New(Config{RespectRobots: true}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/drafts"})
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/drafts"})
	require.NoError(t, err)
	require.Equal(t, "unpublished", string(resp.Body))
}

func TestNameAndSupports(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, crawler.StrategyDirectHTTP, f.Name())
	require.True(t, f.Supports("https://example.com"))
	require.False(t, f.Supports("file:///tmp/a.html"))
	require.False(t, f.Supports("raw:<p>x</p>"))
}

func TestVisitCollectsResponse(t *testing.T) {
	t.Parallel()

	v := &visit{
		request: crawler.FetchRequest{URL: "https://docs.example.com/guide", Headers: http.Header{"Accept-Language": {"en"}}},
		start:   time.Now(),
	}
	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Equal(t, "en", collyReq.Headers.Get("Accept-Language"))

	u, err := url.Parse("https://docs.example.com/guide/")
	require.NoError(t, err)
	body := []byte("<h1>Guide</h1>")
	v.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: u},
	})
	body[1] = 'x'

	resp, err := v.result(nil)
	require.NoError(t, err)
	require.Equal(t, "https://docs.example.com/guide/", resp.URL)
	require.Equal(t, "<h1>Guide</h1>", string(resp.Body))
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
}

func TestVisitErrors(t *testing.T) {
	t.Parallel()

	v := &visit{request: crawler.FetchRequest{URL: "https://docs.example.com"}}
	v.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	_, err := v.result(errors.New("visit failed"))
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)

	v = &visit{request: crawler.FetchRequest{URL: "https://docs.example.com"}}
	v.onError(nil, errors.New("connection reset"))
	_, err = v.result(nil)
	require.ErrorContains(t, err, "connection reset")

	v = &visit{request: crawler.FetchRequest{URL: "https://docs.example.com"}}
	errForbiddenDomain := errors.New("forbidden domain")
	_, err = v.result(errForbiddenDomain)
	require.ErrorIs(t, err, errForbiddenDomain)
}

func TestVisitWithoutHeaders(t *testing.T) {
	t.Parallel()

	v := &visit{}
	collyReq := &colly.Request{Headers: &http.Header{}}
	v.onRequest(collyReq)
	require.Empty(t, *collyReq.Headers)
}
