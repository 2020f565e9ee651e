package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/crawls/{run_id}/report", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.Delete("/v1/crawls/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	beforeConflict := testutil.ToFloat64(std.requests.WithLabelValues("GET", "409"))
	beforeAccepted := testutil.ToFloat64(std.requests.WithLabelValues("DELETE", "202"))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/"+id+"/report", nil))
		require.Equal(t, http.StatusConflict, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/crawls/a", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.InDelta(t, beforeConflict+2, testutil.ToFloat64(std.requests.WithLabelValues("GET", "409")), 0)
	assert.InDelta(t, beforeAccepted+1, testutil.ToFloat64(std.requests.WithLabelValues("DELETE", "202")), 0)
	assert.Positive(t, testutil.CollectAndCount(std.requestSeconds))
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(std.requests.WithLabelValues("GET", "200"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(std.requests.WithLabelValues("GET", "200")), 0)
}

func TestMiddlewarePreservesFlusher(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	var flushable bool
	r.Get("/v1/crawls/{run_id}/stream", func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		flushable = ok
		_, _ = w.Write([]byte("event: progress\n\n"))
		if ok {
			f.Flush()
		}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/x/stream", nil))

	assert.True(t, flushable)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "event: progress\n\n", rec.Body.String())
}
