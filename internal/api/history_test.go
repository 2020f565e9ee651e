package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/storage/memory"
	"github.com/JakeFAU/docucrawl/internal/store"
)

func seededRunStore(t *testing.T) (*memory.RunStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	runID := uuid.New()
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.UpsertRunStart(ctx, runID, 3, started))
	require.NoError(t, repo.UpsertSiteStats(ctx, runID, "example.com", store.SiteDelta{Succeeded: 2, Chars: 120}, started))
	require.NoError(t, repo.UpsertSiteStats(ctx, runID, "other.org", store.SiteDelta{Failed: 1}, started))
	require.NoError(t, repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, nil))
	return repo, runID
}

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, runID := seededRunStore(t)
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, runID.String(), body.Runs[0].ID)
	require.Equal(t, 3, body.Runs[0].Total)
	require.NotNil(t, body.Runs[0].FinishedAt)
}

func TestProgressHandlerListRunsRejectsBadStatus(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=sleeping", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), zap.NewNop())
	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil), "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerListRunSites(t *testing.T) {
	t.Parallel()

	repo, runID := seededRunStore(t)
	handler := NewProgressHandler(repo, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sites", nil), runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunSites(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 2)
}

func TestProgressHandlerListRunSitesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), zap.NewNop())
	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sites?limit=-1", nil), runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunSites(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingRunRepo struct {
	store.RunRepository
}

func (failingRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("connection reset")
}

func TestProgressHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewProgressHandler(failingRunRepo{}, zap.NewNop()).ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewProgressHandler(nil, nil).ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPageBoundsParse(t *testing.T) {
	t.Parallel()

	p, err := sitePages.parse(url.Values{"limit": {"9999"}, "offset": {"5"}})
	require.NoError(t, err)
	require.Equal(t, page{limit: 1000, offset: 5}, p)

	p, err = runPages.parse(url.Values{})
	require.NoError(t, err)
	require.Equal(t, page{limit: 50}, p)

	for _, q := range []url.Values{{"offset": {"-2"}}, {"limit": {"0"}}, {"limit": {"ten"}}} {
		_, err = runPages.parse(q)
		var bad badRequest
		require.ErrorAs(t, err, &bad, "query %v", q)
	}
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
