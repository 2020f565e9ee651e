package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/store"
)

const historyTimeout = 3 * time.Second

// pageBounds sets the default and largest page size for a listing.
type pageBounds struct {
	def, max int
}

var (
	runPages  = pageBounds{def: 50, max: 500}
	sitePages = pageBounds{def: 100, max: 1000}
)

type page struct {
	limit, offset int
}

// parse reads limit and offset. Limits above the maximum are clamped.
func (b pageBounds) parse(q url.Values) (page, error) {
	p := page{limit: b.def}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return page{}, badRequest("invalid limit")
		}
		p.limit = min(n, b.max)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page{}, badRequest("invalid offset")
		}
		p.offset = n
	}
	return p, nil
}

// badRequest marks an input error that answers 400 with its text.
type badRequest string

func (e badRequest) Error() string { return string(e) }

// ProgressHandler serves run history recorded by the progress store sink.
// Every endpoint answers 503 when no repository is configured.
type ProgressHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger. repo may be nil.
func NewProgressHandler(repo store.RunRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{repo: repo, timeout: historyTimeout, logger: logger}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset= and answers
// {"runs": [...]}.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	serveHistory(h, w, r, "runs", func(ctx context.Context, repo store.RunRepository) ([]runDTO, error) {
		q := r.URL.Query()
		p, err := runPages.parse(q)
		if err != nil {
			return nil, err
		}
		var status *store.RunStatus
		if raw := strings.ToLower(strings.TrimSpace(q.Get("status"))); raw != "" {
			parsed, err := store.ParseRunStatus(raw)
			if err != nil {
				return nil, badRequest(err.Error())
			}
			status = &parsed
		}
		runs, err := repo.ListRuns(ctx, status, p.limit, p.offset)
		if err != nil {
			return nil, err
		}
		out := make([]runDTO, 0, len(runs))
		for _, run := range runs {
			out = append(out, newRunDTO(run))
		}
		return out, nil
	})
}

// GetRun handles GET /v1/runs/{run_id} and answers {"run": {...}}, or 404
// when the run was never recorded.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	serveHistory(h, w, r, "run", func(ctx context.Context, repo store.RunRepository) (runDTO, error) {
		id, err := runIDParam(r)
		if err != nil {
			return runDTO{}, err
		}
		run, err := repo.GetRun(ctx, id)
		if err != nil {
			return runDTO{}, err
		}
		return newRunDTO(run), nil
	})
}

// ListRunSites handles GET /v1/runs/{run_id}/sites?limit=&offset= and
// answers {"sites": [...]}.
func (h *ProgressHandler) ListRunSites(w http.ResponseWriter, r *http.Request) {
	serveHistory(h, w, r, "sites", func(ctx context.Context, repo store.RunRepository) ([]siteDTO, error) {
		id, err := runIDParam(r)
		if err != nil {
			return nil, err
		}
		p, err := sitePages.parse(r.URL.Query())
		if err != nil {
			return nil, err
		}
		stats, err := repo.ListRunSites(ctx, id, p.limit, p.offset)
		if err != nil {
			return nil, err
		}
		out := make([]siteDTO, 0, len(stats))
		for _, s := range stats {
			out = append(out, siteDTO{
				Site:       s.Site,
				LastUpdate: s.LastUpdate,
				Succeeded:  s.Succeeded,
				Failed:     s.Failed,
				Chars:      s.Chars,
			})
		}
		return out, nil
	})
}

// serveHistory runs load under the history timeout and writes its result
// under key, mapping badRequest to 400 and store.ErrNotFound to 404.
func serveHistory[T any](h *ProgressHandler, w http.ResponseWriter, r *http.Request, key string, load func(context.Context, store.RunRepository) (T, error)) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := load(ctx, h.repo)
	var bad badRequest
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{key: result})
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	default:
		h.logger.Error("run history query failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load "+key)
	}
}

func runIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, badRequest("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, badRequest("invalid run_id")
	}
	return id, nil
}

func newRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Total:      run.Total,
		Error:      run.ErrorMessage,
	}
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Error      *string    `json:"error,omitempty"`
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Chars      int64     `json:"chars"`
}
