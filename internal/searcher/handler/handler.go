// Package handler exposes the query engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/middleware"
)

// SearchExecutor runs parsed queries.
type SearchExecutor interface {
	Generation() string
	Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*engine.SearchResult, error)
}

// SearchResponse is one page of a ranked result list.
type SearchResponse struct {
	Query        string          `json:"query"`
	Results      []engine.Result `json:"results"`
	TotalResults int             `json:"total_results"`
	Page         int             `json:"page"`
	PerPage      int             `json:"per_page"`
	TotalPages   int             `json:"total_pages"`
	Generation   string          `json:"generation"`
	TookMs       int64           `json:"took_ms"`
}

// legacyPerPage is the fixed page size of GET /search.
const legacyPerPage = 10

// LegacySearchResponse is the body of GET /search.
type LegacySearchResponse struct {
	Results      []engine.Result `json:"results"`
	TotalResults int             `json:"total_results"`
	Page         int             `json:"page"`
	TotalPages   int             `json:"total_pages"`
}

type Handler struct {
	executor SearchExecutor
	parser   *parser.Parser
	cache    *cache.QueryCache
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns a handler. queryCache may be nil.
func New(exec SearchExecutor, p *parser.Parser, queryCache *cache.QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		executor: exec,
		parser:   p,
		cache:    queryCache,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// NewRouter mounts the search API and health checks.
func NewRouter(h *Handler, checker *health.Checker, server config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(h.metrics))
	r.Use(middleware.CORS(server.CORSOrigins))

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	// Routes kept for clients of the first search frontend.
	r.Get("/health", Health)
	r.With(middleware.Timeout(server.WriteTimeout)).Get("/search", h.LegacySearch)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(server.WriteTimeout))
		r.Get("/search", h.Search)
		r.Get("/cache/stats", h.CacheStats)
		r.Post("/cache/invalidate", h.CacheInvalidate)
	})
	return r
}

// Search serves GET /api/v1/search?q=&page=&per_page=. The full ranked list
// (up to search.maxResults) is computed or fetched from cache once and
// paginated here, so every page of a query shares one cache entry.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidQuery, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidQuery, http.StatusBadRequest, "page must be a positive integer"))
		return
	}
	perPage, err := intParam(r, "per_page", h.cfg.DefaultPerPage)
	if err != nil || perPage < 1 || perPage > h.cfg.MaxPerPage {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidQuery, http.StatusBadRequest,
			"per_page must be between 1 and %d", h.cfg.MaxPerPage))
		return
	}

	plan := h.parser.Parse(query)
	result, cacheStatus, err := h.run(ctx, plan)
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, r, err)
		return
	}

	total := len(result.Results)
	resp := SearchResponse{
		Query:        query,
		Results:      paginate(result.Results, page, perPage),
		TotalResults: total,
		Page:         page,
		PerPage:      perPage,
		TotalPages:   (total + perPage - 1) / perPage,
		Generation:   result.Generation,
		TookMs:       time.Since(start).Milliseconds(),
	}

	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(total))
	log.Info("search completed",
		"query", query,
		"terms", len(plan.Terms),
		"total_results", total,
		"page", page,
		"cache", cacheStatus,
		"generation", result.Generation,
		"latency_ms", resp.TookMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// LegacySearch serves GET /search?query=&page= with ten results per page
// and the response shape of the first search frontend.
func (h *Handler) LegacySearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Query parameter is required"})
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil || page < 1 {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidQuery, http.StatusBadRequest, "page must be a positive integer"))
		return
	}

	plan := h.parser.Parse(query)
	result, cacheStatus, err := h.run(ctx, plan)
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, r, err)
		return
	}

	total := len(result.Results)
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(total))
	log.Info("legacy search completed",
		"query", query,
		"total_results", total,
		"page", page,
		"cache", cacheStatus,
		"generation", result.Generation,
	)
	h.writeJSON(w, http.StatusOK, LegacySearchResponse{
		Results:      paginate(result.Results, page, legacyPerPage),
		TotalResults: total,
		Page:         page,
		TotalPages:   (total + legacyPerPage - 1) / legacyPerPage,
	})
}

// run computes the full ranked list for plan, through the cache when one is
// configured. It also reports how the cache took part.
func (h *Handler) run(ctx context.Context, plan *parser.QueryPlan) (*engine.SearchResult, string, error) {
	limit := h.cfg.MaxResults
	switch {
	case plan.Empty():
		res, err := h.executor.Execute(ctx, plan, limit)
		return res, "bypass", err
	case h.cache != nil:
		res, hit, err := h.cache.GetOrCompute(ctx, h.executor.Generation(), plan, limit, func() (*engine.SearchResult, error) {
			return h.executor.Execute(ctx, plan, limit)
		})
		if hit {
			return res, "hit", err
		}
		return res, "miss", err
	default:
		res, err := h.executor.Execute(ctx, plan, limit)
		return res, "disabled", err
	}
}

// Health answers {"status":"ok"} while the process is serving.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":       hits,
		"misses":     misses,
		"total":      total,
		"hit_rate":   fmt.Sprintf("%.1f%%", hitRate),
		"breaker":    h.cache.State().String(),
		"generation": h.executor.Generation(),
	})
}

// CacheInvalidate drops every cached result, or only those of ?generation=.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrConfiguration, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	var (
		deleted int64
		err     error
	)
	if gen := r.URL.Query().Get("generation"); gen != "" {
		deleted, err = h.cache.InvalidateGeneration(r.Context(), gen)
	} else {
		deleted, err = h.cache.Invalidate(r.Context())
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func paginate(results []engine.Result, page, perPage int) []engine.Result {
	from := (page - 1) * perPage
	if from >= len(results) {
		return []engine.Result{}
	}
	to := min(from+perPage, len(results))
	return results[from:to]
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError answers with the status carried by err. Server-side failures
// are reported without their internal detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := http.StatusText(status)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": middleware.GetRequestID(r),
	})
}
