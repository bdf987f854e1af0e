// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/metrics"
)

// Searcher runs a validated query.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

type Handler struct {
	searcher     Searcher
	cache        *cache.QueryCache
	collector    *analytics.Collector
	metrics      *metrics.Metrics
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
}

// New creates a Handler. queryCache, collector and m may each be nil.
func New(s Searcher, queryCache *cache.QueryCache, collector *analytics.Collector, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{
		searcher:     s,
		cache:        queryCache,
		collector:    collector,
		metrics:      m,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q, err := search.ParseQuery(r.URL.Query(), h.defaultLimit, h.maxLimit)
	if err != nil {
		h.observe("none", "invalid", "none", start, -1)
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventInvalid,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(ctx),
		})
		h.writeError(w, err)
		return
	}
	kind, _ := q.Key()

	var (
		result   *search.Result
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, q, func(ctx context.Context) (*search.Result, error) {
			return h.searcher.Search(ctx, q)
		})
	} else {
		result, err = h.searcher.Search(ctx, q)
	}
	cacheStatus := "disabled"
	if h.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			log.Debug("search abandoned by client", "key", kind, "error", err)
			return
		}
		log.Error("search failed", "key", kind, "limit", q.Limit, "error", err)
		h.observe(string(kind), "error", cacheStatus, start, -1)
		h.writeError(w, err)
		return
	}

	latency := time.Since(start)
	outcome := "hit"
	eventType := analytics.EventSearch
	if result.Count == 0 {
		outcome = "zero_result"
		eventType = analytics.EventZeroResult
	}
	h.observe(string(kind), outcome, cacheStatus, start, result.Count)

	log.Info("search completed",
		"key", kind,
		"expand", q.Expand,
		"limit", q.Limit,
		"count", result.Count,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.collector.Track(analytics.SearchEvent{
		Type:      eventType,
		KeyKind:   string(kind),
		Expand:    q.Expand,
		Limit:     q.Limit,
		Count:     result.Count,
		LatencyMs: latency.Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})

	h.writeJSON(w, http.StatusOK, result)
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// CacheInvalidate handles POST /cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) observe(key, outcome, cacheStatus string, start time.Time, count int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(key, outcome).Inc()
	if count >= 0 {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
		h.metrics.SearchResultsCount.Observe(float64(count))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"detail": apperrors.Detail(err)})
}
