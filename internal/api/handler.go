package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/metrics"
	"github.com/teamlens/kestrel/internal/report"
	"github.com/teamlens/kestrel/internal/resolve"
	"github.com/teamlens/kestrel/internal/upstream"
)

const velocityTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	fetcher      *cache.Fetcher
	bus          domain.EventBus
	source       domain.TrackingSource
	resolver     *resolve.Resolver
	orchestrator *report.Orchestrator
	upstreamCfg  domain.UpstreamConfig
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, fetcher *cache.Fetcher, bus domain.EventBus, source domain.TrackingSource, resolver *resolve.Resolver, orchestrator *report.Orchestrator, upstreamCfg domain.UpstreamConfig, version string) *Handler {
	return &Handler{
		repo:         repo,
		fetcher:      fetcher,
		bus:          bus,
		source:       source,
		resolver:     resolver,
		orchestrator: orchestrator,
		upstreamCfg:  upstreamCfg,
		version:      version,
	}
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.fetcher != nil {
		if stats := h.fetcher.Stats(r.Context()); !stats.PrimaryHealthy {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetClassificationReport handles GET /reports/classification requests.
// This endpoint never fails once input validation passes: the orchestrator
// degrades through its tiers instead of returning an error.
func (h *Handler) GetClassificationReport(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project query parameter is required",
		})
		return
	}

	filters := report.Filters{
		IterationRef: r.URL.Query().Get("iteration"),
		Team:         r.URL.Query().Get("team"),
	}
	if states, ok := r.URL.Query()["state"]; ok {
		filters.States = states
	}

	result := h.orchestrator.ClassifyWithFallback(r.Context(), project, filters)
	writeJSON(w, http.StatusOK, result)
}

// ResolveIteration handles GET /iterations/resolve requests.
func (h *Handler) ResolveIteration(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project query parameter is required",
		})
		return
	}

	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = resolve.RefCurrent
	}

	resolved, err := h.resolver.Resolve(r.Context(), project, ref, r.URL.Query().Get("team"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolved)
}

// GetVelocity handles GET /metrics/velocity requests. Unlike the
// classification report this is a direct fetch: upstream failures surface
// as 502 instead of degrading.
func (h *Handler) GetVelocity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project query parameter is required",
		})
		return
	}

	iterationRef := r.URL.Query().Get("iteration")
	if iterationRef == "" {
		iterationRef = resolve.RefCurrent
	}

	resolved, err := h.resolver.Resolve(ctx, project, iterationRef, r.URL.Query().Get("team"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	params := map[string]any{"iteration": resolved.Path}

	var velocity domain.VelocityReport
	err = h.fetcher.FetchInto(ctx, "velocity", project, params, velocityTTL, func(ctx context.Context) (any, error) {
		items, err := h.fetchItems(ctx, project, domain.ItemQuery{
			Project:       project,
			Types:         []string{"User Story", "Task"},
			IterationPath: resolved.Path,
		})
		if err != nil {
			return nil, err
		}
		return metrics.Velocity(project, resolved.Path, items), nil
	}, &velocity)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, velocity)
}

// GetCacheStats handles GET /cache/stats requests.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fetcher.Stats(r.Context()))
}

// InvalidateCache handles DELETE /cache/{namespace} requests. The eviction
// is announced on the bus so the sweep refresher can rebuild snapshots.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	deleted, err := h.fetcher.InvalidateNamespace(r.Context(), namespace)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cache invalidation failed",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"namespace": namespace})
		if err := h.bus.Publish(r.Context(), domain.TopicCacheInvalidated, payload); err != nil {
			slog.Error("failed to publish invalidation event",
				"namespace", namespace,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"deleted":   deleted,
	})
}

// ListSweeps handles GET /sweeps requests.
func (h *Handler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project query parameter is required",
		})
		return
	}

	sweeps, err := h.repo.ListSweeps(r.Context(), project, 20)
	if err != nil {
		slog.Error("failed to list sweeps", "project", project, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list sweeps",
		})
		return
	}
	if sweeps == nil {
		sweeps = []*domain.Sweep{}
	}

	writeJSON(w, http.StatusOK, sweeps)
}

// fetchItems runs a reference query plus batched detail lookups.
func (h *Handler) fetchItems(ctx context.Context, project string, q domain.ItemQuery) ([]domain.WorkItem, error) {
	refs, err := h.source.QueryItems(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	return upstream.RunBatched(ctx, ids, h.upstreamCfg.MaxBatchSize, h.upstreamCfg.BatchDelay,
		func(ctx context.Context, chunk []int) ([]domain.WorkItem, error) {
			return h.source.GetItemDetails(ctx, project, chunk)
		})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "upstream tracking API unavailable",
		})
		return
	}
	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
