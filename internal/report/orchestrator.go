// Package report implements the tiered primary/fallback/last-resort
// protocol for composite reporting queries.
package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/classify"
	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/metrics"
	"github.com/teamlens/kestrel/internal/resolve"
	"github.com/teamlens/kestrel/internal/upstream"
)

// Filters narrow a classification request.
type Filters struct {
	// IterationRef is a logical sprint reference ("current", "latest")
	// or an already-concrete iteration path. Empty means no filter.
	IterationRef string `json:"iterationRef,omitempty"`

	// Team hints the iteration resolver.
	Team string `json:"team,omitempty"`

	// States restricts the queried item states.
	States []string `json:"states,omitempty"`
}

// Config tunes the orchestrator's upstream access.
type Config struct {
	MaxBatchSize int
	BatchDelay   time.Duration
	ReportTTL    time.Duration
}

// Orchestrator produces classification reports that never hard-fail.
// Tiers: PRIMARY (live query) -> FALLBACK (latest persisted sweep) ->
// LAST_RESORT (synthesized empty payload). Each tier is attempted at most
// once per request; once PRIMARY is entered no error escapes.
type Orchestrator struct {
	source   domain.TrackingSource
	fetcher  *cache.Fetcher
	resolver *resolve.Resolver
	engine   *classify.Engine
	repo     domain.Repository
	bus      domain.EventBus
	cfg      Config
}

// NewOrchestrator creates a report orchestrator.
func NewOrchestrator(source domain.TrackingSource, fetcher *cache.Fetcher, resolver *resolve.Resolver, engine *classify.Engine, repo domain.Repository, bus domain.EventBus, cfg Config) *Orchestrator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 200
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 5 * time.Minute
	}
	return &Orchestrator{
		source:   source,
		fetcher:  fetcher,
		resolver: resolver,
		engine:   engine,
		repo:     repo,
		bus:      bus,
		cfg:      cfg,
	}
}

// ClassifyWithFallback runs the three-tier protocol for a bug
// classification report. The payload shape is identical across tiers, so
// callers never branch on which tier served them.
func (o *Orchestrator) ClassifyWithFallback(ctx context.Context, project string, filters Filters) domain.FallbackResult {
	payload, err := o.primary(ctx, project, filters)
	if err == nil {
		return domain.FallbackResult{
			Tier:     domain.TierPrimary,
			Degraded: false,
			Payload:  payload,
		}
	}
	slog.Warn("primary classification failed, trying fallback",
		"project", project,
		"error", err,
	)

	payload, err = o.fallback(ctx, project, filters)
	if err == nil {
		o.publishDegraded(ctx, project, domain.TierFallback)
		return domain.FallbackResult{
			Tier:     domain.TierFallback,
			Degraded: true,
			Payload:  payload,
		}
	}
	slog.Warn("fallback classification failed, synthesizing empty payload",
		"project", project,
		"error", err,
	)

	o.publishDegraded(ctx, project, domain.TierLastResort)
	return domain.FallbackResult{
		Tier:     domain.TierLastResort,
		Degraded: true,
		Payload:  o.lastResort(project, filters),
	}
}

// primary is the live aggregation path: resolve the iteration, query bug
// references, batch-fetch details, classify. The assembled payload is
// cached so repeated dashboard loads don't re-sweep the upstream.
func (o *Orchestrator) primary(ctx context.Context, project string, filters Filters) (*domain.Classification, error) {
	params := map[string]any{
		"iteration": filters.IterationRef,
		"team":      filters.Team,
		"states":    filters.States,
	}

	var payload domain.Classification
	err := o.fetcher.FetchInto(ctx, "reports", "classify:"+project, params, o.cfg.ReportTTL, func(ctx context.Context) (any, error) {
		return o.classifyLive(ctx, project, filters)
	}, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (o *Orchestrator) classifyLive(ctx context.Context, project string, filters Filters) (*domain.Classification, error) {
	iterationPath := ""
	if filters.IterationRef != "" {
		resolved, err := o.resolver.Resolve(ctx, project, filters.IterationRef, filters.Team)
		if err != nil {
			return nil, err
		}
		// Empty path means "no iteration filter", not an error.
		iterationPath = resolved.Path
	}

	refs, err := o.source.QueryItems(ctx, domain.ItemQuery{
		Project:       project,
		Types:         []string{"Bug"},
		States:        filters.States,
		IterationPath: iterationPath,
		Team:          filters.Team,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	items, err := upstream.RunBatched(ctx, ids, o.cfg.MaxBatchSize, o.cfg.BatchDelay,
		func(ctx context.Context, chunk []int) ([]domain.WorkItem, error) {
			return o.source.GetItemDetails(ctx, project, chunk)
		})
	if err != nil {
		return nil, err
	}

	total, unclassified, categories := o.engine.Classify(items)
	return o.buildPayload(project, iterationPath, total, unclassified, categories), nil
}

// fallback derives the same payload shape from the most recent persisted
// sweep. Structurally different from primary: no upstream calls at all.
func (o *Orchestrator) fallback(ctx context.Context, project string, filters Filters) (*domain.Classification, error) {
	sweep, err := o.repo.GetLatestSweep(ctx, project)
	if err != nil {
		return nil, err
	}

	items := sweep.Items
	if filters.IterationRef != "" && filters.IterationRef != resolve.RefCurrent && filters.IterationRef != resolve.RefLatest {
		// A concrete path can still be honored against sweep data;
		// logical refs cannot be resolved without the upstream.
		filtered := items[:0:0]
		for _, item := range items {
			if item.IterationPath == filters.IterationRef {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	total, unclassified, categories := o.engine.Classify(items)
	payload := o.buildPayload(project, "", total, unclassified, categories)
	return payload, nil
}

// lastResort synthesizes a structurally valid, all-zero payload with the
// fixed category keys present. This tier cannot fail.
func (o *Orchestrator) lastResort(project string, filters Filters) *domain.Classification {
	categories := make(map[string]int)
	for _, key := range o.engine.CategoryKeys() {
		categories[key] = 0
	}
	return &domain.Classification{
		Project:    project,
		Categories: categories,
	}
}

func (o *Orchestrator) buildPayload(project, iterationPath string, total, unclassified int, categories map[string]int) *domain.Classification {
	total = metrics.ClampNonNegative(total)
	unclassified = metrics.ClampNonNegative(unclassified)
	classified := metrics.DerivedClassified(total, unclassified)

	return &domain.Classification{
		Project:            project,
		IterationPath:      iterationPath,
		TotalBugs:          total,
		Classified:         classified,
		Unclassified:       unclassified,
		ClassificationRate: metrics.Rate(classified, total),
		Categories:         categories,
	}
}

// publishDegraded emits a best-effort observability event; failures to
// publish never affect the response.
func (o *Orchestrator) publishDegraded(ctx context.Context, project string, tier domain.Tier) {
	if o.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"project": project,
		"tier":    string(tier),
	})
	if err := o.bus.Publish(ctx, domain.TopicReportDegraded, payload); err != nil {
		slog.Debug("failed to publish degraded event", "error", err)
	}
}
