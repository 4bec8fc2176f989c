// Package worker keeps the fallback tier's sweep snapshots fresh.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/upstream"
)

// Refresher periodically re-fetches a broad work-item sweep per project and
// persists it to the repository. It also listens for cache invalidation
// events and refreshes on demand, so a manual eviction immediately rebuilds
// the data the fallback tier depends on.
type Refresher struct {
	source domain.TrackingSource
	repo   domain.Repository
	bus    domain.EventBus
	cfg    Config

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds refresher configuration.
type Config struct {
	// Projects to sweep.
	Projects []string

	// Interval between periodic sweeps. Zero disables the ticker.
	Interval time.Duration

	// Retention bounds how long old snapshots are kept.
	Retention time.Duration

	// MaxBatchSize and BatchDelay are passed to the batch coordinator.
	MaxBatchSize int
	BatchDelay   time.Duration
}

// NewRefresher creates a sweep refresher.
func NewRefresher(source domain.TrackingSource, repo domain.Repository, bus domain.EventBus, cfg Config) *Refresher {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		source: source,
		repo:   repo,
		bus:    bus,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs an initial sweep, subscribes to invalidation events, and
// starts the periodic ticker.
func (r *Refresher) Start() error {
	r.RefreshAll(r.ctx)

	if r.bus != nil {
		sub, err := r.bus.Subscribe(r.ctx, domain.TopicCacheInvalidated, func(ctx context.Context, msg *domain.Message) error {
			slog.Info("cache invalidated, refreshing sweeps", "message_id", msg.ID)
			r.RefreshAll(ctx)
			return nil
		})
		if err != nil {
			return err
		}
		r.subscriptions = append(r.subscriptions, sub)
	}

	if r.cfg.Interval > 0 {
		r.wg.Add(1)
		go r.tick()
	}

	slog.Info("sweep refresher started",
		"projects", r.cfg.Projects,
		"interval", r.cfg.Interval,
	)
	return nil
}

func (r *Refresher) tick() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(r.ctx)
		}
	}
}

// RefreshAll sweeps every configured project. Per-project failures are
// logged and do not stop the remaining projects.
func (r *Refresher) RefreshAll(ctx context.Context) {
	for _, project := range r.cfg.Projects {
		if err := r.RefreshProject(ctx, project); err != nil {
			slog.Error("sweep refresh failed",
				"project", project,
				"error", err,
			)
		}
	}
}

// RefreshProject fetches a broad item sweep for one project and persists it.
func (r *Refresher) RefreshProject(ctx context.Context, project string) error {
	start := time.Now()

	refs, err := r.source.QueryItems(ctx, domain.ItemQuery{
		Project: project,
		Types:   []string{"Bug", "User Story", "Task"},
	})
	if err != nil {
		return err
	}

	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	items, err := upstream.RunBatched(ctx, ids, r.cfg.MaxBatchSize, r.cfg.BatchDelay,
		func(ctx context.Context, chunk []int) ([]domain.WorkItem, error) {
			return r.source.GetItemDetails(ctx, project, chunk)
		})
	if err != nil {
		return err
	}

	sweep := &domain.Sweep{
		Project:   project,
		Items:     items,
		FetchedAt: time.Now().UTC(),
	}
	if err := r.repo.SaveSweep(ctx, sweep); err != nil {
		return err
	}

	if pruned, err := r.repo.PruneSweeps(ctx, project, time.Now().UTC().Add(-r.cfg.Retention)); err != nil {
		slog.Warn("sweep prune failed",
			"project", project,
			"error", err,
		)
	} else if pruned > 0 {
		slog.Debug("pruned old sweeps",
			"project", project,
			"count", pruned,
		)
	}

	slog.Info("sweep refreshed",
		"project", project,
		"items", len(items),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the refresher.
func (r *Refresher) Stop() error {
	r.cancel()

	for _, sub := range r.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	r.subscriptions = nil

	r.wg.Wait()

	slog.Info("sweep refresher stopped")
	return nil
}
