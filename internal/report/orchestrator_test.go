package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/classify"
	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/resolve"
)

type fakeSource struct {
	refs       []domain.WorkItemRef
	items      map[int]domain.WorkItem
	iterations []domain.Iteration
	queryErr   error
	detailsErr error
	iterErr    error

	queryCalls   int
	detailsCalls int
}

func (s *fakeSource) QueryItems(ctx context.Context, q domain.ItemQuery) ([]domain.WorkItemRef, error) {
	s.queryCalls++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.refs, nil
}

func (s *fakeSource) GetItemDetails(ctx context.Context, project string, ids []int) ([]domain.WorkItem, error) {
	s.detailsCalls++
	if s.detailsErr != nil {
		return nil, s.detailsErr
	}
	out := make([]domain.WorkItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeSource) ListIterations(ctx context.Context, project, team, timeFrame string) ([]domain.Iteration, error) {
	if s.iterErr != nil {
		return nil, s.iterErr
	}
	return s.iterations, nil
}

func (s *fakeSource) ListTeamMembers(ctx context.Context, project, team string) ([]domain.TeamMember, error) {
	return nil, nil
}

type fakeRepo struct {
	sweep *domain.Sweep
	err   error
}

func (r *fakeRepo) SaveSweep(ctx context.Context, sweep *domain.Sweep) error { return nil }

func (r *fakeRepo) GetLatestSweep(ctx context.Context, project string) (*domain.Sweep, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.sweep == nil {
		return nil, domain.ErrNotFound
	}
	return r.sweep, nil
}

func (r *fakeRepo) ListSweeps(ctx context.Context, project string, limit int) ([]*domain.Sweep, error) {
	return nil, nil
}

func (r *fakeRepo) PruneSweeps(ctx context.Context, project string, olderThan time.Time) (int, error) {
	return 0, nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *fakeBus) Ping(ctx context.Context) error { return nil }
func (b *fakeBus) Close() error                   { return nil }

func (b *fakeBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func newTestOrchestrator(t *testing.T, source *fakeSource, repo domain.Repository, bus domain.EventBus) *Orchestrator {
	t.Helper()

	c, err := cache.New(domain.CacheConfig{Backend: "memory", LocalMaxSize: 128})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	fetcher := cache.NewFetcher(c)
	resolver := resolve.NewResolver(source, fetcher)

	engine, err := classify.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.LoadCategories(classify.DefaultCategories()); err != nil {
		t.Fatalf("LoadCategories failed: %v", err)
	}

	return NewOrchestrator(source, fetcher, resolver, engine, repo, bus, Config{
		MaxBatchSize: 10,
		ReportTTL:    time.Minute,
	})
}

func sweepBugs() []domain.WorkItem {
	items := make([]domain.WorkItem, 0, 10)
	for i := 1; i <= 8; i++ {
		env := "production"
		if i > 5 {
			env = "staging"
		}
		items = append(items, domain.WorkItem{
			ID: i, Type: "Bug", State: "Active", Environment: env,
			Title: fmt.Sprintf("Bug %d", i),
		})
	}
	// Two bugs with no environment signal at all.
	items = append(items,
		domain.WorkItem{ID: 9, Type: "Bug", State: "New", Title: "Bug 9"},
		domain.WorkItem{ID: 10, Type: "Bug", State: "New", Title: "Bug 10"},
	)
	return items
}

func TestClassifyWithFallback(t *testing.T) {
	t.Run("PrimaryServesLiveData", func(t *testing.T) {
		items := sweepBugs()
		source := &fakeSource{items: make(map[int]domain.WorkItem)}
		for _, item := range items {
			source.refs = append(source.refs, domain.WorkItemRef{ID: item.ID})
			source.items[item.ID] = item
		}
		bus := &fakeBus{}

		o := newTestOrchestrator(t, source, &fakeRepo{}, bus)
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		if result.Tier != domain.TierPrimary {
			t.Fatalf("expected primary tier, got %s", result.Tier)
		}
		if result.Degraded {
			t.Error("primary result must not be degraded")
		}
		if result.Payload.TotalBugs != 10 {
			t.Errorf("expected 10 bugs, got %d", result.Payload.TotalBugs)
		}
		if result.Payload.Classified != 8 || result.Payload.Unclassified != 2 {
			t.Errorf("expected 8 classified / 2 unclassified, got %d / %d",
				result.Payload.Classified, result.Payload.Unclassified)
		}
		if result.Payload.ClassificationRate != 80.0 {
			t.Errorf("expected rate 80.0, got %v", result.Payload.ClassificationRate)
		}
		if len(bus.topics()) != 0 {
			t.Errorf("primary path must not publish degraded events, got %v", bus.topics())
		}
	})

	t.Run("SecondCallServedFromCache", func(t *testing.T) {
		source := &fakeSource{
			refs:  []domain.WorkItemRef{{ID: 1}},
			items: map[int]domain.WorkItem{1: {ID: 1, Type: "Bug", Environment: "production"}},
		}

		o := newTestOrchestrator(t, source, &fakeRepo{}, &fakeBus{})
		ctx := context.Background()

		o.ClassifyWithFallback(ctx, "Atlas", Filters{})
		o.ClassifyWithFallback(ctx, "Atlas", Filters{})

		if source.queryCalls != 1 {
			t.Errorf("expected 1 upstream query, got %d", source.queryCalls)
		}
	})

	t.Run("FallbackFromPersistedSweep", func(t *testing.T) {
		source := &fakeSource{queryErr: domain.ErrUpstreamUnavailable}
		repo := &fakeRepo{sweep: &domain.Sweep{
			Project:   "Atlas",
			Items:     sweepBugs(),
			FetchedAt: time.Now().Add(-time.Hour),
		}}
		bus := &fakeBus{}

		o := newTestOrchestrator(t, source, repo, bus)
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		if result.Tier != domain.TierFallback {
			t.Fatalf("expected fallback tier, got %s", result.Tier)
		}
		if !result.Degraded {
			t.Error("fallback result must be degraded")
		}
		if result.Payload.TotalBugs != 10 || result.Payload.Classified != 8 {
			t.Errorf("unexpected counts: %+v", result.Payload)
		}

		topics := bus.topics()
		if len(topics) != 1 || topics[0] != domain.TopicReportDegraded {
			t.Errorf("expected one degraded event, got %v", topics)
		}
	})

	t.Run("FallbackHonorsConcreteIterationPath", func(t *testing.T) {
		source := &fakeSource{queryErr: domain.ErrUpstreamUnavailable}
		items := []domain.WorkItem{
			{ID: 1, Type: "Bug", Environment: "production", IterationPath: "Atlas\\Sprint 12"},
			{ID: 2, Type: "Bug", Environment: "staging", IterationPath: "Atlas\\Sprint 11"},
		}
		repo := &fakeRepo{sweep: &domain.Sweep{Project: "Atlas", Items: items}}

		o := newTestOrchestrator(t, source, repo, &fakeBus{})
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{
			IterationRef: "Atlas\\Sprint 12",
		})

		if result.Tier != domain.TierFallback {
			t.Fatalf("expected fallback tier, got %s", result.Tier)
		}
		if result.Payload.TotalBugs != 1 {
			t.Errorf("expected only the Sprint 12 bug, got %d", result.Payload.TotalBugs)
		}
	})

	t.Run("LastResortNeverFails", func(t *testing.T) {
		source := &fakeSource{queryErr: domain.ErrUpstreamUnavailable}
		bus := &fakeBus{}

		o := newTestOrchestrator(t, source, &fakeRepo{}, bus)
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		if result.Tier != domain.TierLastResort {
			t.Fatalf("expected last-resort tier, got %s", result.Tier)
		}
		if !result.Degraded {
			t.Error("last-resort result must be degraded")
		}
		if result.Payload == nil {
			t.Fatal("last-resort must still produce a payload")
		}
		if result.Payload.TotalBugs != 0 || result.Payload.ClassificationRate != 0.0 {
			t.Errorf("expected zeroed payload, got %+v", result.Payload)
		}
		for _, key := range []string{"production", "staging", "development"} {
			if _, ok := result.Payload.Categories[key]; !ok {
				t.Errorf("expected category key %q in last-resort payload", key)
			}
		}

		topics := bus.topics()
		if len(topics) != 1 || topics[0] != domain.TopicReportDegraded {
			t.Errorf("expected one degraded event, got %v", topics)
		}
	})

	t.Run("PayloadShapeIdenticalAcrossTiers", func(t *testing.T) {
		live := &fakeSource{
			refs:  []domain.WorkItemRef{{ID: 1}},
			items: map[int]domain.WorkItem{1: {ID: 1, Type: "Bug", Environment: "production"}},
		}
		down := &fakeSource{queryErr: domain.ErrUpstreamUnavailable}

		primary := newTestOrchestrator(t, live, &fakeRepo{}, &fakeBus{}).
			ClassifyWithFallback(context.Background(), "Atlas", Filters{})
		lastResort := newTestOrchestrator(t, down, &fakeRepo{}, &fakeBus{}).
			ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		keys := func(payload *domain.Classification) map[string]bool {
			raw, err := json.Marshal(payload)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			out := make(map[string]bool, len(m))
			for k := range m {
				out[k] = true
			}
			return out
		}

		pk, lk := keys(primary.Payload), keys(lastResort.Payload)
		for k := range pk {
			if k == "iterationPath" {
				continue // omitempty field
			}
			if !lk[k] {
				t.Errorf("field %q present in primary payload but not last-resort", k)
			}
		}
	})

	t.Run("DetailFetchFailureFallsBack", func(t *testing.T) {
		source := &fakeSource{
			refs:       []domain.WorkItemRef{{ID: 1}, {ID: 2}},
			detailsErr: domain.ErrUpstreamUnavailable,
		}
		repo := &fakeRepo{sweep: &domain.Sweep{Project: "Atlas", Items: sweepBugs()}}

		o := newTestOrchestrator(t, source, repo, &fakeBus{})
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		if result.Tier != domain.TierFallback {
			t.Fatalf("expected fallback after detail-fetch failure, got %s", result.Tier)
		}
	})

	t.Run("NilBusIsSafe", func(t *testing.T) {
		source := &fakeSource{queryErr: domain.ErrUpstreamUnavailable}

		o := newTestOrchestrator(t, source, &fakeRepo{}, nil)
		result := o.ClassifyWithFallback(context.Background(), "Atlas", Filters{})

		if result.Tier != domain.TierLastResort {
			t.Fatalf("expected last-resort tier, got %s", result.Tier)
		}
	})
}
