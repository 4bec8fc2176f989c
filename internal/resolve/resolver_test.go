package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/domain"
)

// scriptedSource fakes the tracking API with per-team iteration responses.
type scriptedSource struct {
	iterations map[string][]domain.Iteration // by team
	errs       map[string]error              // by team
	calls      []string
}

func (s *scriptedSource) QueryItems(ctx context.Context, q domain.ItemQuery) ([]domain.WorkItemRef, error) {
	return nil, nil
}

func (s *scriptedSource) GetItemDetails(ctx context.Context, project string, ids []int) ([]domain.WorkItem, error) {
	return nil, nil
}

func (s *scriptedSource) ListIterations(ctx context.Context, project, team, timeFrame string) ([]domain.Iteration, error) {
	s.calls = append(s.calls, team)
	if err, ok := s.errs[team]; ok {
		return nil, err
	}
	return s.iterations[team], nil
}

func (s *scriptedSource) ListTeamMembers(ctx context.Context, project, team string) ([]domain.TeamMember, error) {
	return nil, nil
}

func newTestResolver(source domain.TrackingSource) *Resolver {
	return NewResolver(source, cache.NewFetcher(cache.NewMemoryCache(100)))
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	current := domain.Iteration{ID: "it-12", Name: "Sprint 12", Path: "Atlas\\Sprint 12", TimeFrame: "current"}

	t.Run("ConcretePathPassesThrough", func(t *testing.T) {
		source := &scriptedSource{}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Atlas", "Atlas\\Sprint 9", "")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != "Atlas\\Sprint 9" {
			t.Errorf("expected concrete path unchanged, got %q", resolved.Path)
		}
		if len(source.calls) != 0 {
			t.Errorf("expected no network calls for concrete path, got %v", source.calls)
		}
	})

	t.Run("TeamHintWinsFirst", func(t *testing.T) {
		source := &scriptedSource{
			iterations: map[string][]domain.Iteration{"Platform Crew": {current}},
		}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Atlas", RefCurrent, "Platform Crew")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != current.Path {
			t.Errorf("expected %q, got %q", current.Path, resolved.Path)
		}
		if resolved.Team != "Platform Crew" {
			t.Errorf("expected team hint to win, got %q", resolved.Team)
		}
	})

	t.Run("ThirdCandidateSucceeds", func(t *testing.T) {
		// Exact project and "<project> Team" return nothing; the last path
		// segment variant has the iterations.
		source := &scriptedSource{
			iterations: map[string][]domain.Iteration{"Atlas": {current}},
		}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Contoso/Atlas", RefCurrent, "")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != current.Path {
			t.Errorf("expected %q, got %q", current.Path, resolved.Path)
		}
		if len(source.calls) != 3 {
			t.Errorf("expected 3 candidate attempts, got %v", source.calls)
		}
	})

	t.Run("SecondCallServedFromCache", func(t *testing.T) {
		source := &scriptedSource{
			iterations: map[string][]domain.Iteration{"Atlas": {current}},
		}
		r := newTestResolver(source)

		first, _ := r.Resolve(ctx, "Atlas", RefCurrent, "")
		callsAfterFirst := len(source.calls)

		second, _ := r.Resolve(ctx, "Atlas", RefCurrent, "")
		if len(source.calls) != callsAfterFirst {
			t.Errorf("expected cached resolution, but %d new calls happened",
				len(source.calls)-callsAfterFirst)
		}
		if first.Path != second.Path {
			t.Errorf("cached path differs: %q vs %q", first.Path, second.Path)
		}
	})

	t.Run("TransportErrorDoesNotAbortLoop", func(t *testing.T) {
		source := &scriptedSource{
			errs:       map[string]error{"Atlas": errors.New("timeout")},
			iterations: map[string][]domain.Iteration{"Atlas Team": {current}},
		}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Atlas", RefCurrent, "")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != current.Path {
			t.Errorf("expected next candidate after transport error, got %q", resolved.Path)
		}
	})

	t.Run("ExhaustionReturnsEmptyPath", func(t *testing.T) {
		source := &scriptedSource{}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Atlas", RefCurrent, "")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != "" {
			t.Errorf("expected empty path on exhaustion, got %q", resolved.Path)
		}
	})

	t.Run("LatestPicksMostRecentStart", func(t *testing.T) {
		older := domain.Iteration{Path: "Atlas\\Sprint 11", TimeFrame: "past", StartDate: current.StartDate.AddDate(0, 0, -14)}
		newer := domain.Iteration{Path: "Atlas\\Sprint 12", TimeFrame: "current", StartDate: current.StartDate.AddDate(0, 0, 14)}
		source := &scriptedSource{
			iterations: map[string][]domain.Iteration{"Atlas": {older, newer}},
		}
		r := newTestResolver(source)

		resolved, err := r.Resolve(ctx, "Atlas", RefLatest, "")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if resolved.Path != newer.Path {
			t.Errorf("expected %q, got %q", newer.Path, resolved.Path)
		}
	})
}

func TestTeamCandidates(t *testing.T) {
	t.Run("OrderAndDeduplication", func(t *testing.T) {
		cands := teamCandidates("Atlas", "Atlas")
		// Hint equals exact project: deduplicated, hint kind kept.
		if cands[0].kind != candidateTeamHint {
			t.Errorf("expected team hint first, got %s", cands[0].kind)
		}
		for i, c := range cands {
			for j := i + 1; j < len(cands); j++ {
				if c.team == cands[j].team {
					t.Errorf("duplicate candidate %q", c.team)
				}
			}
		}
	})

	t.Run("StrippedPrefix", func(t *testing.T) {
		if got := stripPrefix("Contoso.Atlas"); got != "Atlas" {
			t.Errorf("expected Atlas, got %q", got)
		}
		if got := stripPrefix("Atlas"); got != "" {
			t.Errorf("expected empty for no prefix, got %q", got)
		}
	})

	t.Run("LastSegment", func(t *testing.T) {
		if got := lastSegment(`Contoso\Atlas`); got != "Atlas" {
			t.Errorf("expected Atlas, got %q", got)
		}
		if got := lastSegment("Contoso/Atlas"); got != "Atlas" {
			t.Errorf("expected Atlas, got %q", got)
		}
	})
}
