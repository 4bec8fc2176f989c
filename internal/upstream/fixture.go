package upstream

import (
	"context"
	"strings"
	"time"

	"github.com/teamlens/kestrel/internal/domain"
)

// StaticFixtureSource implements domain.TrackingSource with deterministic
// in-memory data. Selected once at construction for demos, local development
// and tests; there is no runtime switching between fixture and live data.
type StaticFixtureSource struct {
	items      map[string][]domain.WorkItem  // by project
	iterations map[string][]domain.Iteration // by project/team
	members    map[string][]domain.TeamMember
}

// NewStaticFixtureSource creates a fixture source with a small, stable
// dataset for the "Atlas" project.
func NewStaticFixtureSource() *StaticFixtureSource {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	s := &StaticFixtureSource{
		items:      make(map[string][]domain.WorkItem),
		iterations: make(map[string][]domain.Iteration),
		members:    make(map[string][]domain.TeamMember),
	}

	s.items["Atlas"] = []domain.WorkItem{
		{ID: 101, Title: "Checkout crash on empty cart", Type: "Bug", State: "Active", Severity: "2 - High", Environment: "production", IterationPath: "Atlas\\Sprint 12", AssignedTo: "Rivera", ChangedAt: base},
		{ID: 102, Title: "Login timeout under load", Type: "Bug", State: "Active", Severity: "1 - Critical", Environment: "production", IterationPath: "Atlas\\Sprint 12", AssignedTo: "Chen", ChangedAt: base.Add(2 * time.Hour)},
		{ID: 103, Title: "Broken layout on settings page", Type: "Bug", State: "Resolved", Severity: "3 - Medium", Environment: "staging", IterationPath: "Atlas\\Sprint 12", ChangedAt: base.Add(4 * time.Hour)},
		{ID: 104, Title: "Flaky export test", Type: "Bug", State: "New", IterationPath: "Atlas\\Sprint 12", ChangedAt: base.Add(5 * time.Hour)},
		{ID: 105, Title: "Implement CSV export", Type: "User Story", State: "Closed", StoryPoints: 5, IterationPath: "Atlas\\Sprint 12", ChangedAt: base.Add(6 * time.Hour)},
		{ID: 106, Title: "Paginate audit log", Type: "User Story", State: "Active", StoryPoints: 3, RemainingWork: 8, IterationPath: "Atlas\\Sprint 12", ChangedAt: base.Add(7 * time.Hour)},
		{ID: 107, Title: "Dashboard widget polish", Type: "Task", State: "Closed", RemainingWork: 0, IterationPath: "Atlas\\Sprint 11", ChangedAt: base.AddDate(0, 0, -14)},
	}

	s.iterations["Atlas/Atlas Team"] = []domain.Iteration{
		{ID: "it-11", Name: "Sprint 11", Path: "Atlas\\Sprint 11", TimeFrame: "past", StartDate: base.AddDate(0, 0, -28), EndDate: base.AddDate(0, 0, -14)},
		{ID: "it-12", Name: "Sprint 12", Path: "Atlas\\Sprint 12", TimeFrame: "current", StartDate: base.AddDate(0, 0, -7), EndDate: base.AddDate(0, 0, 7)},
	}

	s.members["Atlas/Atlas Team"] = []domain.TeamMember{
		{ID: "m-1", DisplayName: "Rivera", Email: "rivera@example.com"},
		{ID: "m-2", DisplayName: "Chen", Email: "chen@example.com"},
		{ID: "m-3", DisplayName: "Okafor", Email: "okafor@example.com"},
	}

	return s
}

// QueryItems filters the fixture items by the query criteria.
func (s *StaticFixtureSource) QueryItems(ctx context.Context, q domain.ItemQuery) ([]domain.WorkItemRef, error) {
	var refs []domain.WorkItemRef
	for _, item := range s.items[q.Project] {
		if !matchesQuery(item, q) {
			continue
		}
		refs = append(refs, domain.WorkItemRef{ID: item.ID})
	}
	return refs, nil
}

// GetItemDetails returns fixture items for the requested IDs, in request order.
func (s *StaticFixtureSource) GetItemDetails(ctx context.Context, project string, ids []int) ([]domain.WorkItem, error) {
	byID := make(map[int]domain.WorkItem, len(s.items[project]))
	for _, item := range s.items[project] {
		byID[item.ID] = item
	}

	var items []domain.WorkItem
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// ListIterations returns fixture iterations for a project/team, honoring the
// timeframe filter.
func (s *StaticFixtureSource) ListIterations(ctx context.Context, project, team, timeFrame string) ([]domain.Iteration, error) {
	all := s.iterations[project+"/"+team]
	if timeFrame == "" {
		return all, nil
	}

	var filtered []domain.Iteration
	for _, it := range all {
		if it.TimeFrame == timeFrame {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

// ListTeamMembers returns the fixture roster for a project/team.
func (s *StaticFixtureSource) ListTeamMembers(ctx context.Context, project, team string) ([]domain.TeamMember, error) {
	return s.members[project+"/"+team], nil
}

func matchesQuery(item domain.WorkItem, q domain.ItemQuery) bool {
	if len(q.Types) > 0 && !containsFold(q.Types, item.Type) {
		return false
	}
	if len(q.States) > 0 && !containsFold(q.States, item.State) {
		return false
	}
	if q.IterationPath != "" && !strings.HasPrefix(item.IterationPath, q.IterationPath) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
