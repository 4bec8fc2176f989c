package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamUnavailable is the uniform error for any transport-level
// failure talking to the tracking API: network error, timeout, non-2xx.
// The original cause is wrapped so diagnostics survive.
var ErrUpstreamUnavailable = errors.New("upstream tracking API unavailable")

// WorkItemRef is a lightweight reference returned by filter queries.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url,omitempty"`
}

// WorkItem is the detailed form of a tracked item.
type WorkItem struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	Type          string    `json:"type"` // Bug, Task, User Story, ...
	State         string    `json:"state"`
	Severity      string    `json:"severity,omitempty"`
	Environment   string    `json:"environment,omitempty"`
	AssignedTo    string    `json:"assignedTo,omitempty"`
	IterationPath string    `json:"iterationPath,omitempty"`
	StoryPoints   float64   `json:"storyPoints,omitempty"`
	RemainingWork float64   `json:"remainingWork,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ChangedAt     time.Time `json:"changedAt"`
}

// ItemQuery holds filter criteria for work-item queries.
type ItemQuery struct {
	Project       string   `json:"project"`
	Types         []string `json:"types,omitempty"`
	States        []string `json:"states,omitempty"`
	IterationPath string   `json:"iterationPath,omitempty"`
	Team          string   `json:"team,omitempty"`
	ChangedSince  string   `json:"changedSince,omitempty"`
}

// Iteration is a sprint as reported by the upstream API.
type Iteration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	TimeFrame string    `json:"timeFrame"` // past, current, future
	StartDate time.Time `json:"startDate,omitempty"`
	EndDate   time.Time `json:"endDate,omitempty"`
}

// TeamMember is a roster entry for a project team.
type TeamMember struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// TrackingSource is the upstream data access strategy. The choice between
// the live API and static fixtures is made once at construction, never by
// inspecting configuration values at call time.
type TrackingSource interface {
	// QueryItems returns references matching the filter criteria.
	QueryItems(ctx context.Context, q ItemQuery) ([]WorkItemRef, error)

	// GetItemDetails fetches full fields for a set of item IDs.
	// Callers batching large ID sets go through the batch coordinator.
	GetItemDetails(ctx context.Context, project string, ids []int) ([]WorkItem, error)

	// ListIterations returns iterations for a project+team.
	// timeFrame may be empty (all) or "current".
	ListIterations(ctx context.Context, project, team, timeFrame string) ([]Iteration, error)

	// ListTeamMembers returns the roster for a project team.
	ListTeamMembers(ctx context.Context, project, team string) ([]TeamMember, error)
}
