// Package metrics provides pure KPI aggregation over fetched item data.
package metrics

import (
	"math"
	"strings"

	"github.com/teamlens/kestrel/internal/domain"
)

// Rate converts completed/total into a percentage rounded to one decimal.
// A zero total yields 0.0 rather than NaN.
func Rate(part, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

// ClampNonNegative bounds derived counts at zero.
func ClampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// DerivedClassified computes the classified count when it is not directly
// available: totalBugs - unclassified, clamped at zero.
func DerivedClassified(totalBugs, unclassified int) int {
	return ClampNonNegative(totalBugs - unclassified)
}

// Velocity summarizes completed work for an iteration from already-fetched
// items. Items outside the iteration path are ignored.
func Velocity(project, iterationPath string, items []domain.WorkItem) domain.VelocityReport {
	report := domain.VelocityReport{
		Project:       project,
		IterationPath: iterationPath,
	}

	planned := 0
	for _, item := range items {
		if iterationPath != "" && !strings.HasPrefix(item.IterationPath, iterationPath) {
			continue
		}
		if item.Type != "User Story" && item.Type != "Task" {
			continue
		}

		planned++
		report.PlannedWork += item.StoryPoints

		if isDone(item.State) {
			report.CompletedItems++
			report.CompletedWork += item.StoryPoints
		}
	}

	report.CompletionRate = Rate(report.CompletedItems, planned)
	return report
}

// BurndownPoint is one remaining-work sample.
type BurndownPoint struct {
	Label     string  `json:"label"`
	Remaining float64 `json:"remaining"`
}

// Burndown computes the remaining-work total per assignee for an iteration.
func Burndown(iterationPath string, items []domain.WorkItem) []BurndownPoint {
	remaining := make(map[string]float64)
	order := make([]string, 0)

	for _, item := range items {
		if iterationPath != "" && !strings.HasPrefix(item.IterationPath, iterationPath) {
			continue
		}
		if isDone(item.State) || item.RemainingWork <= 0 {
			continue
		}

		who := item.AssignedTo
		if who == "" {
			who = "Unassigned"
		}
		if _, seen := remaining[who]; !seen {
			order = append(order, who)
		}
		remaining[who] += item.RemainingWork
	}

	points := make([]BurndownPoint, 0, len(order))
	for _, who := range order {
		points = append(points, BurndownPoint{Label: who, Remaining: remaining[who]})
	}
	return points
}

func isDone(state string) bool {
	switch state {
	case "Closed", "Done", "Resolved", "Completed":
		return true
	}
	return false
}
