// Package resolve maps logical sprint references to concrete iteration paths.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/domain"
)

// Namespace and TTL for cached resolutions. Iteration layouts change rarely,
// so a long TTL keeps candidate probing off the hot path.
const (
	cacheNamespace = "iterations"
	cacheTTL       = 30 * time.Minute
)

// Logical references the resolver recognizes. Anything else is treated as an
// already-concrete iteration path and returned unchanged.
const (
	RefCurrent = "current"
	RefLatest  = "latest"
)

// candidateKind tags one team-name guessing strategy. Each strategy is
// independently testable; the resolver tries them in declaration order.
type candidateKind string

const (
	candidateTeamHint       candidateKind = "teamHint"
	candidateExactProject   candidateKind = "exactProject"
	candidateProjectTeam    candidateKind = "projectTeamSuffix"
	candidateLastSegment    candidateKind = "lastPathSegment"
	candidateStrippedPrefix candidateKind = "strippedPrefix"
)

type candidate struct {
	kind candidateKind
	team string
}

// Resolver turns logical sprint references ("current", "latest") into
// concrete iteration paths, retrying across team-name variants.
type Resolver struct {
	source  domain.TrackingSource
	fetcher *cache.Fetcher
}

// NewResolver creates an iteration resolver.
func NewResolver(source domain.TrackingSource, fetcher *cache.Fetcher) *Resolver {
	return &Resolver{source: source, fetcher: fetcher}
}

// Resolve maps a logical reference to a concrete iteration path.
// An empty returned path means "could not resolve": callers must apply no
// iteration filter rather than treat it as an error. Transport failures on
// individual candidates are logged and the next candidate is tried.
func (r *Resolver) Resolve(ctx context.Context, project, logicalRef, teamHint string) (domain.ResolvedIteration, error) {
	resolved := domain.ResolvedIteration{LogicalRef: logicalRef}

	// Concrete paths pass through untouched.
	if logicalRef != RefCurrent && logicalRef != RefLatest {
		resolved.Path = logicalRef
		return resolved, nil
	}

	params := map[string]any{"ref": logicalRef}
	if teamHint != "" {
		params["team"] = teamHint
	}

	err := r.fetcher.FetchInto(ctx, cacheNamespace, project, params, cacheTTL, func(ctx context.Context) (any, error) {
		attempt := r.resolveUncached(ctx, project, logicalRef, teamHint)
		if attempt.Path == "" {
			// Exhaustion is not cached: the next request probes again.
			return nil, errExhausted
		}
		return attempt, nil
	}, &resolved)
	if errors.Is(err, errExhausted) {
		return resolved, nil
	}
	if err != nil {
		// Only a decode problem can land here; degrade to direct resolution.
		slog.Warn("iteration cache unusable, resolving directly",
			"project", project,
			"error", err,
		)
		return r.resolveUncached(ctx, project, logicalRef, teamHint), nil
	}
	return resolved, nil
}

var errExhausted = errors.New("iteration resolution exhausted")

func (r *Resolver) resolveUncached(ctx context.Context, project, logicalRef, teamHint string) domain.ResolvedIteration {
	resolved := domain.ResolvedIteration{LogicalRef: logicalRef}

	timeFrame := ""
	if logicalRef == RefCurrent {
		timeFrame = "current"
	}

	for _, cand := range teamCandidates(project, teamHint) {
		iterations, err := r.source.ListIterations(ctx, project, cand.team, timeFrame)
		if err != nil {
			// One bad candidate must not abort the loop.
			slog.Debug("iteration candidate failed",
				"project", project,
				"strategy", string(cand.kind),
				"team", cand.team,
				"error", err,
			)
			continue
		}
		if len(iterations) == 0 {
			continue
		}

		resolved.Path = pickIteration(iterations, logicalRef)
		resolved.Team = cand.team
		return resolved
	}

	// Exhausted: no candidate produced iterations. Path stays empty.
	slog.Info("iteration resolution exhausted",
		"project", project,
		"ref", logicalRef,
	)
	return resolved
}

// pickIteration selects the path for a logical reference from a non-empty
// iteration list.
func pickIteration(iterations []domain.Iteration, logicalRef string) string {
	if logicalRef == RefCurrent {
		for _, it := range iterations {
			if it.TimeFrame == "current" {
				return it.Path
			}
		}
		return iterations[0].Path
	}

	// "latest": most recent start date wins.
	best := iterations[0]
	for _, it := range iterations[1:] {
		if it.StartDate.After(best.StartDate) {
			best = it
		}
	}
	return best.Path
}

// teamCandidates builds the ordered, de-duplicated list of team-name
// strategies for a project.
func teamCandidates(project, teamHint string) []candidate {
	var out []candidate
	seen := make(map[string]bool)

	add := func(kind candidateKind, team string) {
		if team == "" || seen[team] {
			return
		}
		seen[team] = true
		out = append(out, candidate{kind: kind, team: team})
	}

	add(candidateTeamHint, teamHint)
	add(candidateExactProject, project)
	add(candidateProjectTeam, project+" Team")
	add(candidateLastSegment, lastSegment(project))
	add(candidateStrippedPrefix, stripPrefix(project))

	return out
}

// lastSegment returns the final path segment of a project reference like
// "Org/Atlas" or "Org\\Atlas".
func lastSegment(project string) string {
	cut := strings.LastIndexAny(project, "/\\")
	if cut < 0 || cut == len(project)-1 {
		return ""
	}
	return project[cut+1:]
}

// stripPrefix drops a dotted org prefix, e.g. "Contoso.Atlas" -> "Atlas".
func stripPrefix(project string) string {
	cut := strings.LastIndex(project, ".")
	if cut < 0 || cut == len(project)-1 {
		return ""
	}
	return project[cut+1:]
}
