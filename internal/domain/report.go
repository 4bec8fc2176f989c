package domain

// Tier identifies which path of the resilience protocol produced a payload.
type Tier string

const (
	// TierPrimary is the live aggregation path.
	TierPrimary Tier = "primary"

	// TierFallback is the derived computation from persisted sweep data.
	TierFallback Tier = "fallback"

	// TierLastResort is the synthesized empty payload. Cannot fail.
	TierLastResort Tier = "lastResort"
)

// Classification is the bug classification payload. Its shape is identical
// across all tiers; callers never branch on Tier.
type Classification struct {
	Project            string         `json:"project"`
	IterationPath      string         `json:"iterationPath,omitempty"`
	TotalBugs          int            `json:"totalBugs"`
	Classified         int            `json:"classified"`
	Unclassified       int            `json:"unclassified"`
	ClassificationRate float64        `json:"classificationRate"` // percent, one decimal
	Categories         map[string]int `json:"categories"`
}

// FallbackResult wraps a payload with the tier that produced it.
// Invariant: Degraded == (Tier != TierPrimary).
type FallbackResult struct {
	Tier     Tier            `json:"tier"`
	Degraded bool            `json:"degraded"`
	Payload  *Classification `json:"payload"`
}

// ResolvedIteration records one iteration resolution attempt.
// Path == "" means the reference could not be resolved; callers must
// treat that as "apply no iteration filter", not as an error.
type ResolvedIteration struct {
	LogicalRef string `json:"logicalRef"`
	Path       string `json:"path"`
	Team       string `json:"team"`
}

// VelocityReport summarizes completed work per iteration.
type VelocityReport struct {
	Project        string  `json:"project"`
	IterationPath  string  `json:"iterationPath"`
	CompletedItems int     `json:"completedItems"`
	CompletedWork  float64 `json:"completedWork"`
	PlannedWork    float64 `json:"plannedWork"`
	CompletionRate float64 `json:"completionRate"` // percent, one decimal
}
