package model

import "time"

// ExclusionReason explains why the auto-validation gate refused a proposal.
type ExclusionReason string

const (
	ExclusionLowConfidence   ExclusionReason = "low_confidence"
	ExclusionFeaturedEvent   ExclusionReason = "featured_event"
	ExclusionPremiumCustomer ExclusionReason = "premium_customer"
	ExclusionNewRaces        ExclusionReason = "new_races"
	ExclusionOther           ExclusionReason = "other"
)

// ExclusionReasons lists every reason in precedence order.
var ExclusionReasons = []ExclusionReason{
	ExclusionLowConfidence,
	ExclusionFeaturedEvent,
	ExclusionPremiumCustomer,
	ExclusionNewRaces,
	ExclusionOther,
}

// RunReport is the outcome of a single unattended validation run.
type RunReport struct {
	Analyzed  int                     `json:"analyzed"`
	Validated int                     `json:"validated"`
	Ignored   int                     `json:"ignored"`
	Failures  int                     `json:"failures"`
	Excluded  map[ExclusionReason]int `json:"excluded,omitempty"`
}

// AddExclusion increments the histogram entry for the given reason.
func (r *RunReport) AddExclusion(reason ExclusionReason) {
	if r.Excluded == nil {
		r.Excluded = make(map[ExclusionReason]int)
	}
	r.Excluded[reason]++
}

// RunStats is the process-wide cumulative counter row for one runner
// identity. Counters are only ever incremented, never reset.
type RunStats struct {
	Runner    string                    `json:"runner"`
	Analyzed  int64                     `json:"analyzed"`
	Validated int64                     `json:"validated"`
	Ignored   int64                     `json:"ignored"`
	Failures  int64                     `json:"failures"`
	Excluded  map[ExclusionReason]int64 `json:"excluded"`
	UpdatedAt time.Time                 `json:"updated_at"`
}
