// Package escalation maps repeated violations to time-boxed account
// restrictions. The ladder is data, not code: an ordered list of
// (count threshold, restriction minutes) steps that operators can retune
// without touching decision logic.
package escalation

import "time"

// Step is one rung of the restriction ladder.
type Step struct {
	AtOrAbove int `yaml:"at_or_above" json:"at_or_above"`
	Minutes   int `yaml:"minutes" json:"minutes"`
}

// Ladder is an ordered set of steps. Selection is "highest satisfied step
// wins": the ladder is a monotonic ratchet, never a first-match scan, so a
// count of 6 lands on the ≥5 step even though ≥3 also matches.
type Ladder []Step

// DefaultLadder returns the production defaults:
// 3 violations → 30 min, 5 → 6 h, 8 → 24 h.
func DefaultLadder() Ladder {
	return Ladder{
		{AtOrAbove: 3, Minutes: 30},
		{AtOrAbove: 5, Minutes: 360},
		{AtOrAbove: 8, Minutes: 1440},
	}
}

// Minutes returns the restriction duration for the given violation count
// (including the current violation), or false when no step is satisfied.
func (l Ladder) Minutes(count int) (int, bool) {
	best, found := 0, false
	bestAt := -1
	for _, s := range l {
		if count >= s.AtOrAbove && s.AtOrAbove > bestAt {
			best, bestAt, found = s.Minutes, s.AtOrAbove, true
		}
	}
	return best, found
}

const (
	// RiskRestrictThreshold is the cumulative risk score at which the
	// absolute restriction path fires.
	RiskRestrictThreshold = 100
	// DefaultRestrictionHours is the fixed duration used by the absolute
	// threshold path and by repeated-block escalation.
	DefaultRestrictionHours = 24
	// DefaultShadowHideAt is the single-threshold score for quietly hiding
	// content without notifying the author.
	DefaultShadowHideAt = 40
)

// ShadowHideDecision says whether a piece of content should be quietly
// suppressed — a softer alternative to account restriction.
type ShadowHideDecision struct {
	Hide   bool
	Reason string
}

// DecideShadowHide applies the single-threshold shadow-hide rule. A zero or
// negative threshold falls back to DefaultShadowHideAt.
func DecideShadowHide(riskTotal, hideAtOrAbove int, reason string) ShadowHideDecision {
	if hideAtOrAbove <= 0 {
		hideAtOrAbove = DefaultShadowHideAt
	}
	if riskTotal >= hideAtOrAbove {
		return ShadowHideDecision{Hide: true, Reason: reason}
	}
	return ShadowHideDecision{}
}

// RestrictionAction is the outcome kind of a restriction decision.
type RestrictionAction string

const (
	ActionNone     RestrictionAction = "NONE"
	ActionRestrict RestrictionAction = "RESTRICT"
)

// RestrictionDecision is the result of an escalation check.
type RestrictionDecision struct {
	Action          RestrictionAction `json:"action"`
	RestrictedUntil time.Time         `json:"restricted_until,omitempty"`
	Minutes         int               `json:"minutes,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// None is the no-op decision.
func None() RestrictionDecision {
	return RestrictionDecision{Action: ActionNone}
}
