package escalation

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskhive/trustengine/pkg/store"
)

// Policy evaluates rate-based escalation against the audit ledger and
// applies restrictions to user records. All store failures on this path are
// secondary-lookup failures and fail open: a database hiccup must never lock
// a user out.
type Policy struct {
	events store.EventCounter
	users  UserRestrictor
	ladder Ladder
	clock  func() time.Time
}

// UserRestrictor is the write side of restriction application.
type UserRestrictor interface {
	SetRestrictedUntil(ctx context.Context, userID string, until time.Time) error
	IncrementUserRisk(ctx context.Context, userID string, delta int) (int, error)
}

// NewPolicy builds a policy over the given ledger reader and user writer.
// A nil ladder uses DefaultLadder.
func NewPolicy(events store.EventCounter, users UserRestrictor, ladder Ladder) *Policy {
	if ladder == nil {
		ladder = DefaultLadder()
	}
	return &Policy{
		events: events,
		users:  users,
		ladder: ladder,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (p *Policy) WithClock(clock func() time.Time) *Policy {
	p.clock = clock
	return p
}

// DecideFromRecentEvents counts the actor's matching security events inside
// the trailing window and feeds the count into the ladder. Count failures
// yield None rather than blocking the caller.
func (p *Policy) DecideFromRecentEvents(ctx context.Context, actorUserID, actionType string, window time.Duration, reason string) RestrictionDecision {
	now := p.clock()
	count, err := p.events.CountEvents(ctx, actorUserID, actionType, now.Add(-window))
	if err != nil {
		slog.Warn("escalation: event count unavailable, failing open",
			"actor_user_id", actorUserID, "action_type", actionType, "error", err)
		return None()
	}
	return p.DecideFromCount(count, actionType, window, reason)
}

// DecideFromCount applies the ladder to an already-known violation count
// (including the current violation).
func (p *Policy) DecideFromCount(count int, actionType string, window time.Duration, reason string) RestrictionDecision {
	minutes, ok := p.ladder.Minutes(count)
	if !ok {
		return None()
	}
	until := p.clock().Add(time.Duration(minutes) * time.Minute)
	return RestrictionDecision{
		Action:          ActionRestrict,
		RestrictedUntil: until,
		Minutes:         minutes,
		Reason:          reason,
		Metadata: map[string]any{
			"violation_count": count,
			"action_type":     actionType,
			"window_minutes":  int(window.Minutes()),
		},
	}
}

// FixedRestriction returns a restriction of the given duration starting now,
// used by the absolute risk-threshold path and the repeated-block path.
func (p *Policy) FixedRestriction(d time.Duration, reason string, metadata map[string]any) RestrictionDecision {
	return RestrictionDecision{
		Action:          ActionRestrict,
		RestrictedUntil: p.clock().Add(d),
		Minutes:         int(d.Minutes()),
		Reason:          reason,
		Metadata:        metadata,
	}
}

// Apply writes the restriction (and optional score increment) to the user
// record, best effort. Errors are logged and swallowed so restriction
// application never becomes a hard failure for the moderation call that
// triggered it. Returns whether the restriction write landed.
func (p *Policy) Apply(ctx context.Context, userID string, d RestrictionDecision, scoreIncrement int) bool {
	if d.Action != ActionRestrict {
		return false
	}
	if scoreIncrement > 0 {
		if _, err := p.users.IncrementUserRisk(ctx, userID, scoreIncrement); err != nil && !store.IsMissingColumn(err) {
			slog.Warn("escalation: risk increment failed", "user_id", userID, "error", err)
		}
	}
	if err := p.users.SetRestrictedUntil(ctx, userID, d.RestrictedUntil); err != nil {
		if store.IsMissingColumn(err) {
			slog.Warn("escalation: restricted_until column missing, skipping during migration", "user_id", userID)
		} else {
			slog.Error("escalation: restriction write failed",
				"user_id", userID, "reason", d.Reason, "minutes", d.Minutes, "error", err)
		}
		return false
	}
	slog.Info("escalation: user restricted",
		"user_id", userID, "reason", d.Reason, "minutes", d.Minutes, "until", d.RestrictedUntil)
	return true
}
