// Package store defines the persistence contract the moderation engine
// depends on, plus the SQL, in-memory and Redis-backed implementations.
//
// The engine itself is stateless; every windowed count, risk-score increment
// and restriction write goes through the Store interface so decision logic
// can be unit-tested against fakes.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a point lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// VerificationStatus is a provider's identity-verification state.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "NONE"
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// SecurityEvent is one append-only audit record. Events are written for every
// block, restriction and gated bypass, and read back to drive rate-based
// escalation. They are never mutated or deleted.
type SecurityEvent struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actor_user_id"`
	ActionType  string         `json:"action_type"`
	CreatedAt   time.Time      `json:"created_at"`
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UserRisk is the slice of the user record this engine reads and mutates.
// RiskScore only ever goes up; RestrictedUntil means "restricted while in
// the future".
type UserRisk struct {
	UserID          string     `json:"user_id"`
	RiskScore       int        `json:"risk_score"`
	RestrictedUntil *time.Time `json:"restricted_until,omitempty"`
}

// Store is the full ledger/query/update contract from the surrounding
// persistence layer. All operations are simple point or range queries;
// IncrementUserRisk must be atomic per user.
type Store interface {
	// InsertEvent appends one security event.
	InsertEvent(ctx context.Context, evt SecurityEvent) error

	// CountEvents counts events for an actor with the given action type
	// created after since.
	CountEvents(ctx context.Context, actorUserID, actionType string, since time.Time) (int, error)

	// CountJobsByConsumer counts jobs posted by a consumer after since.
	CountJobsByConsumer(ctx context.Context, consumerID string, since time.Time) (int, error)

	// CountMatchingMessages counts messages on a job by a sender with exactly
	// this text, created after since.
	CountMatchingMessages(ctx context.Context, jobID, senderID, text string, since time.Time) (int, error)

	// CountMatchingBidMessages is the bid-message variant of
	// CountMatchingMessages.
	CountMatchingBidMessages(ctx context.Context, jobID, providerID, text string, since time.Time) (int, error)

	// GetUserRisk reads a user's cumulative risk state.
	GetUserRisk(ctx context.Context, userID string) (UserRisk, error)

	// IncrementUserRisk atomically adds delta to the user's risk score and
	// returns the new total. Callers must never read-modify-write.
	IncrementUserRisk(ctx context.Context, userID string, delta int) (int, error)

	// SetRestrictedUntil sets the user's restriction expiry.
	SetRestrictedUntil(ctx context.Context, userID string, until time.Time) error

	// FindApprovedExchange reports whether an APPROVED contact-exchange
	// request exists for the job.
	FindApprovedExchange(ctx context.Context, jobID string) (bool, error)

	// GetVerificationStatus returns the provider's verification status,
	// VerificationNone if no record exists.
	GetVerificationStatus(ctx context.Context, providerID string) (VerificationStatus, error)
}

// EventCounter is the narrow read side used by rate-based escalation. The
// SQL store satisfies it directly; a RedisEventCounter can front it for
// hot paths.
type EventCounter interface {
	CountEvents(ctx context.Context, actorUserID, actionType string, since time.Time) (int, error)
}
