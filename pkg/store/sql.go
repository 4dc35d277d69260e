package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	actor_user_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	target_type TEXT,
	target_id TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_events_actor
	ON security_events (actor_user_id, action_type, created_at);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	risk_score INTEGER NOT NULL DEFAULT 0,
	restricted_until TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	consumer_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'OPEN',
	hidden INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS bid_messages (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS contact_exchange_requests (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_verifications (
	provider_id TEXT PRIMARY KEY,
	status TEXT NOT NULL
);
`

// Init creates the schema if it does not exist. In production the platform's
// migration tooling owns these tables; Init covers dev and test setups.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) InsertEvent(ctx context.Context, evt SecurityEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	var meta any
	if evt.Metadata != nil {
		b, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(b)
	}
	query := `
		INSERT INTO security_events (id, actor_user_id, action_type, created_at, target_type, target_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		evt.ID, evt.ActorUserID, evt.ActionType, evt.CreatedAt.UTC(), evt.TargetType, evt.TargetID, meta,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *SQLStore) CountEvents(ctx context.Context, actorUserID, actionType string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE actor_user_id = $1 AND action_type = $2 AND created_at > $3`
	return s.countOne(ctx, query, actorUserID, actionType, since.UTC())
}

func (s *SQLStore) CountJobsByConsumer(ctx context.Context, consumerID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE consumer_id = $1 AND created_at > $2`
	return s.countOne(ctx, query, consumerID, since.UTC())
}

func (s *SQLStore) CountMatchingMessages(ctx context.Context, jobID, senderID, text string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE job_id = $1 AND sender_id = $2 AND body = $3 AND created_at > $4`
	return s.countOne(ctx, query, jobID, senderID, text, since.UTC())
}

func (s *SQLStore) CountMatchingBidMessages(ctx context.Context, jobID, providerID, text string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM bid_messages WHERE job_id = $1 AND provider_id = $2 AND body = $3 AND created_at > $4`
	return s.countOne(ctx, query, jobID, providerID, text, since.UTC())
}

func (s *SQLStore) GetUserRisk(ctx context.Context, userID string) (UserRisk, error) {
	query := `SELECT id, risk_score, restricted_until FROM users WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, userID)

	var u UserRisk
	var until sql.NullTime
	err := row.Scan(&u.UserID, &u.RiskScore, &until)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRisk{}, ErrNotFound
		}
		return UserRisk{}, fmt.Errorf("get user risk: %w", err)
	}
	if until.Valid {
		t := until.Time
		u.RestrictedUntil = &t
	}
	return u, nil
}

// IncrementUserRisk is a single atomic UPDATE ... RETURNING so concurrent
// messages from the same user never lose an increment.
func (s *SQLStore) IncrementUserRisk(ctx context.Context, userID string, delta int) (int, error) {
	query := `UPDATE users SET risk_score = risk_score + $1 WHERE id = $2 RETURNING risk_score`
	row := s.db.QueryRowContext(ctx, query, delta, userID)

	var total int
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment user risk: %w", err)
	}
	return total, nil
}

func (s *SQLStore) SetRestrictedUntil(ctx context.Context, userID string, until time.Time) error {
	query := `UPDATE users SET restricted_until = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, until.UTC(), userID)
	if err != nil {
		return fmt.Errorf("set restricted_until: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) FindApprovedExchange(ctx context.Context, jobID string) (bool, error) {
	query := `SELECT COUNT(*) FROM contact_exchange_requests WHERE job_id = $1 AND status = 'APPROVED'`
	n, err := s.countOne(ctx, query, jobID)
	return n > 0, err
}

func (s *SQLStore) GetVerificationStatus(ctx context.Context, providerID string) (VerificationStatus, error) {
	query := `SELECT status FROM provider_verifications WHERE provider_id = $1`
	row := s.db.QueryRowContext(ctx, query, providerID)

	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerificationNone, nil
		}
		return VerificationNone, fmt.Errorf("get verification status: %w", err)
	}
	return VerificationStatus(status), nil
}

// GetJobStatus is used by the HTTP layer to resolve the job lifecycle state
// before gating. Not part of the engine's Store contract.
func (s *SQLStore) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	query := `SELECT status FROM jobs WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, jobID)

	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// SetJobHidden shadow-hides (or unhides) a job listing.
func (s *SQLStore) SetJobHidden(ctx context.Context, jobID string, hidden bool) error {
	h := 0
	if hidden {
		h = 1
	}
	query := `UPDATE jobs SET hidden = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, h, jobID); err != nil {
		return fmt.Errorf("set job hidden: %w", err)
	}
	return nil
}

func (s *SQLStore) countOne(ctx context.Context, query string, args ...any) (int, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}

// IsMissingColumn detects schema-evolution faults (a migration touching
// risk_score/restricted_until mid-deploy). Callers swallow these so message
// sends keep working while the schema settles.
func IsMissingColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column") || // sqlite
		strings.Contains(msg, "does not exist") || // postgres: column "x" does not exist
		strings.Contains(msg, "undefined column")
}
