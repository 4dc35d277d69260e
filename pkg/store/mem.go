package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development.
// Safe for concurrent use.
type MemStore struct {
	mu sync.Mutex

	Events      []SecurityEvent
	Users       map[string]*UserRisk
	JobStatuses map[string]string
	HiddenJobs  map[string]bool

	jobPosts      []memJob
	messages      []memMessage
	bidMessages   []memMessage
	approvedJobs  map[string]bool
	verifications map[string]VerificationStatus
}

type memJob struct {
	consumerID string
	createdAt  time.Time
}

type memMessage struct {
	jobID     string
	authorID  string
	body      string
	createdAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		Users:         make(map[string]*UserRisk),
		JobStatuses:   make(map[string]string),
		HiddenJobs:    make(map[string]bool),
		approvedJobs:  make(map[string]bool),
		verifications: make(map[string]VerificationStatus),
	}
}

// --- Test seeding helpers ---

func (m *MemStore) SeedUser(userID string, riskScore int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[userID] = &UserRisk{UserID: userID, RiskScore: riskScore}
}

func (m *MemStore) SeedJobPost(consumerID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobPosts = append(m.jobPosts, memJob{consumerID: consumerID, createdAt: at})
}

func (m *MemStore) SeedMessage(jobID, senderID, body string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, memMessage{jobID: jobID, authorID: senderID, body: body, createdAt: at})
}

func (m *MemStore) SeedBidMessage(jobID, providerID, body string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bidMessages = append(m.bidMessages, memMessage{jobID: jobID, authorID: providerID, body: body, createdAt: at})
}

func (m *MemStore) SeedApprovedExchange(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvedJobs[jobID] = true
}

func (m *MemStore) SeedVerification(providerID string, status VerificationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[providerID] = status
}

// EventsOfType returns the recorded events with the given action type.
func (m *MemStore) EventsOfType(actionType string) []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SecurityEvent
	for _, e := range m.Events {
		if e.ActionType == actionType {
			out = append(out, e)
		}
	}
	return out
}

// --- Store implementation ---

func (m *MemStore) InsertEvent(_ context.Context, evt SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	m.Events = append(m.Events, evt)
	return nil
}

func (m *MemStore) CountEvents(_ context.Context, actorUserID, actionType string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e.ActorUserID == actorUserID && e.ActionType == actionType && e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountJobsByConsumer(_ context.Context, consumerID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobPosts {
		if j.consumerID == consumerID && j.createdAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountMatchingMessages(_ context.Context, jobID, senderID, text string, since time.Time) (int, error) {
	return m.countMessages(m.messages, jobID, senderID, text, since), nil
}

func (m *MemStore) CountMatchingBidMessages(_ context.Context, jobID, providerID, text string, since time.Time) (int, error) {
	return m.countMessages(m.bidMessages, jobID, providerID, text, since), nil
}

func (m *MemStore) countMessages(list []memMessage, jobID, authorID, text string, since time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range list {
		if msg.jobID == jobID && msg.authorID == authorID && msg.body == text && msg.createdAt.After(since) {
			n++
		}
	}
	return n
}

func (m *MemStore) GetUserRisk(_ context.Context, userID string) (UserRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return UserRisk{}, ErrNotFound
	}
	return *u, nil
}

func (m *MemStore) IncrementUserRisk(_ context.Context, userID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.RiskScore += delta
	return u.RiskScore, nil
}

func (m *MemStore) SetRestrictedUntil(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return ErrNotFound
	}
	t := until
	u.RestrictedUntil = &t
	return nil
}

func (m *MemStore) FindApprovedExchange(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approvedJobs[jobID], nil
}

func (m *MemStore) GetVerificationStatus(_ context.Context, providerID string) (VerificationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.verifications[providerID]; ok {
		return s, nil
	}
	return VerificationNone, nil
}

func (m *MemStore) GetJobStatus(_ context.Context, jobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.JobStatuses[jobID]; ok {
		return s, nil
	}
	return "", ErrNotFound
}

func (m *MemStore) SetJobHidden(_ context.Context, jobID string, hidden bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HiddenJobs[jobID] = hidden
	return nil
}
