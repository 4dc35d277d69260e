package escalation

import (
	"context"
	"errors"
	"testing"
	"time"
)

var policyNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

type fakeEvents struct {
	count int
	err   error

	gotActor string
	gotSince time.Time
}

func (f *fakeEvents) CountEvents(_ context.Context, actorUserID, _ string, since time.Time) (int, error) {
	f.gotActor = actorUserID
	f.gotSince = since
	return f.count, f.err
}

type fakeUsers struct {
	restrictedUntil time.Time
	restrictErr     error
	incremented     int
}

func (f *fakeUsers) SetRestrictedUntil(_ context.Context, _ string, until time.Time) error {
	if f.restrictErr != nil {
		return f.restrictErr
	}
	f.restrictedUntil = until
	return nil
}

func (f *fakeUsers) IncrementUserRisk(_ context.Context, _ string, delta int) (int, error) {
	f.incremented += delta
	return f.incremented, nil
}

func newTestPolicy(events *fakeEvents, users *fakeUsers) *Policy {
	return NewPolicy(events, users, nil).WithClock(func() time.Time { return policyNow })
}

func TestDecideFromRecentEvents_BelowLadder(t *testing.T) {
	p := newTestPolicy(&fakeEvents{count: 2}, &fakeUsers{})
	d := p.DecideFromRecentEvents(context.Background(), "user-1", "message.blocked", time.Hour, "spam")
	if d.Action != ActionNone {
		t.Fatalf("2 violations must not restrict, got %+v", d)
	}
}

func TestDecideFromRecentEvents_Ladder(t *testing.T) {
	events := &fakeEvents{count: 3}
	p := newTestPolicy(events, &fakeUsers{})

	d := p.DecideFromRecentEvents(context.Background(), "user-1", "message.blocked", time.Hour, "spam")
	if d.Action != ActionRestrict || d.Minutes != 30 {
		t.Fatalf("expected 30 min restriction at count 3, got %+v", d)
	}
	if want := policyNow.Add(30 * time.Minute); !d.RestrictedUntil.Equal(want) {
		t.Fatalf("expected until %v, got %v", want, d.RestrictedUntil)
	}
	if events.gotActor != "user-1" {
		t.Fatalf("counted the wrong actor: %q", events.gotActor)
	}
	if want := policyNow.Add(-time.Hour); !events.gotSince.Equal(want) {
		t.Fatalf("expected since %v, got %v", want, events.gotSince)
	}

	events.count = 5
	if d = p.DecideFromRecentEvents(context.Background(), "user-1", "message.blocked", time.Hour, "spam"); d.Minutes != 360 {
		t.Fatalf("expected 360 min at count 5, got %d", d.Minutes)
	}
	events.count = 8
	if d = p.DecideFromRecentEvents(context.Background(), "user-1", "message.blocked", time.Hour, "spam"); d.Minutes != 1440 {
		t.Fatalf("expected 1440 min at count 8, got %d", d.Minutes)
	}
}

func TestDecideFromRecentEvents_CountFailureFailsOpen(t *testing.T) {
	p := newTestPolicy(&fakeEvents{err: errors.New("redis timeout")}, &fakeUsers{})
	d := p.DecideFromRecentEvents(context.Background(), "user-1", "message.blocked", time.Hour, "spam")
	if d.Action != ActionNone {
		t.Fatalf("count failure must fail open, got %+v", d)
	}
}

func TestDecideFromCount_Metadata(t *testing.T) {
	p := newTestPolicy(&fakeEvents{}, &fakeUsers{})
	d := p.DecideFromCount(6, "message.blocked", 30*time.Minute, "spam")
	if d.Reason != "spam" {
		t.Fatalf("expected reason spam, got %q", d.Reason)
	}
	if d.Metadata["violation_count"] != 6 || d.Metadata["window_minutes"] != 30 {
		t.Fatalf("unexpected metadata: %v", d.Metadata)
	}
}

func TestFixedRestriction(t *testing.T) {
	p := newTestPolicy(&fakeEvents{}, &fakeUsers{})
	d := p.FixedRestriction(24*time.Hour, "risk_score_threshold", nil)
	if d.Action != ActionRestrict || d.Minutes != 1440 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if want := policyNow.Add(24 * time.Hour); !d.RestrictedUntil.Equal(want) {
		t.Fatalf("expected until %v, got %v", want, d.RestrictedUntil)
	}
}

func TestApply_WritesRestriction(t *testing.T) {
	users := &fakeUsers{}
	p := newTestPolicy(&fakeEvents{}, users)

	d := p.FixedRestriction(time.Hour, "spam", nil)
	if !p.Apply(context.Background(), "user-1", d, 10) {
		t.Fatal("expected Apply to report success")
	}
	if !users.restrictedUntil.Equal(policyNow.Add(time.Hour)) {
		t.Fatalf("restriction not written: %v", users.restrictedUntil)
	}
	if users.incremented != 10 {
		t.Fatalf("expected score increment 10, got %d", users.incremented)
	}
}

func TestApply_NoneIsNoop(t *testing.T) {
	users := &fakeUsers{}
	p := newTestPolicy(&fakeEvents{}, users)
	if p.Apply(context.Background(), "user-1", None(), 10) {
		t.Fatal("None must not apply")
	}
	if users.incremented != 0 {
		t.Fatal("None must not touch the score")
	}
}

func TestApply_WriteFailureIsSwallowed(t *testing.T) {
	users := &fakeUsers{restrictErr: errors.New("connection reset")}
	p := newTestPolicy(&fakeEvents{}, users)
	d := p.FixedRestriction(time.Hour, "spam", nil)
	if p.Apply(context.Background(), "user-1", d, 0) {
		t.Fatal("failed write must report false, not panic or error")
	}
}
