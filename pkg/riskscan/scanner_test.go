package riskscan

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fixedClock is a test clock that returns a controllable time.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}
}

// fakeCounter returns canned window counts.
type fakeCounter struct {
	jobs     int
	messages int
	bids     int
	err      error
}

func (f *fakeCounter) CountJobsByConsumer(context.Context, string, time.Time) (int, error) {
	return f.jobs, f.err
}
func (f *fakeCounter) CountMatchingMessages(context.Context, string, string, string, time.Time) (int, error) {
	return f.messages, f.err
}
func (f *fakeCounter) CountMatchingBidMessages(context.Context, string, string, string, time.Time) (int, error) {
	return f.bids, f.err
}

func TestAssessText_Clean(t *testing.T) {
	s := NewScanner(nil, nil)
	a := s.AssessText("Hi, can you fix my sink on Tuesday?")
	if a.TotalScore != 0 || len(a.Signals) != 0 {
		t.Fatalf("expected clean assessment, got %s", a.String())
	}
}

func TestAssessText_EmailAndPhone(t *testing.T) {
	s := NewScanner(nil, nil)
	a := s.AssessText("Contact me at chris@x.com or call 415-555-1212")
	if len(a.Signals) != 1 {
		t.Fatalf("expected exactly one signal, got %d: %s", len(a.Signals), a.String())
	}
	sig := a.Signals[0]
	if sig.Code != CodeContactInfo || sig.Score != ContactScoreBoth {
		t.Fatalf("expected CONTACT_INFO score 55, got %s:%d", sig.Code, sig.Score)
	}
	if sig.Detail != "email,phone" {
		t.Fatalf("expected detail email,phone, got %q", sig.Detail)
	}
	if a.TotalScore != 55 {
		t.Fatalf("expected total 55, got %d", a.TotalScore)
	}
}

func TestAssessText_SingleContactVector(t *testing.T) {
	s := NewScanner(nil, nil)
	for _, tt := range []struct {
		text   string
		detail string
	}{
		{"reach me at bob@example.org", "email"},
		{"call me at 555-222-1111", "phone"},
		{"my number is (415) 555 0199", "phone"},
		{"+1 415.555.0199 anytime", "phone"},
	} {
		a := s.AssessText(tt.text)
		if len(a.Signals) != 1 || a.Signals[0].Code != CodeContactInfo {
			t.Fatalf("%q: expected one CONTACT_INFO signal, got %s", tt.text, a.String())
		}
		if a.Signals[0].Score != ContactScoreSingle {
			t.Fatalf("%q: expected score 35, got %d", tt.text, a.Signals[0].Score)
		}
		if a.Signals[0].Detail != tt.detail {
			t.Fatalf("%q: expected detail %q, got %q", tt.text, tt.detail, a.Signals[0].Detail)
		}
	}
}

func TestAssessText_BannedKeyword(t *testing.T) {
	s := NewScanner(nil, nil)
	a := s.AssessText("pay with western union")
	if len(a.Signals) != 1 {
		t.Fatalf("expected one signal, got %s", a.String())
	}
	sig := a.Signals[0]
	if sig.Code != CodeBannedKeyword || sig.Score != 50 || sig.Detail != "western union" {
		t.Fatalf("unexpected signal %+v", sig)
	}
}

func TestAssessText_CaseAndWhitespaceInsensitive(t *testing.T) {
	s := NewScanner(nil, nil)
	a := s.AssessText("WESTERN\t\tUNION   transfer")
	if !a.Has(CodeBannedKeyword) {
		t.Fatalf("expected keyword match on normalized text, got %s", a.String())
	}
}

func TestAssessText_OverlappingEntriesBothMatch(t *testing.T) {
	// "cashapp" contains no space, "cash app" does; a text carrying both
	// spellings scores both entries. No dedup by design.
	s := NewScanner(nil, nil)
	a := s.AssessText("use cash app or cashapp")
	hits := 0
	for _, sig := range a.Signals {
		if sig.Code == CodeBannedKeyword {
			hits++
		}
	}
	if hits != 2 {
		t.Fatalf("expected 2 keyword signals, got %d: %s", hits, a.String())
	}
	if a.TotalScore != 40 {
		t.Fatalf("expected total 40, got %d", a.TotalScore)
	}
}

func TestAssessText_TotalEqualsSum(t *testing.T) {
	s := NewScanner(nil, nil)
	a := s.AssessText("wire transfer via zelle, whatsapp me at dan@x.io or 555-222-1111")
	sum := 0
	for _, sig := range a.Signals {
		sum += sig.Score
	}
	if a.TotalScore != sum {
		t.Fatalf("TotalScore %d != sum of signals %d", a.TotalScore, sum)
	}
}

func TestAssessText_Deterministic(t *testing.T) {
	s := NewScanner(nil, nil)
	text := "telegram me at 555-222-1111 about the gift card"
	a1 := s.AssessText(text)
	a2 := s.AssessText(text)
	if a1.String() != a2.String() {
		t.Fatalf("assessments differ: %s vs %s", a1.String(), a2.String())
	}
}

func TestAssessJobPost_TooManyJobs(t *testing.T) {
	clk := newFixedClock()
	fc := &fakeCounter{jobs: 2} // 2 prior + this one = 3
	s := NewScanner(nil, fc).WithClock(clk)

	a := s.AssessJobPost(context.Background(), "consumer-1", "need a plumber")
	if !a.Has(CodeTooManyJobs) {
		t.Fatalf("expected TOO_MANY_JOBS, got %s", a.String())
	}
	// count=3 → 15*(3-2)
	if a.TotalScore != 15 {
		t.Fatalf("expected score 15, got %d", a.TotalScore)
	}

	fc.jobs = 4 // count=5 → 15*3
	a = s.AssessJobPost(context.Background(), "consumer-1", "need a plumber")
	if a.TotalScore != 45 {
		t.Fatalf("expected score 45, got %d", a.TotalScore)
	}
}

func TestAssessJobPost_BelowThreshold(t *testing.T) {
	s := NewScanner(nil, &fakeCounter{jobs: 1}).WithClock(newFixedClock())
	a := s.AssessJobPost(context.Background(), "consumer-1", "need a plumber")
	if a.Has(CodeTooManyJobs) {
		t.Fatalf("2 jobs in window should not trigger, got %s", a.String())
	}
}

func TestAssessJobPost_CountFailureDegrades(t *testing.T) {
	s := NewScanner(nil, &fakeCounter{err: errors.New("db down")}).WithClock(newFixedClock())
	a := s.AssessJobPost(context.Background(), "consumer-1", "wire transfer ok")
	if a.Has(CodeTooManyJobs) {
		t.Fatal("count failure must not add TOO_MANY_JOBS")
	}
	if !a.Has(CodeBannedKeyword) {
		t.Fatal("base scan must survive a count failure")
	}
}

func TestAssessRepeatedMessage(t *testing.T) {
	clk := newFixedClock()
	long := "please contact me off the platform right away"

	s := NewScanner(nil, &fakeCounter{messages: 2}).WithClock(clk)
	a := s.AssessRepeatedMessage(context.Background(), "job-1", "user-1", long)
	if !a.Has(CodeRepeatedMessage) {
		t.Fatalf("expected REPEATED_MESSAGE, got %s", a.String())
	}
	// 2 prior at threshold 2 → base 25
	for _, sig := range a.Signals {
		if sig.Code == CodeRepeatedMessage && sig.Score != 25 {
			t.Fatalf("expected base score 25, got %d", sig.Score)
		}
	}

	s = NewScanner(nil, &fakeCounter{messages: 4}).WithClock(clk)
	a = s.AssessRepeatedMessage(context.Background(), "job-1", "user-1", long)
	for _, sig := range a.Signals {
		if sig.Code == CodeRepeatedMessage && sig.Score != 45 {
			t.Fatalf("expected 25+10*2=45 for 4 repeats, got %d", sig.Score)
		}
	}
}

func TestAssessRepeatedMessage_ShortTextExempt(t *testing.T) {
	s := NewScanner(nil, &fakeCounter{messages: 9}).WithClock(newFixedClock())
	a := s.AssessRepeatedMessage(context.Background(), "job-1", "user-1", "ok")
	if a.Has(CodeRepeatedMessage) {
		t.Fatal("short repeats must not be penalized")
	}
}

func TestAssessRepeatedBidMessage(t *testing.T) {
	s := NewScanner(nil, &fakeCounter{bids: 1}).WithClock(newFixedClock())
	a := s.AssessRepeatedBidMessage(context.Background(), "job-1", "prov-1", "I can do this job cheap")
	if !a.Has(CodeRepeatedBidMessage) {
		t.Fatalf("one prior identical bid message should trigger, got %s", a.String())
	}
	if a.TotalScore != 20 {
		t.Fatalf("expected base score 20, got %d", a.TotalScore)
	}

	s = NewScanner(nil, &fakeCounter{bids: 3}).WithClock(newFixedClock())
	a = s.AssessRepeatedBidMessage(context.Background(), "job-1", "prov-1", "I can do this job cheap")
	if a.TotalScore != 40 {
		t.Fatalf("expected 20+10*2=40, got %d", a.TotalScore)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  Hello\tWORLD \n again ")
	if got != "hello world again" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}
