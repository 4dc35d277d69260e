// Package riskscan extracts risk signals from user-authored text.
//
// The scanner is a deterministic keyword+regex scorer: every banned phrase
// and contact-info vector found in a message contributes one weighted signal,
// and the contextual variants layer windowed-count signals (repeated
// messages, job-post floods) on top of the base scan. Signals feed the
// moderation verdict and the cumulative risk score; they are never persisted
// directly.
package riskscan

import (
	"fmt"
	"strings"
	"time"
)

// SignalCode identifies the kind of risk a signal reports.
type SignalCode string

const (
	// CodeBannedKeyword — a phrase from the banned-keyword bank matched.
	CodeBannedKeyword SignalCode = "BANNED_KEYWORD"
	// CodeContactInfo — an email address or phone number was detected.
	CodeContactInfo SignalCode = "CONTACT_INFO"
	// CodeTooManyJobs — the consumer posted too many jobs in a short window.
	CodeTooManyJobs SignalCode = "TOO_MANY_JOBS"
	// CodeRepeatedMessage — the same text was sent repeatedly on one job.
	CodeRepeatedMessage SignalCode = "REPEATED_MESSAGE"
	// CodeRepeatedBidMessage — the same bid message was submitted repeatedly.
	CodeRepeatedBidMessage SignalCode = "REPEATED_BID_MESSAGE"
)

// Signal is one weighted risk observation. Immutable once created.
type Signal struct {
	Code   SignalCode `json:"code"`
	Score  int        `json:"score"`
	Detail string     `json:"detail,omitempty"`
}

// Assessment is the result of scanning one piece of text.
// TotalScore always equals the sum of the signal scores.
type Assessment struct {
	TotalScore int      `json:"total_score"`
	Signals    []Signal `json:"signals"`
}

// add appends a signal and keeps TotalScore consistent.
func (a *Assessment) add(s Signal) {
	a.Signals = append(a.Signals, s)
	a.TotalScore += s.Score
}

// Has reports whether any signal with the given code is present.
func (a *Assessment) Has(code SignalCode) bool {
	for _, s := range a.Signals {
		if s.Code == code {
			return true
		}
	}
	return false
}

// String renders a compact audit line, e.g. "score=55 [CONTACT_INFO:55]".
func (a *Assessment) String() string {
	parts := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		parts = append(parts, fmt.Sprintf("%s:%d", s.Code, s.Score))
	}
	return fmt.Sprintf("score=%d [%s]", a.TotalScore, strings.Join(parts, " "))
}

// Clock provides the scanner's notion of now. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
