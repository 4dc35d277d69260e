package riskscan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WindowCounter is the slice of the persistence layer the contextual scans
// need: trailing-window counts over jobs, messages and bid messages. Counts
// exclude the item currently being moderated (it is not persisted yet).
type WindowCounter interface {
	CountJobsByConsumer(ctx context.Context, consumerID string, since time.Time) (int, error)
	CountMatchingMessages(ctx context.Context, jobID, senderID, text string, since time.Time) (int, error)
	CountMatchingBidMessages(ctx context.Context, jobID, providerID, text string, since time.Time) (int, error)
}

// Windows holds the tunable parameters of the windowed scans.
type Windows struct {
	JobPostWindow      time.Duration // lookback for TOO_MANY_JOBS
	JobPostThreshold   int           // jobs (including this one) to trigger
	RepeatWindow       time.Duration // lookback for REPEATED_MESSAGE
	RepeatThreshold    int           // prior identical sends to trigger
	RepeatMinLength    int           // normalized length below which repeats are ignored
	BidRepeatWindow    time.Duration // lookback for REPEATED_BID_MESSAGE
	BidRepeatThreshold int           // prior identical bid messages to trigger
}

// DefaultWindows returns the production defaults.
func DefaultWindows() Windows {
	return Windows{
		JobPostWindow:      30 * time.Minute,
		JobPostThreshold:   3,
		RepeatWindow:       10 * time.Minute,
		RepeatThreshold:    2,
		RepeatMinLength:    20,
		BidRepeatWindow:    60 * time.Minute,
		BidRepeatThreshold: 1,
	}
}

// AssessJobPost runs the base scan and adds a TOO_MANY_JOBS signal when the
// consumer has posted at or above the threshold inside the window, this post
// included. Score grows linearly with each job past the second.
// Count failures degrade to the base scan only.
func (s *Scanner) AssessJobPost(ctx context.Context, consumerID, text string) Assessment {
	a := s.AssessText(text)

	since := s.clock.Now().Add(-s.windows.JobPostWindow)
	prior, err := s.counter.CountJobsByConsumer(ctx, consumerID, since)
	if err != nil {
		slog.Warn("riskscan: job count unavailable, skipping TOO_MANY_JOBS", "consumer_id", consumerID, "error", err)
		return a
	}

	count := prior + 1
	if count >= s.windows.JobPostThreshold {
		a.add(Signal{
			Code:   CodeTooManyJobs,
			Score:  15 * (count - 2),
			Detail: fmt.Sprintf("%d jobs in %s", count, s.windows.JobPostWindow),
		})
	}
	return a
}

// AssessRepeatedMessage runs the base scan and adds a REPEATED_MESSAGE signal
// when the exact same text was already sent by the sender on this job at or
// above the threshold inside the window. Short texts are exempt: repeating
// "ok" is conversation, not spam.
func (s *Scanner) AssessRepeatedMessage(ctx context.Context, jobID, senderID, text string) Assessment {
	a := s.AssessText(text)

	norm := Normalize(text)
	if len(norm) < s.windows.RepeatMinLength {
		return a
	}

	since := s.clock.Now().Add(-s.windows.RepeatWindow)
	prior, err := s.counter.CountMatchingMessages(ctx, jobID, senderID, text, since)
	if err != nil {
		slog.Warn("riskscan: message count unavailable, skipping REPEATED_MESSAGE", "job_id", jobID, "sender_id", senderID, "error", err)
		return a
	}

	if prior >= s.windows.RepeatThreshold {
		a.add(Signal{
			Code:   CodeRepeatedMessage,
			Score:  25 + 10*(prior-s.windows.RepeatThreshold),
			Detail: fmt.Sprintf("%d identical sends in %s", prior, s.windows.RepeatWindow),
		})
	}
	return a
}

// AssessRepeatedBidMessage is the bid-message variant of AssessRepeatedMessage:
// a longer window, a lower threshold (one prior identical message suffices)
// and no minimum length, since bid boilerplate is the abuse vector here.
func (s *Scanner) AssessRepeatedBidMessage(ctx context.Context, jobID, providerID, text string) Assessment {
	a := s.AssessText(text)

	since := s.clock.Now().Add(-s.windows.BidRepeatWindow)
	prior, err := s.counter.CountMatchingBidMessages(ctx, jobID, providerID, text, since)
	if err != nil {
		slog.Warn("riskscan: bid message count unavailable, skipping REPEATED_BID_MESSAGE", "job_id", jobID, "provider_id", providerID, "error", err)
		return a
	}

	if prior >= s.windows.BidRepeatThreshold {
		a.add(Signal{
			Code:   CodeRepeatedBidMessage,
			Score:  20 + 10*(prior-s.windows.BidRepeatThreshold),
			Detail: fmt.Sprintf("%d identical bid messages in %s", prior, s.windows.BidRepeatWindow),
		})
	}
	return a
}
