// Package moderation turns risk assessments into allow/block verdicts and
// runs the off-platform contact gate.
//
// Verdicts are values, never errors: a BLOCK is a structured response to the
// caller, and only infrastructure faults surface as Go errors. The decision
// functions in this file are pure; the Engine in engine.go owns every store
// effect.
package moderation

import (
	"strings"

	"github.com/taskhive/trustengine/pkg/riskscan"
)

// Action is the moderation verdict kind.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionBlock Action = "BLOCK"
)

// Reason codes carried on a BLOCK. Always a non-empty subset of these two.
const (
	ReasonContactInfo   = "CONTACT_INFO"
	ReasonBannedKeyword = "BANNED_KEYWORD"
)

// Decision is the allow/block classification of one assessment.
type Decision struct {
	Action      Action   `json:"action"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
}

// Decide classifies an assessment: BLOCK if any CONTACT_INFO or
// BANNED_KEYWORD signal is present, regardless of score magnitude.
// Repetition signals (REPEATED_MESSAGE, REPEATED_BID_MESSAGE) are ignored
// here — repetition alone must never block a message, it only feeds scoring
// and escalation.
func Decide(a riskscan.Assessment) Decision {
	var reasons []string
	if a.Has(riskscan.CodeContactInfo) {
		reasons = append(reasons, ReasonContactInfo)
	}
	if a.Has(riskscan.CodeBannedKeyword) {
		reasons = append(reasons, ReasonBannedKeyword)
	}
	if len(reasons) == 0 {
		return Decision{Action: ActionAllow}
	}
	return Decision{Action: ActionBlock, ReasonCodes: reasons}
}

// offPlatformChannels are banned keywords that pivot communication to another
// channel rather than solicit payment fraud.
var offPlatformChannels = map[string]bool{
	"telegram": true,
	"whatsapp": true,
}

// Classification partitions a blocked message's signals into contact-like
// vectors and scam vectors.
type Classification struct {
	HasContactInfo      bool
	OffPlatformKeywords []string // subset of {telegram, whatsapp}
	ScamKeywords        []string // every other banned-keyword hit
	// OnlyContactLike is true iff at least one contact-like vector exists
	// and zero scam keywords exist. Only such messages may be gated.
	OnlyContactLike bool
}

// ClassifyOffPlatform derives the contact-like/scam partition from an
// assessment.
func ClassifyOffPlatform(a riskscan.Assessment) Classification {
	var c Classification
	for _, s := range a.Signals {
		switch s.Code {
		case riskscan.CodeContactInfo:
			c.HasContactInfo = true
		case riskscan.CodeBannedKeyword:
			if offPlatformChannels[s.Detail] {
				c.OffPlatformKeywords = append(c.OffPlatformKeywords, s.Detail)
			} else {
				c.ScamKeywords = append(c.ScamKeywords, s.Detail)
			}
		}
	}
	hasContactVector := c.HasContactInfo || len(c.OffPlatformKeywords) > 0
	c.OnlyContactLike = hasContactVector && len(c.ScamKeywords) == 0
	return c
}

// GateReason identifies which bypass condition was satisfied.
type GateReason string

const (
	GateJobStatus        GateReason = "job_status_awarded_or_later"
	GateExchangeApproved GateReason = "contact_exchange_approved"
	GateVerifiedLowRisk  GateReason = "sender_verified_low_risk"
)

// GateDecision is the off-platform gate's outcome.
type GateDecision struct {
	Bypass bool       `json:"bypass"`
	Reason GateReason `json:"reason,omitempty"`
}

// JobStatusOpen is the only job lifecycle state in which off-platform contact
// still threatens the fee model.
const JobStatusOpen = "OPEN"

// JobStatusAllowsOffPlatformContact reports whether the job has been awarded
// or moved further in its lifecycle. An empty/unknown status is treated as
// OPEN (no bypass).
func JobStatusAllowsOffPlatformContact(status string) bool {
	return status != "" && !strings.EqualFold(status, JobStatusOpen)
}

// ShouldBypassContactBlock applies the off-platform gate. It only ever
// bypasses a message that is contact-like with no scam keywords; any scam
// keyword keeps the block regardless of job status or approvals.
// Conditions are evaluated in fixed precedence and the first satisfied one
// wins: job status, then contact-exchange approval, then sender verification.
func ShouldBypassContactBlock(a riskscan.Assessment, jobStatus string, exchangeApproved, senderVerifiedLowRisk bool) GateDecision {
	c := ClassifyOffPlatform(a)
	if !c.OnlyContactLike {
		return GateDecision{}
	}
	switch {
	case JobStatusAllowsOffPlatformContact(jobStatus):
		return GateDecision{Bypass: true, Reason: GateJobStatus}
	case exchangeApproved:
		return GateDecision{Bypass: true, Reason: GateExchangeApproved}
	case senderVerifiedLowRisk:
		return GateDecision{Bypass: true, Reason: GateVerifiedLowRisk}
	}
	return GateDecision{}
}

// ScoreExcludingContactLike recomputes an assessment's score with all
// CONTACT_INFO signals and contact-like keyword signals removed. Used only
// when a bypass is granted, so the sender is not penalized for behavior the
// platform just permitted, while co-occurring non-contact signals still count.
func ScoreExcludingContactLike(a riskscan.Assessment) int {
	total := 0
	for _, s := range a.Signals {
		if s.Code == riskscan.CodeContactInfo {
			continue
		}
		if s.Code == riskscan.CodeBannedKeyword && offPlatformChannels[s.Detail] {
			continue
		}
		total += s.Score
	}
	return total
}
