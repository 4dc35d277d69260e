package moderation

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/taskhive/trustengine/pkg/escalation"
	"github.com/taskhive/trustengine/pkg/riskscan"
	"github.com/taskhive/trustengine/pkg/store"
)

// Security-event action types written by the engine.
const (
	EventMessageBlocked     = "message.blocked"
	EventOffPlatformAllowed = "message.offplatform_allowed"
	EventUserRestricted     = "user.restricted"
	EventJobFlagged         = "job.flagged"
	EventJobShadowHidden    = "job.shadow_hidden"
)

// Block codes returned to API consumers. Stable contract: mobile clients
// branch UI behavior on these.
const (
	CodeContactInfoNotAllowed = "CONTACT_INFO_NOT_ALLOWED"
	CodeMessageBlocked        = "MESSAGE_BLOCKED"
)

const (
	// VerifiedBypassMaxRisk is the highest cumulative risk score at which a
	// verified provider still qualifies for the verification bypass.
	VerifiedBypassMaxRisk = 25
	// RestrictionReasonRepeatedBlocks tags the immediate 24h restriction for
	// users who keep hitting message blocks.
	RestrictionReasonRepeatedBlocks = "repeated_message_blocks"
	// RestrictionReasonRiskThreshold tags the absolute-score restriction.
	RestrictionReasonRiskThreshold = "risk_score_threshold"
)

// RateCounter is an optional hot-path counter for blocked-message events
// (see store.RedisEventCounter). RecordAndCount registers the event at now
// and returns the in-window count including it.
type RateCounter interface {
	RecordAndCount(ctx context.Context, actorUserID, actionType string, now, since time.Time) (int, error)
}

// Config carries the engine's tunable thresholds.
type Config struct {
	RiskRestrictThreshold int           // cumulative score that triggers the absolute restriction
	RestrictionDuration   time.Duration // duration for both immediate restriction paths
	ShadowHideAt          int           // per-scan score that shadow-hides a job listing
	BlockWindow           time.Duration // trailing window for repeated-block escalation
	BlockThreshold        int           // prior blocks in window that trigger escalation
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RiskRestrictThreshold: escalation.RiskRestrictThreshold,
		RestrictionDuration:   escalation.DefaultRestrictionHours * time.Hour,
		ShadowHideAt:          escalation.DefaultShadowHideAt,
		BlockWindow:           60 * time.Minute,
		BlockThreshold:        3,
	}
}

// Engine is the moderation pipeline: scan → decide → gate → score →
// escalate. It holds no in-process mutable state; every call is an
// independent pipeline over one message/job/bid and the injected store.
type Engine struct {
	store   store.Store
	scanner *riskscan.Scanner
	policy  *escalation.Policy
	rate    RateCounter
	clock   func() time.Time
	cfg     Config
}

// NewEngine wires the pipeline. Scanner and policy are required; rate is
// optional (nil falls back to SQL event counts).
func NewEngine(st store.Store, scanner *riskscan.Scanner, policy *escalation.Policy, cfg Config) *Engine {
	if cfg.RestrictionDuration <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:   st,
		scanner: scanner,
		policy:  policy,
		clock:   time.Now,
		cfg:     cfg,
	}
}

// WithRateCounter installs a hot-path blocked-event counter.
func (e *Engine) WithRateCounter(rc RateCounter) *Engine {
	e.rate = rc
	return e
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// MessageRequest describes one outbound message to moderate, with the job
// context the caller already holds.
type MessageRequest struct {
	JobID         string
	SenderID      string
	JobStatus     string
	Text          string
	SenderIsAdmin bool
}

// Result is the engine's verdict plus everything the caller needs to build
// the HTTP response. Verdicts are values: the engine never returns an error
// to the message-send path.
type Result struct {
	Allowed      bool
	Bypass       GateDecision
	BlockCode    string
	ReasonCodes  []string
	Assessment   riskscan.Assessment
	AppliedScore int
	RiskScore    int // cumulative score after this call, 0 when unknown
	Restriction  *escalation.RestrictionDecision
}

// CheckSenderAllowed reports whether the sender is currently restricted.
// Lookup faults fail open: an unreadable user record must not freeze the
// messaging product.
func (e *Engine) CheckSenderAllowed(ctx context.Context, userID string) (bool, time.Time) {
	u, err := e.store.GetUserRisk(ctx, userID)
	if err != nil {
		if err != store.ErrNotFound {
			slog.Warn("moderation: user lookup failed, failing open", "user_id", userID, "error", err)
		}
		return true, time.Time{}
	}
	if u.RestrictedUntil != nil && u.RestrictedUntil.After(e.clock()) {
		return false, *u.RestrictedUntil
	}
	return true, time.Time{}
}

// ModerateMessageSend runs the full pipeline for a job message.
func (e *Engine) ModerateMessageSend(ctx context.Context, req MessageRequest) Result {
	a := e.scanner.AssessRepeatedMessage(ctx, req.JobID, req.SenderID, req.Text)
	return e.moderateMessage(ctx, req, a)
}

// ModerateBidMessage runs the pipeline for a bid message; identical verdict
// semantics, with the bid-specific repetition scan layered in.
func (e *Engine) ModerateBidMessage(ctx context.Context, req MessageRequest) Result {
	a := e.scanner.AssessRepeatedBidMessage(ctx, req.JobID, req.SenderID, req.Text)
	return e.moderateMessage(ctx, req, a)
}

func (e *Engine) moderateMessage(ctx context.Context, req MessageRequest, a riskscan.Assessment) Result {
	// Admins moderate the platform; the platform does not moderate admins.
	if req.SenderIsAdmin {
		return Result{Allowed: true}
	}

	d := Decide(a)
	if d.Action == ActionAllow {
		res := Result{Allowed: true, Assessment: a}
		e.applyScoreAndCheck(ctx, req.SenderID, a.TotalScore, &res)
		return res
	}

	// Blocked. A purely contact-like message may still pass the gate.
	if ClassifyOffPlatform(a).OnlyContactLike {
		gate := ShouldBypassContactBlock(a, req.JobStatus,
			e.exchangeApproved(ctx, req.JobID),
			e.senderVerifiedLowRisk(ctx, req.SenderID))
		if gate.Bypass {
			res := Result{Allowed: true, Bypass: gate, Assessment: a}
			applied := ScoreExcludingContactLike(a)
			e.logEvent(ctx, req.SenderID, EventOffPlatformAllowed, "job", req.JobID, map[string]any{
				"gate_reason":   string(gate.Reason),
				"signals":       a.Signals,
				"total_score":   a.TotalScore,
				"applied_score": applied,
			})
			e.applyScoreAndCheck(ctx, req.SenderID, applied, &res)
			return res
		}
	}

	res := Result{Allowed: false, ReasonCodes: d.ReasonCodes, Assessment: a}
	res.BlockCode = CodeMessageBlocked
	if slices.Contains(d.ReasonCodes, ReasonContactInfo) {
		res.BlockCode = CodeContactInfoNotAllowed
	}

	e.applyScoreAndCheck(ctx, req.SenderID, a.TotalScore, &res)
	e.logEvent(ctx, req.SenderID, EventMessageBlocked, "job", req.JobID, map[string]any{
		"reason_codes": d.ReasonCodes,
		"signals":      a.Signals,
		"total_score":  a.TotalScore,
	})

	// Rapid-fire blocked sends escalate immediately, regardless of the
	// absolute score.
	if prior := e.recentBlocks(ctx, req.SenderID); prior >= e.cfg.BlockThreshold {
		dec := e.policy.FixedRestriction(e.cfg.RestrictionDuration, RestrictionReasonRepeatedBlocks, map[string]any{
			"recent_blocks":  prior,
			"window_minutes": int(e.cfg.BlockWindow.Minutes()),
		})
		if e.policy.Apply(ctx, req.SenderID, dec, 0) {
			e.logEvent(ctx, req.SenderID, EventUserRestricted, "user", req.SenderID, map[string]any{
				"reason":  dec.Reason,
				"minutes": dec.Minutes,
			})
		}
		res.Restriction = &dec
	}
	return res
}

// JobPostRequest describes a new job listing to scan.
type JobPostRequest struct {
	JobID      string
	ConsumerID string
	Text       string
	IsAdmin    bool
}

// JobPostResult reports the listing scan. Job posts are never hard-blocked;
// risky ones are scored, flagged and possibly shadow-hidden.
type JobPostResult struct {
	Assessment   riskscan.Assessment
	ShadowHidden bool
	AppliedScore int
	RiskScore    int
	Restriction  *escalation.RestrictionDecision
}

// ModerateJobPost scans a job listing, applies its score and shadow-hides it
// when the per-scan score crosses the hide threshold.
func (e *Engine) ModerateJobPost(ctx context.Context, req JobPostRequest) JobPostResult {
	if req.IsAdmin {
		return JobPostResult{}
	}
	a := e.scanner.AssessJobPost(ctx, req.ConsumerID, req.Text)
	res := JobPostResult{Assessment: a}
	if a.TotalScore == 0 {
		return res
	}

	e.logEvent(ctx, req.ConsumerID, EventJobFlagged, "job", req.JobID, map[string]any{
		"signals":     a.Signals,
		"total_score": a.TotalScore,
	})

	var inner Result
	e.applyScoreAndCheck(ctx, req.ConsumerID, a.TotalScore, &inner)
	res.AppliedScore, res.RiskScore, res.Restriction = inner.AppliedScore, inner.RiskScore, inner.Restriction

	if hide := escalation.DecideShadowHide(a.TotalScore, e.cfg.ShadowHideAt, "job_risk_score"); hide.Hide {
		res.ShadowHidden = true
		if h, ok := e.store.(interface {
			SetJobHidden(ctx context.Context, jobID string, hidden bool) error
		}); ok {
			if err := h.SetJobHidden(ctx, req.JobID, true); err != nil {
				slog.Warn("moderation: shadow hide write failed", "job_id", req.JobID, "error", err)
			}
		}
		e.logEvent(ctx, req.ConsumerID, EventJobShadowHidden, "job", req.JobID, map[string]any{
			"total_score": a.TotalScore,
			"reason":      hide.Reason,
		})
	}
	return res
}

// --- effects ---

// applyScoreAndCheck applies a score increment to the user and fires the
// absolute-threshold restriction when the increment crosses it. This is a
// must-succeed write with a retry-then-swallow policy: one retry, then log
// and move on — scoring failures never abort the verdict already reached.
func (e *Engine) applyScoreAndCheck(ctx context.Context, userID string, delta int, res *Result) {
	res.AppliedScore = delta
	if delta <= 0 {
		return
	}

	total, err := e.store.IncrementUserRisk(ctx, userID, delta)
	if err != nil {
		if store.IsMissingColumn(err) {
			slog.Warn("moderation: risk_score column missing, skipping during migration", "user_id", userID)
			return
		}
		total, err = e.store.IncrementUserRisk(ctx, userID, delta)
	}
	if err != nil {
		slog.Error("moderation: risk increment failed after retry", "user_id", userID, "delta", delta, "error", err)
		return
	}
	res.RiskScore = total

	prev := total - delta
	if prev < e.cfg.RiskRestrictThreshold && total >= e.cfg.RiskRestrictThreshold {
		dec := e.policy.FixedRestriction(e.cfg.RestrictionDuration, RestrictionReasonRiskThreshold, map[string]any{
			"risk_score": total,
		})
		if e.policy.Apply(ctx, userID, dec, 0) {
			e.logEvent(ctx, userID, EventUserRestricted, "user", userID, map[string]any{
				"reason":     dec.Reason,
				"minutes":    dec.Minutes,
				"risk_score": total,
			})
		}
		res.Restriction = &dec
	}
}

// recentBlocks returns the sender's prior blocked-message count in the
// trailing window, excluding the block this call just logged. Fails open
// to zero.
func (e *Engine) recentBlocks(ctx context.Context, userID string) int {
	now := e.clock()
	since := now.Add(-e.cfg.BlockWindow)

	var n int
	var err error
	if e.rate != nil {
		n, err = e.rate.RecordAndCount(ctx, userID, EventMessageBlocked, now, since)
	} else {
		n, err = e.store.CountEvents(ctx, userID, EventMessageBlocked, since)
	}
	if err != nil {
		slog.Warn("moderation: recent block count unavailable, failing open", "user_id", userID, "error", err)
		return 0
	}
	return n - 1 // exclude the block recorded by this call
}

// exchangeApproved resolves the contact-exchange gate input. Faults assume
// the safer default: no approval, block stands.
func (e *Engine) exchangeApproved(ctx context.Context, jobID string) bool {
	ok, err := e.store.FindApprovedExchange(ctx, jobID)
	if err != nil {
		slog.Warn("moderation: exchange lookup failed, assuming unapproved", "job_id", jobID, "error", err)
		return false
	}
	return ok
}

// senderVerifiedLowRisk resolves the verification gate input: a VERIFIED
// provider whose cumulative risk score is at most VerifiedBypassMaxRisk.
// Faults assume unverified.
func (e *Engine) senderVerifiedLowRisk(ctx context.Context, senderID string) bool {
	status, err := e.store.GetVerificationStatus(ctx, senderID)
	if err != nil || status != store.VerificationVerified {
		if err != nil {
			slog.Warn("moderation: verification lookup failed, assuming unverified", "sender_id", senderID, "error", err)
		}
		return false
	}
	u, err := e.store.GetUserRisk(ctx, senderID)
	if err != nil {
		slog.Warn("moderation: user risk lookup failed, assuming unverified", "sender_id", senderID, "error", err)
		return false
	}
	return u.RiskScore <= VerifiedBypassMaxRisk
}

// logEvent appends to the audit ledger, best effort. Ledger writes are
// secondary: a failed append is logged with enough context to reconstruct
// the decision, never surfaced to the caller.
func (e *Engine) logEvent(ctx context.Context, actorID, actionType, targetType, targetID string, metadata map[string]any) {
	evt := store.SecurityEvent{
		ActorUserID: actorID,
		ActionType:  actionType,
		CreatedAt:   e.clock(),
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
	}
	if err := e.store.InsertEvent(ctx, evt); err != nil {
		slog.Error("moderation: audit event write failed",
			"actor_user_id", actorID, "action_type", actionType, "target_id", targetID, "error", err)
	}
}
