package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskhive/trustengine/pkg/escalation"
	"github.com/taskhive/trustengine/pkg/moderation"
	"github.com/taskhive/trustengine/pkg/riskscan"
)

// Policy is the operator-tunable moderation policy: the banned-keyword bank,
// the restriction ladder and the threshold set. Everything here is data so
// thresholds can be retuned without touching decision logic.
type Policy struct {
	Keywords map[string]int    `yaml:"keywords,omitempty"`
	Ladder   escalation.Ladder `yaml:"ladder,omitempty"`

	RiskRestrictThreshold int `yaml:"risk_restrict_threshold,omitempty"`
	RestrictionHours      int `yaml:"restriction_hours,omitempty"`
	ShadowHideAt          int `yaml:"shadow_hide_at,omitempty"`

	BlockWindowMinutes int `yaml:"block_window_minutes,omitempty"`
	BlockThreshold     int `yaml:"block_threshold,omitempty"`

	Windows PolicyWindows `yaml:"windows,omitempty"`
}

// PolicyWindows mirrors riskscan.Windows in YAML-friendly units.
type PolicyWindows struct {
	JobPostMinutes     int `yaml:"job_post_minutes,omitempty"`
	JobPostThreshold   int `yaml:"job_post_threshold,omitempty"`
	RepeatMinutes      int `yaml:"repeat_minutes,omitempty"`
	RepeatThreshold    int `yaml:"repeat_threshold,omitempty"`
	RepeatMinLength    int `yaml:"repeat_min_length,omitempty"`
	BidRepeatMinutes   int `yaml:"bid_repeat_minutes,omitempty"`
	BidRepeatThreshold int `yaml:"bid_repeat_threshold,omitempty"`
}

// DefaultPolicy returns the compiled-in policy matching the package defaults
// of riskscan, escalation and moderation.
func DefaultPolicy() *Policy {
	return &Policy{
		Ladder:                escalation.DefaultLadder(),
		RiskRestrictThreshold: escalation.RiskRestrictThreshold,
		RestrictionHours:      escalation.DefaultRestrictionHours,
		ShadowHideAt:          escalation.DefaultShadowHideAt,
		BlockWindowMinutes:    60,
		BlockThreshold:        3,
	}
}

// LoadPolicy reads a policy YAML file and fills unset fields from the
// defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}

	d := DefaultPolicy()
	if p.Ladder == nil {
		p.Ladder = d.Ladder
	}
	if p.RiskRestrictThreshold == 0 {
		p.RiskRestrictThreshold = d.RiskRestrictThreshold
	}
	if p.RestrictionHours == 0 {
		p.RestrictionHours = d.RestrictionHours
	}
	if p.ShadowHideAt == 0 {
		p.ShadowHideAt = d.ShadowHideAt
	}
	if p.BlockWindowMinutes == 0 {
		p.BlockWindowMinutes = d.BlockWindowMinutes
	}
	if p.BlockThreshold == 0 {
		p.BlockThreshold = d.BlockThreshold
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return &p, nil
}

// Validate rejects policies that would neuter or invert the engine.
func (p *Policy) Validate() error {
	for phrase, score := range p.Keywords {
		if phrase == "" {
			return fmt.Errorf("keyword bank contains an empty phrase")
		}
		if score <= 0 {
			return fmt.Errorf("keyword %q has non-positive score %d", phrase, score)
		}
	}
	prev := 0
	for i, s := range p.Ladder {
		if s.AtOrAbove <= prev {
			return fmt.Errorf("ladder step %d: thresholds must be strictly increasing", i)
		}
		if s.Minutes <= 0 {
			return fmt.Errorf("ladder step %d: minutes must be positive", i)
		}
		prev = s.AtOrAbove
	}
	if p.RiskRestrictThreshold <= 0 {
		return fmt.Errorf("risk_restrict_threshold must be positive")
	}
	if p.BlockThreshold <= 0 {
		return fmt.Errorf("block_threshold must be positive")
	}
	return nil
}

// KeywordBank converts the policy's keyword map into the scanner's entry
// table. A nil/empty map falls back to the built-in bank.
func (p *Policy) KeywordBank() []riskscan.KeywordEntry {
	if len(p.Keywords) == 0 {
		return riskscan.DefaultKeywordBank()
	}
	bank := make([]riskscan.KeywordEntry, 0, len(p.Keywords))
	for phrase, score := range p.Keywords {
		bank = append(bank, riskscan.KeywordEntry{Phrase: phrase, Score: score})
	}
	return bank
}

// ScanWindows converts the policy windows, falling back to the scanner
// defaults for unset fields.
func (p *Policy) ScanWindows() riskscan.Windows {
	w := riskscan.DefaultWindows()
	pw := p.Windows
	if pw.JobPostMinutes > 0 {
		w.JobPostWindow = time.Duration(pw.JobPostMinutes) * time.Minute
	}
	if pw.JobPostThreshold > 0 {
		w.JobPostThreshold = pw.JobPostThreshold
	}
	if pw.RepeatMinutes > 0 {
		w.RepeatWindow = time.Duration(pw.RepeatMinutes) * time.Minute
	}
	if pw.RepeatThreshold > 0 {
		w.RepeatThreshold = pw.RepeatThreshold
	}
	if pw.RepeatMinLength > 0 {
		w.RepeatMinLength = pw.RepeatMinLength
	}
	if pw.BidRepeatMinutes > 0 {
		w.BidRepeatWindow = time.Duration(pw.BidRepeatMinutes) * time.Minute
	}
	if pw.BidRepeatThreshold > 0 {
		w.BidRepeatThreshold = pw.BidRepeatThreshold
	}
	return w
}

// EngineConfig converts the policy thresholds into the engine's config.
func (p *Policy) EngineConfig() moderation.Config {
	return moderation.Config{
		RiskRestrictThreshold: p.RiskRestrictThreshold,
		RestrictionDuration:   time.Duration(p.RestrictionHours) * time.Hour,
		ShadowHideAt:          p.ShadowHideAt,
		BlockWindow:           time.Duration(p.BlockWindowMinutes) * time.Minute,
		BlockThreshold:        p.BlockThreshold,
	}
}
