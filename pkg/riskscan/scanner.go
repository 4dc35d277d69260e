package riskscan

import (
	"regexp"
	"sort"
	"strings"
)

// KeywordEntry maps one banned phrase to its score contribution.
type KeywordEntry struct {
	Phrase string
	Score  int
}

// DefaultKeywordBank returns the built-in phrase table. Entries are matched
// as substrings of the normalized text; overlapping entries ("cashapp" and
// "cash app") are intentionally distinct and may both fire.
func DefaultKeywordBank() []KeywordEntry {
	return []KeywordEntry{
		{"western union", 50},
		{"moneygram", 50},
		{"gift card", 40},
		{"google play card", 40},
		{"itunes card", 40},
		{"apple gift", 40},
		{"reload pack", 40},
		{"wire transfer", 45},
		{"crypto", 35},
		{"bitcoin", 35},
		{"prepaid card", 30},
		{"zelle", 25},
		{"telegram", 25},
		{"whatsapp", 20},
		{"venmo", 20},
		{"paypal", 20},
		{"cash app", 20},
		{"cashapp", 20},
	}
}

const (
	// ContactScoreSingle applies when exactly one of {email, phone} matched.
	ContactScoreSingle = 35
	// ContactScoreBoth applies when both an email and a phone number matched.
	ContactScoreBoth = 55
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// US-centric: optional +1, 3-digit area code (optionally parenthesized),
	// separators may be space, dot or dash.
	phonePattern = regexp.MustCompile(`(\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
)

// Scanner performs text risk assessment. The zero value is not usable;
// construct with NewScanner.
type Scanner struct {
	bank    []KeywordEntry
	counter WindowCounter
	windows Windows
	clock   Clock
}

// NewScanner builds a scanner with the given keyword bank. A nil bank uses
// DefaultKeywordBank. The counter backs the windowed contextual scans and may
// be nil if only AssessText is used.
func NewScanner(bank []KeywordEntry, counter WindowCounter) *Scanner {
	if bank == nil {
		bank = DefaultKeywordBank()
	}
	// Stable signal order regardless of caller-supplied bank order.
	sorted := make([]KeywordEntry, len(bank))
	copy(sorted, bank)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Phrase < sorted[j].Phrase })
	return &Scanner{
		bank:    sorted,
		counter: counter,
		windows: DefaultWindows(),
		clock:   wallClock{},
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scanner) WithClock(c Clock) *Scanner {
	s.clock = c
	return s
}

// WithWindows overrides the windowed-scan parameters.
func (s *Scanner) WithWindows(w Windows) *Scanner {
	s.windows = w
	return s
}

// Normalize lowercases and collapses all runs of whitespace to single spaces.
// Scoring the normalized form makes the scanner insensitive to casing and
// spacing tricks ("We STern  UNION").
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// AssessText scans a single piece of text. Pure and deterministic: the same
// input always yields the same assessment.
func (s *Scanner) AssessText(text string) Assessment {
	norm := Normalize(text)
	var a Assessment

	for _, kw := range s.bank {
		if strings.Contains(norm, kw.Phrase) {
			a.add(Signal{Code: CodeBannedKeyword, Score: kw.Score, Detail: kw.Phrase})
		}
	}

	hasEmail := emailPattern.MatchString(norm)
	hasPhone := phonePattern.MatchString(norm)
	switch {
	case hasEmail && hasPhone:
		a.add(Signal{Code: CodeContactInfo, Score: ContactScoreBoth, Detail: "email,phone"})
	case hasEmail:
		a.add(Signal{Code: CodeContactInfo, Score: ContactScoreSingle, Detail: "email"})
	case hasPhone:
		a.add(Signal{Code: CodeContactInfo, Score: ContactScoreSingle, Detail: "phone"})
	}

	return a
}
