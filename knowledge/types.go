package knowledge

import (
	"fmt"
	"strings"
)

// Entry is a single guidance snippet of the static knowledge base.
type Entry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// ScoredEntry is an Entry annotated with its relevance to a query.
type ScoredEntry struct {
	Entry
	Score int `json:"score"`
}

// Level is a triage urgency class.
type Level string

const (
	LevelSelfCare  Level = "self-care"
	LevelClinic    Level = "clinic"
	LevelEmergency Level = "emergency"
)

// ParseLevel normalises a level string. Unknown values are rejected.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelSelfCare, LevelClinic, LevelEmergency:
		return l, nil
	default:
		return "", fmt.Errorf("unknown triage level %q", s)
	}
}

// Guidance is the outcome attached to a triage rule.
type Guidance struct {
	Level              Level  `json:"level"`
	Reason             string `json:"reason"`
	RecommendedUrgency string `json:"recommendedUrgency"`
	Disclaimer         string `json:"disclaimer,omitempty"`
}

// KeywordRule maps a lower-case keyword to guidance.
type KeywordRule struct {
	Keyword string `json:"keyword"`
	Guidance
}

// TriageRules is the static triage rules document. Rules are evaluated in
// document order; Default applies when nothing matches.
type TriageRules struct {
	Rules   []KeywordRule `json:"rules"`
	Default Guidance      `json:"default"`
}

// Validate rejects rule documents that would break fallback triage.
func (tr TriageRules) Validate() error {
	if _, err := ParseLevel(string(tr.Default.Level)); err != nil {
		return fmt.Errorf("default rule: %w", err)
	}
	for i, r := range tr.Rules {
		if strings.TrimSpace(r.Keyword) == "" {
			return fmt.Errorf("rule %d: keyword cannot be empty", i)
		}
		if _, err := ParseLevel(string(r.Level)); err != nil {
			return fmt.Errorf("rule %q: %w", r.Keyword, err)
		}
	}
	return nil
}

func validateEntries(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("knowledge entry %d: id cannot be empty", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate knowledge entry id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}
