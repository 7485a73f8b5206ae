package eligibility

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// rawRule mirrors Rule with pointer fields so missing keys can be detected.
type rawRule struct {
	MinAge       *int    `json:"minAge"`
	Gender       *string `json:"gender"`
	RequiresCard *bool   `json:"requiresSehatCard"`
}

// DecodeRule parses a stored eligibility rule document. Unknown keys, missing
// keys and out-of-range values are rejected.
func DecodeRule(data []byte) (Rule, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw rawRule
	if err := dec.Decode(&raw); err != nil {
		return Rule{}, fmt.Errorf("invalid eligibility rule: %w", err)
	}

	switch {
	case raw.MinAge == nil:
		return Rule{}, fmt.Errorf("eligibility rule is missing minAge")
	case raw.Gender == nil:
		return Rule{}, fmt.Errorf("eligibility rule is missing gender")
	case raw.RequiresCard == nil:
		return Rule{}, fmt.Errorf("eligibility rule is missing requiresSehatCard")
	}

	rule := Rule{
		MinAge:       *raw.MinAge,
		Gender:       Gender(strings.ToLower(*raw.Gender)),
		RequiresCard: *raw.RequiresCard,
	}
	if err := ValidateRule(rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// ValidateRule checks field ranges of a rule.
func ValidateRule(r Rule) error {
	if r.MinAge < 0 {
		return fmt.Errorf("minAge %d must be >= 0", r.MinAge)
	}
	switch r.Gender {
	case GenderAny, GenderMale, GenderFemale:
	default:
		return fmt.Errorf("gender %q is invalid (must be one of: any, male, female)", r.Gender)
	}
	return nil
}

// ValidateProgram checks a catalogue entry.
func ValidateProgram(p Program) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("program %d: name cannot be empty", p.ID)
	}
	if err := ValidateRule(p.Rule); err != nil {
		return fmt.Errorf("program %q: %w", p.Name, err)
	}
	return nil
}
