// Package triage provides the rule-based triage used when the orchestrator
// cannot be reached.
package triage

import (
	"strings"

	"github.com/connectedhealth/careengine/knowledge"
)

// SafetyDisclaimer accompanies every triage answer.
const SafetyDisclaimer = "This is a decision-support tool, not a doctor. In case of severe symptoms or doubt, go to the nearest emergency facility immediately."

// RedFlags always escalate to an emergency, before any keyword rule.
var RedFlags = []string{"difficulty breathing", "unconscious", "pregnancy bleeding", "convulsion"}

// Result is a triage classification.
type Result struct {
	Level              knowledge.Level `json:"level"`
	Reason             string          `json:"reason"`
	RecommendedUrgency string          `json:"recommendedUrgency"`
	Disclaimer         string          `json:"disclaimer"`
}

// NeedsFacility reports whether the level warrants a facility referral.
func (r Result) NeedsFacility() bool {
	return r.Level == knowledge.LevelClinic || r.Level == knowledge.LevelEmergency
}

// Classify triages message using red flags, then keyword rules in document
// order, then the default rule.
func Classify(message string, rules knowledge.TriageRules) Result {
	text := strings.ToLower(message)

	for _, flag := range RedFlags {
		if strings.Contains(text, flag) {
			return Result{
				Level:              knowledge.LevelEmergency,
				Reason:             "Red flag detected: " + flag,
				RecommendedUrgency: "Immediate emergency evaluation",
				Disclaimer:         SafetyDisclaimer,
			}
		}
	}

	for _, rule := range rules.Rules {
		if strings.Contains(text, rule.Keyword) {
			return fromGuidance(rule.Guidance)
		}
	}

	return fromGuidance(rules.Default)
}

// RequiredServices maps a triage level to the facility services to search
// for. Self-care needs no facility filter.
func RequiredServices(level knowledge.Level) []string {
	switch level {
	case knowledge.LevelEmergency:
		return []string{"emergency"}
	case knowledge.LevelClinic:
		return []string{"maternal", "pediatrics", "clinic"}
	default:
		return nil
	}
}

func fromGuidance(g knowledge.Guidance) Result {
	r := Result{
		Level:              g.Level,
		Reason:             g.Reason,
		RecommendedUrgency: g.RecommendedUrgency,
		Disclaimer:         g.Disclaimer,
	}
	if r.Level == "" {
		r.Level = knowledge.LevelSelfCare
	}
	if r.Reason == "" {
		r.Reason = "Monitor at home"
	}
	if r.RecommendedUrgency == "" {
		r.RecommendedUrgency = "Monitor"
	}
	if r.Disclaimer == "" {
		r.Disclaimer = SafetyDisclaimer
	}
	return r
}
