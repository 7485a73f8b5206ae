package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/geo"
)

// Patient is the sanitized patient record returned by listings.
type Patient struct {
	ID              int64           `json:"id" yaml:"id"`
	FullName        string          `json:"fullName" yaml:"fullName"`
	Age             int             `json:"age" yaml:"age"`
	Gender          string          `json:"gender" yaml:"gender"`
	PregnancyStatus *string         `json:"pregnancyStatus" yaml:"pregnancyStatus"`
	Address         string          `json:"address" yaml:"address"`
	Location        *geo.Coordinate `json:"location,omitempty" yaml:"location,omitempty"`
}

// ProgramEligibility is a stored evaluation joined with its program.
type ProgramEligibility struct {
	eligibility.Record
	Program   eligibility.Program `json:"program"`
	CreatedAt time.Time           `json:"createdAt"`
}

// PatientProfile is a patient with reminders and latest program eligibility.
type PatientProfile struct {
	Patient
	Reminders []Reminder           `json:"reminders"`
	Programs  []ProgramEligibility `json:"programs"`
}

// ReminderType classifies a reminder.
type ReminderType string

const (
	ReminderMedication ReminderType = "medication"
	ReminderVaccine    ReminderType = "vaccine"
	ReminderFollowUp   ReminderType = "followup"
)

// ReminderStatus tracks a reminder's lifecycle.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderDone      ReminderStatus = "done"
	ReminderMissed    ReminderStatus = "missed"
)

// ParseReminderType validates a reminder type.
func ParseReminderType(s string) (ReminderType, error) {
	switch t := ReminderType(strings.ToLower(s)); t {
	case ReminderMedication, ReminderVaccine, ReminderFollowUp:
		return t, nil
	default:
		return "", fmt.Errorf("invalid reminder type %q (must be one of: medication, vaccine, followup)", s)
	}
}

// ParseReminderStatus validates a reminder status.
func ParseReminderStatus(s string) (ReminderStatus, error) {
	switch st := ReminderStatus(strings.ToLower(s)); st {
	case ReminderScheduled, ReminderDone, ReminderMissed:
		return st, nil
	default:
		return "", fmt.Errorf("invalid reminder status %q (must be one of: scheduled, done, missed)", s)
	}
}

// Reminder is a scheduled patient reminder.
type Reminder struct {
	ID          int64          `json:"id"`
	PatientID   int64          `json:"patientId"`
	Type        ReminderType   `json:"type"`
	Message     string         `json:"message"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// NewReminder is the input for CreateReminder. New reminders are scheduled.
type NewReminder struct {
	PatientID   int64        `json:"patientId"`
	Type        ReminderType `json:"type"`
	Message     string       `json:"message"`
	ScheduledAt time.Time    `json:"scheduledAt"`
}

// Interaction is a summary of one agent exchange.
type Interaction struct {
	ID            int64     `json:"id"`
	UserID        *int64    `json:"userId,omitempty"`
	PatientID     *int64    `json:"patientId,omitempty"`
	AgentName     string    `json:"agentName"`
	InputSummary  string    `json:"inputSummary"`
	OutputSummary string    `json:"outputSummary"`
	TriageLevel   *string   `json:"triageLevel,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewInteraction is the input for CreateInteraction.
type NewInteraction struct {
	UserID        *int64  `json:"userId,omitempty" yaml:"userId,omitempty"`
	PatientID     *int64  `json:"patientId,omitempty" yaml:"patientId,omitempty"`
	AgentName     string  `json:"agentName" yaml:"agentName"`
	InputSummary  string  `json:"inputSummary" yaml:"inputSummary"`
	OutputSummary string  `json:"outputSummary" yaml:"outputSummary"`
	TriageLevel   *string `json:"triageLevel,omitempty" yaml:"triageLevel,omitempty"`
}

// UnknownTriageLevel groups interactions recorded without a level.
const UnknownTriageLevel = "unknown"

// InteractionStats aggregates the interaction log.
type InteractionStats struct {
	Total         int64            `json:"totalInteractions"`
	ByTriageLevel map[string]int64 `json:"triageDistribution"`
}

// ToolInvocation is one append-only record of a gateway tool call.
type ToolInvocation struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AnalyticsEvent is an aggregate signal such as a hotspot alert.
type AnalyticsEvent struct {
	ID        int64           `json:"id"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Analytics event types.
const (
	EventHotspotAlert = "hotspot-alert"
	EventUsageSummary = "usage-summary"
)

const (
	// PatientListLimit caps patient listings.
	PatientListLimit = 25
	// RecentEventsLimit is the analytics window used by summaries.
	RecentEventsLimit = 20
)
