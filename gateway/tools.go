package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
	"github.com/connectedhealth/careengine/knowledge"
	"github.com/connectedhealth/careengine/store"
)

// Tool names exposed to the orchestrator.
const (
	ToolPatientProfile          = "get_patient_profile"
	ToolSaveInteraction         = "save_interaction_log"
	ToolProgramEligibility      = "check_program_eligibility"
	ToolFacilityRecommendations = "get_facility_recommendations"
	ToolCreateReminder          = "create_reminder"
	ToolTriageRules             = "get_triage_rules_cached"
	ToolQueryKnowledge          = "query_knowledge_base"
)

// Handler executes a tool on schema-valid input.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Deps are the engine components the built-in tools delegate to.
type Deps struct {
	Store       store.Store
	Facilities  *facilities.Service
	Eligibility *eligibility.Service
	Corpus      *knowledge.Corpus
}

type toolDef struct {
	name        string
	description string
	schema      string
	handler     Handler
}

func builtinTools(d Deps) []toolDef {
	return []toolDef{
		{ToolPatientProfile, "Retrieve a patient profile by ID.", patientProfileSchema, d.patientProfile},
		{ToolSaveInteraction, "Persist an interaction summary.", interactionLogSchema, d.saveInteraction},
		{ToolProgramEligibility, "Evaluate program eligibility for a patient context.", programEligibilitySchema, d.programEligibility},
		{ToolFacilityRecommendations, "Find nearby facilities that match required services.", facilityRecommendationsSchema, d.facilityRecommendations},
		{ToolCreateReminder, "Schedule a reminder for a patient.", createReminderSchema, d.createReminder},
		{ToolTriageRules, "Retrieve cached triage rules for degraded mode reasoning.", emptySchema, d.triageRules},
		{ToolQueryKnowledge, "Query the knowledge base for relevant guidance snippets.", knowledgeQuerySchema, d.queryKnowledge},
	}
}

func (d Deps) patientProfile(ctx context.Context, input json.RawMessage) (any, error) {
	var req struct {
		PatientID int64 `json:"patientId"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, ValidationError("invalid patient profile request: %v", err)
	}
	return d.Store.GetPatientProfile(ctx, req.PatientID)
}

func (d Deps) saveInteraction(ctx context.Context, input json.RawMessage) (any, error) {
	var req store.NewInteraction
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, ValidationError("invalid interaction: %v", err)
	}
	return d.Store.CreateInteraction(ctx, req)
}

func (d Deps) programEligibility(ctx context.Context, input json.RawMessage) (any, error) {
	var pc eligibility.PatientContext
	if err := json.Unmarshal(input, &pc); err != nil {
		return nil, ValidationError("invalid patient context: %v", err)
	}
	return d.Eligibility.Check(ctx, pc)
}

func (d Deps) facilityRecommendations(ctx context.Context, input json.RawMessage) (any, error) {
	var filter facilities.Filter
	if err := json.Unmarshal(input, &filter); err != nil {
		return nil, ValidationError("invalid facility filter: %v", err)
	}
	return d.Facilities.Search(ctx, filter)
}

func (d Deps) createReminder(ctx context.Context, input json.RawMessage) (any, error) {
	var req struct {
		PatientID   int64  `json:"patientId"`
		Type        string `json:"type"`
		Message     string `json:"message"`
		ScheduledAt string `json:"scheduledAt"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, ValidationError("invalid reminder: %v", err)
	}
	typ, err := store.ParseReminderType(req.Type)
	if err != nil {
		return nil, ValidationError("%v", err)
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		return nil, ValidationError("scheduledAt %q is not an RFC 3339 timestamp", req.ScheduledAt)
	}
	return d.Store.CreateReminder(ctx, store.NewReminder{
		PatientID:   req.PatientID,
		Type:        typ,
		Message:     req.Message,
		ScheduledAt: at,
	})
}

func (d Deps) triageRules(context.Context, json.RawMessage) (any, error) {
	snap, err := d.Corpus.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load triage rules: %w", err)
	}
	return snap.RulesDocument, nil
}

func (d Deps) queryKnowledge(_ context.Context, input json.RawMessage) (any, error) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, ValidationError("invalid knowledge query: %v", err)
	}
	retriever, err := d.Corpus.Retriever()
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	return retriever.Query(req.Query, req.Limit), nil
}
