package main

import (
	"encoding/json"

	"github.com/connectedhealth/careengine/facilities"
	"github.com/connectedhealth/careengine/orchestrator"
	"github.com/connectedhealth/careengine/store"
)

// API request and response models

// triageRequestSchema validates POST /api/triage bodies.
const triageRequestSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string"},
		"userRole": {"enum": ["citizen", "lhw", "doctor", "admin"]},
		"language": {"enum": ["en", "ur", "roman-ur"]},
		"message": {"type": "string", "minLength": 1},
		"patientContext": {"type": "object"}
	},
	"required": ["sessionId", "userRole", "message"]
}`

// TriageRequest is one citizen or health-worker message.
type TriageRequest struct {
	SessionID      string         `json:"sessionId"`
	UserRole       string         `json:"userRole"`
	Language       string         `json:"language"`
	Message        string         `json:"message"`
	PatientContext map[string]any `json:"patientContext"`
}

// TriageResponse is the answer to a TriageRequest.
type TriageResponse struct {
	Reply            string           `json:"reply"`
	TriageResult     any              `json:"triageResult"`
	Facilities       any              `json:"facilities"`
	Programs         []map[string]any `json:"programs"`
	RemindersPreview []map[string]any `json:"remindersPreview"`
	AnalyticsFlags   []map[string]any `json:"analyticsFlags"`
	DegradedMode     bool             `json:"degradedMode"`
	DegradedFallback bool             `json:"degradedFallback,omitempty"`
	Disclaimer       string           `json:"disclaimer"`
}

func triageResponseFrom(resp *orchestrator.Response, disclaimer string) TriageResponse {
	return TriageResponse{
		Reply:            resp.Reply,
		TriageResult:     resp.State.TriageResult,
		Facilities:       resp.State.FacilityRecommendations,
		Programs:         resp.State.ProgramEligibility,
		RemindersPreview: resp.State.Reminders,
		AnalyticsFlags:   resp.State.AnalyticsFlags,
		DegradedMode:     resp.State.DegradedMode,
		Disclaimer:       disclaimer,
	}
}

// HealthResponse reports dependency status.
type HealthResponse struct {
	GeminiOK     bool   `json:"gemini_ok"`
	DBOK         bool   `json:"db_ok"`
	DegradedMode bool   `json:"degraded_mode"`
	Reason       string `json:"reason,omitempty"`
}

// UpdateReminderRequest changes a reminder's status.
type UpdateReminderRequest struct {
	Status string `json:"status"`
}

// AnalyticsSummary aggregates interactions and recent hotspot alerts.
type AnalyticsSummary struct {
	TotalInteractions  int64            `json:"totalInteractions"`
	TriageDistribution map[string]int64 `json:"triageDistribution"`
	HotspotFlags       []map[string]any `json:"hotspotFlags"`
}

// hotspotFlag flattens an event payload and adds its id and timestamp.
func hotspotFlag(ev store.AnalyticsEvent) map[string]any {
	flag := map[string]any{}
	// Payloads that are not objects contribute nothing but id and createdAt.
	_ = json.Unmarshal(ev.Payload, &flag)
	if flag == nil {
		flag = map[string]any{}
	}
	flag["id"] = ev.ID
	flag["createdAt"] = ev.CreatedAt
	return flag
}

// CreateAnalyticsEventRequest records an aggregate signal.
type CreateAnalyticsEventRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// CreateToolLogRequest is an externally reported tool invocation.
type CreateToolLogRequest struct {
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

// facilityFilterFrom builds a search filter from a free-form patient context.
func facilityFilterFrom(patientContext map[string]any, required []string) facilities.Filter {
	filter := facilities.Filter{RequiredServices: required}
	if d, ok := patientContext["district"].(string); ok {
		filter.District = d
	}
	if t, ok := patientContext["tehsil"].(string); ok {
		filter.SubDistrict = t
	}
	lat, latOK := patientContext["lat"].(float64)
	lng, lngOK := patientContext["lng"].(float64)
	if latOK && lngOK {
		filter.Lat, filter.Lng = &lat, &lng
	}
	return filter
}

func orchestratorRequest(req TriageRequest) orchestrator.Request {
	return orchestrator.Request{
		SessionID:      req.SessionID,
		UserRole:       req.UserRole,
		Language:       req.Language,
		Message:        req.Message,
		PatientContext: req.PatientContext,
	}
}
