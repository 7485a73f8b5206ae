package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
	"github.com/connectedhealth/careengine/gateway"
	"github.com/connectedhealth/careengine/internal/logger"
	"github.com/connectedhealth/careengine/store"
	"github.com/connectedhealth/careengine/triage"
)

const (
	defaultToolLogLimit = 50
	maxToolLogLimit     = 200

	// fallbackAgent names interactions answered by rule-based triage.
	fallbackAgent = "fallback-triage"
	summaryLength = 200
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Connected Health decision-support engine",
	})
}

// Health check handler. It recomputes the degraded state on every call.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	s.monitor.Compute(r.Context())
	snap := s.monitor.Snapshot()

	respondJSON(w, http.StatusOK, HealthResponse{
		GeminiOK:     s.monitor.CredentialPresent(),
		DBOK:         !snap.Degraded,
		DegradedMode: snap.Degraded,
		Reason:       string(snap.Reason),
	})
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := gateway.ValidateJSON(s.triageSchema, body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid triage request", err)
		return
	}

	var req TriageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid triage request", err)
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	resp, err := s.orchestrator.Run(r.Context(), orchestratorRequest(req))
	if err != nil {
		logger.Warn("orchestrator failed, answering with rule-based triage", "session", req.SessionID, "error", err)
		respondJSON(w, http.StatusOK, s.fallbackTriage(r.Context(), req))
		return
	}

	out := triageResponseFrom(resp, triage.SafetyDisclaimer)
	out.DegradedMode = out.DegradedMode || s.monitor.Degraded()
	respondJSON(w, http.StatusOK, out)
}

// fallbackTriage classifies the message locally and attaches facility
// recommendations when the level calls for one. Lookup failures leave the
// corresponding field empty.
func (s *Server) fallbackTriage(ctx context.Context, req TriageRequest) TriageResponse {
	rules, err := s.corpus.TriageRules()
	if err != nil {
		logger.Warn("triage rules unavailable, using built-in default", "error", err)
	}
	result := triage.Classify(req.Message, rules)

	matches := []facilities.Match{}
	if result.NeedsFacility() {
		found, err := s.facilities.Search(ctx, facilityFilterFrom(req.PatientContext, triage.RequiredServices(result.Level)))
		if err != nil {
			logger.Warn("facility lookup failed during fallback triage", "error", err)
		} else {
			matches = found
		}
	}

	level := string(result.Level)
	if _, err := s.store.CreateInteraction(ctx, store.NewInteraction{
		AgentName:     fallbackAgent,
		InputSummary:  truncate(req.Message, summaryLength),
		OutputSummary: result.Reason,
		TriageLevel:   &level,
	}); err != nil {
		logger.Warn("failed to log fallback interaction", "session", req.SessionID, "error", err)
	}

	return TriageResponse{
		Reply:            fmt.Sprintf("%s. Recommended: %s.", result.Reason, result.RecommendedUrgency),
		TriageResult:     result,
		Facilities:       matches,
		Programs:         []map[string]any{},
		RemindersPreview: []map[string]any{},
		AnalyticsFlags:   []map[string]any{},
		DegradedMode:     true,
		DegradedFallback: true,
		Disclaimer:       triage.SafetyDisclaimer,
	}
}

func (s *Server) handleFacilitySearch(w http.ResponseWriter, r *http.Request) {
	var filter facilities.Filter
	if !s.decodeToolInput(w, r, gateway.ToolFacilityRecommendations, "invalid facility search payload", &filter) {
		return
	}

	matches, err := s.facilities.Search(r.Context(), filter)
	if err != nil {
		s.respondStoreError(w, r, "facility search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	var pc eligibility.PatientContext
	if !s.decodeToolInput(w, r, gateway.ToolProgramEligibility, "invalid eligibility payload", &pc) {
		return
	}

	verdicts, err := s.eligibility.Check(r.Context(), pc)
	if err != nil {
		s.respondStoreError(w, r, "eligibility check failed", err)
		return
	}
	respondJSON(w, http.StatusOK, verdicts)
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	if !s.catalog.Loaded() {
		if _, err := s.catalog.Reload(r.Context()); err != nil {
			s.respondStoreError(w, r, "failed to load programs", err)
			return
		}
	}
	respondJSON(w, http.StatusOK, s.catalog.Programs())
}

func (s *Server) handleReloadPrograms(w http.ResponseWriter, r *http.Request) {
	n, err := s.catalog.Reload(r.Context())
	if err != nil {
		s.respondStoreError(w, r, "failed to reload programs", err)
		return
	}
	logger.Info("program catalogue reloaded", "programs", n)
	respondJSON(w, http.StatusOK, map[string]int{"programs": n})
}

func (s *Server) handleTriageRules(w http.ResponseWriter, r *http.Request) {
	snap, err := s.corpus.Snapshot()
	if err != nil {
		logger.Error("failed to load knowledge corpus", "error", err)
		respondError(w, http.StatusInternalServerError, "triage rules unavailable", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(snap.RulesDocument)
}

func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if !s.decodeToolInput(w, r, gateway.ToolQueryKnowledge, "invalid knowledge query", &req) {
		return
	}

	retriever, err := s.corpus.Retriever()
	if err != nil {
		logger.Error("failed to load knowledge corpus", "error", err)
		respondError(w, http.StatusInternalServerError, "knowledge base unavailable", nil)
		return
	}
	respondJSON(w, http.StatusOK, retriever.Query(req.Query, req.Limit))
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID   int64     `json:"patientId"`
		Type        string    `json:"type"`
		Message     string    `json:"message"`
		ScheduledAt time.Time `json:"scheduledAt"`
	}
	if !s.decodeToolInput(w, r, gateway.ToolCreateReminder, "invalid reminder payload", &req) {
		return
	}
	typ, err := store.ParseReminderType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid reminder payload", err)
		return
	}

	reminder, err := s.store.CreateReminder(r.Context(), store.NewReminder{
		PatientID:   req.PatientID,
		Type:        typ,
		Message:     req.Message,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.respondStoreError(w, r, "failed to create reminder", err)
		return
	}
	respondJSON(w, http.StatusCreated, reminder)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	var patientID *int64
	if raw := r.URL.Query().Get("patientId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid patientId", err)
			return
		}
		patientID = &id
	}

	reminders, err := s.store.ListReminders(r.Context(), patientID)
	if err != nil {
		s.respondStoreError(w, r, "failed to list reminders", err)
		return
	}
	respondJSON(w, http.StatusOK, reminders)
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateReminderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	status, err := store.ParseReminderStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid reminder status", err)
		return
	}

	reminder, err := s.store.UpdateReminderStatus(r.Context(), id, status)
	if err != nil {
		s.respondStoreError(w, r, "failed to update reminder", err)
		return
	}
	respondJSON(w, http.StatusOK, reminder)
}

func (s *Server) handleCreateInteraction(w http.ResponseWriter, r *http.Request) {
	var in store.NewInteraction
	if !s.decodeToolInput(w, r, gateway.ToolSaveInteraction, "invalid interaction payload", &in) {
		return
	}

	interaction, err := s.store.CreateInteraction(r.Context(), in)
	if err != nil {
		s.respondStoreError(w, r, "failed to save interaction", err)
		return
	}
	respondJSON(w, http.StatusCreated, interaction)
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.store.ListPatients(r.Context(), store.PatientListLimit)
	if err != nil {
		s.respondStoreError(w, r, "failed to list patients", err)
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	profile, err := s.store.GetPatientProfile(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, "failed to load patient", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.InteractionStats(r.Context())
	if err != nil {
		s.respondStoreError(w, r, "failed to load analytics", err)
		return
	}
	events, err := s.store.ListRecentAnalyticsEvents(r.Context(), store.RecentEventsLimit)
	if err != nil {
		s.respondStoreError(w, r, "failed to load analytics", err)
		return
	}

	flags := []map[string]any{}
	for _, ev := range events {
		if ev.EventType == store.EventHotspotAlert {
			flags = append(flags, hotspotFlag(ev))
		}
	}

	respondJSON(w, http.StatusOK, AnalyticsSummary{
		TotalInteractions:  stats.Total,
		TriageDistribution: stats.ByTriageLevel,
		HotspotFlags:       flags,
	})
}

func (s *Server) handleCreateAnalyticsEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateAnalyticsEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "eventType is required", nil)
		return
	}

	ev, err := s.store.AppendAnalyticsEvent(r.Context(), req.EventType, req.Payload)
	if err != nil {
		s.respondStoreError(w, r, "failed to record analytics event", err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleCreateToolLog(w http.ResponseWriter, r *http.Request) {
	var req CreateToolLogRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ToolName == "" {
		respondError(w, http.StatusBadRequest, "toolName is required", nil)
		return
	}
	if len(req.Input) == 0 {
		req.Input = json.RawMessage(`{}`)
	}

	rec := store.ToolInvocation{
		ID:        uuid.NewString(),
		ToolName:  req.ToolName,
		Input:     req.Input,
		Output:    req.Output,
		Error:     req.Error,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendToolInvocation(r.Context(), rec); err != nil {
		s.respondStoreError(w, r, "failed to record tool invocation", err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListToolLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultToolLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = min(n, maxToolLogLimit)
	}

	records, err := s.store.ListToolInvocations(r.Context(), limit)
	if err != nil {
		s.respondStoreError(w, r, "failed to list tool invocations", err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.gateway.Tools())
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	res := s.gateway.Invoke(r.Context(), chi.URLParam(r, "name"), body)
	status := http.StatusOK
	if res.Error != nil {
		status = toolErrorStatus(res.Error.Kind)
	}
	respondJSON(w, status, res)
}

func toolErrorStatus(kind gateway.Kind) int {
	switch kind {
	case gateway.KindValidation:
		return http.StatusBadRequest
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeToolInput validates the request body against the schema of the tool
// backing the endpoint, then decodes it into dst.
func (s *Server) decodeToolInput(w http.ResponseWriter, r *http.Request, tool, message string, dst any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	if terr := s.gateway.Validate(tool, body); terr != nil {
		respondError(w, http.StatusBadRequest, message, errors.New(terr.Message))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, message, err)
		return false
	}
	return true
}

// respondStoreError maps storage failures. Dependency failures refresh the
// degraded state.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, store.ErrUnavailable):
		s.monitor.Compute(context.WithoutCancel(r.Context()))
		logger.Error(message, "error", err)
		respondError(w, http.StatusServiceUnavailable, message, nil)
	default:
		logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, nil)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return nil, false
	}
	return body, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "invalid "+param, err)
		return 0, false
	}
	return id, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
