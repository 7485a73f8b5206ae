package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectedhealth/careengine/health"
	"github.com/connectedhealth/careengine/internal/metrics"
	"github.com/connectedhealth/careengine/knowledge"
	"github.com/connectedhealth/careengine/orchestrator"
	"github.com/connectedhealth/careengine/store"
	"github.com/connectedhealth/careengine/triage"
)

type fakeRunner struct {
	resp *orchestrator.Response
	err  error
	got  []orchestrator.Request
}

func (f *fakeRunner) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	f.got = append(f.got, req)
	return f.resp, f.err
}

type fixture struct {
	server *Server
	store  *store.MemoryStore
	runner *fakeRunner
}

func newFixture(t *testing.T, credential string) *fixture {
	t.Helper()

	data, err := store.LoadSeedFile("../../data/seed.yaml", time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	st := store.NewSeededMemoryStore(data)

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)

	monitor := health.New(false, st, credential, health.WithObserver(func(s health.Snapshot) { m.SetDegraded(s.Degraded) }))
	runner := &fakeRunner{err: orchestrator.ErrUnavailable}

	server, err := NewServer(Deps{
		Store:        st,
		Monitor:      monitor,
		Corpus:       knowledge.NewCorpus("../../data", nil),
		Orchestrator: runner,
		Metrics:      m,
		Gatherer:     registry,
	})
	require.NoError(t, err)
	server.Warm(context.Background())

	return &fixture{server: server, store: st, runner: runner}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestRoot(t *testing.T) {
	f := newFixture(t, "key")
	rec := f.do(t, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestSystemHealth(t *testing.T) {
	tests := []struct {
		name         string
		credential   string
		offline      bool
		wantGemini   bool
		wantDB       bool
		wantDegraded bool
		wantReason   string
	}{
		{name: "healthy", credential: "key", wantGemini: true, wantDB: true},
		{name: "missing credential", wantDegraded: true, wantReason: "credential_missing"},
		{name: "database down", credential: "key", offline: true, wantGemini: true, wantDegraded: true, wantReason: "database_unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.credential)
			f.store.SetOffline(tt.offline)

			rec := f.do(t, http.MethodGet, "/api/system/health", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			got := decode[HealthResponse](t, rec)
			assert.Equal(t, tt.wantGemini, got.GeminiOK)
			assert.Equal(t, tt.wantDB, got.DBOK)
			assert.Equal(t, tt.wantDegraded, got.DegradedMode)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestTriage_PassesThroughOrchestrator(t *testing.T) {
	f := newFixture(t, "key")
	f.runner.err = nil
	f.runner.resp = &orchestrator.Response{
		Reply: "Visit a clinic within 24 hours.",
		State: orchestrator.State{
			TriageResult:            &orchestrator.TriageResult{Level: "clinic", Reason: "fever with rash"},
			FacilityRecommendations: []map[string]any{{"id": float64(2)}},
		},
	}

	rec := f.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sessionId": "s-1",
		"userRole":  "lhw",
		"message":   "child has fever and rash",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, f.runner.got, 1)
	assert.Equal(t, "en", f.runner.got[0].Language, "language defaults to en")

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "Visit a clinic within 24 hours.", got["reply"])
	assert.Equal(t, triage.SafetyDisclaimer, got["disclaimer"])
	assert.Equal(t, false, got["degradedMode"])
	assert.NotContains(t, got, "degradedFallback")
	assert.Len(t, got["facilities"], 1)
}

func TestTriage_FallsBackWhenOrchestratorFails(t *testing.T) {
	f := newFixture(t, "key")
	f.runner.err = errors.New("connection refused")

	rec := f.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sessionId":      "s-2",
		"userRole":       "citizen",
		"language":       "roman-ur",
		"message":        "My father has CHEST PAIN since morning",
		"patientContext": map[string]any{"district": "Rawalpindi"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Reply            string           `json:"reply"`
		TriageResult     triage.Result    `json:"triageResult"`
		Facilities       []map[string]any `json:"facilities"`
		Programs         []map[string]any `json:"programs"`
		DegradedMode     bool             `json:"degradedMode"`
		DegradedFallback bool             `json:"degradedFallback"`
		Disclaimer       string           `json:"disclaimer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.Equal(t, knowledge.LevelEmergency, got.TriageResult.Level)
	assert.True(t, got.DegradedMode)
	assert.True(t, got.DegradedFallback)
	assert.Equal(t, triage.SafetyDisclaimer, got.Disclaimer)
	assert.NotNil(t, got.Programs)
	assert.Contains(t, got.Reply, got.TriageResult.Reason)

	names := make([]string, 0, len(got.Facilities))
	for _, fac := range got.Facilities {
		names = append(names, fac["name"].(string))
	}
	assert.Contains(t, names, "DHQ Hospital Rawalpindi")

	stats, err := f.store.InteractionStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total, "fallback answers are logged")
	assert.Equal(t, int64(1), stats.ByTriageLevel["emergency"])
}

func TestTriage_RedFlagWinsOverKeywords(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/triage", map[string]any{
		"sessionId": "s-3",
		"userRole":  "citizen",
		"message":   "mild cough and now difficulty breathing",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	result := got["triageResult"].(map[string]any)
	assert.Equal(t, "emergency", result["level"])
	assert.Equal(t, "Red flag detected: difficulty breathing", result["reason"])
}

func TestTriage_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, "key")

	tests := []struct {
		name string
		body any
	}{
		{"malformed", `{"sessionId": `},
		{"empty message", map[string]any{"sessionId": "s", "userRole": "citizen", "message": ""}},
		{"unknown role", map[string]any{"sessionId": "s", "userRole": "nurse", "message": "hi"}},
		{"unknown language", map[string]any{"sessionId": "s", "userRole": "lhw", "language": "fr", "message": "hi"}},
		{"missing session", map[string]any{"userRole": "lhw", "message": "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/triage", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid triage request", decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Empty(t, f.runner.got)
}

func TestFacilitySearch(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/facilities/search", map[string]any{
		"district":         "Rawalpindi",
		"lat":              33.6,
		"lng":              73.04,
		"requiredServices": []string{"emergency"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[[]map[string]any](t, rec)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)
	assert.Equal(t, "DHQ Hospital Rawalpindi", got[0]["name"])
	assert.Contains(t, got[0], "distanceKm")

	rec = f.do(t, http.MethodPost, "/api/facilities/search", map[string]any{"lat": 120.0, "lng": 73.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFacilitySearch_StorageDownIsServiceUnavailable(t *testing.T) {
	f := newFixture(t, "key")
	f.store.SetOffline(true)

	rec := f.do(t, http.MethodPost, "/api/facilities/search", map[string]any{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, decode[map[string]string](t, rec), "details")
	assert.True(t, f.server.monitor.Degraded(), "dependency failures refresh the degraded state")
}

func TestProgramEligibility(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/programs/eligibility", map[string]any{
		"patientId":        1,
		"age":              28,
		"gender":           "female",
		"hasMockSehatCard": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	verdicts := decode[[]map[string]any](t, rec)
	assert.Len(t, verdicts, 5)

	profile, err := f.store.GetPatientProfile(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, profile.Programs, 5, "evaluations are persisted for known patients")

	rec = f.do(t, http.MethodPost, "/api/programs/eligibility", map[string]any{"age": -1, "gender": "male"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/programs/eligibility", map[string]any{"patientId": 999, "age": 30, "gender": "male"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrograms_ListAndReload(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodGet, "/api/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 5)

	rec = f.do(t, http.MethodPost, "/api/programs/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[map[string]int](t, rec)["programs"])
}

func TestKnowledge(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodGet, "/api/knowledge/triage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec), "rules")

	rec = f.do(t, http.MethodPost, "/api/knowledge/query", map[string]any{"query": "dengue fever", "limit": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = f.do(t, http.MethodPost, "/api/knowledge/query", map[string]any{"query": "x", "limit": 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminders(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/reminders", map[string]any{
		"patientId":   2,
		"type":        "vaccine",
		"message":     "Measles second dose",
		"scheduledAt": "2025-02-01T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Reminder](t, rec)
	assert.Equal(t, store.ReminderScheduled, created.Status)

	rec = f.do(t, http.MethodGet, "/api/reminders?patientId=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]store.Reminder](t, rec)
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].ScheduledAt.Before(list[i-1].ScheduledAt), "ordered by scheduled time")
	}

	rec = f.do(t, http.MethodPatch, "/api/reminders/"+strconv.FormatInt(created.ID, 10), map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.ReminderDone, decode[store.Reminder](t, rec).Status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad type", http.MethodPost, "/api/reminders", map[string]any{"patientId": 2, "type": "call", "message": "m", "scheduledAt": "2025-02-01T09:00:00Z"}, http.StatusBadRequest},
		{"unknown patient", http.MethodPost, "/api/reminders", map[string]any{"patientId": 999, "type": "vaccine", "message": "m", "scheduledAt": "2025-02-01T09:00:00Z"}, http.StatusNotFound},
		{"bad patientId", http.MethodGet, "/api/reminders?patientId=abc", nil, http.StatusBadRequest},
		{"bad status", http.MethodPatch, "/api/reminders/1", map[string]string{"status": "snoozed"}, http.StatusBadRequest},
		{"bad id", http.MethodPatch, "/api/reminders/abc", map[string]string{"status": "done"}, http.StatusBadRequest},
		{"unknown reminder", http.MethodPatch, "/api/reminders/9999", map[string]string{"status": "done"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, tt.method, tt.path, tt.body).Code)
		})
	}
}

func TestPatients(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodGet, "/api/patients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Patient](t, rec), 14)

	rec = f.do(t, http.MethodGet, "/api/patients/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ayesha Khan", decode[store.PatientProfile](t, rec).FullName)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/patients/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/patients/999", nil).Code)
}

func TestInteractionsAndAnalytics(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/interactions", map[string]any{
		"agentName":     "triage",
		"inputSummary":  "chest pain",
		"outputSummary": "Go to emergency",
		"triageLevel":   "emergency",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/analytics/events", map[string]any{
		"eventType": "hotspot-alert",
		"payload":   map[string]any{"district": "Peshawar", "cases": 7},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/analytics/events", map[string]any{}).Code)

	rec = f.do(t, http.MethodGet, "/api/analytics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[AnalyticsSummary](t, rec)
	assert.Equal(t, int64(4), got.TotalInteractions)
	assert.Equal(t, map[string]int64{"clinic": 2, "info": 1, "emergency": 1}, got.TriageDistribution)
	require.Len(t, got.HotspotFlags, 2)
	assert.Equal(t, "Peshawar", got.HotspotFlags[0]["district"], "newest first")
	assert.Contains(t, got.HotspotFlags[0], "id")
	assert.Contains(t, got.HotspotFlags[0], "createdAt")
}

func TestToolLogs(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodPost, "/api/mcp/logs", map[string]any{
		"toolName": "query_knowledge_base",
		"input":    map[string]any{"query": "fever"},
		"output":   []any{},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[store.ToolInvocation](t, rec).ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/mcp/logs", map[string]any{"input": 1}).Code)

	rec = f.do(t, http.MethodGet, "/api/mcp/logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.ToolInvocation](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/mcp/logs?limit=0", nil).Code)
}

func TestTools_ListAndInvoke(t *testing.T) {
	f := newFixture(t, "key")

	rec := f.do(t, http.MethodGet, "/api/mcp/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 7)

	tests := []struct {
		name string
		tool string
		body string
		want int
	}{
		{"ok", "get_patient_profile", `{"patientId": 1}`, http.StatusOK},
		{"validation", "get_patient_profile", `{"patientId": "one"}`, http.StatusBadRequest},
		{"not found", "get_patient_profile", `{"patientId": 999}`, http.StatusNotFound},
		{"unknown tool", "drop_tables", `{}`, http.StatusBadRequest},
		{"empty input", "get_triage_rules_cached", ``, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/mcp/tools/"+tt.tool, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]any](t, rec)["recordId"])
		})
	}

	records, err := f.store.ListToolInvocations(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, records, len(tests), "every invocation is recorded")
}

func TestTools_DependencyFailure(t *testing.T) {
	f := newFixture(t, "key")
	f.store.SetOffline(true)

	rec := f.do(t, http.MethodPost, "/api/mcp/tools/get_patient_profile", `{"patientId": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, true, got["degradedMode"])
	assert.Equal(t, "dependency", got["error"].(map[string]any)["kind"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "key")
	f.do(t, http.MethodGet, "/api/patients", nil)
	f.do(t, http.MethodGet, "/api/patients/abc", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `careengine_http_requests_total{method="GET",route="/api/patients/{id}",status="400"} 1`)
	assert.Contains(t, body, "careengine_health_degraded_mode 0")
}
