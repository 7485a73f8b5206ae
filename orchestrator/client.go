// Package orchestrator calls the external reasoning service that runs a
// conversation turn.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultURL     = "http://localhost:8000/run"
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// ErrUnavailable wraps every failure to obtain a usable response.
var ErrUnavailable = errors.New("orchestrator unavailable")

// Request is one conversation turn.
type Request struct {
	SessionID      string         `json:"session_id"`
	UserRole       string         `json:"user_role"`
	Language       string         `json:"language"`
	Message        string         `json:"message"`
	PatientContext map[string]any `json:"patient_context"`
}

// TriageResult is the orchestrator's classification. The level taxonomy is
// owned by the orchestrator and passed through unchanged.
type TriageResult struct {
	Level              string `json:"level"`
	Reason             string `json:"reason"`
	RecommendedUrgency string `json:"recommendedUrgency"`
	Disclaimer         string `json:"disclaimer,omitempty"`
}

// State is the conversation state returned with a reply.
type State struct {
	TriageResult            *TriageResult    `json:"triage_result"`
	FacilityRecommendations []map[string]any `json:"facility_recommendations"`
	ProgramEligibility      []map[string]any `json:"program_eligibility"`
	Reminders               []map[string]any `json:"reminders"`
	AnalyticsFlags          []map[string]any `json:"analytics_flags"`
	DegradedMode            bool             `json:"degraded_mode"`
}

// Response is the orchestrator's answer to one turn.
type Response struct {
	Reply string `json:"reply"`
	State State  `json:"state"`
}

// Runner runs a conversation turn.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// Client is the HTTP Runner.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client posting to url. A zero timeout selects
// DefaultTimeout.
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Run posts req and decodes the reply. Any transport, status or decoding
// failure is reported as ErrUnavailable; there are no retries.
func (c *Client) Run(ctx context.Context, req Request) (*Response, error) {
	if req.PatientContext == nil {
		req.PatientContext = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode orchestrator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ErrUnavailable, err)
	}
	return &out, nil
}

var _ Runner = (*Client)(nil)
