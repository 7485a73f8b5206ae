// Package gateway exposes engine operations as named, schema-validated tools.
// Every invocation writes exactly one append-only record.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/connectedhealth/careengine/health"
	"github.com/connectedhealth/careengine/internal/logger"
	"github.com/connectedhealth/careengine/internal/metrics"
	"github.com/connectedhealth/careengine/store"
)

// RecordTimeout bounds a single invocation record write.
const RecordTimeout = 5 * time.Second

// Recorder persists invocation records.
type Recorder interface {
	AppendToolInvocation(ctx context.Context, rec store.ToolInvocation) error
}

// Result is the outcome of one tool call. Exactly one of Output and Error is set.
type Result struct {
	RecordID     string          `json:"recordId"`
	Tool         string          `json:"tool"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        *ToolError      `json:"error,omitempty"`
	DegradedMode bool            `json:"degradedMode"`
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type tool struct {
	info    ToolInfo
	schema  *jsonschema.Schema
	handler Handler
}

// Gateway validates, executes and records tool calls.
type Gateway struct {
	tools    map[string]*tool
	recorder Recorder
	monitor  *health.Monitor
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records call outcomes and record-write failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithRecorder overrides where invocation records are written. The default
// is the store passed in Deps.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// New builds a gateway with the built-in tools.
func New(deps Deps, monitor *health.Monitor, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		tools:    make(map[string]*tool),
		recorder: deps.Store,
		monitor:  monitor,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.recorder == nil {
		return nil, fmt.Errorf("gateway requires a recorder")
	}
	if g.monitor == nil {
		return nil, fmt.Errorf("gateway requires a health monitor")
	}

	for _, def := range builtinTools(deps) {
		if err := g.Register(def.name, def.description, def.schema, def.handler); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Register adds a tool. The schema is compiled as JSON Schema draft 2020-12.
func (g *Gateway) Register(name, description, schema string, handler Handler) error {
	if _, exists := g.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	compiled, err := CompileSchema(name, schema)
	if err != nil {
		return err
	}

	g.tools[name] = &tool{
		info:    ToolInfo{Name: name, Description: description, InputSchema: json.RawMessage(schema)},
		schema:  compiled,
		handler: handler,
	}
	return nil
}

// CompileSchema compiles a JSON Schema draft 2020-12 document.
func CompileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://careengine.local/schemas/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema %q load failed: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema %q compile failed: %w", name, err)
	}
	return compiled, nil
}

// ValidateJSON checks raw JSON against a compiled schema.
func ValidateJSON(schema *jsonschema.Schema, input json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(normaliseInput(input)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return schema.Validate(doc)
}

// Validate checks input against the named tool's schema without executing
// or recording anything.
func (g *Gateway) Validate(name string, input json.RawMessage) *ToolError {
	t, ok := g.tools[name]
	if !ok {
		return ValidationError("unknown tool %q", name)
	}
	if err := ValidateJSON(t.schema, input); err != nil {
		return ValidationError("invalid input for %s: %v", name, err)
	}
	return nil
}

// Tools lists registered tools by name.
func (g *Gateway) Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(g.tools))
	for _, t := range g.tools {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool. It never panics and never returns before the
// invocation record write has been attempted.
func (g *Gateway) Invoke(ctx context.Context, name string, input json.RawMessage) (res Result) {
	start := g.now()
	input = normaliseInput(input)
	rec := store.ToolInvocation{
		ID:        g.newID(),
		ToolName:  name,
		Input:     input,
		CreatedAt: start,
	}
	res = Result{RecordID: rec.ID, Tool: name}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "tool", name, "record_id", rec.ID, "panic", r, "stack", string(debug.Stack()))
			res.Output = nil
			res.Error = &ToolError{Kind: KindUnexpected, Message: unexpectedMessage, err: fmt.Errorf("panic: %v", r)}
		}

		outcome := "ok"
		if res.Error != nil {
			msg := res.Error.detail()
			rec.Error = &msg
			outcome = string(res.Error.Kind)
		} else {
			rec.Output = res.Output
		}
		g.record(ctx, rec)

		res.DegradedMode = g.monitor.Degraded()
		g.metrics.ObserveTool(name, outcome, g.now().Sub(start))
	}()

	t, ok := g.tools[name]
	if !ok {
		res.Error = ValidationError("unknown tool %q", name)
		return res
	}

	if err := ValidateJSON(t.schema, input); err != nil {
		res.Error = ValidationError("invalid input for %s: %v", name, err)
		return res
	}

	out, err := t.handler(ctx, input)
	if err != nil {
		res.Error = classify(err)
		switch res.Error.Kind {
		case KindDependency:
			g.monitor.Compute(context.WithoutCancel(ctx))
		case KindUnexpected:
			logger.Error("tool failed", "tool", name, "record_id", rec.ID, "error", err)
		}
		return res
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		logger.Error("failed to encode tool output", "tool", name, "record_id", rec.ID, "error", err)
		res.Error = &ToolError{Kind: KindUnexpected, Message: unexpectedMessage, err: err}
		return res
	}
	res.Output = encoded
	return res
}

// record writes rec on a context detached from the caller's cancellation.
// Failures are reported and counted only.
func (g *Gateway) record(ctx context.Context, rec store.ToolInvocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()

	if err := g.recorder.AppendToolInvocation(ctx, rec); err != nil {
		logger.WarnToolLog(rec.ToolName, err)
		g.metrics.IncToolLogFailure(rec.ToolName)
	}
}

// normaliseInput maps empty input to {} and wraps invalid JSON in a string,
// so records always hold valid JSON and schemas reject the garbage.
func normaliseInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
