// Package health tracks whether the engine can trust its storage and
// reasoning dependencies.
package health

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Reason explains why the engine is degraded.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonForced              Reason = "forced"
	ReasonDatabaseUnreachable Reason = "database_unreachable"
	ReasonCredentialMissing   Reason = "credential_missing"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 2 * time.Second

// Prober is a trivial liveness check against the persistence layer.
type Prober interface {
	Ping(ctx context.Context) error
}

// Snapshot is an immutable view of the degraded state.
type Snapshot struct {
	Degraded  bool      `json:"degraded"`
	Reason    Reason    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Monitor owns the degraded-mode state. Compute is the only writer; readers
// call Degraded or Snapshot, which never perform I/O.
type Monitor struct {
	forced       bool
	probe        Prober
	credential   string
	probeTimeout time.Duration
	observer     func(Snapshot)
	now          func() time.Time

	current atomic.Pointer[Snapshot]
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithObserver registers fn to receive every computed snapshot.
func WithObserver(fn func(Snapshot)) Option {
	return func(m *Monitor) { m.observer = fn }
}

// New creates a monitor whose initial state is the static forced flag.
func New(forced bool, probe Prober, credential string, opts ...Option) *Monitor {
	m := &Monitor{
		forced:       forced,
		probe:        probe,
		credential:   strings.TrimSpace(credential),
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	initial := &Snapshot{Degraded: forced, CheckedAt: m.now()}
	if forced {
		initial.Reason = ReasonForced
	}
	m.current.Store(initial)
	return m
}

// Compute refreshes the state and returns it. The forced flag short-circuits
// without touching dependencies; otherwise the probe runs before the
// credential check.
func (m *Monitor) Compute(ctx context.Context) bool {
	reason := m.evaluate(ctx)

	snap := &Snapshot{
		Degraded:  reason != ReasonNone,
		Reason:    reason,
		CheckedAt: m.now(),
	}
	m.current.Store(snap)

	if m.observer != nil {
		m.observer(*snap)
	}
	return snap.Degraded
}

func (m *Monitor) evaluate(ctx context.Context) Reason {
	if m.forced {
		return ReasonForced
	}

	if m.probe == nil {
		return ReasonDatabaseUnreachable
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	if err := m.probe.Ping(probeCtx); err != nil {
		return ReasonDatabaseUnreachable
	}

	if m.credential == "" {
		return ReasonCredentialMissing
	}
	return ReasonNone
}

// Degraded returns the last computed value.
func (m *Monitor) Degraded() bool {
	return m.current.Load().Degraded
}

// Snapshot returns the last computed state.
func (m *Monitor) Snapshot() Snapshot {
	return *m.current.Load()
}

// CredentialPresent reports whether the reasoning credential is configured.
func (m *Monitor) CredentialPresent() bool {
	return m.credential != ""
}
