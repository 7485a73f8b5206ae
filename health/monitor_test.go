package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProbe struct {
	mu    sync.Mutex
	err   error
	calls int
	delay time.Duration
}

func (f *fakeProbe) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeProbe) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestCompute_Healthy(t *testing.T) {
	probe := &fakeProbe{}
	m := New(false, probe, "key")

	if m.Compute(context.Background()) {
		t.Fatal("Compute() = true, want false")
	}
	if m.Degraded() {
		t.Error("Degraded() should reflect the computed false")
	}
	if got := m.Snapshot().Reason; got != ReasonNone {
		t.Errorf("Reason = %q, want none", got)
	}
}

func TestCompute_Outcomes(t *testing.T) {
	testCases := []struct {
		name       string
		forced     bool
		probeErr   error
		credential string
		wantReason Reason
		wantProbe  int
	}{
		{"forced skips probe", true, nil, "key", ReasonForced, 0},
		{"probe failure", false, errors.New("connection refused"), "key", ReasonDatabaseUnreachable, 1},
		{"probe before credential", false, errors.New("down"), "", ReasonDatabaseUnreachable, 1},
		{"missing credential", false, nil, "  ", ReasonCredentialMissing, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			probe := &fakeProbe{err: tc.probeErr}
			m := New(tc.forced, probe, tc.credential)

			if !m.Compute(context.Background()) {
				t.Error("Compute() = false, want true")
			}
			if !m.Degraded() {
				t.Error("Degraded() = false, want true")
			}
			if got := m.Snapshot().Reason; got != tc.wantReason {
				t.Errorf("Reason = %q, want %q", got, tc.wantReason)
			}
			if probe.calls != tc.wantProbe {
				t.Errorf("probe called %d times, want %d", probe.calls, tc.wantProbe)
			}
		})
	}
}

func TestInitialStateFollowsForcedFlag(t *testing.T) {
	probe := &fakeProbe{}

	if New(false, probe, "").Degraded() {
		t.Error("unforced monitor should start healthy")
	}
	if !New(true, probe, "key").Degraded() {
		t.Error("forced monitor should start degraded")
	}
	if probe.calls != 0 {
		t.Error("construction must not probe")
	}
}

func TestReadsDoNotProbe(t *testing.T) {
	probe := &fakeProbe{}
	m := New(false, probe, "key")
	m.Compute(context.Background())

	for i := 0; i < 10; i++ {
		m.Degraded()
		m.Snapshot()
	}
	if probe.calls != 1 {
		t.Errorf("probe called %d times, want 1", probe.calls)
	}
}

func TestCachedValuePersistsUntilRecompute(t *testing.T) {
	probe := &fakeProbe{}
	m := New(false, probe, "key")
	m.Compute(context.Background())

	probe.setErr(errors.New("down"))
	if m.Degraded() {
		t.Error("cached value changed without a recompute")
	}
	if !m.Compute(context.Background()) {
		t.Error("recompute should observe the outage")
	}
	probe.setErr(nil)
	if m.Compute(context.Background()) {
		t.Error("recompute should observe recovery")
	}
}

func TestProbeTimeout(t *testing.T) {
	probe := &fakeProbe{delay: time.Second}
	m := New(false, probe, "key", WithProbeTimeout(10*time.Millisecond))

	start := time.Now()
	if !m.Compute(context.Background()) {
		t.Error("slow probe should degrade")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("probe timeout was not applied")
	}
}

func TestObserverSeesEveryCompute(t *testing.T) {
	var seen []Snapshot
	m := New(false, &fakeProbe{}, "", WithObserver(func(s Snapshot) { seen = append(seen, s) }))

	m.Compute(context.Background())
	m.Compute(context.Background())
	if len(seen) != 2 || seen[0].Reason != ReasonCredentialMissing {
		t.Errorf("observer saw %+v", seen)
	}
}

func TestConcurrentComputeAndRead(t *testing.T) {
	probe := &fakeProbe{}
	m := New(false, probe, "key")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				probe.setErr(errors.New("flap"))
			} else {
				probe.setErr(nil)
			}
			m.Compute(context.Background())
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Snapshot()
		}()
	}
	wg.Wait()

	probe.setErr(nil)
	if m.Compute(context.Background()) {
		t.Error("final compute should be healthy")
	}
}
