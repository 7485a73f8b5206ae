package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"WARNING", LevelWarning, false},
		{" error ", LevelError, false},
		{"trace", LevelTrace, false},
		{"verbose", LevelInfo, true},
	}

	for _, tc := range testCases {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetup_JSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	t.Cleanup(func() { _ = Setup(context.Background(), Options{}) })

	Info("hidden")
	Warn("shown", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["k"] != "v" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestWarnToolLog_CountsEvenWhenSampled(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{ErrorSampleRate: 1_000_000, Output: &buf}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = Setup(context.Background(), Options{}) })

	before := ToolLogFailures.Load()
	warnBefore := TotalWarnings.Load()
	for i := 0; i < 5; i++ {
		WarnToolLog("query_knowledge_base", errors.New("db down"))
	}
	if got := ToolLogFailures.Load() - before; got != 5 {
		t.Errorf("ToolLogFailures advanced by %d, want 5", got)
	}
	if got := TotalWarnings.Load() - warnBefore; got != 5 {
		t.Errorf("TotalWarnings advanced by %d, want 5", got)
	}
}
