// Package store is the persistence boundary of the engine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
)

var (
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the backing store could not serve the request.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is the storage interface consumed by the engine.
type Store interface {
	// Ping is a trivial liveness probe.
	Ping(ctx context.Context) error

	// ListFacilities returns up to limit facilities ordered by ID, filtered by
	// district and sub-district when those are non-empty. Inventory is included.
	ListFacilities(ctx context.Context, district, subDistrict string, limit int) ([]facilities.Facility, error)

	// ListPrograms returns the program catalogue ordered by ID.
	ListPrograms(ctx context.Context) ([]eligibility.Program, error)

	// ReplacePatientEligibility deletes every stored evaluation of the patient
	// and inserts records, atomically.
	ReplacePatientEligibility(ctx context.Context, patientID int64, records []eligibility.Record) error

	GetPatientProfile(ctx context.Context, id int64) (*PatientProfile, error)
	ListPatients(ctx context.Context, limit int) ([]Patient, error)

	CreateReminder(ctx context.Context, r NewReminder) (*Reminder, error)
	// ListReminders returns reminders ordered by scheduled time, optionally
	// restricted to one patient.
	ListReminders(ctx context.Context, patientID *int64) ([]Reminder, error)
	UpdateReminderStatus(ctx context.Context, id int64, status ReminderStatus) (*Reminder, error)

	CreateInteraction(ctx context.Context, in NewInteraction) (*Interaction, error)
	InteractionStats(ctx context.Context) (InteractionStats, error)

	AppendToolInvocation(ctx context.Context, rec ToolInvocation) error
	// ListToolInvocations returns the newest records first.
	ListToolInvocations(ctx context.Context, limit int) ([]ToolInvocation, error)

	AppendAnalyticsEvent(ctx context.Context, eventType string, payload json.RawMessage) (*AnalyticsEvent, error)
	// ListRecentAnalyticsEvents returns the newest events first.
	ListRecentAnalyticsEvents(ctx context.Context, limit int) ([]AnalyticsEvent, error)

	Close() error
}

// unavailable marks err as a storage dependency failure.
func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
