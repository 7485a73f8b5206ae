package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
)

var errOffline = errors.New("memory store is offline")

// MemoryStore implements Store in process memory. It backs the
// DATABASE_URL=memory:// mode and tests.
// Thread-safe with RWMutex.
type MemoryStore struct {
	mu sync.RWMutex

	facilities   []facilities.Facility
	programs     []eligibility.Program
	patients     map[int64]Patient
	eligibility  map[int64][]ProgramEligibility
	reminders    []Reminder
	interactions []Interaction
	tools        []ToolInvocation
	events       []AnalyticsEvent

	nextReminderID    int64
	nextInteractionID int64
	nextEventID       int64

	offline atomic.Bool
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:    make(map[int64]Patient),
		eligibility: make(map[int64][]ProgramEligibility),
		now:         time.Now,
	}
}

// NewSeededMemoryStore creates a store holding data.
func NewSeededMemoryStore(data *SeedData) *MemoryStore {
	s := NewMemoryStore()
	s.Load(data)
	return s
}

// Load replaces the store contents with data.
func (s *MemoryStore) Load(data *SeedData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.facilities = append([]facilities.Facility(nil), data.Facilities...)
	s.programs = append([]eligibility.Program(nil), data.Programs...)

	s.patients = make(map[int64]Patient, len(data.Patients))
	for _, p := range data.Patients {
		s.patients[p.ID] = p
	}

	s.eligibility = make(map[int64][]ProgramEligibility)
	for _, r := range data.Eligibility {
		s.eligibility[r.PatientID] = append(s.eligibility[r.PatientID], ProgramEligibility{Record: r, CreatedAt: now})
	}

	s.reminders = nil
	s.nextReminderID = 0
	for _, r := range data.Reminders {
		s.nextReminderID++
		s.reminders = append(s.reminders, Reminder{
			ID: s.nextReminderID, PatientID: r.PatientID, Type: r.Type, Message: r.Message,
			ScheduledAt: r.ScheduledAt, Status: ReminderScheduled, CreatedAt: now,
		})
	}

	s.interactions = nil
	s.nextInteractionID = 0
	for _, in := range data.Interactions {
		s.nextInteractionID++
		s.interactions = append(s.interactions, interactionFrom(s.nextInteractionID, in, now))
	}

	s.events = append([]AnalyticsEvent(nil), data.Events...)
	s.nextEventID = int64(len(s.events))
	s.tools = nil
}

// SetOffline makes every operation fail with ErrUnavailable while set.
func (s *MemoryStore) SetOffline(offline bool) {
	s.offline.Store(offline)
}

func (s *MemoryStore) check(op string) error {
	if s.offline.Load() {
		return unavailable(op, errOffline)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(context.Context) error {
	return s.check("ping memory store")
}

func (s *MemoryStore) ListFacilities(_ context.Context, district, subDistrict string, limit int) ([]facilities.Facility, error) {
	if err := s.check("list facilities"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []facilities.Facility{}
	for _, f := range s.facilities {
		if limit > 0 && len(out) >= limit {
			break
		}
		if district != "" && f.District != district {
			continue
		}
		if subDistrict != "" && f.SubDistrict != subDistrict {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *MemoryStore) ListPrograms(context.Context) ([]eligibility.Program, error) {
	if err := s.check("list programs"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]eligibility.Program{}, s.programs...), nil
}

func (s *MemoryStore) ReplacePatientEligibility(_ context.Context, patientID int64, records []eligibility.Record) error {
	if err := s.check("replace eligibility"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[patientID]; !ok {
		return notFound("patient", patientID)
	}

	now := s.now()
	replaced := make([]ProgramEligibility, len(records))
	for i, r := range records {
		r.PatientID = patientID
		replaced[i] = ProgramEligibility{Record: r, CreatedAt: now}
	}
	s.eligibility[patientID] = replaced
	return nil
}

func (s *MemoryStore) GetPatientProfile(_ context.Context, id int64) (*PatientProfile, error) {
	if err := s.check("get patient"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, notFound("patient", id)
	}

	profile := &PatientProfile{Patient: p, Reminders: s.remindersLocked(&id), Programs: []ProgramEligibility{}}
	for _, pe := range s.eligibility[id] {
		for _, prog := range s.programs {
			if prog.ID == pe.ProgramID {
				pe.Program = prog
				break
			}
		}
		profile.Programs = append(profile.Programs, pe)
	}
	sort.SliceStable(profile.Programs, func(i, j int) bool {
		return profile.Programs[i].ProgramID < profile.Programs[j].ProgramID
	})
	return profile, nil
}

func (s *MemoryStore) ListPatients(_ context.Context, limit int) ([]Patient, error) {
	if err := s.check("list patients"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > PatientListLimit {
		limit = PatientListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateReminder(_ context.Context, r NewReminder) (*Reminder, error) {
	if err := s.check("create reminder"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[r.PatientID]; !ok {
		return nil, notFound("patient", r.PatientID)
	}
	s.nextReminderID++
	created := Reminder{
		ID:          s.nextReminderID,
		PatientID:   r.PatientID,
		Type:        r.Type,
		Message:     r.Message,
		ScheduledAt: r.ScheduledAt,
		Status:      ReminderScheduled,
		CreatedAt:   s.now(),
	}
	s.reminders = append(s.reminders, created)
	return &created, nil
}

func (s *MemoryStore) ListReminders(_ context.Context, patientID *int64) ([]Reminder, error) {
	if err := s.check("list reminders"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.remindersLocked(patientID), nil
}

func (s *MemoryStore) remindersLocked(patientID *int64) []Reminder {
	out := []Reminder{}
	for _, r := range s.reminders {
		if patientID == nil || r.PatientID == *patientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) UpdateReminderStatus(_ context.Context, id int64, status ReminderStatus) (*Reminder, error) {
	if err := s.check("update reminder"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reminders {
		if s.reminders[i].ID == id {
			s.reminders[i].Status = status
			updated := s.reminders[i]
			return &updated, nil
		}
	}
	return nil, notFound("reminder", id)
}

func (s *MemoryStore) CreateInteraction(_ context.Context, in NewInteraction) (*Interaction, error) {
	if err := s.check("create interaction"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.PatientID != nil {
		if _, ok := s.patients[*in.PatientID]; !ok {
			return nil, notFound("patient", *in.PatientID)
		}
	}
	s.nextInteractionID++
	created := interactionFrom(s.nextInteractionID, in, s.now())
	s.interactions = append(s.interactions, created)
	return &created, nil
}

func (s *MemoryStore) InteractionStats(context.Context) (InteractionStats, error) {
	if err := s.check("count interactions"); err != nil {
		return InteractionStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := InteractionStats{Total: int64(len(s.interactions)), ByTriageLevel: map[string]int64{}}
	for _, in := range s.interactions {
		level := UnknownTriageLevel
		if in.TriageLevel != nil {
			level = *in.TriageLevel
		}
		stats.ByTriageLevel[level]++
	}
	return stats, nil
}

func (s *MemoryStore) AppendToolInvocation(_ context.Context, rec ToolInvocation) error {
	if err := s.check("append tool invocation"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, rec)
	return nil
}

func (s *MemoryStore) ListToolInvocations(_ context.Context, limit int) ([]ToolInvocation, error) {
	if err := s.check("list tool invocations"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ToolInvocation, 0, len(s.tools))
	for i := len(s.tools) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.tools[i])
	}
	return out, nil
}

func (s *MemoryStore) AppendAnalyticsEvent(_ context.Context, eventType string, payload json.RawMessage) (*AnalyticsEvent, error) {
	if err := s.check("append analytics event"); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	ev := AnalyticsEvent{ID: s.nextEventID, EventType: strings.TrimSpace(eventType), Payload: payload, CreatedAt: s.now()}
	s.events = append(s.events, ev)
	return &ev, nil
}

func (s *MemoryStore) ListRecentAnalyticsEvents(_ context.Context, limit int) ([]AnalyticsEvent, error) {
	if err := s.check("list analytics events"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AnalyticsEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.events[i])
	}
	return out, nil
}

func interactionFrom(id int64, in NewInteraction, at time.Time) Interaction {
	return Interaction{
		ID:            id,
		UserID:        in.UserID,
		PatientID:     in.PatientID,
		AgentName:     in.AgentName,
		InputSummary:  in.InputSummary,
		OutputSummary: in.OutputSummary,
		TriageLevel:   in.TriageLevel,
		CreatedAt:     at,
	}
}
