package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
)

// SeedFile is the YAML document used to populate a fresh store.
type SeedFile struct {
	// DefaultInventory is attached to facilities that list no inventory.
	DefaultInventory []facilities.InventoryItem `yaml:"defaultInventory"`
	Facilities       []facilities.Facility      `yaml:"facilities"`
	Programs         []eligibility.Program      `yaml:"programs"`
	Patients         []Patient                  `yaml:"patients"`
	// EligibilityPatients is how many leading patients get an initial
	// evaluation against every program.
	EligibilityPatients int                `yaml:"eligibilityPatients"`
	ReminderTemplates   []ReminderTemplate `yaml:"reminderTemplates"`
	// ReminderPatients is how many leading patients get the templates.
	ReminderPatients int              `yaml:"reminderPatients"`
	Interactions     []NewInteraction `yaml:"interactions"`
	AnalyticsEvents  []SeedEvent      `yaml:"analyticsEvents"`
}

// ReminderTemplate expands into one reminder per seeded patient.
type ReminderTemplate struct {
	Type        ReminderType `yaml:"type"`
	Message     string       `yaml:"message"`
	DaysFromNow int          `yaml:"daysFromNow"`
}

// SeedEvent is an analytics event with a free-form payload.
type SeedEvent struct {
	EventType string         `yaml:"eventType"`
	Payload   map[string]any `yaml:"payload"`
}

// SeedData is a SeedFile expanded into concrete records. IDs are assigned
// sequentially from 1 in document order.
type SeedData struct {
	Facilities   []facilities.Facility
	Programs     []eligibility.Program
	Patients     []Patient
	Eligibility  []eligibility.Record
	Reminders    []NewReminder
	Interactions []NewInteraction
	Events       []AnalyticsEvent
}

// LoadSeedFile reads and expands a YAML seed file.
func LoadSeedFile(path string, now time.Time) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return sf.Expand(now)
}

// Expand validates the seed file and builds concrete records relative to now.
func (sf SeedFile) Expand(now time.Time) (*SeedData, error) {
	data := &SeedData{}

	for i, f := range sf.Facilities {
		f.ID = int64(i + 1)
		if len(f.Inventory) == 0 {
			f.Inventory = make([]facilities.InventoryItem, len(sf.DefaultInventory))
			copy(f.Inventory, sf.DefaultInventory)
		}
		for j := range f.Inventory {
			if f.Inventory[j].LastUpdated.IsZero() {
				f.Inventory[j].LastUpdated = now
			}
		}
		if err := facilities.Validate(f); err != nil {
			return nil, fmt.Errorf("seed facility %d: %w", i, err)
		}
		data.Facilities = append(data.Facilities, f)
	}

	for i, p := range sf.Programs {
		p.ID = int64(i + 1)
		if err := eligibility.ValidateProgram(p); err != nil {
			return nil, fmt.Errorf("seed program %d: %w", i, err)
		}
		data.Programs = append(data.Programs, p)
	}

	for i, p := range sf.Patients {
		p.ID = int64(i + 1)
		if p.Age < 0 {
			return nil, fmt.Errorf("seed patient %q: age must be >= 0", p.FullName)
		}
		data.Patients = append(data.Patients, p)
	}

	for _, patient := range leading(data.Patients, sf.EligibilityPatients) {
		for _, program := range data.Programs {
			status := eligibility.StatusReview
			if patient.Age >= program.Rule.MinAge {
				status = eligibility.StatusEligible
			}
			data.Eligibility = append(data.Eligibility, eligibility.Record{
				PatientID: patient.ID,
				ProgramID: program.ID,
				Status:    status,
			})
		}
	}

	for _, patient := range leading(data.Patients, sf.ReminderPatients) {
		for i, tmpl := range sf.ReminderTemplates {
			if _, err := ParseReminderType(string(tmpl.Type)); err != nil {
				return nil, err
			}
			at := now.Add(time.Duration(tmpl.DaysFromNow)*24*time.Hour + time.Duration(i)*time.Second)
			data.Reminders = append(data.Reminders, NewReminder{
				PatientID:   patient.ID,
				Type:        tmpl.Type,
				Message:     fmt.Sprintf("%s for %s", tmpl.Message, patient.FullName),
				ScheduledAt: at,
			})
		}
	}

	data.Interactions = append(data.Interactions, sf.Interactions...)

	for i, ev := range sf.AnalyticsEvents {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("seed analytics event %d: %w", i, err)
		}
		data.Events = append(data.Events, AnalyticsEvent{
			ID:        int64(i + 1),
			EventType: ev.EventType,
			Payload:   payload,
			CreatedAt: now,
		})
	}

	return data, nil
}

func leading(patients []Patient, n int) []Patient {
	if n > len(patients) {
		n = len(patients)
	}
	if n < 0 {
		n = 0
	}
	return patients[:n]
}
