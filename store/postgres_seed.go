package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const truncateAllQuery = `
	TRUNCATE tool_invocations, analytics_events, reminders, interactions,
	         patient_program_eligibility, programs, facility_inventory, facilities, patients
	RESTART IDENTITY CASCADE`

// Seed replaces all data with data in one transaction. Identities restart,
// so rows receive the IDs assigned by SeedFile.Expand.
func (s *PostgresStore) Seed(ctx context.Context, data *SeedData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin seed transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, truncateAllQuery); err != nil {
		return unavailable("clear existing data", err)
	}

	for _, f := range data.Facilities {
		hours, err := json.Marshal(f.OpeningHours)
		if err != nil {
			return fmt.Errorf("facility %q: %w", f.Name, err)
		}
		var lat, lng any
		if f.Location != nil {
			lat, lng = f.Location.Lat, f.Location.Lng
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facilities (name, type, district, tehsil, lat, lng, services, opening_hours, contact)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			f.Name, string(f.Category), f.District, f.SubDistrict, lat, lng,
			pq.Array(f.Services), string(hours), f.Contact); err != nil {
			return unavailable("seed facility", err)
		}
		for _, item := range f.Inventory {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO facility_inventory (facility_id, item_name, item_type, stock_level, last_updated)
				VALUES ($1, $2, $3, $4, $5)`,
				f.ID, item.Name, item.Category, string(item.StockLevel), item.LastUpdated); err != nil {
				return unavailable("seed inventory", err)
			}
		}
	}

	for _, p := range data.Programs {
		rules, err := json.Marshal(p.Rule)
		if err != nil {
			return fmt.Errorf("program %q: %w", p.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO programs (name, description, eligibility_rules) VALUES ($1, $2, $3)`,
			p.Name, p.Description, string(rules)); err != nil {
			return unavailable("seed program", err)
		}
	}

	for _, p := range data.Patients {
		var lat, lng any
		if p.Location != nil {
			lat, lng = p.Location.Lat, p.Location.Lng
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO patients (full_name, age, gender, pregnancy_status, address, lat, lng)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.FullName, p.Age, p.Gender, nullString(p.PregnancyStatus), p.Address, lat, lng); err != nil {
			return unavailable("seed patient", err)
		}
	}

	for _, r := range data.Eligibility {
		details, _ := json.Marshal(r.Details)
		if _, err := tx.ExecContext(ctx, insertEligibilityQuery,
			r.PatientID, r.ProgramID, string(r.Status), string(details)); err != nil {
			return unavailable("seed eligibility", err)
		}
	}

	for _, r := range data.Reminders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reminders (patient_id, type, message, scheduled_at, status)
			VALUES ($1, $2, $3, $4, 'scheduled')`,
			r.PatientID, string(r.Type), r.Message, r.ScheduledAt); err != nil {
			return unavailable("seed reminder", err)
		}
	}

	for _, in := range data.Interactions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (user_id, patient_id, agent_name, input_summary, output_summary, triage_level)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			nullInt(in.UserID), nullInt(in.PatientID), in.AgentName, in.InputSummary, in.OutputSummary,
			nullString(in.TriageLevel)); err != nil {
			return unavailable("seed interaction", err)
		}
	}

	for _, ev := range data.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_events (event_type, payload) VALUES ($1, $2)`,
			ev.EventType, string(ev.Payload)); err != nil {
			return unavailable("seed analytics event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit seed", err)
	}
	return nil
}
