package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/connectedhealth/careengine/eligibility"
	"github.com/connectedhealth/careengine/facilities"
	"github.com/connectedhealth/careengine/geo"
	"github.com/connectedhealth/careengine/internal/logger"
)

// pqForeignKeyViolation is the SQLSTATE raised when a referenced row is missing.
const pqForeignKeyViolation = "23503"

const (
	listFacilitiesQuery = `
		SELECT id, name, type, district, tehsil, lat, lng, services, opening_hours, contact
		FROM facilities
		WHERE ($1 = '' OR district = $1) AND ($2 = '' OR tehsil = $2)
		ORDER BY id
		LIMIT $3`

	listInventoryQuery = `
		SELECT facility_id, item_name, item_type, stock_level, last_updated
		FROM facility_inventory
		WHERE facility_id = ANY($1)
		ORDER BY facility_id, id`

	listProgramsQuery = `
		SELECT id, name, description, eligibility_rules
		FROM programs
		ORDER BY id`

	deleteEligibilityQuery = `DELETE FROM patient_program_eligibility WHERE patient_id = $1`

	insertEligibilityQuery = `
		INSERT INTO patient_program_eligibility (patient_id, program_id, status, details)
		VALUES ($1, $2, $3, $4)`

	getPatientQuery = `
		SELECT id, full_name, age, gender, pregnancy_status, address, lat, lng
		FROM patients
		WHERE id = $1`

	listPatientsQuery = `
		SELECT id, full_name, age, gender, pregnancy_status, address, lat, lng
		FROM patients
		ORDER BY id
		LIMIT $1`

	patientEligibilityQuery = `
		SELECT e.patient_id, e.program_id, e.status, e.details, e.created_at,
		       p.name, p.description, p.eligibility_rules
		FROM patient_program_eligibility e
		JOIN programs p ON p.id = e.program_id
		WHERE e.patient_id = $1
		ORDER BY e.program_id`

	insertReminderQuery = `
		INSERT INTO reminders (patient_id, type, message, scheduled_at, status)
		VALUES ($1, $2, $3, $4, 'scheduled')
		RETURNING id, status, created_at`

	listRemindersQuery = `
		SELECT id, patient_id, type, message, scheduled_at, status, created_at
		FROM reminders
		WHERE ($1::bigint IS NULL OR patient_id = $1)
		ORDER BY scheduled_at, id`

	updateReminderStatusQuery = `
		UPDATE reminders SET status = $1
		WHERE id = $2
		RETURNING id, patient_id, type, message, scheduled_at, status, created_at`

	insertInteractionQuery = `
		INSERT INTO interactions (user_id, patient_id, agent_name, input_summary, output_summary, triage_level)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	interactionStatsQuery = `
		SELECT COALESCE(triage_level, 'unknown'), COUNT(*)
		FROM interactions
		GROUP BY 1`

	insertToolInvocationQuery = `
		INSERT INTO tool_invocations (id, tool_name, input, output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listToolInvocationsQuery = `
		SELECT id, tool_name, input, output, error, created_at
		FROM tool_invocations
		ORDER BY created_at DESC
		LIMIT $1`

	insertAnalyticsEventQuery = `
		INSERT INTO analytics_events (event_type, payload)
		VALUES ($1, $2)
		RETURNING id, created_at`

	listAnalyticsEventsQuery = `
		SELECT id, event_type, payload, created_at
		FROM analytics_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
)

// PostgresStore implements Store on PostgreSQL through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a lib/pq connection pool.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping database", err)
	}
	return nil
}

func (s *PostgresStore) ListFacilities(ctx context.Context, district, subDistrict string, limit int) ([]facilities.Facility, error) {
	rows, err := s.db.QueryContext(ctx, listFacilitiesQuery, district, subDistrict, limit)
	if err != nil {
		return nil, unavailable("list facilities", err)
	}
	defer rows.Close()

	var list []facilities.Facility
	var ids []int64
	for rows.Next() {
		var (
			f        facilities.Facility
			lat, lng sql.NullFloat64
			services pq.StringArray
			hours    []byte
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Category, &f.District, &f.SubDistrict,
			&lat, &lng, &services, &hours, &f.Contact); err != nil {
			return nil, unavailable("scan facility", err)
		}
		f.Location = coordinate(lat, lng)
		f.Services = []string(services)
		if len(hours) > 0 {
			if err := json.Unmarshal(hours, &f.OpeningHours); err != nil {
				logger.Warn("skipping facility with malformed opening hours", "facility_id", f.ID, "error", err)
				continue
			}
		}
		list = append(list, f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate facilities", err)
	}
	if len(list) == 0 {
		return []facilities.Facility{}, nil
	}

	if err := s.attachInventory(ctx, list, ids); err != nil {
		return nil, err
	}

	valid := list[:0]
	for _, f := range list {
		if err := facilities.Validate(f); err != nil {
			logger.Warn("skipping malformed facility", "facility_id", f.ID, "error", err)
			continue
		}
		valid = append(valid, f)
	}
	return valid, nil
}

func (s *PostgresStore) attachInventory(ctx context.Context, list []facilities.Facility, ids []int64) error {
	rows, err := s.db.QueryContext(ctx, listInventoryQuery, pq.Array(ids))
	if err != nil {
		return unavailable("list inventory", err)
	}
	defer rows.Close()

	index := make(map[int64]int, len(list))
	for i, f := range list {
		index[f.ID] = i
	}

	for rows.Next() {
		var (
			facilityID int64
			item       facilities.InventoryItem
			level      string
		)
		if err := rows.Scan(&facilityID, &item.Name, &item.Category, &level, &item.LastUpdated); err != nil {
			return unavailable("scan inventory", err)
		}
		parsed, err := facilities.ParseStockLevel(level)
		if err != nil {
			logger.Warn("skipping inventory item", "facility_id", facilityID, "item", item.Name, "error", err)
			continue
		}
		item.StockLevel = parsed
		if i, ok := index[facilityID]; ok {
			list[i].Inventory = append(list[i].Inventory, item)
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("iterate inventory", err)
	}
	return nil
}

func (s *PostgresStore) ListPrograms(ctx context.Context) ([]eligibility.Program, error) {
	rows, err := s.db.QueryContext(ctx, listProgramsQuery)
	if err != nil {
		return nil, unavailable("list programs", err)
	}
	defer rows.Close()

	programs := []eligibility.Program{}
	for rows.Next() {
		var (
			p     eligibility.Program
			rules []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &rules); err != nil {
			return nil, unavailable("scan program", err)
		}
		rule, err := eligibility.DecodeRule(rules)
		if err != nil {
			return nil, fmt.Errorf("program %d (%s): %w", p.ID, p.Name, err)
		}
		p.Rule = rule
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate programs", err)
	}
	return programs, nil
}

func (s *PostgresStore) ReplacePatientEligibility(ctx context.Context, patientID int64, records []eligibility.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteEligibilityQuery, patientID); err != nil {
		return unavailable("delete eligibility", err)
	}

	for _, r := range records {
		details, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("failed to encode eligibility details: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertEligibilityQuery, patientID, r.ProgramID, string(r.Status), string(details)); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("eligibility for patient %d program %d: %w", patientID, r.ProgramID, ErrNotFound)
			}
			return unavailable("insert eligibility", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit eligibility", err)
	}
	return nil
}

func (s *PostgresStore) GetPatientProfile(ctx context.Context, id int64) (*PatientProfile, error) {
	patient, err := scanPatient(s.db.QueryRowContext(ctx, getPatientQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("patient", id)
	}
	if err != nil {
		return nil, unavailable("get patient", err)
	}

	profile := &PatientProfile{Patient: *patient}

	profile.Reminders, err = s.ListReminders(ctx, &id)
	if err != nil {
		return nil, err
	}

	profile.Programs, err = s.patientEligibility(ctx, id)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *PostgresStore) patientEligibility(ctx context.Context, patientID int64) ([]ProgramEligibility, error) {
	rows, err := s.db.QueryContext(ctx, patientEligibilityQuery, patientID)
	if err != nil {
		return nil, unavailable("list patient eligibility", err)
	}
	defer rows.Close()

	out := []ProgramEligibility{}
	for rows.Next() {
		var (
			pe             ProgramEligibility
			details, rules []byte
		)
		if err := rows.Scan(&pe.PatientID, &pe.ProgramID, &pe.Status, &details, &pe.CreatedAt,
			&pe.Program.Name, &pe.Program.Description, &rules); err != nil {
			return nil, unavailable("scan patient eligibility", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &pe.Details); err != nil {
				return nil, fmt.Errorf("malformed eligibility details for program %d: %w", pe.ProgramID, err)
			}
		}
		rule, err := eligibility.DecodeRule(rules)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", pe.ProgramID, err)
		}
		pe.Program.ID = pe.ProgramID
		pe.Program.Rule = rule
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate patient eligibility", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPatients(ctx context.Context, limit int) ([]Patient, error) {
	if limit <= 0 || limit > PatientListLimit {
		limit = PatientListLimit
	}
	rows, err := s.db.QueryContext(ctx, listPatientsQuery, limit)
	if err != nil {
		return nil, unavailable("list patients", err)
	}
	defer rows.Close()

	patients := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, unavailable("scan patient", err)
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate patients", err)
	}
	return patients, nil
}

func (s *PostgresStore) CreateReminder(ctx context.Context, r NewReminder) (*Reminder, error) {
	created := Reminder{
		PatientID:   r.PatientID,
		Type:        r.Type,
		Message:     r.Message,
		ScheduledAt: r.ScheduledAt,
	}
	err := s.db.QueryRowContext(ctx, insertReminderQuery, r.PatientID, string(r.Type), r.Message, r.ScheduledAt).
		Scan(&created.ID, &created.Status, &created.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, notFound("patient", r.PatientID)
		}
		return nil, unavailable("create reminder", err)
	}
	return &created, nil
}

func (s *PostgresStore) ListReminders(ctx context.Context, patientID *int64) ([]Reminder, error) {
	var filter sql.NullInt64
	if patientID != nil {
		filter = sql.NullInt64{Int64: *patientID, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, listRemindersQuery, filter)
	if err != nil {
		return nil, unavailable("list reminders", err)
	}
	defer rows.Close()

	reminders := []Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, unavailable("scan reminder", err)
		}
		reminders = append(reminders, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate reminders", err)
	}
	return reminders, nil
}

func (s *PostgresStore) UpdateReminderStatus(ctx context.Context, id int64, status ReminderStatus) (*Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx, updateReminderStatusQuery, string(status), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reminder", id)
	}
	if err != nil {
		return nil, unavailable("update reminder", err)
	}
	return r, nil
}

func (s *PostgresStore) CreateInteraction(ctx context.Context, in NewInteraction) (*Interaction, error) {
	created := Interaction{
		UserID:        in.UserID,
		PatientID:     in.PatientID,
		AgentName:     in.AgentName,
		InputSummary:  in.InputSummary,
		OutputSummary: in.OutputSummary,
		TriageLevel:   in.TriageLevel,
	}
	err := s.db.QueryRowContext(ctx, insertInteractionQuery,
		nullInt(in.UserID), nullInt(in.PatientID), in.AgentName, in.InputSummary, in.OutputSummary, nullString(in.TriageLevel)).
		Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) && in.PatientID != nil {
			return nil, notFound("patient", *in.PatientID)
		}
		return nil, unavailable("create interaction", err)
	}
	return &created, nil
}

func (s *PostgresStore) InteractionStats(ctx context.Context) (InteractionStats, error) {
	rows, err := s.db.QueryContext(ctx, interactionStatsQuery)
	if err != nil {
		return InteractionStats{}, unavailable("count interactions", err)
	}
	defer rows.Close()

	stats := InteractionStats{ByTriageLevel: map[string]int64{}}
	for rows.Next() {
		var (
			level string
			count int64
		)
		if err := rows.Scan(&level, &count); err != nil {
			return InteractionStats{}, unavailable("scan interaction count", err)
		}
		stats.ByTriageLevel[level] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return InteractionStats{}, unavailable("iterate interaction counts", err)
	}
	return stats, nil
}

func (s *PostgresStore) AppendToolInvocation(ctx context.Context, rec ToolInvocation) error {
	var output any
	if len(rec.Output) > 0 {
		output = string(rec.Output)
	}
	_, err := s.db.ExecContext(ctx, insertToolInvocationQuery,
		rec.ID, rec.ToolName, string(rec.Input), output, nullString(rec.Error), rec.CreatedAt)
	if err != nil {
		return unavailable("append tool invocation", err)
	}
	return nil
}

func (s *PostgresStore) ListToolInvocations(ctx context.Context, limit int) ([]ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx, listToolInvocationsQuery, limit)
	if err != nil {
		return nil, unavailable("list tool invocations", err)
	}
	defer rows.Close()

	records := []ToolInvocation{}
	for rows.Next() {
		var (
			rec           ToolInvocation
			input, output []byte
			errMsg        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ToolName, &input, &output, &errMsg, &rec.CreatedAt); err != nil {
			return nil, unavailable("scan tool invocation", err)
		}
		rec.Input = json.RawMessage(input)
		if len(output) > 0 {
			rec.Output = json.RawMessage(output)
		}
		if errMsg.Valid {
			rec.Error = &errMsg.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate tool invocations", err)
	}
	return records, nil
}

func (s *PostgresStore) AppendAnalyticsEvent(ctx context.Context, eventType string, payload json.RawMessage) (*AnalyticsEvent, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	ev := AnalyticsEvent{EventType: eventType, Payload: payload}
	err := s.db.QueryRowContext(ctx, insertAnalyticsEventQuery, eventType, string(payload)).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, unavailable("append analytics event", err)
	}
	return &ev, nil
}

func (s *PostgresStore) ListRecentAnalyticsEvents(ctx context.Context, limit int) ([]AnalyticsEvent, error) {
	rows, err := s.db.QueryContext(ctx, listAnalyticsEventsQuery, limit)
	if err != nil {
		return nil, unavailable("list analytics events", err)
	}
	defer rows.Close()

	events := []AnalyticsEvent{}
	for rows.Next() {
		var (
			ev      AnalyticsEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, unavailable("scan analytics event", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate analytics events", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*Patient, error) {
	var (
		p         Patient
		pregnancy sql.NullString
		lat, lng  sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.FullName, &p.Age, &p.Gender, &pregnancy, &p.Address, &lat, &lng); err != nil {
		return nil, err
	}
	if pregnancy.Valid {
		p.PregnancyStatus = &pregnancy.String
	}
	p.Location = coordinate(lat, lng)
	return &p, nil
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	if err := row.Scan(&r.ID, &r.PatientID, &r.Type, &r.Message, &r.ScheduledAt, &r.Status, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func coordinate(lat, lng sql.NullFloat64) *geo.Coordinate {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
