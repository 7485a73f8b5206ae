package eligibility

import (
	"context"
	"fmt"
	"strings"
)

// Evaluator produces verdicts for a fixed program catalogue.
type Evaluator struct {
	programs []Program
	engine   *Engine
}

// NewEvaluator validates and compiles programs into an Evaluator.
func NewEvaluator(programs []Program) (*Evaluator, error) {
	snap, err := compile(programs)
	if err != nil {
		return nil, err
	}
	return &Evaluator{programs: snap.programs, engine: snap.engine}, nil
}

// Evaluate returns exactly one verdict per program, in catalogue order.
// Identical input yields identical verdicts.
func (e *Evaluator) Evaluate(pc PatientContext) []Verdict {
	verdicts := make([]Verdict, 0, len(e.programs))
	for _, p := range e.programs {
		eligible, err := e.engine.Eligible(p.ID, pc)
		if err != nil {
			eligible = false
		}
		verdicts = append(verdicts, Verdict{
			ProgramID:       p.ID,
			Name:            p.Name,
			LikelyEligible:  eligible,
			Reason:          reasonTrail(p.Rule, pc),
			MockApplication: DefaultApplication,
		})
	}
	return verdicts
}

// reasonTrail builds the clause list in its fixed order: age, gender, card,
// district. Consumers parse this order.
func reasonTrail(r Rule, pc PatientContext) string {
	meets := "does not meet"
	if pc.Age >= r.MinAge {
		meets = "meets"
	}
	parts := []string{fmt.Sprintf("Age %d %s minimum %d", pc.Age, meets, r.MinAge)}

	if r.Gender != GenderAny {
		parts = append(parts, fmt.Sprintf("Target gender: %s", r.Gender))
	}
	if r.RequiresCard {
		card := "missing (placeholder CNIC allowed)"
		if pc.hasCard() {
			card = "provided"
		}
		parts = append(parts, "Sehat Card required: "+card)
	}
	if pc.District != "" {
		parts = append(parts, "District provided: "+pc.District)
	}
	return strings.Join(parts, "; ")
}

// RecordWriter replaces the stored evaluations of a patient.
type RecordWriter interface {
	ReplacePatientEligibility(ctx context.Context, patientID int64, records []Record) error
}

// Service evaluates eligibility and persists results for known patients.
type Service struct {
	catalog *Catalog
	writer  RecordWriter
}

// NewService creates an eligibility service.
func NewService(catalog *Catalog, writer RecordWriter) *Service {
	return &Service{catalog: catalog, writer: writer}
}

// Check evaluates pc against the catalogue. When pc carries a patient ID the
// patient's stored evaluations are replaced by this run.
func (s *Service) Check(ctx context.Context, pc PatientContext) ([]Verdict, error) {
	evaluator, err := s.catalog.Evaluator(ctx)
	if err != nil {
		return nil, err
	}

	verdicts := evaluator.Evaluate(pc)

	if pc.PatientID != nil {
		if err := s.writer.ReplacePatientEligibility(ctx, *pc.PatientID, ToRecords(*pc.PatientID, pc, verdicts)); err != nil {
			return nil, fmt.Errorf("failed to persist eligibility for patient %d: %w", *pc.PatientID, err)
		}
	}

	return verdicts, nil
}

// ToRecords converts verdicts into persisted records for patientID.
func ToRecords(patientID int64, pc PatientContext, verdicts []Verdict) []Record {
	records := make([]Record, len(verdicts))
	for i, v := range verdicts {
		status := StatusIneligible
		if v.LikelyEligible {
			status = StatusEligible
		}
		records[i] = Record{
			PatientID: patientID,
			ProgramID: v.ProgramID,
			Status:    status,
			Details: RecordDetails{
				Reason:        v.Reason,
				IncomeBracket: pc.IncomeBracket,
				HasCard:       pc.HasCard,
			},
		}
	}
	return records
}
