package eligibility

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
)

// costLimit bounds evaluation cost of a compiled rule program.
const costLimit = 10000

// Expression renders the rule as a CEL expression over the `patient` variable.
// Gender values in the activation are lower-cased before evaluation.
func (r Rule) Expression() string {
	clauses := []string{fmt.Sprintf("patient.age >= %d", r.MinAge)}
	if r.Gender != GenderAny {
		clauses = append(clauses, "patient.gender == "+strconv.Quote(string(r.Gender)))
	}
	if r.RequiresCard {
		clauses = append(clauses, "patient.hasCard")
	}
	return strings.Join(clauses, " && ")
}

// Engine holds one compiled CEL program per catalogue entry.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	env      *cel.Env
	programs map[int64]cel.Program
}

// NewEngine creates an engine with an environment declaring `patient`.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("patient", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env, programs: make(map[int64]cel.Program)}, nil
}

// Compile compiles the rule of a program and stores it under the program ID.
func (en *Engine) Compile(p Program) error {
	ast, issues := en.env.Compile(p.Rule.Expression())
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error for program %q: %w", p.Name, issues.Err())
	}

	prog, err := en.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return fmt.Errorf("program creation error for %q: %w", p.Name, err)
	}
	en.programs[p.ID] = prog
	return nil
}

// Eligible evaluates the compiled rule for programID against the patient.
func (en *Engine) Eligible(programID int64, pc PatientContext) (bool, error) {
	prog, ok := en.programs[programID]
	if !ok {
		return false, fmt.Errorf("program %d is not compiled", programID)
	}

	out, _, err := prog.Eval(map[string]any{
		"patient": map[string]any{
			"age":     int64(pc.Age),
			"gender":  strings.ToLower(pc.Gender),
			"hasCard": pc.hasCard(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error for program %d: %w", programID, err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}
