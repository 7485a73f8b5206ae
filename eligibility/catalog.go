package eligibility

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ProgramSource reads the program catalogue in catalogue order.
type ProgramSource interface {
	ListPrograms(ctx context.Context) ([]Program, error)
}

// compiledCatalog is an immutable snapshot of validated, compiled programs.
type compiledCatalog struct {
	programs []Program
	engine   *Engine
}

// Catalog owns the compiled program set. Reload builds a new snapshot and
// swaps it in atomically, so in-flight evaluations keep the old one.
type Catalog struct {
	source  ProgramSource
	current atomic.Pointer[compiledCatalog]
}

// NewCatalog creates an empty catalog backed by source.
func NewCatalog(source ProgramSource) *Catalog {
	return &Catalog{source: source}
}

// Reload fetches, validates and compiles all programs. On error the previous
// snapshot stays active.
func (c *Catalog) Reload(ctx context.Context) (int, error) {
	programs, err := c.source.ListPrograms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load programs: %w", err)
	}

	snapshot, err := compile(programs)
	if err != nil {
		return 0, err
	}
	c.current.Store(snapshot)
	return len(programs), nil
}

// Loaded reports whether a snapshot has been installed.
func (c *Catalog) Loaded() bool {
	return c.current.Load() != nil
}

// Programs returns the active catalogue, or nil before the first load.
func (c *Catalog) Programs() []Program {
	snap := c.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]Program, len(snap.programs))
	copy(out, snap.programs)
	return out
}

// Evaluator returns an evaluator bound to the active snapshot, loading the
// catalogue first if it has never been loaded.
func (c *Catalog) Evaluator(ctx context.Context) (*Evaluator, error) {
	if !c.Loaded() {
		if _, err := c.Reload(ctx); err != nil {
			return nil, err
		}
	}
	snap := c.current.Load()
	return &Evaluator{programs: snap.programs, engine: snap.engine}, nil
}

func compile(programs []Program) (*compiledCatalog, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(programs))
	for _, p := range programs {
		if err := ValidateProgram(p); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate program ID %d", p.ID)
		}
		seen[p.ID] = true

		if err := engine.Compile(p); err != nil {
			return nil, err
		}
	}

	owned := make([]Program, len(programs))
	copy(owned, programs)
	return &compiledCatalog{programs: owned, engine: engine}, nil
}
