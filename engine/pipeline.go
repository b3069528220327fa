package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrRunInProgress is returned by Run when another run holds the pipeline.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// RunReport summarizes one pipeline run.
type RunReport struct {
	StartedAt   time.Time
	Duration    time.Duration
	Blackboard  Blackboard
	Reflections map[string]Reflection
	Completed   []string
	Halted      bool
	HaltedAt    string
}

// Pipeline drives registered units through their decision cycles in a fixed
// order, merging each unit's updates into a shared blackboard. At most one
// run executes at a time.
type Pipeline struct {
	order []string
	units map[string]Unit

	mu sync.Mutex
}

// NewPipeline creates a pipeline that runs units in the given order. Names
// without a registered unit are tolerated at run time.
func NewPipeline(order []string) *Pipeline {
	return &Pipeline{
		order: append([]string{}, order...),
		units: map[string]Unit{},
	}
}

// Register binds a unit to a pipeline stage name.
func (p *Pipeline) Register(name string, unit Unit) {
	p.units[name] = unit
}

// Order returns a copy of the configured stage order.
func (p *Pipeline) Order() []string {
	return append([]string{}, p.order...)
}

// Run executes one full pipeline pass over a fresh blackboard seeded from
// initial. A unit whose cycle fails halts all remaining stages; a unit that
// merely skips its action does not. Returns ErrRunInProgress when another
// run is active.
func (p *Pipeline) Run(ctx context.Context, initial Blackboard) (*RunReport, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	started := time.Now()
	bb := Blackboard{}
	for key, value := range initial {
		bb[key] = value
	}

	report := &RunReport{
		StartedAt:   started,
		Blackboard:  bb,
		Reflections: map[string]Reflection{},
	}

	for _, name := range p.order {
		if err := ctx.Err(); err != nil {
			slog.Warn("pipeline run canceled", "stage", name)
			report.Halted = true
			report.HaltedAt = name
			break
		}

		unit, ok := p.units[name]
		if !ok {
			slog.Warn("pipeline stage has no registered unit, skipping", "stage", name)
			continue
		}

		reflection := RunCycle(ctx, name, unit, bb)
		report.Reflections[name] = reflection

		if reflection.Failed() {
			slog.Error("pipeline stage failed, halting remaining stages",
				"stage", name, "error", reflection.Result.Err)
			report.Halted = true
			report.HaltedAt = name
			break
		}

		// Later stages win on key conflicts.
		for key, value := range reflection.Action.Updates {
			bb[key] = value
		}
		report.Completed = append(report.Completed, name)
	}

	report.Duration = time.Since(started)
	slog.Info("pipeline run finished",
		"stages_completed", len(report.Completed),
		"halted", report.Halted,
		"duration", report.Duration)
	return report, nil
}
