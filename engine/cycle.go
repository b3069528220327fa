// Package engine implements the decision cycle contract and the sequential
// pipeline driver that threads shared state through an ordered list of units.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Blackboard is the flat key/value context shared by the units of one
// pipeline run. It is exclusively owned by a single run and never aliased
// across concurrent runs.
type Blackboard map[string]any

// IntentSkip marks an intent whose action phase must be a no-op.
const IntentSkip = "skip"

// ConsiderationSkip is the thought consideration key that requests skipping.
const ConsiderationSkip = "skip"

// Observation is the first phase record of a cycle.
type Observation struct {
	Timestamp time.Time
	Context   Blackboard
	Data      map[string]any
}

// Thought analyzes an observation. Considerations may carry the skip flag,
// which does not shortcut the state machine; downstream phases no-op instead.
type Thought struct {
	Timestamp      time.Time
	Observation    Observation
	Analysis       string
	Considerations map[string]any
}

// Skip reports whether the thought requested skipping the action.
func (t Thought) Skip() bool {
	skip, _ := t.Considerations[ConsiderationSkip].(bool)
	return skip
}

// Intent is the decision a cycle forms. Confidence is clamped to [0,1].
type Intent struct {
	Timestamp  time.Time
	Type       string
	Parameters map[string]any
	Confidence float64
}

// Action is the committed (or skipped) side effect of a cycle. Updates holds
// the partial blackboard update the pipeline driver merges after the cycle.
type Action struct {
	Timestamp time.Time
	Intent    Intent
	ID        string
	Executed  bool
	Updates   Blackboard
}

// Result pairs an action with its outcome.
type Result struct {
	Timestamp time.Time
	Action    Action
	Success   bool
	Err       string
}

// Reflection is the terminal phase record; every cycle ends in one, even on
// failure.
type Reflection struct {
	Timestamp   time.Time
	Action      Action
	Result      Result
	Learnings   string
	ShouldRetry bool
}

// Failed reports whether the cycle ended in a phase failure. A skipped action
// is not a failure.
func (r Reflection) Failed() bool {
	return r.Result.Err != ""
}

// Unit is the five-phase decision cycle contract every pipeline unit
// implements. Phases run strictly sequentially with no skipping; the skip
// flag only turns downstream phases into no-ops.
type Unit interface {
	// Observe must not fail in practice: on missing upstream data it should
	// return an observation with empty fields. A returned error is still
	// contained by the cycle driver.
	Observe(ctx context.Context, bb Blackboard) (Observation, error)
	Think(ctx context.Context, obs Observation) (Thought, error)
	FormIntent(ctx context.Context, thought Thought) (Intent, error)
	Act(ctx context.Context, intent Intent) (Action, error)
	Reflect(ctx context.Context, action Action, result Result) (Reflection, error)
}

// RunCycle executes one full decision cycle of the unit against the
// blackboard. It never returns an error and never panics: any phase error or
// panic is converted into a failed result and a reflection with
// ShouldRetry=false.
func RunCycle(ctx context.Context, name string, unit Unit, bb Blackboard) (reflection Reflection) {
	cycleID := shortuuid.New()
	logger := slog.With("unit", name, "cycle_id", cycleID)
	logger.Debug("starting decision cycle")

	var action Action
	defer func() {
		if r := recover(); r != nil {
			logger.Error("decision cycle panicked", "panic", r)
			reflection = failedReflection(action, fmt.Sprintf("panic: %v", r))
		}
	}()

	observation, err := unit.Observe(ctx, bb)
	if err != nil {
		logger.Error("observe phase failed", "error", err)
		return failedReflection(action, err.Error())
	}

	thought, err := unit.Think(ctx, observation)
	if err != nil {
		logger.Error("think phase failed", "error", err)
		return failedReflection(action, err.Error())
	}

	intent, err := unit.FormIntent(ctx, thought)
	if err != nil {
		logger.Error("form intent phase failed", "error", err)
		return failedReflection(action, err.Error())
	}
	intent.Confidence = clamp01(intent.Confidence)
	logger.Debug("intent formed", "type", intent.Type, "confidence", intent.Confidence)

	action, err = unit.Act(ctx, intent)
	if err != nil {
		logger.Error("act phase failed", "error", err)
		return failedReflection(action, err.Error())
	}
	if action.ID == "" {
		action.ID = cycleID
	}

	result := Result{
		Timestamp: time.Now(),
		Action:    action,
		Success:   action.Executed,
	}

	reflection, err = unit.Reflect(ctx, action, result)
	if err != nil {
		logger.Error("reflect phase failed", "error", err)
		return failedReflection(action, err.Error())
	}
	logger.Debug("decision cycle completed", "executed", action.Executed)

	return reflection
}

// failedReflection builds the synthetic terminal reflection for a failed
// cycle. Retry is advisory only and never requested for failures the driver
// itself absorbed.
func failedReflection(action Action, errMsg string) Reflection {
	now := time.Now()
	result := Result{
		Timestamp: now,
		Action:    action,
		Success:   false,
		Err:       errMsg,
	}
	return Reflection{
		Timestamp:   now,
		Action:      action,
		Result:      result,
		Learnings:   "cycle failed: " + errMsg,
		ShouldRetry: false,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
