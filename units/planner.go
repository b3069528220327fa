// Package units provides the built-in pipeline units: topic planning, the
// repetition gate, and the archivist that commits decisions to history.
package units

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/volition/engine"
	"github.com/hrygo/volition/goals"
	"github.com/hrygo/volition/personality"
)

// Blackboard keys written and read by the built-in units.
const (
	KeyTopic        = "topic"
	KeyGoalID       = "goal_id"
	KeyDetailLevel  = "detail_level"
	KeyRiskTaking   = "risk_taking"
	KeyRejected     = "rejected"
	KeyRejectReason = "reject_reason"
)

// Planner picks the topic for this run from the configured goals, styled by
// the current personality.
type Planner struct {
	goals       *goals.Goals
	personality *personality.Manager
}

// NewPlanner creates a planner over the given goals. personality may be nil.
func NewPlanner(g *goals.Goals, p *personality.Manager) *Planner {
	if g == nil {
		g = goals.Default()
	}
	return &Planner{goals: g, personality: p}
}

func (p *Planner) Observe(_ context.Context, bb engine.Blackboard) (engine.Observation, error) {
	data := map[string]any{}
	for i := range p.goals.ContentGoals {
		goal := p.goals.ContentGoals[i]
		if goal.Active {
			data[goal.ID] = goal.Priority
		}
	}
	return engine.Observation{
		Timestamp: time.Now(),
		Context:   bb,
		Data:      data,
	}, nil
}

func (p *Planner) Think(_ context.Context, obs engine.Observation) (engine.Thought, error) {
	var best *goals.ContentGoal
	for i := range p.goals.ContentGoals {
		goal := &p.goals.ContentGoals[i]
		if !goal.Active {
			continue
		}
		if best == nil || goal.Priority > best.Priority {
			best = goal
		}
	}

	thought := engine.Thought{
		Timestamp:      time.Now(),
		Observation:    obs,
		Considerations: map[string]any{},
	}
	if best == nil {
		thought.Analysis = "no active goals to plan from"
		thought.Considerations[engine.ConsiderationSkip] = true
		return thought, nil
	}
	thought.Analysis = fmt.Sprintf("highest priority goal: %s (priority %d)", best.Description, best.Priority)
	thought.Considerations["goal_id"] = best.ID
	thought.Considerations["topic"] = best.Description
	return thought, nil
}

func (p *Planner) FormIntent(_ context.Context, thought engine.Thought) (engine.Intent, error) {
	if thought.Skip() {
		return engine.Intent{
			Timestamp:  time.Now(),
			Type:       engine.IntentSkip,
			Confidence: 1,
		}, nil
	}

	confidence := 0.5
	params := map[string]any{
		"topic":   thought.Considerations["topic"],
		"goal_id": thought.Considerations["goal_id"],
	}
	if p.personality != nil {
		mods := p.personality.StyleModifiers()
		confidence = 0.5 + 0.5*mods.RiskTaking
		params["detail_level"] = mods.DetailLevel
		params["risk_taking"] = mods.RiskTaking
	}
	return engine.Intent{
		Timestamp:  time.Now(),
		Type:       "plan_topic",
		Parameters: params,
		Confidence: confidence,
	}, nil
}

func (p *Planner) Act(_ context.Context, intent engine.Intent) (engine.Action, error) {
	action := engine.Action{Timestamp: time.Now(), Intent: intent}
	if intent.Type == engine.IntentSkip {
		return action, nil
	}

	updates := engine.Blackboard{
		KeyTopic:  intent.Parameters["topic"],
		KeyGoalID: intent.Parameters["goal_id"],
	}
	if detail, ok := intent.Parameters["detail_level"]; ok {
		updates[KeyDetailLevel] = detail
	}
	if risk, ok := intent.Parameters["risk_taking"]; ok {
		updates[KeyRiskTaking] = risk
	}
	action.Executed = true
	action.Updates = updates
	return action, nil
}

func (p *Planner) Reflect(_ context.Context, action engine.Action, result engine.Result) (engine.Reflection, error) {
	learnings := "no plan formed this run"
	if action.Executed {
		learnings = fmt.Sprintf("planned topic %v", action.Updates[KeyTopic])
	}
	return engine.Reflection{
		Timestamp: time.Now(),
		Action:    action,
		Result:    result,
		Learnings: learnings,
	}, nil
}
