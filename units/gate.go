package units

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/volition/engine"
	"github.com/hrygo/volition/memory"
	"github.com/hrygo/volition/store"
)

// RepetitionGate rejects topics that are near-duplicates of stored history.
// Without an embedding backend the check degrades to letting everything
// through.
type RepetitionGate struct {
	index     *memory.Index
	threshold float32
}

// NewRepetitionGate creates a gate over the memory index. threshold <= 0
// falls back to the default repetition threshold.
func NewRepetitionGate(index *memory.Index, threshold float32) *RepetitionGate {
	if threshold <= 0 {
		threshold = memory.DefaultRepetitionThreshold
	}
	return &RepetitionGate{index: index, threshold: threshold}
}

func (g *RepetitionGate) Observe(_ context.Context, bb engine.Blackboard) (engine.Observation, error) {
	topic, _ := bb[KeyTopic].(string)
	return engine.Observation{
		Timestamp: time.Now(),
		Context:   bb,
		Data:      map[string]any{"topic": topic},
	}, nil
}

func (g *RepetitionGate) Think(ctx context.Context, obs engine.Observation) (engine.Thought, error) {
	thought := engine.Thought{
		Timestamp:      time.Now(),
		Observation:    obs,
		Considerations: map[string]any{},
	}

	topic, _ := obs.Data["topic"].(string)
	if topic == "" {
		thought.Analysis = "no topic on the blackboard, nothing to gate"
		thought.Considerations[engine.ConsiderationSkip] = true
		return thought, nil
	}

	repeated, match := g.index.CheckRepetition(ctx, topic, g.threshold)
	thought.Considerations["topic"] = topic
	thought.Considerations["repeated"] = repeated
	if repeated {
		thought.Analysis = fmt.Sprintf("topic %q duplicates record %s", topic, match.ID)
		thought.Considerations["duplicate_of"] = match.ID
	} else {
		thought.Analysis = fmt.Sprintf("topic %q is novel", topic)
	}
	return thought, nil
}

func (g *RepetitionGate) FormIntent(_ context.Context, thought engine.Thought) (engine.Intent, error) {
	if thought.Skip() {
		return engine.Intent{Timestamp: time.Now(), Type: engine.IntentSkip, Confidence: 1}, nil
	}

	repeated, _ := thought.Considerations["repeated"].(bool)
	intent := engine.Intent{
		Timestamp: time.Now(),
		Parameters: map[string]any{
			"topic": thought.Considerations["topic"],
		},
		Confidence: 0.9,
	}
	if repeated {
		intent.Type = "reject_repetition"
		intent.Parameters["duplicate_of"] = thought.Considerations["duplicate_of"]
	} else {
		intent.Type = "pass_topic"
	}
	return intent, nil
}

func (g *RepetitionGate) Act(ctx context.Context, intent engine.Intent) (engine.Action, error) {
	action := engine.Action{Timestamp: time.Now(), Intent: intent}
	switch intent.Type {
	case "reject_repetition":
		topic, _ := intent.Parameters["topic"].(string)
		duplicateOf, _ := intent.Parameters["duplicate_of"].(string)
		_, err := g.index.Add(ctx, &store.HistoryRecord{
			Kind: store.HistoryKindRejection,
			Payload: map[string]string{
				store.PayloadKeyTopic:  topic,
				store.PayloadKeyReason: "too similar to " + duplicateOf,
			},
			Tags: []string{"repetition"},
		})
		if err != nil {
			return action, err
		}
		action.Executed = true
		action.Updates = engine.Blackboard{
			KeyRejected:     true,
			KeyRejectReason: "repetition",
		}
	case "pass_topic":
		action.Executed = true
		action.Updates = engine.Blackboard{KeyRejected: false}
	}
	return action, nil
}

func (g *RepetitionGate) Reflect(_ context.Context, action engine.Action, result engine.Result) (engine.Reflection, error) {
	learnings := "nothing to gate"
	if action.Executed {
		if rejected, _ := action.Updates[KeyRejected].(bool); rejected {
			learnings = "rejected a repeated topic"
		} else {
			learnings = "topic passed the repetition gate"
		}
	}
	return engine.Reflection{
		Timestamp: time.Now(),
		Action:    action,
		Result:    result,
		Learnings: learnings,
	}, nil
}
