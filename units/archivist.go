package units

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/volition/engine"
	"github.com/hrygo/volition/memory"
	"github.com/hrygo/volition/store"
)

// Archivist commits the outcome of a pipeline run to history as a content
// record, the kind the monitor rules and future repetition checks read.
type Archivist struct {
	index *memory.Index
}

// NewArchivist creates an archivist over the memory index.
func NewArchivist(index *memory.Index) *Archivist {
	return &Archivist{index: index}
}

func (a *Archivist) Observe(_ context.Context, bb engine.Blackboard) (engine.Observation, error) {
	data := map[string]any{}
	for key, value := range bb {
		data[key] = value
	}
	return engine.Observation{
		Timestamp: time.Now(),
		Context:   bb,
		Data:      data,
	}, nil
}

func (a *Archivist) Think(_ context.Context, obs engine.Observation) (engine.Thought, error) {
	thought := engine.Thought{
		Timestamp:      time.Now(),
		Observation:    obs,
		Considerations: map[string]any{},
	}

	topic, _ := obs.Data[KeyTopic].(string)
	if topic == "" {
		thought.Analysis = "run produced no topic, nothing to archive"
		thought.Considerations[engine.ConsiderationSkip] = true
		return thought, nil
	}

	rejected, _ := obs.Data[KeyRejected].(bool)
	thought.Analysis = fmt.Sprintf("archiving decision for topic %q (rejected=%v)", topic, rejected)
	thought.Considerations["topic"] = topic
	thought.Considerations["rejected"] = rejected
	if reason, ok := obs.Data[KeyRejectReason].(string); ok {
		thought.Considerations["reason"] = reason
	}
	return thought, nil
}

func (a *Archivist) FormIntent(_ context.Context, thought engine.Thought) (engine.Intent, error) {
	if thought.Skip() {
		return engine.Intent{Timestamp: time.Now(), Type: engine.IntentSkip, Confidence: 1}, nil
	}
	return engine.Intent{
		Timestamp: time.Now(),
		Type:      "archive_decision",
		Parameters: map[string]any{
			"topic":    thought.Considerations["topic"],
			"rejected": thought.Considerations["rejected"],
			"reason":   thought.Considerations["reason"],
		},
		Confidence: 1,
	}, nil
}

func (a *Archivist) Act(ctx context.Context, intent engine.Intent) (engine.Action, error) {
	action := engine.Action{Timestamp: time.Now(), Intent: intent}
	if intent.Type == engine.IntentSkip {
		return action, nil
	}

	topic, _ := intent.Parameters["topic"].(string)
	rejected, _ := intent.Parameters["rejected"].(bool)
	payload := map[string]string{
		store.PayloadKeyTopic:    topic,
		store.PayloadKeyRejected: fmt.Sprintf("%v", rejected),
	}
	if reason, _ := intent.Parameters["reason"].(string); reason != "" {
		payload[store.PayloadKeyReason] = reason
	}

	record, err := a.index.Add(ctx, &store.HistoryRecord{
		Kind:    store.HistoryKindContent,
		Payload: payload,
	})
	if err != nil {
		return action, err
	}

	action.ID = record.ID
	action.Executed = true
	return action, nil
}

func (a *Archivist) Reflect(_ context.Context, action engine.Action, result engine.Result) (engine.Reflection, error) {
	learnings := "nothing archived"
	if action.Executed {
		learnings = "decision archived as " + action.ID
	}
	return engine.Reflection{
		Timestamp: time.Now(),
		Action:    action,
		Result:    result,
		Learnings: learnings,
	}, nil
}
