// Package monitor turns persisted history into urgency-scored triggers for
// unattended action.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/volition/goals"
	"github.com/hrygo/volition/store"
)

// Trigger is a named condition paired with an urgency score in [0,1] that can
// preempt normal scheduling. Triggers are ephemeral: fully recomputed on each
// CheckState call and never persisted.
type Trigger struct {
	Name      string
	Condition string
	Urgency   float64
	Metadata  map[string]any
	Timestamp time.Time
}

// Trigger names emitted by the monitor rules.
const (
	TriggerNoPublications     = "no_publications"
	TriggerPublicationSilence = "publication_silence"
	TriggerTopicRepetition    = "topic_repetition"
	TriggerGoalStagnation     = "goal_stagnation"
	TriggerTooConservative    = "too_conservative"
	TriggerQualityDegradation = "quality_degradation"
)

// HistoryReader is the subset of the store the monitor needs.
type HistoryReader interface {
	ListHistoryRecords(ctx context.Context, find *store.FindHistoryRecord) ([]*store.HistoryRecord, error)
}

// Monitor recomputes all rules from current history and goal configuration
// on every CheckState call; it keeps no incremental state between calls.
type Monitor struct {
	history HistoryReader
	goals   *goals.Goals
	nowFunc func() time.Time

	mu       sync.Mutex
	triggers []Trigger
}

// New creates a monitor over the given history and goal configuration.
func New(history HistoryReader, g *goals.Goals) *Monitor {
	if g == nil {
		g = goals.Default()
	}
	return &Monitor{
		history: history,
		goals:   g,
		nowFunc: time.Now,
	}
}

type rule struct {
	name  string
	check func(ctx context.Context) ([]Trigger, error)
}

// CheckState evaluates all rules and returns the resulting triggers. A rule
// failure is contained: the rule contributes nothing and the others still
// run.
func (m *Monitor) CheckState(ctx context.Context) []Trigger {
	rules := []rule{
		{"publication_silence", m.checkPublicationSilence},
		{"topic_repetition", m.checkTopicRepetition},
		{"goal_stagnation", m.checkGoalStagnation},
		{"over_conservatism", m.checkOverConservatism},
		{"quality_trend", m.checkQualityTrend},
	}

	triggers := []Trigger{}
	for _, r := range rules {
		found, err := r.check(ctx)
		if err != nil {
			slog.Error("monitor rule failed", "rule", r.name, "error", err)
			continue
		}
		triggers = append(triggers, found...)
	}

	m.mu.Lock()
	m.triggers = triggers
	m.mu.Unlock()

	return triggers
}

// MostUrgent returns the max-urgency trigger from the latest CheckState, or
// nil when there is none.
func (m *Monitor) MostUrgent() *Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MostUrgent(m.triggers)
}

// HasTriggers reports whether the latest CheckState produced a trigger at or
// above minUrgency.
func (m *Monitor) HasTriggers(minUrgency float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.triggers {
		if t.Urgency >= minUrgency {
			return true
		}
	}
	return false
}

// MostUrgent returns the max-urgency trigger of the slice, or nil.
func MostUrgent(triggers []Trigger) *Trigger {
	var best *Trigger
	for i := range triggers {
		if best == nil || triggers[i].Urgency > best.Urgency {
			best = &triggers[i]
		}
	}
	return best
}

// publicationLookback is how many recent content records are scanned for the
// last successful publication.
const publicationLookback = 100

// checkPublicationSilence fires when nothing was published for too long
// relative to the configured posting frequency.
func (m *Monitor) checkPublicationSilence(ctx context.Context) ([]Trigger, error) {
	records, err := m.recentContent(ctx, publicationLookback)
	if err != nil {
		return nil, err
	}

	var lastPublished *store.HistoryRecord
	for _, record := range records {
		if record.Published() && (lastPublished == nil || record.CreatedTs > lastPublished.CreatedTs) {
			lastPublished = record
		}
	}

	now := m.nowFunc()
	if lastPublished == nil {
		return []Trigger{{
			Name:      TriggerNoPublications,
			Condition: "never_published",
			Urgency:   0.5,
			Metadata:  map[string]any{"message": "no content has ever been published"},
			Timestamp: now,
		}}, nil
	}

	elapsed := now.Sub(time.Unix(lastPublished.CreatedTs, 0))
	expected := m.goals.PostingFrequency.ExpectedInterval()
	ratio := elapsed.Hours() / expected.Hours()
	if ratio <= 1.5 {
		return nil, nil
	}

	urgency := clamp01(min(0.9, 0.5+(ratio-1.5)*0.2))
	return []Trigger{{
		Name:      TriggerPublicationSilence,
		Condition: "too_long_since_last",
		Urgency:   urgency,
		Metadata: map[string]any{
			"message":           fmt.Sprintf("no publication for %.1f hours", elapsed.Hours()),
			"hours_since":       elapsed.Hours(),
			"expected_interval": expected.String(),
		},
		Timestamp: now,
	}}, nil
}

// checkTopicRepetition fires when a topic shows up three or more times among
// the last 20 records.
func (m *Monitor) checkTopicRepetition(ctx context.Context) ([]Trigger, error) {
	records, err := m.recentContent(ctx, 20)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, record := range records {
		if topic := record.Topic(); topic != "" {
			counts[topic]++
		}
	}

	maxTopic, maxCount := "", 0
	for topic, count := range counts {
		if count > maxCount {
			maxTopic, maxCount = topic, count
		}
	}
	if maxCount < 3 {
		return nil, nil
	}

	urgency := clamp01(min(0.8, 0.4+0.2*float64(maxCount-3)))
	return []Trigger{{
		Name:      TriggerTopicRepetition,
		Condition: "too_many_repeats",
		Urgency:   urgency,
		Metadata: map[string]any{
			"message": fmt.Sprintf("topic %q repeated %d times", maxTopic, maxCount),
			"topic":   maxTopic,
			"count":   maxCount,
		},
		Timestamp: m.nowFunc(),
	}}, nil
}

// checkGoalStagnation fires for the oldest high-priority goal that has been
// active without progress for over a week.
func (m *Monitor) checkGoalStagnation(_ context.Context) ([]Trigger, error) {
	now := m.nowFunc()

	var stale *goals.ContentGoal
	for i := range m.goals.ContentGoals {
		goal := &m.goals.ContentGoals[i]
		if !goal.Active || goal.Priority < 7 || goal.CreatedAt.IsZero() {
			continue
		}
		if now.Sub(goal.CreatedAt) <= 7*24*time.Hour {
			continue
		}
		if stale == nil || goal.CreatedAt.Before(stale.CreatedAt) {
			stale = goal
		}
	}
	if stale == nil {
		return nil, nil
	}

	return []Trigger{{
		Name:      TriggerGoalStagnation,
		Condition: "high_priority_goal_inactive",
		Urgency:   0.6,
		Metadata: map[string]any{
			"message":    fmt.Sprintf("high-priority goal %q is not progressing", stale.Description),
			"goal_id":    stale.ID,
			"days_since": now.Sub(stale.CreatedAt).Hours() / 24,
		},
		Timestamp: now,
	}}, nil
}

// checkOverConservatism fires when more than 80% of the last 10 records were
// rejected. Needs at least 5 records to judge.
func (m *Monitor) checkOverConservatism(ctx context.Context) ([]Trigger, error) {
	records, err := m.recentContent(ctx, 10)
	if err != nil {
		return nil, err
	}
	if len(records) < 5 {
		return nil, nil
	}

	rejected := 0
	for _, record := range records {
		if record.Rejected() {
			rejected++
		}
	}
	rate := float64(rejected) / float64(len(records))
	if rate <= 0.8 {
		return nil, nil
	}

	return []Trigger{{
		Name:      TriggerTooConservative,
		Condition: "high_rejection_rate",
		Urgency:   0.7,
		Metadata: map[string]any{
			"message":        fmt.Sprintf("too conservative: %.0f%% of recent content rejected", rate*100),
			"rejection_rate": rate,
		},
		Timestamp: m.nowFunc(),
	}}, nil
}

// checkQualityTrend fires when the average of the three most recent quality
// scores drops noticeably below the two before them. Needs at least 5 scored
// records.
func (m *Monitor) checkQualityTrend(ctx context.Context) ([]Trigger, error) {
	records, err := m.recentContent(ctx, 10)
	if err != nil {
		return nil, err
	}

	scores := []float64{}
	for _, record := range records {
		if score, ok := record.QualityScore(); ok {
			scores = append(scores, score)
		}
		if len(scores) == 5 {
			break
		}
	}
	if len(scores) < 5 {
		return nil, nil
	}

	recentAvg := (scores[0] + scores[1] + scores[2]) / 3
	olderAvg := (scores[3] + scores[4]) / 2
	if recentAvg >= olderAvg-0.1 {
		return nil, nil
	}

	return []Trigger{{
		Name:      TriggerQualityDegradation,
		Condition: "quality_dropping",
		Urgency:   0.6,
		Metadata: map[string]any{
			"message":    fmt.Sprintf("quality dropping: was %.2f, now %.2f", olderAvg, recentAvg),
			"recent_avg": recentAvg,
			"older_avg":  olderAvg,
		},
		Timestamp: m.nowFunc(),
	}}, nil
}

func (m *Monitor) recentContent(ctx context.Context, limit int) ([]*store.HistoryRecord, error) {
	kind := store.HistoryKindContent
	return m.history.ListHistoryRecords(ctx, &store.FindHistoryRecord{Kind: &kind, Limit: limit})
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
