// Package personality implements the slow-drifting trait state that feeds
// back into future decisions.
package personality

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/volition/store"
)

// DefaultDriftRate is how fast traits change per reported experience.
const DefaultDriftRate = 0.01

// State holds the three personality traits, each clamped to [0,1].
type State struct {
	Tension    float64 // 0 = relaxed, 1 = tense
	Boldness   float64 // 0 = cautious, 1 = bold
	Depth      float64 // 0 = surface, 1 = deep
	DriftRate  float64
	LastUpdate time.Time
}

// Experience is the outcome summary a drift is computed from.
type Experience struct {
	RejectionRate      float64
	QualityAvg         float64
	PublicationSuccess bool
}

// Modifiers are the read-only style modifiers derived from the state.
type Modifiers struct {
	RiskTaking      float64
	DetailLevel     float64
	Urgency         float64
	Experimentation float64
}

// DefaultState returns the neutral starting state.
func DefaultState() State {
	return State{
		Tension:   0.5,
		Boldness:  0.5,
		Depth:     0.5,
		DriftRate: DefaultDriftRate,
	}
}

// Drift mutates the state from a reported experience. Every trait stays
// within [0,1].
func (s *State) Drift(exp Experience) {
	// Tension rises with rejections, falls with acceptance.
	s.Tension = clamp01(s.Tension + (exp.RejectionRate-0.5)*s.DriftRate)

	// Boldness rises with quality on success, falls on failure.
	if exp.PublicationSuccess {
		s.Boldness = clamp01(s.Boldness + (exp.QualityAvg-0.5)*s.DriftRate)
	} else {
		s.Boldness = clamp01(s.Boldness - 0.5*s.DriftRate)
	}

	// Depth only grows (learning).
	s.Depth = clamp01(s.Depth + 0.1*s.DriftRate)

	s.LastUpdate = time.Now()
}

// StyleModifiers derives the style modifiers from the current traits.
func (s State) StyleModifiers() Modifiers {
	return Modifiers{
		RiskTaking:      s.Boldness,
		DetailLevel:     s.Depth,
		Urgency:         s.Tension,
		Experimentation: s.Boldness * (1 - s.Tension),
	}
}

// Store is the subset of the store the manager needs.
type Store interface {
	GetPersonalityState(ctx context.Context) (*store.PersonalityState, error)
	UpsertPersonalityState(ctx context.Context, upsert *store.PersonalityState) (*store.PersonalityState, error)
}

// Manager owns the single personality instance and persists it after every
// drift.
type Manager struct {
	store Store

	mu    sync.Mutex
	state State
}

// NewManager loads the persisted state, falling back to the neutral default
// when none exists.
func NewManager(ctx context.Context, st Store) (*Manager, error) {
	m := &Manager{store: st, state: DefaultState()}

	row, err := st.GetPersonalityState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load personality state")
	}
	if row != nil {
		m.state = State{
			Tension:    clamp01(row.Tension),
			Boldness:   clamp01(row.Boldness),
			Depth:      clamp01(row.Depth),
			DriftRate:  row.DriftRate,
			LastUpdate: time.Unix(row.UpdatedTs, 0),
		}
		if m.state.DriftRate <= 0 {
			m.state.DriftRate = DefaultDriftRate
		}
	}
	return m, nil
}

// Drift applies an experience and persists the result.
func (m *Manager) Drift(ctx context.Context, exp Experience) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Drift(exp)
	slog.Debug("personality drifted",
		"tension", m.state.Tension,
		"boldness", m.state.Boldness,
		"depth", m.state.Depth)

	_, err := m.store.UpsertPersonalityState(ctx, &store.PersonalityState{
		Tension:   m.state.Tension,
		Boldness:  m.state.Boldness,
		Depth:     m.state.Depth,
		DriftRate: m.state.DriftRate,
	})
	return errors.Wrap(err, "failed to persist personality state")
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StyleModifiers returns the style modifiers of the current state.
func (m *Manager) StyleModifiers() Modifiers {
	return m.State().StyleModifiers()
}

// ExperienceFromRecords summarizes recent history records into an Experience.
// Records without a quality score contribute nothing to the quality average.
func ExperienceFromRecords(records []*store.HistoryRecord) Experience {
	exp := Experience{RejectionRate: 0.5, QualityAvg: 0.5}
	if len(records) == 0 {
		return exp
	}

	rejected, scored := 0, 0
	qualitySum := 0.0
	for _, record := range records {
		if record.Rejected() {
			rejected++
		}
		if record.Published() {
			exp.PublicationSuccess = true
		}
		if score, ok := record.QualityScore(); ok {
			qualitySum += score
			scored++
		}
	}

	exp.RejectionRate = float64(rejected) / float64(len(records))
	if scored > 0 {
		exp.QualityAvg = qualitySum / float64(scored)
	}
	return exp
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
