// Package goals holds the external goal configuration consumed by the
// monitor and decision cycle units.
package goals

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Frequency is the posting-frequency category.
type Frequency string

const (
	FrequencyFrequent Frequency = "frequent"
	FrequencyModerate Frequency = "moderate"
	FrequencyRare     Frequency = "rare"
)

// ExpectedInterval returns the expected interval between publications for
// the category. Unknown categories fall back to moderate.
func (f Frequency) ExpectedInterval() time.Duration {
	switch f {
	case FrequencyFrequent:
		return 6 * time.Hour
	case FrequencyRare:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ContentGoal is an individual goal with priority 1..10.
type ContentGoal struct {
	ID          string    `mapstructure:"id"`
	Description string    `mapstructure:"description"`
	Priority    int       `mapstructure:"priority"`
	Active      bool      `mapstructure:"active"`
	CreatedAt   time.Time `mapstructure:"created_at"`
}

// Goals is the goal configuration. It is a read-only input: nothing in the
// core mutates it.
type Goals struct {
	PostingFrequency Frequency     `mapstructure:"posting_frequency"`
	MinQualityScore  float64       `mapstructure:"min_quality_score"`
	ContentGoals     []ContentGoal `mapstructure:"content_goals"`
}

// Default returns the default goal configuration.
func Default() *Goals {
	return &Goals{
		PostingFrequency: FrequencyModerate,
		MinQualityScore:  0.7,
	}
}

// Load reads goal configuration from a YAML or JSON file. An empty path
// returns the defaults.
func Load(path string) (*Goals, error) {
	goals := Default()
	if path == "" {
		return goals, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("posting_frequency", string(FrequencyModerate))
	v.SetDefault("min_quality_score", 0.7)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read goals file %s", path)
	}

	if err := v.Unmarshal(goals, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, errors.Wrapf(err, "failed to parse goals file %s", path)
	}

	return goals, nil
}
