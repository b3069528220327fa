package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, DevVersion, GetCurrentVersion("demo"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		version string
		target  string
		want    bool
	}{
		{"0.2.0", "0.1.0", true},
		{"0.1.0", "0.1.0", true},
		{"0.1.0", "0.2.0", false},
		{"1.0.0", "0.9.9", true},
		{"0.1.0-dev", "0.1.0", false},
		{"0.10.0", "0.9.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.version+">="+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target))
		})
	}
}

func TestString(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "0.1.0"
	GitCommit = "unknown"
	assert.Equal(t, "0.1.0", String())

	GitCommit = "abcdef1234567890"
	assert.Equal(t, "0.1.0-abcdef12", String())
}

func TestStringFull(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "0.1.0"
	GitCommit = "unknown"
	assert.Equal(t, "Version=0.1.0", StringFull())

	GitCommit = "abcdef1234567890"
	assert.Equal(t, "Version=0.1.0 Commit=abcdef1234567890", StringFull())
}
