package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_ValidateDefaults(t *testing.T) {
	p := &Profile{Mode: "bogus", Data: t.TempDir(), Driver: "sqlite"}

	require.NoError(t, p.Validate())

	assert.Equal(t, "demo", p.Mode)
	assert.Equal(t, 60, p.CheckInterval)
	assert.Equal(t, 3600, p.MainInterval)
	assert.Equal(t, "22:00", p.NightStart)
	assert.Equal(t, "08:00", p.NightEnd)
	assert.Equal(t, filepath.Join(p.Data, "volition_demo.db"), p.DSN)
}

func TestProfile_ValidateKeepsExplicitSettings(t *testing.T) {
	p := &Profile{
		Mode:          "prod",
		Data:          t.TempDir(),
		Driver:        "postgres",
		DSN:           "postgres://volition@localhost/volition",
		CheckInterval: 30,
		MainInterval:  600,
		NightStart:    "23:00",
		NightEnd:      "06:30",
	}

	require.NoError(t, p.Validate())

	assert.Equal(t, "prod", p.Mode)
	assert.Equal(t, 30, p.CheckInterval)
	assert.Equal(t, 600, p.MainInterval)
	assert.Equal(t, "23:00", p.NightStart)
	assert.Equal(t, "postgres://volition@localhost/volition", p.DSN)
}

func TestProfile_ValidateRejectsMissingDataDir(t *testing.T) {
	p := &Profile{Mode: "dev", Data: filepath.Join(t.TempDir(), "absent"), Driver: "sqlite"}
	assert.Error(t, p.Validate())
}

func TestProfile_IsEmbeddingEnabled(t *testing.T) {
	assert.False(t, (&Profile{}).IsEmbeddingEnabled())
	assert.True(t, (&Profile{AIEmbeddingAPIKey: "sk-test"}).IsEmbeddingEnabled())
}

func TestProfile_IsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}
