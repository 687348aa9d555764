package loader

import (
	"os"
	"path/filepath"
	"testing"

	"trendflip/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profilesYAML = `
profiles:
  baseline:
    description: defaults from main config
    default: true
  wide:
    strategy:
      trend_multiplier: 4.2
      max_entry_stop_distance_pips: 800
      allowed_sides: both
  night:
    strategy:
      entry_hours: 0-6
`

func baseStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		TrendLength:     10,
		TrendMultiplier: 3.6,
		PipSize:         0.01,
		MaxStopDistance: 520,
		EntryHours:      config.HourRange{Enabled: true, Start: 13, End: 16},
		AllowedSides:    config.SideList{"long"},
	}
}

func TestProfileLoaderMergesOverBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o644))

	l, err := NewProfileLoader(path, baseStrategy(), false)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, []string{"baseline", "night", "wide"}, snap.Names())

	def, ok := snap.Default()
	require.True(t, ok)
	assert.Equal(t, "baseline", def.Name)
	assert.Equal(t, baseStrategy(), def.Strategy)

	wide, ok := l.Get("wide")
	require.True(t, ok)
	assert.InDelta(t, 4.2, wide.Strategy.TrendMultiplier, 1e-12)
	assert.InDelta(t, 800.0, wide.Strategy.MaxStopDistance, 1e-12)
	assert.Equal(t, config.SideList{"long", "short"}, wide.Strategy.AllowedSides)
	assert.Equal(t, 10, wide.Strategy.TrendLength)

	night, ok := l.Get("night")
	require.True(t, ok)
	assert.Equal(t, config.HourRange{Enabled: true, Start: 0, End: 6}, night.Strategy.EntryHours)
}

func TestProfileLoaderRejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	body := "profiles:\n  broken:\n    strategy:\n      trend_length: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := NewProfileLoader(path, baseStrategy(), false)
	assert.Error(t, err)
}

func TestProfileLoaderRequiresPath(t *testing.T) {
	_, err := NewProfileLoader(" ", baseStrategy(), false)
	assert.Error(t, err)
}

func TestSubscribeReceivesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o644))
	l, err := NewProfileLoader(path, baseStrategy(), false)
	require.NoError(t, err)

	got := make(chan ProfileSnapshot, 1)
	l.Subscribe(func(s ProfileSnapshot) { got <- s })
	snap := <-got
	assert.Len(t, snap.Profiles, 3)
}
