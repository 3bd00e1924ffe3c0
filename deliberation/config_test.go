package deliberation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.TimeoutSeconds)
	assert.Equal(t, DefaultMaxRounds, cfg.MaxRounds)
	assert.True(t, cfg.Enabled())
}

func TestNewConfigRejectsInvalidValues(t *testing.T) {
	_, err := NewConfig(WithTimeoutSeconds(-1))
	assert.Error(t, err)

	_, err = NewConfig(WithMaxRounds(0))
	assert.Error(t, err)
}

func TestConfigEnabledIsFalseAtZeroTimeout(t *testing.T) {
	cfg, err := NewConfig(WithTimeoutSeconds(0))
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
}

func TestWithSingleRoundPreset(t *testing.T) {
	cfg, err := NewConfig(WithSingleRoundPreset())
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxRounds)
	assert.Equal(t, 300, cfg.TimeoutSeconds)
}
