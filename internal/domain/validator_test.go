package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptyCommand(t *testing.T) {
	v := NewConfigValidator()

	err := v.Validate(&RunConfig{Command: "   "})
	require.ErrorIs(t, err, ErrEmptyCommand)
}

func TestValidateRejectsUnknownOptions(t *testing.T) {
	v := NewConfigValidator()

	assert.Error(t, v.Validate(&RunConfig{Command: "true", Verbosity: "loud"}))
	assert.Error(t, v.Validate(&RunConfig{Command: "true", Format: "xml"}))
	assert.Error(t, v.Validate(&RunConfig{Command: "true", PollInterval: -time.Second}))
	assert.Error(t, v.Validate(nil))
}

func TestApplyDefaults(t *testing.T) {
	cfg := &RunConfig{Command: "true"}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultDrainGrace, cfg.DrainGrace)
	assert.Equal(t, VerbosityNormal, cfg.Verbosity)
	assert.NoError(t, NewConfigValidator().Validate(cfg))
}
