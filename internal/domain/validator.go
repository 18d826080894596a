package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyCommand = errors.New("command cannot be empty")

type ConfigValidator struct{}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

func (v *ConfigValidator) Validate(cfg *RunConfig) error {
	if cfg == nil {
		return errors.New("run config is required")
	}

	if strings.TrimSpace(cfg.Command) == "" {
		return ErrEmptyCommand
	}

	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %v", cfg.PollInterval)
	}

	if cfg.DrainGrace < 0 {
		return fmt.Errorf("drain grace must not be negative, got %v", cfg.DrainGrace)
	}

	switch cfg.Verbosity {
	case "", VerbositySilent, VerbosityNormal, VerbosityVerbose:
	default:
		return fmt.Errorf("unknown verbosity %q (silent|normal|verbose)", cfg.Verbosity)
	}

	switch cfg.Format {
	case "", FormatTUI, FormatJSON, FormatRaw:
	default:
		return fmt.Errorf("unknown output format %q", cfg.Format)
	}

	return nil
}

// ApplyDefaults fills zero intervals with the package defaults.
func (cfg *RunConfig) ApplyDefaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DrainGrace == 0 {
		cfg.DrainGrace = DefaultDrainGrace
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = VerbosityNormal
	}
}
