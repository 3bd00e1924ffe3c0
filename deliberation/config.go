package deliberation

import "fmt"

// Config holds the single configuration record read at startup (§6.3).
// max_substitutions and max_substitution_latency_ms are fixed constants
// (MaxSubstitutionsPerSession, MaxSubstitutionLatencyMS) rather than
// fields here — see DESIGN.md's Open Question decision 1 — so there is no
// WithMaxSubstitutions option.
type Config struct {
	TimeoutSeconds      int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"DELIBERATION_TIMEOUT_SECONDS" default:"300"`
	MaxRounds           int    `json:"max_rounds" yaml:"max_rounds" env:"DELIBERATION_MAX_ROUNDS" default:"3"`
	ContextSchemaVersion string `json:"context_schema_version" yaml:"context_schema_version" default:"1.1.0"`
}

// Option mutates a Config under construction.
type Option func(*Config) error

// NewConfig builds a Config from defaults, then applies opts in order,
// mirroring the framework's three-layer (defaults, env, functional option)
// priority model without the env layer, since configuration loading itself
// is out of scope for this package (only the resulting values are its
// concern).
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		TimeoutSeconds:       300,
		MaxRounds:            DefaultMaxRounds,
		ContextSchemaVersion: ContextPackageSchemaVersion,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("deliberation: timeout_seconds must be >= 0, got %d", cfg.TimeoutSeconds)
	}
	if cfg.MaxRounds < 1 {
		return nil, fmt.Errorf("deliberation: max_rounds must be >= 1, got %d", cfg.MaxRounds)
	}
	return cfg, nil
}

// WithTimeoutSeconds overrides the deliberation-wide deadline. A value of
// 0 disables scheduling (§6.3: "effective if > 0").
func WithTimeoutSeconds(seconds int) Option {
	return func(c *Config) error {
		c.TimeoutSeconds = seconds
		return nil
	}
}

// WithMaxRounds overrides the cross-examine retry ceiling.
func WithMaxRounds(rounds int) Option {
	return func(c *Config) error {
		if rounds < 1 {
			return fmt.Errorf("deliberation: max_rounds must be >= 1, got %d", rounds)
		}
		c.MaxRounds = rounds
		return nil
	}
}

// WithDefaultPreset applies the sanctioned "default" preset: 300s timeout,
// 3 rounds.
func WithDefaultPreset() Option {
	return func(c *Config) error {
		c.TimeoutSeconds = 300
		c.MaxRounds = 3
		return nil
	}
}

// WithSingleRoundPreset applies the sanctioned "single-round" preset:
// 300s timeout, 1 round — any 1-1-1 split escalates immediately with no
// retry.
func WithSingleRoundPreset() Option {
	return func(c *Config) error {
		c.TimeoutSeconds = 300
		c.MaxRounds = 1
		return nil
	}
}

// Enabled reports whether timeout scheduling is active (§6.3: "effective
// if > 0").
func (c Config) Enabled() bool {
	return c.TimeoutSeconds > 0
}
