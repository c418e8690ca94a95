// Package config holds the engine's runtime configuration, loaded from YAML
// with validated defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planforge/planforge/internal/types"
)

// Duration wraps time.Duration so YAML values like "30s" or "1h" parse.
// Bare integers are read as nanoseconds, matching time.Duration's own
// numeric form.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the planning engine configuration.
type Config struct {
	// MaxRetries is how many times a failed step is retried after its
	// first attempt.
	MaxRetries int `yaml:"max_retries"`

	// StepTimeout bounds each step execution attempt.
	StepTimeout Duration `yaml:"step_timeout"`

	// AutoSaveInterval is the cadence of the periodic plan save.
	AutoSaveInterval Duration `yaml:"auto_save_interval"`

	// EventBufferSize is the default buffer for event subscribers.
	EventBufferSize int `yaml:"event_buffer_size"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig configures the SQLite plan store.
type StoreConfig struct {
	Path         string   `yaml:"path"`
	MaxOpenConns int      `yaml:"max_open_conns"`
	MaxIdleConns int      `yaml:"max_idle_conns"`
	BusyTimeout  Duration `yaml:"busy_timeout"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		MaxRetries:       3,
		StepTimeout:      Duration(5 * time.Minute),
		AutoSaveInterval: Duration(time.Hour),
		EventBufferSize:  64,
		Store: StoreConfig{
			Path:         "planforge.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  Duration(5 * time.Second),
		},
	}
}

// Load reads a YAML config file, applying it over the defaults and
// validating the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, fmt.Sprintf("failed to read %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, fmt.Sprintf("failed to parse %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return types.NewError(types.CONFIG_INVALID, "max_retries cannot be negative")
	}
	if c.StepTimeout <= 0 {
		return types.NewError(types.CONFIG_INVALID, "step_timeout must be positive")
	}
	if c.AutoSaveInterval <= 0 {
		return types.NewError(types.CONFIG_INVALID, "auto_save_interval must be positive")
	}
	if c.EventBufferSize <= 0 {
		return types.NewError(types.CONFIG_INVALID, "event_buffer_size must be positive")
	}
	if c.Store.Path == "" {
		return types.NewError(types.CONFIG_INVALID, "store.path cannot be empty")
	}
	return nil
}
