// Package config loads railwatch settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/detectors/forest"
)

// Environment variables that override file values.
const (
	EnvTimeLimit        = "RAILWATCH_TIME_LIMIT"
	EnvVoltageThreshold = "RAILWATCH_VOLTAGE_THRESHOLD"
	EnvUnitScale        = "RAILWATCH_UNIT_SCALE_FACTOR"
	EnvLogLevel         = "RAILWATCH_LOG_LEVEL"
)

// Config is the file layout.
type Config struct {
	// TimeLimit accepts a duration ("2m") or plain seconds ("120").
	TimeLimit        Duration     `yaml:"time_limit"`
	VoltageThreshold float64      `yaml:"voltage_threshold"`
	UnitScaleFactor  float64      `yaml:"unit_scale_factor"`
	LogLevel         string       `yaml:"log_level"`
	Forest           ForestConfig `yaml:"forest"`
}

// ForestConfig tunes the default learner.
type ForestConfig struct {
	Trees     int   `yaml:"trees"`
	MaxDepth  int   `yaml:"max_depth"`
	MinLeaf   int   `yaml:"min_leaf"`
	Seed      int64 `yaml:"seed"`
	Bootstrap *bool `yaml:"bootstrap"`
}

// Duration is a time.Duration that also unmarshals from bare seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Default returns the stock settings.
func Default() *Config {
	def := detectors.DefaultConfig()
	return &Config{
		TimeLimit:        Duration(def.TimeLimit),
		VoltageThreshold: def.VoltageThreshold,
		UnitScaleFactor:  def.UnitScale,
		LogLevel:         "info",
		Forest: ForestConfig{
			Trees:    100,
			MaxDepth: 12,
			MinLeaf:  1,
			Seed:     42,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from RAILWATCH_* variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvTimeLimit); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeLimit, err)
		}
		c.TimeLimit = Duration(d)
	}
	if v, ok := os.LookupEnv(EnvVoltageThreshold); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVoltageThreshold, err)
		}
		c.VoltageThreshold = f
	}
	if v, ok := os.LookupEnv(EnvUnitScale); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUnitScale, err)
		}
		c.UnitScaleFactor = f
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	return nil
}

// Detector converts the file settings into a validated detector config.
func (c *Config) Detector() (detectors.Config, error) {
	dc := detectors.Config{
		TimeLimit:        time.Duration(c.TimeLimit),
		VoltageThreshold: c.VoltageThreshold,
		UnitScale:        c.UnitScaleFactor,
	}
	if err := dc.Validate(); err != nil {
		return detectors.Config{}, err
	}
	return dc, nil
}

// Learner builds the forest described by the file.
func (c *Config) Learner() *forest.Forest {
	opts := []forest.Option{
		forest.WithTrees(c.Forest.Trees),
		forest.WithMaxDepth(c.Forest.MaxDepth),
		forest.WithMinLeaf(c.Forest.MinLeaf),
		forest.WithSeed(c.Forest.Seed),
	}
	if c.Forest.Bootstrap != nil {
		opts = append(opts, forest.WithBootstrap(*c.Forest.Bootstrap))
	}
	return forest.New(opts...)
}
