package detectors

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"millivolt scale", func(c *Config) { c.UnitScale = 1000 }, false},
		{"zero threshold", func(c *Config) { c.VoltageThreshold = 0 }, false},
		{"zero time limit", func(c *Config) { c.TimeLimit = 0 }, true},
		{"negative threshold", func(c *Config) { c.VoltageThreshold = -0.1 }, true},
		{"nan threshold", func(c *Config) { c.VoltageThreshold = math.NaN() }, true},
		{"zero scale", func(c *Config) { c.UnitScale = 0 }, true},
		{"negative scale", func(c *Config) { c.UnitScale = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120*time.Second, cfg.TimeLimit)
	assert.Equal(t, 120.0, cfg.TimeLimitSeconds())
	assert.Equal(t, 0.5, cfg.VoltageThreshold)
	assert.Equal(t, 1.0, cfg.UnitScale)
}

func TestLabelString(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "jump", Jump.String())
	assert.Equal(t, "label(9)", Label(9).String())
	assert.False(t, Label(-1).Valid())
	assert.Len(t, Labels, NumClasses)
}
