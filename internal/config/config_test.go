package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadscan/roadscan/internal/models"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative gps tolerance", func(c *Config) { c.GPSToleranceM = -1 }},
		{"zero temporal tolerance", func(c *Config) { c.TemporalToleranceS = 0 }},
		{"zero search window", func(c *Config) { c.GPSSearchWindow = 0 }},
		{"zero fps", func(c *Config) { c.FrameFPS = 0 }},
		{"zero max frames", func(c *Config) { c.MaxFrames = 0 }},
		{"iou threshold at one", func(c *Config) { c.IoUThreshold = 1 }},
		{"negative epsilon", func(c *Config) { c.ChangeEpsilon = -0.1 }},
		{"zero frame area", func(c *Config) { c.FrameAreaPx = 0 }},
		{"empty element weights", func(c *Config) { c.ElementWeights = nil }},
		{"negative element weight", func(c *Config) {
			c.ElementWeights[models.ElementPavementCrack] = -1
		}},
		{"empty kind multipliers", func(c *Config) { c.KindMultipliers = nil }},
		{"negative kind multiplier", func(c *Config) {
			c.KindMultipliers[models.ChangeNew] = -0.5
		}},
		{"inverted severity thresholds", func(c *Config) {
			c.SeverityLow = 7
			c.SeverityHigh = 3
		}},
		{"zero segment slack", func(c *Config) { c.SegmentSlackM = 0 }},
		{"skipped ratio above one", func(c *Config) { c.MaxSkippedRatio = 1.5 }},
		{"negative retries", func(c *Config) { c.DetectRetries = -1 }},
		{"zero workers", func(c *Config) { c.DetectWorkers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"gps_tolerance_m": 25,
		"iou_threshold": 0.5
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.GPSToleranceM)
	assert.Equal(t, 0.5, cfg.IoUThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5.0, cfg.TemporalToleranceS)
	assert.Equal(t, 1000, cfg.MaxFrames)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gps_tolerance_m": -5}`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
