package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/roadscan/roadscan/internal/models"
)

// Config holds every tunable of the analysis core. It is loaded and
// validated once, then treated as immutable by all components.
type Config struct {
	// Alignment
	GPSToleranceM      float64 `json:"gps_tolerance_m"`
	TemporalToleranceS float64 `json:"temporal_tolerance_s"`
	GPSSearchWindow    int     `json:"gps_search_window"`

	// Frame extraction
	FrameFPS  float64 `json:"frame_fps"`
	MaxFrames int     `json:"max_frames"`

	// Change detection
	IoUThreshold  float64 `json:"iou_threshold"`
	ChangeEpsilon float64 `json:"change_epsilon"`
	FrameAreaPx   float64 `json:"frame_area_px"` // normalization base for bbox areas

	// Severity scoring
	ElementWeights  map[models.ElementType]float64 `json:"element_weights"`
	KindMultipliers map[models.ChangeKind]float64  `json:"kind_multipliers"`
	SeverityLow     float64                        `json:"severity_low"`  // below: minor
	SeverityHigh    float64                        `json:"severity_high"` // below: moderate, else severe

	// Aggregation
	SegmentSlackM float64 `json:"segment_slack_m"` // nearest-segment fallback radius

	// Job control
	MaxSkippedRatio float64 `json:"max_skipped_ratio"`
	DetectRetries   int     `json:"detect_retries"`
	DetectWorkers   int     `json:"detect_workers"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		GPSToleranceM:      50,
		TemporalToleranceS: 5,
		GPSSearchWindow:    120,
		FrameFPS:           1,
		MaxFrames:          1000,
		IoUThreshold:       0.3,
		ChangeEpsilon:      0.1,
		FrameAreaPx:        1280 * 720,
		ElementWeights: map[models.ElementType]float64{
			models.ElementPavementCrack:   1.0,
			models.ElementFadedMarking:    0.7,
			models.ElementMissingStud:     1.3,
			models.ElementDamagedSign:     1.1,
			models.ElementFurnitureDamage: 0.8,
			models.ElementVRUObstruction:  1.2,
		},
		KindMultipliers: map[models.ChangeKind]float64{
			models.ChangeNew:       1.0,
			models.ChangeWorsened:  1.1,
			models.ChangeUnchanged: 0.6,
			models.ChangeImproved:  0.4,
			models.ChangeResolved:  0.5,
		},
		SeverityLow:     3.0,
		SeverityHigh:    6.5,
		SegmentSlackM:   100,
		MaxSkippedRatio: 0.5,
		DetectRetries:   2,
		DetectWorkers:   4,
	}
}

// Load reads a JSON config file and overlays it on the defaults. Missing
// keys keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file '%s': %v", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file '%s': %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks all numeric ranges once at load time so components never
// have to re-check per call.
func (c Config) Validate() error {
	if c.GPSToleranceM <= 0 {
		return fmt.Errorf("gps_tolerance_m must be positive, got %v", c.GPSToleranceM)
	}
	if c.TemporalToleranceS <= 0 {
		return fmt.Errorf("temporal_tolerance_s must be positive, got %v", c.TemporalToleranceS)
	}
	if c.GPSSearchWindow <= 0 {
		return fmt.Errorf("gps_search_window must be positive, got %d", c.GPSSearchWindow)
	}
	if c.FrameFPS <= 0 {
		return fmt.Errorf("frame_fps must be positive, got %v", c.FrameFPS)
	}
	if c.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be positive, got %d", c.MaxFrames)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold >= 1 {
		return fmt.Errorf("iou_threshold must be in (0,1), got %v", c.IoUThreshold)
	}
	if c.ChangeEpsilon < 0 {
		return fmt.Errorf("change_epsilon must not be negative, got %v", c.ChangeEpsilon)
	}
	if c.FrameAreaPx <= 0 {
		return fmt.Errorf("frame_area_px must be positive, got %v", c.FrameAreaPx)
	}
	if len(c.ElementWeights) == 0 {
		return fmt.Errorf("element_weights must not be empty")
	}
	for elem, w := range c.ElementWeights {
		if w < 0 {
			return fmt.Errorf("element weight for %s must not be negative, got %v", elem, w)
		}
	}
	if len(c.KindMultipliers) == 0 {
		return fmt.Errorf("kind_multipliers must not be empty")
	}
	for kind, m := range c.KindMultipliers {
		if m < 0 {
			return fmt.Errorf("kind multiplier for %s must not be negative, got %v", kind, m)
		}
	}
	if c.SeverityLow <= 0 || c.SeverityHigh <= c.SeverityLow {
		return fmt.Errorf("severity thresholds must satisfy 0 < low < high, got low=%v high=%v", c.SeverityLow, c.SeverityHigh)
	}
	if c.SegmentSlackM <= 0 {
		return fmt.Errorf("segment_slack_m must be positive, got %v", c.SegmentSlackM)
	}
	if c.MaxSkippedRatio < 0 || c.MaxSkippedRatio > 1 {
		return fmt.Errorf("max_skipped_ratio must be in [0,1], got %v", c.MaxSkippedRatio)
	}
	if c.DetectRetries < 0 {
		return fmt.Errorf("detect_retries must not be negative, got %d", c.DetectRetries)
	}
	if c.DetectWorkers <= 0 {
		return fmt.Errorf("detect_workers must be positive, got %d", c.DetectWorkers)
	}
	return nil
}
