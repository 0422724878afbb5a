package severity

import (
	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/models"
)

// Scorer assigns a severity score and category to change records. Weights,
// multipliers, and category cut points all come from injected configuration
// so the heuristic can be tuned without code changes.
type Scorer struct {
	cfg config.Config
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(cfg config.Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score fills in SeverityScore and SeverityCategory on the record and
// returns it. Resolved records are scored from the base detection so the
// audit trail keeps the severity of what was fixed.
func (s *Scorer) Score(rec models.ChangeRecord) models.ChangeRecord {
	det := rec.Present
	if det == nil {
		det = rec.Base
	}
	if det == nil {
		rec.SeverityScore = 0
		rec.SeverityCategory = models.SeverityMinor
		return rec
	}

	weight, ok := s.cfg.ElementWeights[rec.ElementType]
	if !ok {
		weight = 1.0
	}
	multiplier, ok := s.cfg.KindMultipliers[rec.Kind]
	if !ok {
		multiplier = 1.0
	}

	score := det.Confidence * weight * multiplier * 10
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	rec.SeverityScore = score
	rec.SeverityCategory = s.Categorize(score)
	return rec
}

// ScoreAll scores a batch of records, preserving input order.
func (s *Scorer) ScoreAll(records []models.ChangeRecord) []models.ChangeRecord {
	out := make([]models.ChangeRecord, len(records))
	for i, rec := range records {
		out[i] = s.Score(rec)
	}
	return out
}

// Categorize buckets a continuous score into minor/moderate/severe using
// the configured cut points.
func (s *Scorer) Categorize(score float64) models.SeverityCategory {
	switch {
	case score < s.cfg.SeverityLow:
		return models.SeverityMinor
	case score < s.cfg.SeverityHigh:
		return models.SeverityModerate
	default:
		return models.SeveritySevere
	}
}
