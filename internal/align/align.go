package align

import (
	"log/slog"
	"math"

	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/geo"
	"github.com/roadscan/roadscan/internal/models"
)

// Match confidences reflect which criterion produced a pair.
const (
	confidenceGPS          = 1.0
	confidenceTemporal     = 0.6
	confidenceProportional = 0.3
)

// Engine matches base-video frames to present-video frames. Matching is
// forward-only: once a present frame is consumed it is excluded from all
// later pairs, so pairs never cross.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewEngine creates an alignment engine with the given configuration.
func NewEngine(cfg config.Config, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Align pairs the two frame sequences. Empty input on either side is a
// fatal job error; zero resulting pairs is not.
func (e *Engine) Align(base, present []models.FrameRecord) ([]models.AlignedPair, error) {
	if len(base) == 0 {
		return nil, models.NewJobError(models.FailureNoFrames, "no frames in base video", nil)
	}
	if len(present) == 0 {
		return nil, models.NewJobError(models.FailureNoFrames, "no frames in present video", nil)
	}

	if !hasGPS(base, present) && !hasTimestamps(base, present) {
		e.logger.Debug("no usable GPS or timestamps, falling back to proportional alignment",
			"base_frames", len(base), "present_frames", len(present))
		return e.alignProportional(base, present), nil
	}

	pairs := []models.AlignedPair{}
	next := 0 // first unconsumed present index
	for _, bf := range base {
		if next >= len(present) {
			break
		}

		if pair, j, ok := e.matchGPS(bf, present, next); ok {
			pair.PairIndex = len(pairs)
			pairs = append(pairs, pair)
			next = j + 1
			continue
		}
		if pair, j, ok := e.matchTemporal(bf, present, next); ok {
			pair.PairIndex = len(pairs)
			pairs = append(pairs, pair)
			next = j + 1
			continue
		}
		// No acceptable match for this base frame; leave the present
		// cursor where it is and move on.
	}

	e.logger.Info("frame alignment complete",
		"pairs", len(pairs), "base_frames", len(base), "present_frames", len(present))
	return pairs, nil
}

// matchGPS finds the unconsumed present frame nearest to the base frame's
// fix within the search window, accepted only under the distance tolerance.
func (e *Engine) matchGPS(bf models.FrameRecord, present []models.FrameRecord, next int) (models.AlignedPair, int, bool) {
	if bf.GPS == nil {
		return models.AlignedPair{}, 0, false
	}

	end := next + e.cfg.GPSSearchWindow
	if end > len(present) {
		end = len(present)
	}

	bestIdx := -1
	bestDist := math.Inf(1)
	for j := next; j < end; j++ {
		if present[j].GPS == nil {
			continue
		}
		d := geo.DistanceM(*bf.GPS, *present[j].GPS)
		if d < bestDist {
			bestDist = d
			bestIdx = j
		}
	}
	if bestIdx < 0 || bestDist > e.cfg.GPSToleranceM {
		return models.AlignedPair{}, 0, false
	}

	return models.AlignedPair{
		Base:            bf,
		Present:         present[bestIdx],
		Method:          models.AlignGPS,
		MatchConfidence: confidenceGPS,
		GPSDistanceM:    bestDist,
	}, bestIdx, true
}

// matchTemporal finds the unconsumed present frame with the smallest
// timestamp difference, bounded by the temporal tolerance. Timestamps are
// monotonic, so the scan stops once candidates pass the tolerance.
func (e *Engine) matchTemporal(bf models.FrameRecord, present []models.FrameRecord, next int) (models.AlignedPair, int, bool) {
	bestIdx := -1
	bestDelta := math.Inf(1)
	for j := next; j < len(present); j++ {
		delta := math.Abs(bf.Timestamp - present[j].Timestamp)
		if delta < bestDelta {
			bestDelta = delta
			bestIdx = j
		}
		if present[j].Timestamp > bf.Timestamp+e.cfg.TemporalToleranceS {
			break
		}
	}
	if bestIdx < 0 || bestDelta > e.cfg.TemporalToleranceS {
		return models.AlignedPair{}, 0, false
	}

	return models.AlignedPair{
		Base:            bf,
		Present:         present[bestIdx],
		Method:          models.AlignTemporal,
		MatchConfidence: confidenceTemporal,
		TimeDeltaS:      bestDelta,
	}, bestIdx, true
}

// alignProportional maps base index i to present index
// round(i*(Np-1)/(Nb-1)), pairing each present index at most once. The
// result always has min(Nb, Np) pairs, monotonic in both sequences.
func (e *Engine) alignProportional(base, present []models.FrameRecord) []models.AlignedPair {
	pairs := []models.AlignedPair{}
	lastJ := -1
	for i, bf := range base {
		j := 0
		if len(base) > 1 && len(present) > 1 {
			j = int(math.Round(float64(i) * float64(len(present)-1) / float64(len(base)-1)))
		}
		if j <= lastJ {
			continue
		}
		pairs = append(pairs, models.AlignedPair{
			PairIndex:       len(pairs),
			Base:            bf,
			Present:         present[j],
			Method:          models.AlignProportional,
			MatchConfidence: confidenceProportional,
		})
		lastJ = j
	}
	return pairs
}

func hasGPS(base, present []models.FrameRecord) bool {
	return anyGPS(base) && anyGPS(present)
}

func anyGPS(frames []models.FrameRecord) bool {
	for _, f := range frames {
		if f.GPS != nil {
			return true
		}
	}
	return false
}

func hasTimestamps(base, present []models.FrameRecord) bool {
	return anyTimestamp(base) && anyTimestamp(present)
}

func anyTimestamp(frames []models.FrameRecord) bool {
	for _, f := range frames {
		if f.Timestamp > 0 {
			return true
		}
	}
	return false
}
