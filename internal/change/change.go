package change

import (
	"math"
	"sort"

	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/models"
)

// Detector compares the detection sets of an aligned pair and emits one
// change record per detection on either side.
type Detector struct {
	cfg config.Config
}

// NewDetector creates a change detector with the given configuration.
func NewDetector(cfg config.Config) *Detector {
	return &Detector{cfg: cfg}
}

// candidate is one potential (base, present) association.
type candidate struct {
	baseIdx    int
	presentIdx int
	iou        float64
}

// DetectChanges classifies every detection of the pair as new, worsened,
// improved, resolved, or unchanged. Detections of different element types
// are never matched to each other.
func (d *Detector) DetectChanges(pair models.AlignedPair, baseDets, presentDets []models.Detection) []models.ChangeRecord {
	// Collect candidates across the whole pair, then consume greedily by
	// descending IoU with index tie-breaks, so results do not depend on
	// the order detections arrive in.
	var candidates []candidate
	for bi, bd := range baseDets {
		for pi, pd := range presentDets {
			if bd.ElementType != pd.ElementType {
				continue
			}
			iou := IoU(bd.BBox, pd.BBox)
			if iou > d.cfg.IoUThreshold {
				candidates = append(candidates, candidate{baseIdx: bi, presentIdx: pi, iou: iou})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		if candidates[i].baseIdx != candidates[j].baseIdx {
			return candidates[i].baseIdx < candidates[j].baseIdx
		}
		return candidates[i].presentIdx < candidates[j].presentIdx
	})

	usedBase := make(map[int]bool)
	usedPresent := make(map[int]bool)
	type match struct{ baseIdx, presentIdx int }
	var matches []match
	for _, c := range candidates {
		if usedBase[c.baseIdx] || usedPresent[c.presentIdx] {
			continue
		}
		usedBase[c.baseIdx] = true
		usedPresent[c.presentIdx] = true
		matches = append(matches, match{c.baseIdx, c.presentIdx})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].baseIdx < matches[j].baseIdx })

	records := []models.ChangeRecord{}

	for _, m := range matches {
		bd := baseDets[m.baseIdx]
		pd := presentDets[m.presentIdx]
		records = append(records, models.ChangeRecord{
			PairIndex:   pair.PairIndex,
			ElementType: bd.ElementType,
			Kind:        d.classify(bd, pd),
			Base:        &bd,
			Present:     &pd,
			GPS:         bestGPS(pd.GPS, bd.GPS, pair),
		})
	}

	// Unmatched base detections were present before and are gone now.
	for bi, bd := range baseDets {
		if usedBase[bi] {
			continue
		}
		records = append(records, models.ChangeRecord{
			PairIndex:   pair.PairIndex,
			ElementType: bd.ElementType,
			Kind:        models.ChangeResolved,
			Base:        &bd,
			GPS:         bestGPS(bd.GPS, nil, pair),
		})
	}

	// Unmatched present detections are new issues.
	for pi, pd := range presentDets {
		if usedPresent[pi] {
			continue
		}
		records = append(records, models.ChangeRecord{
			PairIndex:   pair.PairIndex,
			ElementType: pd.ElementType,
			Kind:        models.ChangeNew,
			Present:     &pd,
			GPS:         bestGPS(pd.GPS, nil, pair),
		})
	}

	return records
}

// classify compares the raw severity signal of a matched detection pair.
// Higher present-side signal means the issue got worse.
func (d *Detector) classify(base, present models.Detection) models.ChangeKind {
	delta := d.Signal(present) - d.Signal(base)
	switch {
	case math.Abs(delta) <= d.cfg.ChangeEpsilon:
		return models.ChangeUnchanged
	case delta > 0:
		return models.ChangeWorsened
	default:
		return models.ChangeImproved
	}
}

// Signal is the pre-weighting severity signal of a single detection:
// confidence blended with normalized bbox area.
func (d *Detector) Signal(det models.Detection) float64 {
	area := det.BBox.Area() / d.cfg.FrameAreaPx
	if area > 1 {
		area = 1
	}
	return det.Confidence*0.6 + area*0.4
}

// IoU computes intersection over union of two boxes, zero when disjoint.
func IoU(a, b models.BBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// bestGPS picks the best-available location for a record: the detection's
// own fix, then the other side's, then either frame of the pair.
func bestGPS(primary, secondary *models.GPS, pair models.AlignedPair) *models.GPS {
	if primary != nil {
		return primary
	}
	if secondary != nil {
		return secondary
	}
	if pair.Present.GPS != nil {
		return pair.Present.GPS
	}
	return pair.Base.GPS
}
