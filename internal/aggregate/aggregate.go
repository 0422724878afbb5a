package aggregate

import (
	"math"
	"sort"

	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/geo"
	"github.com/roadscan/roadscan/internal/models"
)

// Aggregator groups scored change records by road segment, element type,
// and severity. It is a pure function of its inputs: records are sorted
// deterministically before grouping and map iteration never reaches the
// output.
type Aggregator struct {
	segments []models.RoadSegment
	slackM   float64
}

// NewAggregator creates an aggregator over the given segment definitions,
// which may be empty.
func NewAggregator(cfg config.Config, segments []models.RoadSegment) *Aggregator {
	return &Aggregator{segments: segments, slackM: cfg.SegmentSlackM}
}

// Result is the aggregation output consumed by the result builder.
type Result struct {
	Segments []models.SegmentSummary
	Summary  models.OverallSummary
	Heatmap  []models.HeatmapPoint
}

// Aggregate partitions the records and computes all summary views. Resolved
// records are excluded from issue counts and reported separately.
func (a *Aggregator) Aggregate(records []models.ChangeRecord) Result {
	sorted := make([]models.ChangeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PairIndex != sorted[j].PairIndex {
			return sorted[i].PairIndex < sorted[j].PairIndex
		}
		if sorted[i].ElementType != sorted[j].ElementType {
			return sorted[i].ElementType < sorted[j].ElementType
		}
		return sorted[i].Kind < sorted[j].Kind
	})

	bySegment := map[string]*models.SegmentSummary{}
	segmentPoints := map[string][]models.GPS{}
	overall := models.OverallSummary{
		ByElement:      map[models.ElementType]models.SeverityCounts{},
		ResolvedIssues: map[models.ElementType]int{},
	}
	var allPoints []models.GPS
	var heatmap []models.HeatmapPoint

	for _, rec := range sorted {
		if rec.GPS != nil {
			allPoints = append(allPoints, *rec.GPS)
			heatmap = append(heatmap, models.HeatmapPoint{
				Lat:       rec.GPS.Lat,
				Lon:       rec.GPS.Lon,
				Intensity: rec.SeverityScore,
				Type:      rec.ElementType,
			})
		}

		if rec.Kind == models.ChangeResolved {
			overall.ResolvedIssues[rec.ElementType]++
			continue
		}

		segID, segName := a.assignSegment(rec.GPS)
		summary, ok := bySegment[segID]
		if !ok {
			summary = &models.SegmentSummary{
				SegmentID:   segID,
				SegmentName: segName,
				ByElement:   map[models.ElementType]models.SeverityCounts{},
			}
			bySegment[segID] = summary
		}

		summary.ByElement[rec.ElementType] = bump(summary.ByElement[rec.ElementType], rec.SeverityCategory)
		summary.TotalIssues++
		overall.ByElement[rec.ElementType] = bump(overall.ByElement[rec.ElementType], rec.SeverityCategory)
		overall.TotalIssues++
		if rec.SeverityCategory == models.SeveritySevere {
			summary.SevereCount++
			overall.SevereIssues++
		}
		if rec.GPS != nil {
			segmentPoints[segID] = append(segmentPoints[segID], *rec.GPS)
		}
	}

	overall.ElementTypes = len(overall.ByElement)
	overall.Bounds = geo.Bounds(allPoints)

	segments := make([]models.SegmentSummary, 0, len(bySegment))
	for id, summary := range bySegment {
		summary.Bounds = geo.Bounds(segmentPoints[id])
		segments = append(segments, *summary)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].SegmentID < segments[j].SegmentID })

	return Result{Segments: segments, Summary: overall, Heatmap: heatmap}
}

// assignSegment finds the segment containing the fix, falling back to the
// nearest segment centroid within the configured slack radius, then to the
// unsegmented bucket.
func (a *Aggregator) assignSegment(fix *models.GPS) (string, string) {
	if fix == nil || len(a.segments) == 0 {
		return models.UnsegmentedID, ""
	}

	for _, seg := range a.segments {
		if geo.Contains(seg.Polygon, *fix) {
			return seg.ID, seg.Name
		}
	}

	bestDist := math.Inf(1)
	bestID, bestName := models.UnsegmentedID, ""
	for _, seg := range a.segments {
		d := geo.DistanceM(geo.Centroid(seg.Polygon), *fix)
		if d < bestDist {
			bestDist = d
			bestID, bestName = seg.ID, seg.Name
		}
	}
	if bestDist > a.slackM {
		return models.UnsegmentedID, ""
	}
	return bestID, bestName
}

func bump(c models.SeverityCounts, cat models.SeverityCategory) models.SeverityCounts {
	switch cat {
	case models.SeverityMinor:
		c.Minor++
	case models.SeverityModerate:
		c.Moderate++
	case models.SeveritySevere:
		c.Severe++
	}
	return c
}
