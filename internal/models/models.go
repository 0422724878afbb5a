package models

import "time"

// GPS is a WGS84 latitude/longitude fix.
type GPS struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is an axis-aligned rectangle in pixel coordinates, X1 < X2 and Y1 < Y2.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the rectangle area, zero for degenerate boxes.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ElementType identifies a class of road infrastructure issue.
type ElementType string

const (
	ElementPavementCrack   ElementType = "pavement_crack"
	ElementFadedMarking    ElementType = "faded_marking"
	ElementMissingStud     ElementType = "missing_stud"
	ElementDamagedSign     ElementType = "damaged_sign"
	ElementFurnitureDamage ElementType = "roadside_furniture_damage"
	ElementVRUObstruction  ElementType = "vru_path_obstruction"
)

// ElementTypes lists every known element class in a fixed order.
var ElementTypes = []ElementType{
	ElementPavementCrack,
	ElementFadedMarking,
	ElementMissingStud,
	ElementDamagedSign,
	ElementFurnitureDamage,
	ElementVRUObstruction,
}

// FrameRecord is one extracted frame of a source video. Immutable once
// produced by the frame source.
type FrameRecord struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // seconds since video start
	ImagePath string  `json:"image_path,omitempty"`
	GPS       *GPS    `json:"gps,omitempty"`
}

// AlignmentMethod records which matching criterion produced an aligned pair.
type AlignmentMethod string

const (
	AlignGPS          AlignmentMethod = "gps"
	AlignTemporal     AlignmentMethod = "temporal"
	AlignProportional AlignmentMethod = "proportional"
)

// AlignedPair matches one base frame to one present frame.
type AlignedPair struct {
	PairIndex       int             `json:"pair_index"`
	Base            FrameRecord     `json:"base_frame"`
	Present         FrameRecord     `json:"present_frame"`
	Method          AlignmentMethod `json:"method"`
	MatchConfidence float64         `json:"match_confidence"`
	GPSDistanceM    float64         `json:"gps_distance_m,omitempty"`
	TimeDeltaS      float64         `json:"time_delta_s,omitempty"`
}

// Detection is one object reported by the detection provider for a frame.
type Detection struct {
	ElementType ElementType `json:"element_type"`
	BBox        BBox        `json:"bbox"`
	Confidence  float64     `json:"confidence"`
	FrameIndex  int         `json:"frame_index"`
	GPS         *GPS        `json:"gps,omitempty"`
}

// ChangeKind classifies how an issue differs between base and present.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangeWorsened  ChangeKind = "worsened"
	ChangeImproved  ChangeKind = "improved"
	ChangeResolved  ChangeKind = "resolved"
	ChangeUnchanged ChangeKind = "unchanged"
)

// SeverityCategory is the coarse severity bucket of a change record.
type SeverityCategory string

const (
	SeverityMinor    SeverityCategory = "minor"
	SeverityModerate SeverityCategory = "moderate"
	SeveritySevere   SeverityCategory = "severe"
)

// ChangeRecord is one classified difference (or persistence) of a single
// issue between a matched frame pair. Base is nil exactly for new records,
// Present is nil exactly for resolved records.
type ChangeRecord struct {
	PairIndex        int              `json:"pair_index"`
	ElementType      ElementType      `json:"element_type"`
	Kind             ChangeKind       `json:"change_kind"`
	Base             *Detection       `json:"base_detection,omitempty"`
	Present          *Detection       `json:"present_detection,omitempty"`
	SeverityScore    float64          `json:"severity_score"`
	SeverityCategory SeverityCategory `json:"severity_category"`
	GPS              *GPS             `json:"gps,omitempty"`
}

// RoadSegment is a named geographic region used to group issues.
type RoadSegment struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Polygon []GPS  `json:"polygon"`
}

// GPSBounds is a lat/lon envelope for map fitting.
type GPSBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// SeverityCounts holds per-category counts for one element type.
type SeverityCounts struct {
	Minor    int `json:"minor"`
	Moderate int `json:"moderate"`
	Severe   int `json:"severe"`
}

// Total sums the three buckets.
func (c SeverityCounts) Total() int {
	return c.Minor + c.Moderate + c.Severe
}

// UnsegmentedID is the implicit bucket for records that match no segment.
const UnsegmentedID = "unsegmented"

// SegmentSummary aggregates change records assigned to one road segment.
type SegmentSummary struct {
	SegmentID   string                         `json:"segment_id"`
	SegmentName string                         `json:"segment_name,omitempty"`
	ByElement   map[ElementType]SeverityCounts `json:"by_element"`
	TotalIssues int                            `json:"total_issues"`
	SevereCount int                            `json:"severe_issues"`
	Bounds      *GPSBounds                     `json:"bounds,omitempty"`
}

// OverallSummary is the run-level rollup across all segments.
type OverallSummary struct {
	TotalIssues    int                            `json:"total_issues"`
	SevereIssues   int                            `json:"severe_issues"`
	ElementTypes   int                            `json:"element_types"`
	ByElement      map[ElementType]SeverityCounts `json:"by_element"`
	ResolvedIssues map[ElementType]int            `json:"resolved_issues"`
	Bounds         *GPSBounds                     `json:"bounds,omitempty"`
}

// HeatmapPoint is one map intensity sample derived from a change record.
type HeatmapPoint struct {
	Lat       float64     `json:"lat"`
	Lon       float64     `json:"lon"`
	Intensity float64     `json:"intensity"`
	Type      ElementType `json:"type"`
}

// AnalysisResult is everything one run hands to the reporting layer.
type AnalysisResult struct {
	AnalysisID string           `json:"analysis_id"`
	Pairs      []AlignedPair    `json:"aligned_pairs"`
	Changes    []ChangeRecord   `json:"changes"`
	Segments   []SegmentSummary `json:"segments"`
	Summary    OverallSummary   `json:"summary"`
	Heatmap    []HeatmapPoint   `json:"heatmap"`
	CreatedAt  time.Time        `json:"created_at"`
}

// AnalysisStatus is the lifecycle state persisted for job polling.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Progress milestones reported by the orchestrator, in percent.
const (
	ProgressFramesReady = 10
	ProgressAligned     = 30
	ProgressDetected    = 80
	ProgressAggregated  = 90
	ProgressDone        = 100
)
