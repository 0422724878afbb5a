package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/models"
)

func det(elem models.ElementType, x1, y1, x2, y2, conf float64) models.Detection {
	return models.Detection{
		ElementType: elem,
		BBox:        models.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence:  conf,
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     models.BBox
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			expected: 1.0,
		},
		{
			name:     "disjoint boxes",
			a:        models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        models.BBox{X1: 20, Y1: 20, X2: 30, Y2: 30},
			expected: 0,
		},
		{
			name:     "touching edges",
			a:        models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:        models.BBox{X1: 10, Y1: 0, X2: 20, Y2: 10},
			expected: 0,
		},
		{
			name: "contained box",
			a:    models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
			b:    models.BBox{X1: 1, Y1: 1, X2: 9, Y2: 9},
			// 64 / 100
			expected: 0.64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.a, tt.b), 1e-9)
		})
	}
}

func TestDetectChangesMatchedPair(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{PairIndex: 3}

	base := []models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9)}
	present := []models.Detection{det(models.ElementPavementCrack, 1, 1, 9, 9, 0.95)}

	records := d.DetectChanges(pair, base, present)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 3, rec.PairIndex)
	assert.Equal(t, models.ElementPavementCrack, rec.ElementType)
	// Confidence delta of 0.05 sits inside the default epsilon band.
	assert.Equal(t, models.ChangeUnchanged, rec.Kind)
	require.NotNil(t, rec.Base)
	require.NotNil(t, rec.Present)
}

func TestDetectChangesWorsenedAndImproved(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{}

	records := d.DetectChanges(pair,
		[]models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.5)},
		[]models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9)},
	)
	require.Len(t, records, 1)
	assert.Equal(t, models.ChangeWorsened, records[0].Kind)

	records = d.DetectChanges(pair,
		[]models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9)},
		[]models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.5)},
	)
	require.Len(t, records, 1)
	assert.Equal(t, models.ChangeImproved, records[0].Kind)
}

func TestDetectChangesResolvedAndNew(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{}

	base := []models.Detection{det(models.ElementMissingStud, 0, 0, 10, 10, 0.8)}
	present := []models.Detection{det(models.ElementMissingStud, 500, 500, 520, 520, 0.7)}

	records := d.DetectChanges(pair, base, present)
	require.Len(t, records, 2)

	byKind := map[models.ChangeKind]models.ChangeRecord{}
	for _, rec := range records {
		byKind[rec.Kind] = rec
	}

	resolved, ok := byKind[models.ChangeResolved]
	require.True(t, ok)
	require.NotNil(t, resolved.Base)
	assert.Nil(t, resolved.Present)

	added, ok := byKind[models.ChangeNew]
	require.True(t, ok)
	require.NotNil(t, added.Present)
	assert.Nil(t, added.Base)
}

func TestDetectChangesNeverMatchesAcrossTypes(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{}

	// Perfect overlap but different element types.
	base := []models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9)}
	present := []models.Detection{det(models.ElementFadedMarking, 0, 0, 10, 10, 0.9)}

	records := d.DetectChanges(pair, base, present)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Contains(t, []models.ChangeKind{models.ChangeResolved, models.ChangeNew}, rec.Kind)
	}
}

func TestDetectChangesGreedyHighestIoUFirst(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{}

	// Base 0 overlaps present 0 weakly and present 1 strongly; base 1
	// overlaps present 1 weakly. Global greedy must give present 1 to
	// base 0, regardless of iteration order.
	base := []models.Detection{
		det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9),
		det(models.ElementPavementCrack, 6, 0, 16, 10, 0.9),
	}
	present := []models.Detection{
		det(models.ElementPavementCrack, 4, 0, 14, 10, 0.9),
		det(models.ElementPavementCrack, 1, 0, 11, 10, 0.9),
	}

	records := d.DetectChanges(pair, base, present)
	require.Len(t, records, 2)
	for _, rec := range records {
		if rec.Base != nil && rec.Base.BBox.X1 == 0 {
			require.NotNil(t, rec.Present)
			assert.Equal(t, 1.0, rec.Present.BBox.X1)
		}
	}
}

func TestDetectChangesEmptyInputs(t *testing.T) {
	d := NewDetector(config.Default())
	records := d.DetectChanges(models.AlignedPair{}, nil, nil)
	assert.Empty(t, records)
}

func TestDetectChangesOneRecordPerDetection(t *testing.T) {
	d := NewDetector(config.Default())
	pair := models.AlignedPair{}

	base := []models.Detection{
		det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9),
		det(models.ElementDamagedSign, 50, 50, 60, 60, 0.7),
		det(models.ElementFadedMarking, 100, 100, 110, 110, 0.6),
	}
	present := []models.Detection{
		det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9),
		det(models.ElementVRUObstruction, 200, 200, 220, 220, 0.8),
	}

	records := d.DetectChanges(pair, base, present)
	// One matched pair plus two resolved plus one new.
	require.Len(t, records, 4)

	for _, rec := range records {
		switch rec.Kind {
		case models.ChangeNew:
			assert.Nil(t, rec.Base)
			assert.NotNil(t, rec.Present)
		case models.ChangeResolved:
			assert.NotNil(t, rec.Base)
			assert.Nil(t, rec.Present)
		default:
			assert.NotNil(t, rec.Base)
			assert.NotNil(t, rec.Present)
		}
	}
}

func TestRecordGPSFallsBackToFrame(t *testing.T) {
	d := NewDetector(config.Default())
	frameFix := &models.GPS{Lat: 1, Lon: 2}
	pair := models.AlignedPair{Present: models.FrameRecord{GPS: frameFix}}

	records := d.DetectChanges(pair, nil,
		[]models.Detection{det(models.ElementPavementCrack, 0, 0, 10, 10, 0.9)})
	require.Len(t, records, 1)
	require.NotNil(t, records[0].GPS)
	assert.Equal(t, *frameFix, *records[0].GPS)
}
