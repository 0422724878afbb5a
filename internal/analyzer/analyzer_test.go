package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/detect"
	"github.com/roadscan/roadscan/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frames(n int, withGPS bool) []models.FrameRecord {
	out := make([]models.FrameRecord, n)
	for i := range out {
		out[i] = models.FrameRecord{Index: i, Timestamp: float64(i)}
		if withGPS {
			out[i].GPS = &models.GPS{Lat: 0, Lon: float64(i) * 0.0001}
		}
	}
	return out
}

// flakyDetector fails the first failures calls, then succeeds.
type flakyDetector struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyDetector) Detect(_ context.Context, frame models.FrameRecord) ([]models.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient provider error")
	}
	return nil, nil
}

func TestRunEndToEnd(t *testing.T) {
	cfg := config.Default()
	detector := &detect.StaticDetector{
		ByIndex: map[int][]models.Detection{
			0: {{ElementType: models.ElementPavementCrack, BBox: models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9}},
			1: {{ElementType: models.ElementPavementCrack, BBox: models.BBox{X1: 1, Y1: 1, X2: 9, Y2: 9}, Confidence: 0.95}},
		},
	}

	p := NewProcessor(cfg, detector, nil, discardLogger())

	base := []models.FrameRecord{{Index: 0, Timestamp: 0, GPS: &models.GPS{Lat: 0, Lon: 0}}}
	present := []models.FrameRecord{{Index: 1, Timestamp: 0, GPS: &models.GPS{Lat: 0, Lon: 0.0001}}}

	result, err := p.Run(context.Background(), "job-1", base, present)
	require.NoError(t, err)

	assert.Equal(t, "job-1", result.AnalysisID)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 1.0, result.Pairs[0].MatchConfidence)

	// Overlapping same-type detections produce one record, never a
	// new/resolved pair.
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ChangeUnchanged, result.Changes[0].Kind)
	assert.Equal(t, 1, result.Summary.TotalIssues)
}

func TestRunProgressMilestones(t *testing.T) {
	p := NewProcessor(config.Default(), &detect.StaticDetector{}, nil, discardLogger())

	var mu sync.Mutex
	var seen []int
	p.OnProgress(func(percent int) {
		mu.Lock()
		seen = append(seen, percent)
		mu.Unlock()
	})

	_, err := p.Run(context.Background(), "", frames(3, false), frames(3, false))
	require.NoError(t, err)

	require.Equal(t, []int{
		models.ProgressFramesReady,
		models.ProgressAligned,
		models.ProgressDetected,
		models.ProgressAggregated,
		models.ProgressDone,
	}, seen)
}

func TestRunNoFramesIsFatal(t *testing.T) {
	p := NewProcessor(config.Default(), &detect.StaticDetector{}, nil, discardLogger())

	_, err := p.Run(context.Background(), "", frames(3, false), nil)
	var jobErr *models.JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.FailureNoFrames, jobErr.Kind)

	_, err = p.Run(context.Background(), "", nil, frames(3, false))
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.FailureNoFrames, jobErr.Kind)
}

func TestRunZeroDetectionsIsSuccess(t *testing.T) {
	p := NewProcessor(config.Default(), &detect.StaticDetector{}, nil, discardLogger())

	result, err := p.Run(context.Background(), "", frames(4, false), frames(4, false))
	require.NoError(t, err)
	assert.Len(t, result.Pairs, 4)
	assert.Empty(t, result.Changes)
	assert.Equal(t, 0, result.Summary.TotalIssues)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	cfg := config.Default()
	cfg.DetectRetries = 2

	// First call fails, retry succeeds; the pair is kept.
	detector := &flakyDetector{failures: 1}
	p := NewProcessor(cfg, detector, nil, discardLogger())

	result, err := p.Run(context.Background(), "", frames(1, false), frames(1, false))
	require.NoError(t, err)
	assert.Len(t, result.Pairs, 1)
}

func TestRunSkippedRatioEscalates(t *testing.T) {
	cfg := config.Default()
	cfg.DetectRetries = 0
	cfg.MaxSkippedRatio = 0.5

	detector := &detect.StaticDetector{
		Fail:    map[int]bool{0: true, 1: true, 2: true},
		FailErr: errors.New("provider down"),
	}
	p := NewProcessor(cfg, detector, nil, discardLogger())

	_, err := p.Run(context.Background(), "", frames(3, false), frames(3, false))
	var jobErr *models.JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.FailureTooManySkips, jobErr.Kind)
}

func TestRunDroppedPairsBelowRatioSucceed(t *testing.T) {
	cfg := config.Default()
	cfg.DetectRetries = 0
	cfg.MaxSkippedRatio = 0.5

	// Present frames carry distinct indices so the detector can serve the
	// two videos differently.
	present := frames(4, false)
	for i := range present {
		present[i].Index += 10
	}

	detector := &detect.StaticDetector{
		ByIndex: map[int][]models.Detection{
			0: {{ElementType: models.ElementMissingStud, BBox: models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.8}},
		},
		Fail:    map[int]bool{3: true},
		FailErr: errors.New("provider down"),
	}
	p := NewProcessor(cfg, detector, nil, discardLogger())

	result, err := p.Run(context.Background(), "", frames(4, false), present)
	require.NoError(t, err)

	// The failing pair is dropped; the rest still produce records.
	require.Len(t, result.Pairs, 4)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ChangeResolved, result.Changes[0].Kind)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(config.Default(), &detect.StaticDetector{}, nil, discardLogger())

	_, err := p.Run(ctx, "", frames(10, false), frames(10, false))
	var jobErr *models.JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.FailureCancelled, jobErr.Kind)
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := config.Default()
	detector := &detect.StaticDetector{
		ByIndex: map[int][]models.Detection{
			0: {
				{ElementType: models.ElementPavementCrack, BBox: models.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9},
				{ElementType: models.ElementDamagedSign, BBox: models.BBox{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.7},
			},
			1: {
				{ElementType: models.ElementPavementCrack, BBox: models.BBox{X1: 1, Y1: 1, X2: 9, Y2: 9}, Confidence: 0.6},
			},
			2: {
				{ElementType: models.ElementMissingStud, BBox: models.BBox{X1: 5, Y1: 5, X2: 25, Y2: 25}, Confidence: 0.85},
			},
		},
	}

	run := func() *models.AnalysisResult {
		p := NewProcessor(cfg, detector, nil, discardLogger())
		result, err := p.Run(context.Background(), "fixed-id", frames(3, true), frames(3, true))
		require.NoError(t, err)
		return result
	}

	a := run()
	b := run()
	assert.Equal(t, a.Changes, b.Changes)
	assert.Equal(t, a.Segments, b.Segments)
	assert.Equal(t, a.Summary, b.Summary)
	assert.Equal(t, a.Pairs, b.Pairs)
}
