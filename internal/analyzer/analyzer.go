package analyzer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roadscan/roadscan/internal/aggregate"
	"github.com/roadscan/roadscan/internal/align"
	"github.com/roadscan/roadscan/internal/change"
	"github.com/roadscan/roadscan/internal/config"
	"github.com/roadscan/roadscan/internal/detect"
	"github.com/roadscan/roadscan/internal/models"
	"github.com/roadscan/roadscan/internal/severity"
)

const retryBaseDelay = 200 * time.Millisecond

// Processor runs one analysis job end to end: alignment, per-pair
// detection, change classification, scoring, and aggregation. A Processor
// holds no state between runs; concurrent Run calls are independent.
type Processor struct {
	cfg        config.Config
	detector   detect.Detector
	aligner    *align.Engine
	changes    *change.Detector
	scorer     *severity.Scorer
	aggregator *aggregate.Aggregator
	logger     *slog.Logger

	mu       sync.Mutex
	progress func(percent int)
}

// NewProcessor wires the pipeline components around the given detector and
// segment definitions.
func NewProcessor(cfg config.Config, detector detect.Detector, segments []models.RoadSegment, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		detector:   detector,
		aligner:    align.NewEngine(cfg, logger),
		changes:    change.NewDetector(cfg),
		scorer:     severity.NewScorer(cfg),
		aggregator: aggregate.NewAggregator(cfg, segments),
		logger:     logger,
	}
}

// OnProgress registers a callback invoked at pipeline milestones with a
// monotonic 0-100 percentage.
func (p *Processor) OnProgress(fn func(percent int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = fn
}

func (p *Processor) reportProgress(percent int) {
	p.mu.Lock()
	fn := p.progress
	p.mu.Unlock()
	if fn != nil {
		fn(percent)
	}
}

// Run executes the full pipeline over the two frame sequences. An empty
// analysisID gets a fresh UUID. Zero pairs, zero detections, and zero
// changes are success states; missing frames and excessive skipped pairs
// are job failures.
func (p *Processor) Run(ctx context.Context, analysisID string, base, present []models.FrameRecord) (*models.AnalysisResult, error) {
	if analysisID == "" {
		analysisID = uuid.NewString()
	}
	if len(base) == 0 {
		return nil, models.NewJobError(models.FailureNoFrames, "no frames in base video", nil)
	}
	if len(present) == 0 {
		return nil, models.NewJobError(models.FailureNoFrames, "no frames in present video", nil)
	}
	p.reportProgress(models.ProgressFramesReady)

	pairs, err := p.aligner.Align(base, present)
	if err != nil {
		return nil, err
	}
	p.reportProgress(models.ProgressAligned)

	recordsByPair := make([][]models.ChangeRecord, len(pairs))
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DetectWorkers)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			records, err := p.processPair(gctx, pair)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("pair dropped after retries",
					"pair_index", pair.PairIndex, "error", err)
				skipped.Add(1)
				return nil
			}
			recordsByPair[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, models.NewJobError(models.FailureCancelled, "analysis cancelled", ctx.Err())
		}
		return nil, models.NewJobError(models.FailureDetection, "detection failed", err)
	}

	if len(pairs) > 0 {
		ratio := float64(skipped.Load()) / float64(len(pairs))
		if ratio > p.cfg.MaxSkippedRatio {
			return nil, models.NewJobError(models.FailureTooManySkips,
				"skipped pair ratio exceeds configured maximum", nil)
		}
	}
	p.reportProgress(models.ProgressDetected)

	var allRecords []models.ChangeRecord
	for _, records := range recordsByPair {
		allRecords = append(allRecords, records...)
	}

	agg := p.aggregator.Aggregate(allRecords)
	p.reportProgress(models.ProgressAggregated)

	result := &models.AnalysisResult{
		AnalysisID: analysisID,
		Pairs:      pairs,
		Changes:    allRecords,
		Segments:   agg.Segments,
		Summary:    agg.Summary,
		Heatmap:    agg.Heatmap,
		CreatedAt:  time.Now().UTC(),
	}
	p.reportProgress(models.ProgressDone)

	p.logger.Info("analysis complete",
		"analysis_id", result.AnalysisID,
		"pairs", len(pairs),
		"changes", len(allRecords),
		"total_issues", agg.Summary.TotalIssues,
		"severe_issues", agg.Summary.SevereIssues)
	return result, nil
}

// processPair detects both sides of one pair, classifies the differences,
// and scores the resulting records.
func (p *Processor) processPair(ctx context.Context, pair models.AlignedPair) ([]models.ChangeRecord, error) {
	baseDets, err := p.detectWithRetry(ctx, pair.Base)
	if err != nil {
		return nil, err
	}
	presentDets, err := p.detectWithRetry(ctx, pair.Present)
	if err != nil {
		return nil, err
	}

	records := p.changes.DetectChanges(pair, baseDets, presentDets)
	return p.scorer.ScoreAll(records), nil
}

// detectWithRetry calls the detection provider with bounded exponential
// backoff. Cancellation aborts the backoff wait immediately.
func (p *Processor) detectWithRetry(ctx context.Context, frame models.FrameRecord) ([]models.Detection, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= p.cfg.DetectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		dets, err := p.detector.Detect(ctx, frame)
		if err == nil {
			return dets, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
