package detect

import (
	"context"

	"github.com/roadscan/roadscan/internal/models"
)

// Detector is the detection-provider boundary. Implementations may be slow
// and fallible; callers treat every invocation as a potentially failing
// network call. Implementations must be safe for concurrent independent
// invocations.
type Detector interface {
	// Detect returns the detections for one frame. The returned
	// detections carry the frame's index and GPS fix.
	Detect(ctx context.Context, frame models.FrameRecord) ([]models.Detection, error)
}

// StaticDetector serves pre-recorded detections keyed by frame index. Used
// for replay runs and tests.
type StaticDetector struct {
	ByIndex map[int][]models.Detection
	// Fail lists frame indices whose lookups return FailErr.
	Fail    map[int]bool
	FailErr error
}

// Detect returns the stored detections for the frame, stamped with the
// frame's index and GPS.
func (s *StaticDetector) Detect(_ context.Context, frame models.FrameRecord) ([]models.Detection, error) {
	if s.Fail[frame.Index] {
		return nil, s.FailErr
	}
	dets := s.ByIndex[frame.Index]
	out := make([]models.Detection, len(dets))
	for i, d := range dets {
		d.FrameIndex = frame.Index
		if d.GPS == nil {
			d.GPS = frame.GPS
		}
		out[i] = d
	}
	return out, nil
}
