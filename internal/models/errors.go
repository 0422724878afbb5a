package models

import "fmt"

// FailureKind classifies job-level failures for the surrounding job tracker.
type FailureKind string

const (
	FailureNoFrames     FailureKind = "no_frames"
	FailureBadConfig    FailureKind = "bad_config"
	FailureTooManySkips FailureKind = "too_many_skipped_frames"
	FailureCancelled    FailureKind = "cancelled"
	FailureDetection    FailureKind = "detection"
	FailureFrameSource  FailureKind = "frame_source"
	FailureStorage      FailureKind = "storage"
)

// JobError is a structured job failure: a kind the caller can branch on plus
// human-readable context.
type JobError struct {
	Kind    FailureKind
	Context string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *JobError) Unwrap() error { return e.Err }

// NewJobError builds a JobError wrapping an optional cause.
func NewJobError(kind FailureKind, context string, err error) *JobError {
	return &JobError{Kind: kind, Context: context, Err: err}
}
