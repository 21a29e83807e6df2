// Package upload drives local export files through a remote target, one file at a time, with a
// resume-aware retry loop per file and a batch loop that stops on destination-wide failures.
package upload

import "context"

// Outcome is the result of uploading one file.
type Outcome int

const (
	// OutcomeSuccess means the file was uploaded and committed.
	OutcomeSuccess Outcome = iota
	// OutcomeSkipped means an identical-looking file already exists at the destination.
	OutcomeSkipped
	// OutcomeFailure means this file was given up on; the batch continues.
	OutcomeFailure
	// OutcomeSystemicFailure means the destination is unusable; the batch must stop.
	OutcomeSystemicFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailure:
		return "failure"
	case OutcomeSystemicFailure:
		return "systemic_failure"
	default:
		return "unknown"
	}
}

// FileUploader uploads a single local file to a target.
type FileUploader interface {
	UploadFile(ctx context.Context, sourcePath string) Outcome
}

// Observer receives per-file telemetry from the retry loop.
type Observer interface {
	FileFinished(outcome Outcome)
	AttemptResumed(stalled bool)
}

type noopObserver struct{}

func (noopObserver) FileFinished(Outcome) {}
func (noopObserver) AttemptResumed(bool)  {}
