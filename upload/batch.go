package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrSystemic is returned by RunBatch when a file failed in a way that makes the whole destination
// unusable.
var ErrSystemic = errors.New("systemic error, stopping")

// BatchReport lists what happened to each file of a batch. Files after an abort are in none of the
// lists.
type BatchReport struct {
	Uploaded []string
	Skipped  []string
	Failed   []string
	// Aborted is set when a systemic failure or cancellation stopped the batch early.
	Aborted bool
}

// Attempted returns the number of files the batch got to.
func (r BatchReport) Attempted() int {
	return len(r.Uploaded) + len(r.Skipped) + len(r.Failed)
}

// RunBatch uploads files sequentially. A file failure is logged and the batch moves on; a systemic
// failure stops the batch before the next file and returns ErrSystemic.
func RunBatch(ctx context.Context, uploader FileUploader, files []string, logger log.Logger) (BatchReport, error) {
	var report BatchReport

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, fmt.Errorf("batch cancelled before %s: %w", file, err)
		}

		logger.Printf("Uploading file %d/%d: %s", i+1, len(files), file)

		switch outcome := uploader.UploadFile(ctx, file); outcome {
		case OutcomeSuccess:
			report.Uploaded = append(report.Uploaded, file)
		case OutcomeSkipped:
			report.Skipped = append(report.Skipped, file)
		case OutcomeSystemicFailure:
			report.Failed = append(report.Failed, file)
			report.Aborted = true
			logger.Errorf("Upload of %s hit a %s, %d file(s) left untouched", file, ErrSystemic, len(files)-i-1)
			return report, fmt.Errorf("upload %s: %w", file, ErrSystemic)
		default:
			report.Failed = append(report.Failed, file)
			logger.Warnf("Upload of %s failed, continuing with the next file", file)
		}
	}

	logger.Infof("Batch finished: %d uploaded, %d skipped, %d failed", len(report.Uploaded), len(report.Skipped), len(report.Failed))
	return report, nil
}
