// Package dispatch turns an action into upload batches, one per source and enabled target.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/archive"
	"github.com/bitrise-io/redundinator/config"
	"github.com/bitrise-io/redundinator/upload"
)

// Target names.
const (
	TargetDropbox = "dropbox"
	TargetGDrive  = "gdrive"
	TargetS3      = "s3"
)

// Targets returns the targets enabled by action, in a fixed order.
func Targets(action config.Action) []string {
	var targets []string
	if action.UploadDropbox {
		targets = append(targets, TargetDropbox)
	}
	if action.UploadGDrive {
		targets = append(targets, TargetGDrive)
	}
	if action.UploadS3 {
		targets = append(targets, TargetS3)
	}
	return targets
}

// ResolveSources returns all sources when active is blank, or only the one named active.
func ResolveSources(sources []string, active string) ([]string, error) {
	if active == "" {
		return sources, nil
	}
	for _, source := range sources {
		if source == active {
			return []string{source}, nil
		}
	}
	return nil, fmt.Errorf("active source %s not found in sources list (%s)", active, strings.Join(sources, ","))
}

// Connector builds the uploader of one target.
type Connector interface {
	Connect(ctx context.Context, target string) (upload.FileUploader, error)
}

// Verifier checks that the parts of an export can be read back.
type Verifier interface {
	Verify(ctx context.Context, parts []string) (archive.Summary, error)
}

// Result is the outcome of one batch, or the reason it could not run.
type Result struct {
	Target string
	Source string
	Batch  upload.BatchReport
	Err    error
}

// Dispatcher runs actions against the configured sources and targets.
type Dispatcher struct {
	settings  config.Settings
	connector Connector
	verifier  Verifier
	logger    log.Logger
}

type export struct {
	source string
	files  []string
	err    error
}

// New ...
func New(settings config.Settings, connector Connector, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		settings:  settings,
		connector: connector,
		logger:    logger,
	}
}

// WithVerifier makes the dispatcher verify every export before uploading it, and returns it.
func (d *Dispatcher) WithVerifier(v Verifier) *Dispatcher {
	d.verifier = v
	return d
}

// Handle runs action, logging instead of returning errors. It is a queue.Handler.
func (d *Dispatcher) Handle(ctx context.Context, action config.Action) {
	if _, err := d.Dispatch(ctx, action); err != nil {
		d.logger.Errorf("Action %s failed: %s", action, err)
	}
}

// Dispatch uploads the latest export of every selected source to every enabled target.
//
// A target that cannot be connected to is skipped. A systemic failure stops the remaining batches
// of that target; the other targets still run.
func (d *Dispatcher) Dispatch(ctx context.Context, action config.Action) ([]Result, error) {
	sources, err := ResolveSources(d.settings.Sources, action.Source)
	if err != nil {
		return nil, err
	}

	targets := Targets(action)
	if len(targets) == 0 {
		d.logger.Warnf("No upload target selected")
		return nil, nil
	}

	exports, err := d.collectExports(ctx, sources)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, target := range targets {
		d.logger.Println()
		d.logger.Infof("Running %s upload for sources: %s", target, strings.Join(sources, ","))

		targetResults, err := d.uploadToTarget(ctx, target, exports)
		results = append(results, targetResults...)
		if err != nil {
			return results, err
		}
	}

	d.logger.Donef("Redundinator completed all actions.")
	return results, nil
}

// collectExports lists, and when a verifier is set verifies, the latest export of every source.
func (d *Dispatcher) collectExports(ctx context.Context, sources []string) ([]export, error) {
	exports := make([]export, 0, len(sources))
	for _, source := range sources {
		files, err := upload.ListFiles(d.settings.ExportPath, source)
		switch {
		case errors.Is(err, upload.ErrNothingToUpload):
			d.logger.Warnf("No export found for %s in %s", source, d.settings.ExportPath)
		case err != nil:
			d.logger.Errorf("Couldn't list the export of %s: %s", source, err)
		case d.verifier != nil:
			summary, verifyErr := d.verifier.Verify(ctx, files)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if verifyErr != nil {
				d.logger.Errorf("Export of %s is unreadable, not uploading it: %s", source, verifyErr)
				err = fmt.Errorf("verify export: %w", verifyErr)
				files = nil
			} else {
				d.logger.Infof("Export of %s verified: %d part(s), %d files", source, summary.Parts, summary.Files)
			}
		}
		exports = append(exports, export{source: source, files: files, err: err})
	}
	return exports, nil
}

func (d *Dispatcher) uploadToTarget(ctx context.Context, target string, exports []export) ([]Result, error) {
	uploader, err := d.connector.Connect(ctx, target)
	if err != nil {
		d.logger.Errorf("Couldn't connect to %s, skipping it: %s", target, err)
		return []Result{{Target: target, Err: fmt.Errorf("connect: %w", err)}}, nil
	}

	var results []Result
	for _, exp := range exports {
		if exp.err != nil {
			results = append(results, Result{Target: target, Source: exp.source, Err: exp.err})
			continue
		}

		d.logger.Infof("Uploading %d file(s) of %s to %s", len(exp.files), exp.source, target)
		batch, err := upload.RunBatch(ctx, uploader, exp.files, d.logger)
		results = append(results, Result{Target: target, Source: exp.source, Batch: batch, Err: err})

		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}
		if errors.Is(err, upload.ErrSystemic) {
			d.logger.Errorf("Stopping uploads to %s", target)
			break
		}
	}
	return results, nil
}
