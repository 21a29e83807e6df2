package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitrise-io/redundinator/config"
	"github.com/bitrise-io/redundinator/dispatch"
	"github.com/bitrise-io/redundinator/metrics"
	"github.com/bitrise-io/redundinator/queue"
	"github.com/bitrise-io/redundinator/upload"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload the latest exports once",
	Long: `Upload the latest export of the selected sources to the selected targets, then exit.
The command fails when any file could not be uploaded.`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	addActionFlags(uploadCmd)
}

func runUpload(cmd *cobra.Command, _ []string) error {
	settings, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if !settings.Action.Any() {
		return fmt.Errorf("no upload target selected, use --dropbox, --gdrive or --s3")
	}

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.New()
	dispatcher := newDispatcher(settings, m, logger)
	q := queue.New(logger).WithObserver(m)
	q.Enqueue(settings.Action)

	var failed int
	handler := func(ctx context.Context, action config.Action) {
		results, err := dispatcher.Dispatch(ctx, action)
		if err != nil {
			logger.Errorf("Action %s failed: %s", action, err)
			failed++
		}
		failed += countFailures(results)
	}
	if err := q.Drain(ctx, handler); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d upload batch(es) did not complete", failed)
	}
	return nil
}

func countFailures(results []dispatch.Result) int {
	failures := 0
	for _, result := range results {
		if result.Err != nil && !errors.Is(result.Err, upload.ErrNothingToUpload) {
			failures++
			continue
		}
		if len(result.Batch.Failed) > 0 {
			failures++
		}
	}
	return failures
}
