package main

import (
	"errors"
	"os"

	"github.com/bitrise-io/redundinator/archive"
	"github.com/bitrise-io/redundinator/dispatch"
	"github.com/bitrise-io/redundinator/upload"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the export files the next upload would consider",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	f := listCmd.Flags()
	f.StringP("source", "s", "", "Only list the named source. When blank, use all")
	f.String("export-path", "", "Directory of the exports")
	f.Bool("verify", false, "Read every listed export back through zstd and tar")
}

func runList(cmd *cobra.Command, _ []string) error {
	settings, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	verify, err := cmd.Flags().GetBool("verify")
	if err != nil {
		return err
	}
	verifier := archive.NewVerifier(logger)

	sources, err := dispatch.ResolveSources(settings.Sources, settings.Action.Source)
	if err != nil {
		return err
	}

	for _, source := range sources {
		files, err := upload.ListFiles(settings.ExportPath, source)
		if errors.Is(err, upload.ErrNothingToUpload) {
			logger.Warnf("%s: no export found", source)
			continue
		}
		if err != nil {
			return err
		}

		logger.Infof("%s: %d file(s)", source, len(files))
		for _, file := range files {
			info, err := os.Stat(file)
			if err != nil {
				return err
			}
			logger.Printf("  %s (%s)", file, units.HumanSize(float64(info.Size())))
		}

		if verify {
			summary, err := verifier.Verify(cmd.Context(), files)
			if err != nil {
				logger.Errorf("%s: export is unreadable: %s", source, err)
				continue
			}
			logger.Donef("%s: export is readable, %d files, %s of content", source, summary.Files, units.HumanSize(float64(summary.ContentBytes)))
		}
	}
	return nil
}
