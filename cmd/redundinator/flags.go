package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flags to settings keys. An explicitly set flag takes precedence over the
// environment and the config file.
var flagKeys = map[string]string{
	"verbose":      "verbose",
	"source":       "action.source",
	"dropbox":      "action.upload_dropbox",
	"gdrive":       "action.upload_gdrive",
	"s3":           "action.upload_s3",
	"interval":     "interval",
	"metrics-addr": "metrics_addr",
	"export-path":  "export_path",
	"parallelism":  "upload.parallelism",
}

// bindFlags binds the flags cmd defines to their settings keys on v.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func addActionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("source", "s", "", "Only upload the named source. When blank, use all")
	f.Bool("dropbox", false, "Upload exports to Dropbox")
	f.Bool("gdrive", false, "Upload exports to Google Drive")
	f.Bool("s3", false, "Upload exports to S3")
	f.String("export-path", "", "Directory of the exports to upload")
	f.Int("parallelism", 0, "Number of parallel block uploads per file")
}
