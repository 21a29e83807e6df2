package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/redundinator/archive"
	"github.com/bitrise-io/redundinator/config"
	"github.com/bitrise-io/redundinator/dispatch"
	"github.com/bitrise-io/redundinator/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "redundinator",
	Short: "Redundinator uploads backup exports to cloud storage",
	Long: `Redundinator uploads the latest export of every backup source to Dropbox, Google Drive and S3.
Uploads are resumable: an interrupted file continues from the last byte the remote accepted.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringP("config", "c", config.DefaultConfigPath, "Config file path (JSON, YAML or TOML)")
	f.BoolP("verbose", "v", false, "Enable debug logging")
}

// setup loads the settings with cmd's flags on top and returns them with a matching logger.
func setup(cmd *cobra.Command) (config.Settings, log.Logger, error) {
	logger := log.NewLogger()

	v := viper.New()
	if err := bindFlags(v, cmd); err != nil {
		return config.Settings{}, logger, err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Settings{}, logger, err
	}

	loader := config.NewLoader(v, env.NewRepository(), pathutil.NewPathModifier())
	settings, err := loader.Load(configPath)
	if err != nil {
		return config.Settings{}, logger, err
	}

	logger.EnableDebugLog(settings.Verbose)
	logger.Debugf("Using config file: %s", configPath)
	return settings, logger, nil
}

func newDispatcher(settings config.Settings, m *metrics.Metrics, logger log.Logger) *dispatch.Dispatcher {
	observers := func(target string) dispatch.Observer {
		return m.Target(target)
	}
	connector := dispatch.NewSettingsConnector(settings, observers, logger)
	dispatcher := dispatch.New(settings, connector, logger)
	if settings.Upload.VerifyExports {
		dispatcher.WithVerifier(archive.NewVerifier(logger))
	}
	return dispatcher
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
