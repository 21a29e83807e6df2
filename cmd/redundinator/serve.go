package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/config"
	"github.com/bitrise-io/redundinator/metrics"
	"github.com/bitrise-io/redundinator/queue"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured action periodically",
	Long: `Enqueue the configured action right away and then every interval, running queued actions one
at a time. Prometheus metrics are served on --metrics-addr when it is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addActionFlags(serveCmd)
	f := serveCmd.Flags()
	f.Duration("interval", 24*time.Hour, "Time between two runs of the action")
	f.String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090")
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.New()
	dispatcher := newDispatcher(settings, m, logger)
	q := queue.New(logger).WithObserver(m)

	if settings.MetricsAddr != "" {
		stop := serveMetrics(settings.MetricsAddr, m, logger)
		defer stop()
	}

	go schedule(ctx, q, settings, logger)

	if err := q.Run(ctx, dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("Shutting down")
	return nil
}

// schedule enqueues the configured action now and then every interval until ctx is done.
func schedule(ctx context.Context, q *queue.Queue, settings config.Settings, logger log.Logger) {
	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	for {
		if _, running := q.Current(); running || len(q.Pending()) > 0 {
			logger.Warnf("Previous action still running, skipping this run")
		} else {
			q.Enqueue(settings.Action)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %s", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("Failed to shut down the metrics server: %s", err)
		}
	}
}
