package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/syncd/filesync/internal/logging"
	"github.com/syncd/filesync/internal/metrics"
	"github.com/syncd/filesync/internal/scheduler"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	var runOnce bool
	var metricsListen string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Drive every schedule-enabled profile on its configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := flags.settings()
			logger := flags.logger()
			ctx := logging.WithLogger(cmd.Context(), logger)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsListen != "" {
				startMetricsServer(ctx, logger, metricsListen)
			}

			sched := scheduler.New(settings, scheduler.ProfilesFromDir(settings.ProfilesDir()))
			sched.RunOnce = runOnce

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-reload:
						logger.Info("reload signal received, re-enumerating profiles")
						sched.Reload()
					}
				}
			}()

			return sched.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&runOnce, "run-once", false, "perform exactly one scheduling tick, then exit")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "host:port to serve Prometheus metrics on (disabled when empty)")
	return cmd
}

// startMetricsServer registers the shared collectors against a
// dedicated registry (not the global default one) and serves them over
// HTTP for the daemon's lifetime.
func startMetricsServer(ctx context.Context, logger *slog.Logger, listen string) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
