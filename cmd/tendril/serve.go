package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/cli"
	tendrilhttp "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/janitor"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook HTTP server",
	Long: `Starts the engine behind the multi-tenant webhook API, with /metrics,
/healthz, session event streams and the retention janitor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("jwt-secret", "", "HS256 secret for tenant bearer tokens (empty disables auth)")
	serveCmd.Flags().Bool("janitor", true, "Purge expired sessions on a schedule")
	commandKeys["serve"] = map[string]string{
		"addr":       "http.addr",
		"jwt-secret": "http.jwt_secret",
		"janitor":    "janitor.enabled",
	}
}

func runServe(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	streams := tendrilhttp.NewStreamManager(logger)

	rt, err := cli.BuildEngine(ctx, cfg, logger,
		tendril.WithLifecycleHooks(metrics.Hooks()),
		tendril.WithLifecycleHooks(streams.Hooks()),
		tendril.WithLifecycleHooks(observability.LogHooks(logger)),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Janitor.Enabled && rt.Purger != nil {
		j := janitor.New(rt.Purger,
			janitor.WithSchedule(cfg.Janitor.Schedule),
			janitor.WithRetention(cfg.Janitor.Retention),
			janitor.WithLogger(logger),
		)
		if err := j.Start(ctx); err != nil {
			return err
		}
		defer j.Stop()
	}

	handler := tendrilhttp.NewHandler(rt.Engine,
		tendrilhttp.WithJWTSecret(cfg.HTTP.JWTSecret),
		tendrilhttp.WithMetrics(reg),
		tendrilhttp.WithStreams(streams),
		tendrilhttp.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting Tendril Server", "addr", srv.Addr, "storage", cfg.Storage.Driver, "auth", cfg.HTTP.JWTSecret != "")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("Tendril Server stopped gracefully")
		return nil
	}
}
