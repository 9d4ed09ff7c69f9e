// Package serve implements the command running the analysis HTTP service.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hearbird/hearbird/internal/api"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/observability"
	"github.com/hearbird/hearbird/internal/observability/metrics"
	"github.com/hearbird/hearbird/internal/pipeline"
	"github.com/hearbird/hearbird/internal/scratch"
	"github.com/hearbird/hearbird/internal/telemetry"
)

const (
	// sentryFlushTimeout bounds how long pending error reports may delay exit
	sentryFlushTimeout = 2 * time.Second
	// sweepInterval is how often leftover scratch directories are collected
	sweepInterval = 10 * time.Minute
)

// Command creates the serve command.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP service",
		Long:  "Accept audio uploads on POST /analyze and return BirdNET detections as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(sigCtx, ctx)
		},
	}

	if err := setupFlags(cmd, ctx); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, ctx *conf.Context) error {
	cmd.Flags().String("host", "0.0.0.0", "Interface to listen on")
	cmd.Flags().Int("port", conf.DefaultPort, "Port to listen on")

	if err := ctx.Viper.BindPFlag("webserver.host", cmd.Flags().Lookup("host")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := ctx.Viper.BindPFlag("webserver.port", cmd.Flags().Lookup("port")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// GetLogger returns the serve command logger
func GetLogger() logger.Logger {
	return logger.Global().Module("serve")
}

// Run starts the service with the loaded settings and blocks until ctx is
// canceled or the listener fails. In-flight requests are given the
// configured shutdown timeout to finish.
func Run(ctx context.Context, cmdCtx *conf.Context, opts ...api.ServerOption) error {
	settings := cmdCtx.Settings
	log := GetLogger()

	if err := telemetry.InitSentry(telemetry.Config{
		Enabled:     settings.Sentry.Enabled,
		DSN:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Release:     cmdCtx.Build.Release(),
		Debug:       settings.Debug,
	}); err != nil {
		return err
	}
	defer telemetry.Flush(sentryFlushTimeout)

	var recorder metrics.AnalysisRecorder
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		recorder = m.BirdNET
		opts = append([]api.ServerOption{api.WithMetrics(m)}, opts...)
	}

	p, err := pipeline.NewFromSettings(settings, recorder)
	if err != nil {
		return err
	}

	config := api.ConfigFromSettings(settings)
	server, err := api.New(config, p, opts...)
	if err != nil {
		return err
	}

	log.Info("Starting hearbird",
		logger.String("version", cmdCtx.Build.GetVersion()),
		logger.String("config", config.String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if settings.Scratch.StaleAfter > 0 {
		space := scratch.New(pipeline.ScratchConfig(settings), logger.Global().Module("scratch"))
		g.Go(func() error {
			return space.RunSweeper(gctx, sweepInterval, settings.Scratch.StaleAfter)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server")
		return server.Shutdown(context.WithoutCancel(gctx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}
