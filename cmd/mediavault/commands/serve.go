package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/mediavault/internal/config"
	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/health"
	"github.com/systmms/mediavault/internal/lifecycle"
	"github.com/systmms/mediavault/internal/logging"
)

func NewServeCommand(cfg *config.Config, debug *bool) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the core and the health server",
		Long: `Load credentials, open every database pool and the storage client, then
serve /health, /ready and metrics until interrupted.

Startup fails, and nothing is served, if the secret cannot be fetched or
parsed or any connection cannot be built.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg, *debug); err != nil {
				return err
			}
			def := cfg.Definition
			logger := cfg.Logger
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			core, err := lifecycle.NewFromConfig(ctx, def, logger)
			if err != nil {
				return err
			}
			started, err := startCore(ctx, core, logger)
			if err != nil || !started {
				return err
			}
			defer core.Close()

			serverConfig := health.DefaultServerConfig()
			serverConfig.Port = def.Server.Port
			serverConfig.MetricsPath = def.Server.MetricsPath
			if def.Server.ReadTimeoutMs > 0 {
				serverConfig.ReadTimeout = config.Millis(def.Server.ReadTimeoutMs)
			}
			if def.Server.WriteTimeoutMs > 0 {
				serverConfig.WriteTimeout = config.Millis(def.Server.WriteTimeoutMs)
			}

			server := health.NewServer(serverConfig, health.Dependencies{
				Region:  def.Region,
				Pools:   core.Pools(),
				Config:  core.Cache(),
				Storage: core.Storage(),
			}, logger.With("component", "http"))
			if err := server.Start(); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown: %v", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for in-flight requests on shutdown")

	return cmd
}

// startCore runs the startup fetch and rebuild. It reports false with no
// error when ctx was cancelled before startup finished. Anything else that
// stops startup is returned and core is closed.
func startCore(ctx context.Context, core *lifecycle.Core, logger *logging.Logger) (bool, error) {
	err := core.Start(ctx)
	if err == nil {
		return true, nil
	}
	core.Close()

	if !dserrors.IsStartupFatal(err) && ctx.Err() != nil {
		logger.Info("Interrupted during startup")
		return false, nil
	}
	logger.Error("Startup failed, not serving: %v", err)
	return false, err
}
