package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/internal/telemetry"
	"github.com/marmos91/negotiate/pkg/config"
	"github.com/marmos91/negotiate/pkg/server"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Negotiate server",
	Long: `Start the Negotiate server with the specified configuration.

The server runs in the foreground; use a process supervisor to run it in
the background.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/negotiate/config.yaml.

Examples:
  # Start with the default config file
  negotiate start

  # Start with custom config file
  negotiate start --config /etc/negotiate/config.yaml

  # Start with environment variable overrides
  NEGOTIATE_LOGGING_LEVEL=DEBUG negotiate start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deployment := telemetry.Deployment{
		Version:    Version,
		SPN:        cfg.Negotiate.ServicePrincipal,
		Mechanisms: enabledMechanisms(cfg),
	}
	telemetryCfg := telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Deployment: deployment,
		Endpoint:   cfg.Telemetry.Endpoint,
		Insecure:   cfg.Telemetry.Insecure,
		SampleRate: cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// ctx is cancelled by now; give the exporter its own deadline.
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:      cfg.Telemetry.Profiling.Enabled,
		Deployment:   deployment,
		Endpoint:     cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(cmdutil.Flags.ConfigFile))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			_ = srv.Close()
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.", "addr", cfg.Server.ListenAddr())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// enabledMechanisms lists the mechanisms cfg turns on, for telemetry tags.
func enabledMechanisms(cfg *config.Config) []string {
	var mechs []string
	if cfg.Negotiate.Kerberos.Enabled {
		mechs = append(mechs, "kerberos")
	}
	if cfg.Negotiate.NTLM.Enabled {
		mechs = append(mechs, "ntlm")
	}
	return mechs
}
