package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vm-console/config"
	"vm-console/logging"
	"vm-console/prefs"
	"vm-console/upstream"
)

var (
	cfgFile     string
	upstreamURL string
	logLevel    string

	opsInProgress sync.WaitGroup // Tracks in-flight mutations for graceful shutdown
	// Version information - these will be set at build time
	version   = "0.1.0"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vm-console",
		Short:         "Web console and CLI for organizing and creating virtual machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&upstreamURL, "upstream", "", "Management server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		newServeCmd(),
		newTreeCmd(),
		newMoveCmd(),
		newRenameCmd(),
		newDeleteCmd(),
		newMkdirCmd(),
		newCreateVMCmd(),
		newConsoleCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file and environment, applies the global flags
// and starts logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if upstreamURL != "" {
		cfg.UpstreamURL = upstreamURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func newClient(cfg *config.Config) *upstream.Client {
	return upstream.New(upstream.Options{
		BaseURL:  cfg.UpstreamURL,
		Token:    cfg.UpstreamToken,
		Timeout:  cfg.RequestTimeout,
		RetryMax: cfg.RetryMax,
	})
}

func newServeCmd() *cobra.Command {
	var listen, statePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if statePath != "" {
				cfg.StatePath = statePath
			}
			defer logging.Sync()

			store, err := prefs.Open(cfg.StatePath)
			if err != nil {
				return err
			}

			srv := newServer(cfg, newClient(cfg), store)
			app := srv.routes()

			// Setup signal handler for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				logging.L().Info("server starting",
					zap.String("listen", cfg.Listen),
					zap.String("upstream", cfg.UpstreamURL),
					zap.String("state", cfg.StatePath),
				)
				errChan <- app.Listen(cfg.Listen)
			}()

			select {
			case sig := <-sigChan:
				logging.L().Info("received signal, waiting for in-progress operations", zap.String("signal", sig.String()))
			case err := <-errChan:
				store.Close()
				return fmt.Errorf("server error: %w", err)
			}

			// Wait for all mutations to complete before the state file closes
			opsInProgress.Wait()
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				logging.L().Warn("shutdown", zap.Error(err))
			}
			if err := store.Close(); err != nil {
				logging.L().Warn("close state db", zap.Error(err))
			}
			logging.L().Info("shut down")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default :8080)")
	cmd.Flags().StringVar(&statePath, "state", "", "Path of the UI state database (default vm-console.db)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vm-console version %s\n", version)
			fmt.Fprintf(out, "Build date: %s\n", buildDate)
			fmt.Fprintf(out, "Git commit: %s\n", gitCommit)
		},
	}
}

// commandContext is cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
