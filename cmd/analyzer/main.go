package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crash-analysis/internal/service"
	"github.com/crash-analysis/pkg/config"
	"github.com/crash-analysis/pkg/telemetry"
	"github.com/crash-analysis/pkg/utils"
)

// Version information (injected by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configPath string
	verbose    bool
)

// binName returns the base name of the current executable
func binName() string {
	return filepath.Base(os.Args[0])
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "crash-analyzer",
	Short: "A minidump crash analysis service",
	Long: `crash-analyzer is a background service for analyzing uploaded minidumps.

It polls the database for pending crash tasks, downloads the minidump (raw or
gzip, zstd or lz4 compressed) from object storage, unwinds it, uploads the
merged report document and records a report row with the crash signature.`,
	SilenceUsage: true,
	RunE:         runService,
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s version %s\n", binName(), Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	bin := binName()
	rootCmd.Example = `  # Start service with config file
  ` + bin + ` -c /etc/crash-analysis/config.yaml

  # Start with verbose output
  ` + bin + ` -c ./config.yaml -v`

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (required)")
	rootCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the service logger from the log section.
func newLogger(cfg config.LogConfig) (utils.Logger, error) {
	level := utils.ParseLogLevel(cfg.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		return utils.NewFileLogger(level, cfg.OutputPath)
	}
	if cfg.Format == "json" {
		return utils.NewJSONLogger(level, os.Stdout), nil
	}
	return utils.NewDefaultLogger(level, os.Stdout), nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	utils.SetGlobalLogger(logger)

	logger.Info("Starting crash-analyzer service...")
	logger.Info("Version: %s, Commit: %s, Built: %s", Version, GitCommit, BuildTime)
	logger.Info("Analysis version: %s", cfg.Analysis.Version)
	logger.Info("Max workers: %d", cfg.Scheduler.WorkerCount)
	logger.Info("Database: %s://%s:%d/%s", cfg.Database.Type, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	logger.Info("Storage: %s", cfg.Storage.Type)

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.FromEnv(os.Getenv)
	if tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = Version
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("Failed to flush traces: %v", err)
		}
	}()

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	logger.Info("Service started, waiting for tasks...")

	<-ctx.Done()
	logger.Info("Shutdown requested, stopping...")

	if err := svc.Stop(); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
