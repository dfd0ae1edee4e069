//go:build unix

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crash-analysis/internal/helper"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/internal/symbols"
	"github.com/crash-analysis/pkg/config"
)

var (
	// Helper command flags
	helperConfig  string
	socketPath    string
	dumpDir       string
	helperAnalyze bool
	helperSymbols string
)

// helperCmd represents the helper command
var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Run the out-of-process crash helper",
	Long: `Run the crash helper on a unix socket. Clients initialize a session with
their report directory, then ask for the minidump written for a crashed
process id. Minidumps dropped into the dump directory as <pid>.dmp are found
without registration.

With --analyze every transferred minidump is analyzed and the StackTraces
report is merged into its .extra document.`,
	Args: cobra.NoArgs,
	RunE: runHelper,
}

func init() {
	rootCmd.AddCommand(helperCmd)

	defaults := config.Default().Helper
	helperCmd.Flags().StringVarP(&helperConfig, "config", "c", "", "Configuration file; flags override its helper section")
	helperCmd.Flags().StringVar(&socketPath, "socket", defaults.SocketPath, "Unix socket to listen on")
	helperCmd.Flags().StringVar(&dumpDir, "dump-dir", defaults.DumpDir, "Directory receiving minidumps")
	helperCmd.Flags().BoolVar(&helperAnalyze, "analyze", defaults.Analyze, "Analyze transferred minidumps")
	helperCmd.Flags().StringVar(&helperSymbols, "symbols", "", "Breakpad symbol store used by --analyze")
}

func helperSettings(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if helperConfig != "" {
		loaded, err := config.Load(helperConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("socket") || helperConfig == "" {
		cfg.Helper.SocketPath = socketPath
	}
	if flags.Changed("dump-dir") || helperConfig == "" {
		cfg.Helper.DumpDir = dumpDir
	}
	if flags.Changed("analyze") || helperConfig == "" {
		cfg.Helper.Analyze = helperAnalyze
	}
	if helperSymbols != "" {
		cfg.Analysis.SymbolsDir = helperSymbols
	}
	if cfg.Helper.SocketPath == "" {
		return nil, errors.New("--socket is required")
	}
	return cfg, nil
}

func runHelper(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg, err := helperSettings(cmd)
	if err != nil {
		return err
	}
	if cfg.Helper.DumpDir != "" {
		if err := os.MkdirAll(cfg.Helper.DumpDir, 0o755); err != nil {
			return fmt.Errorf("create dump dir: %w", err)
		}
	}

	var provider stackwalk.SymbolProvider = stackwalk.NoSymbols{}
	if cfg.Analysis.SymbolsDir != "" {
		provider = symbols.NewBreakpad(cfg.Analysis.SymbolsDir, log)
	}
	h := helper.New(helper.Config{
		DumpDir:   cfg.Helper.DumpDir,
		Analyze:   cfg.Helper.Analyze,
		AllStacks: cfg.Analysis.AllThreads,
		Workers:   cfg.Analysis.Workers,
		Symbols:   provider,
		Logger:    log,
	}, helper.NewRegistry())
	defer h.Close()

	log.Info("Crash helper listening on %s (dump dir %s, analyze %v)",
		cfg.Helper.SocketPath, cfg.Helper.DumpDir, cfg.Helper.Analyze)
	if err := h.ListenAndServe(cmd.Context(), cfg.Helper.SocketPath); err != nil {
		return err
	}
	log.Info("Crash helper stopped")
	return nil
}
