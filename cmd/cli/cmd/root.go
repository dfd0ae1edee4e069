package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crash-analysis/pkg/utils"
)

var (
	// Global flags
	verbose   bool
	logFormat string
	logger    utils.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "crash-analysis",
	Short: "A minidump crash analysis tool",
	Long: `crash-analysis unwinds the threads of a minidump and writes the
StackTraces report into the crash's .extra document.

It can also run as an out-of-process crash helper that accepts crash
notifications from instrumented clients over a unix socket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr())
		utils.SetGlobalLogger(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	bin := BinName()
	rootCmd.Example = `  # Analyze a minidump and update crash.extra next to it
  ` + bin + ` analyze ./crash.dmp

  # Unwind every thread with Breakpad symbols and print the report
  ` + bin + ` analyze ./crash.dmp --full --symbols ./symbols --print

  # Add symbol files to a store
  ` + bin + ` symbols install ./out/*.sym --store ./symbols

  # Run the crash helper
  ` + bin + ` helper --socket /tmp/crash.sock --dump-dir /var/crashes --analyze`
}

func newLogger(w io.Writer) utils.Logger {
	level := utils.LevelInfo
	if verbose {
		level = utils.LevelDebug
	}
	if logFormat == "json" {
		return utils.NewJSONLogger(level, w)
	}
	return utils.NewDefaultLogger(level, w)
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	if logger == nil {
		return &utils.NullLogger{}
	}
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
