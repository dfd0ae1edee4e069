package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/internal/minidump"
	"github.com/crash-analysis/internal/report"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/internal/symbols"
	"github.com/crash-analysis/pkg/utils"
)

var (
	// Analyze command flags
	extraFile  string
	fullStacks bool
	symbolsDir string
	workers    int
	printDoc   bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <minidump>",
	Short: "Analyze a minidump file",
	Long: `Analyze a minidump and merge the StackTraces report into its .extra
document. The document is created when it does not exist; other members are
kept as they are.

By default only the crashing thread is unwound. Stack walking uses call frame
information from Breakpad symbol files when --symbols is given, then frame
pointers, then stack scanning.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&extraFile, "extra", "e", "", "Path of the .extra document (default: next to the minidump)")
	analyzeCmd.Flags().BoolVar(&fullStacks, "full", false, "Unwind every thread, not only the crashing one")
	analyzeCmd.Flags().StringVarP(&symbolsDir, "symbols", "s", "", "Breakpad symbol store (<debug_file>/<debug_id>/<name>.sym)")
	analyzeCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent unwinds (0: number of CPUs)")
	analyzeCmd.Flags().BoolVarP(&printDoc, "print", "p", false, "Print the StackTraces report to stdout")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	dumpPath := args[0]
	extra := extraFile
	if extra == "" {
		extra = report.ExtraPath(dumpPath)
	}

	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return fmt.Errorf("read minidump: %w", err)
	}
	dump, err := minidump.Parse(data)
	if err != nil {
		return err
	}

	opts := analyzer.Options{
		AllStacks: fullStacks,
		Workers:   workers,
		Symbols:   stackwalk.NoSymbols{},
		Logger:    log,
	}
	if symbolsDir != "" {
		opts.Symbols = symbols.NewBreakpad(symbolsDir, log)
	}

	log.Info("Analyzing %s", filepath.Base(dumpPath))
	start := time.Now()
	r, err := analyzer.Analyze(cmd.Context(), dump, opts)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	st := report.Build(r)
	if err := report.MergeIntoExtra(extra, st); err != nil {
		return err
	}

	printSummary(log, r, data, time.Since(start))
	log.Info("Report written to %s", extra)

	if !printDoc {
		return nil
	}
	doc, err := report.Merge(nil, st)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, doc, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(cmd.OutOrStdout())
	return err
}

func printSummary(log utils.Logger, r *analyzer.CrashReport, raw []byte, took time.Duration) {
	log.Info("Status:      %s", r.Status)
	log.Info("Crash:       %s at %#x", r.CrashType, r.CrashAddress)
	log.Info("Platform:    %s %s (%s)", r.OS, r.OSVersion, r.CPU)
	if cs := r.CrashingStack(); cs != nil {
		log.Info("Thread:      %d (%d frames, %s)", cs.ThreadID, len(cs.Frames), cs.Status)
	}
	log.Info("Signature:   %s", report.Signature(r))
	log.Info("Fingerprint: %s", report.Fingerprint(raw))
	log.Debug("Unwound %d threads over %d modules in %v", len(r.CallStacks), len(r.Modules), took)
}
