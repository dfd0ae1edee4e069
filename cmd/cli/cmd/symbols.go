package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crash-analysis/internal/symbols"
)

var symbolStore string

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage a Breakpad symbol store",
}

var symbolsInstallCmd = &cobra.Command{
	Use:   "install <file.sym>...",
	Short: "Copy symbol files into a symbol store",
	Long: `Install reads the MODULE line of each Breakpad symbol file and copies it to
<store>/<debug_file>/<debug_id>/<name>.sym, replacing an earlier upload of
the same module.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSymbolsInstall,
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
	symbolsCmd.AddCommand(symbolsInstallCmd)

	symbolsInstallCmd.Flags().StringVarP(&symbolStore, "store", "s", "", "Symbol store directory (required)")
	symbolsInstallCmd.MarkFlagRequired("store")
}

func runSymbolsInstall(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	var failed int
	for _, name := range args {
		path, err := installSymbolFile(name)
		if err != nil {
			log.Error("%s: %v", name, err)
			failed++
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbol files not installed", failed, len(args))
	}
	return nil
}

func installSymbolFile(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	path, err := symbols.Install(symbolStore, f)
	if errors.Is(err, symbols.ErrNotSymbolFile) {
		return "", fmt.Errorf("not a Breakpad symbol file: %w", err)
	}
	return path, err
}
