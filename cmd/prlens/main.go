// prlens compares two revisions of a repository by running an LLM-backed
// review of each and reporting which findings are new, resolved, or
// unchanged.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prlens",
	Short: "Differential LLM code review between two branches",
	Long: `prlens checks out a base and a head revision of a repository, collects
review findings for each through an iterative analysis loop, grounds every
finding against the actual source tree, and reports the difference:
new issues, resolved issues, and issues carried over unchanged.`,
	SilenceUsage: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	cobra.OnInitialize(func() {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: level})))
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
