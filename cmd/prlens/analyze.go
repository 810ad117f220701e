package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prlens/prlens/internal/analyzer"
	"github.com/prlens/prlens/internal/cache"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/engine"
	"github.com/prlens/prlens/internal/types"
)

var (
	flagRepo       string
	flagBase       string
	flagHead       string
	flagConfig     string
	flagCacheDB    string
	flagScratch    string
	flagSequential bool
	flagJSON       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compare review findings between two revisions",
	Long: `Run the differential analysis: both refs are checked out as detached
worktrees, reviewed iteratively, and the validated findings are diffed.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&flagRepo, "repo", ".", "path to the git repository")
	analyzeCmd.Flags().StringVar(&flagBase, "base", "main", "base ref")
	analyzeCmd.Flags().StringVar(&flagHead, "head", "", "head ref (required)")
	analyzeCmd.Flags().StringVar(&flagConfig, "config", ".prlens.yaml", "config file path")
	analyzeCmd.Flags().StringVar(&flagCacheDB, "cache-db", "", "shared response cache database (optional)")
	analyzeCmd.Flags().StringVar(&flagScratch, "scratch", "", "scratch directory for worktrees")
	analyzeCmd.Flags().BoolVar(&flagSequential, "sequential", false,
		"analyze base before head and reuse base findings as hints")
	analyzeCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the raw ComparisonResult as JSON")
	analyzeCmd.MarkFlagRequired("head")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	transport, err := analyzer.NewAnthropicTransport("")
	if err != nil {
		return err
	}

	local := cache.NewLRU(cfg.CacheCapacityEntries)
	var responseCache cache.Cache = local
	if flagCacheDB != "" {
		shared, err := cache.OpenSQLiteStore(flagCacheDB)
		if err != nil {
			return fmt.Errorf("open shared cache: %w", err)
		}
		defer shared.Close()
		responseCache = cache.NewTiered(local, shared)
	}

	client := analyzer.NewClient(transport, responseCache, cfg)
	eng := engine.New(client, &engine.GitWorktreeProvider{ScratchRoot: flagScratch}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Analyze(ctx, flagRepo, flagBase, flagHead,
		engine.Options{Sequential: flagSequential})
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(result)
	return nil
}

func printResult(result *types.ComparisonResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== prlens analysis ==="))
	fmt.Printf("Run:      %s\n", result.Metadata.RunID)
	fmt.Printf("Duration: %v\n", result.Metadata.Duration.Round(10*time.Millisecond))
	fmt.Printf("Branches: %s (%s iterations) vs %s (%s iterations)\n",
		result.Metadata.Base.Branch, humanize.Comma(int64(result.Metadata.Base.Iterations)),
		result.Metadata.Head.Branch, humanize.Comma(int64(result.Metadata.Head.Iterations)))

	if pf := result.Metadata.PartialFailure; pf != nil {
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		fmt.Printf("\n%s branch %q failed (%s): %s\n",
			red("PARTIAL RESULT:"), pf.Branch, pf.Category, pf.Detail)
	}

	printSection(yellow("New issues"), result.NewIssues)
	printSection(yellow("Resolved issues"), result.ResolvedIssues)

	fmt.Printf("\n%s (%d)\n", yellow("Unchanged issues"), len(result.UnchangedIssues))
	if len(result.UnchangedIssues) == 0 {
		fmt.Printf("  %s\n", gray("none"))
	}
	for _, unchanged := range result.UnchangedIssues {
		printIssue(unchanged.Issue)
		fmt.Printf("      previously at %s\n", gray(unchanged.OriginalLocation.String()))
	}
	fmt.Println()
}

func printSection(header string, issues []*types.Issue) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("\n%s (%d)\n", header, len(issues))
	if len(issues) == 0 {
		fmt.Printf("  %s\n", gray("none"))
		return
	}
	for _, issue := range issues {
		printIssue(issue)
	}
}

func printIssue(issue *types.Issue) {
	sevColor := severityColor(issue.Severity)
	fmt.Printf("  %s %s\n", sevColor(fmt.Sprintf("[%s]", issue.Severity)), issue.Title)
	fmt.Printf("      %s  %s  confidence %d%%\n",
		issue.Location.String(), issue.Category, issue.Confidence)
}

func severityColor(sev types.Severity) func(a ...interface{}) string {
	switch sev {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case types.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}
