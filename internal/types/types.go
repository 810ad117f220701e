// Package types defines the core entities shared across the analysis engine:
// issues, locations, severities, categories, and the comparison result that
// the orchestrator emits.
package types

import (
	"strconv"
	"strings"
	"time"
)

// Severity is the normalized severity of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns the sort rank of a severity (critical first).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// NormalizeSeverity maps any severity string the Analyzer may produce onto
// one of the four canonical severities. Unknown strings become medium.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "crit", "blocker":
		return SeverityCritical
	case "high", "major":
		return SeverityHigh
	case "medium", "moderate", "med":
		return SeverityMedium
	case "low", "minor", "trivial", "info":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Category is the normalized category of an issue.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryCodeQuality   Category = "code-quality"
	CategoryDependencies  Category = "dependencies"
	CategoryTesting       Category = "testing"
	CategoryArchitecture  Category = "architecture"
	CategoryErrorHandling Category = "error-handling"
	CategoryOther         Category = "other"
)

// knownCategories maps raw category strings (and common aliases) onto
// canonical categories.
var knownCategories = map[string]Category{
	"security":        CategorySecurity,
	"vulnerability":   CategorySecurity,
	"performance":     CategoryPerformance,
	"perf":            CategoryPerformance,
	"code-quality":    CategoryCodeQuality,
	"code quality":    CategoryCodeQuality,
	"quality":         CategoryCodeQuality,
	"maintainability": CategoryCodeQuality,
	"style":           CategoryCodeQuality,
	"dependencies":    CategoryDependencies,
	"dependency":      CategoryDependencies,
	"deps":            CategoryDependencies,
	"testing":         CategoryTesting,
	"tests":           CategoryTesting,
	"test":            CategoryTesting,
	"architecture":    CategoryArchitecture,
	"design":          CategoryArchitecture,
	"error-handling":  CategoryErrorHandling,
	"error handling":  CategoryErrorHandling,
	"errors":          CategoryErrorHandling,
	"other":           CategoryOther,
}

// NormalizeCategory maps any category string onto a canonical category.
// Unknown strings fall back to code-quality, matching the parser's
// keyword-inference default.
func NormalizeCategory(raw string) Category {
	if c, ok := knownCategories[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return c
	}
	return CategoryCodeQuality
}

// Location identifies where in the repository an issue was found.
// The zero value is the "unknown" sentinel.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`   // 1-based
	Column int    `json:"column,omitempty"` // 1-based, optional
}

// UnknownLocation is the sentinel for issues that could not be grounded
// to a file and line.
var UnknownLocation = Location{}

// IsUnknown reports whether the location is the unknown sentinel.
func (l Location) IsUnknown() bool {
	return l.File == ""
}

func (l Location) String() string {
	if l.IsUnknown() {
		return "unknown"
	}
	if l.Line <= 0 {
		return l.File
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// Issue is the central entity of the engine: one finding reported by the
// Analyzer, normalized by the parser and grounded by the validator.
type Issue struct {
	// ID is stable within one analysis run and derived by the engine,
	// never taken from the Analyzer.
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Location    Location `json:"location"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`

	// Confidence is 0-100, assigned by the parser and adjusted by the
	// validator.
	Confidence int `json:"confidence"`

	// Fingerprint is the cross-branch matching key. It is recomputed by the
	// categorizer and used only for base/head matching.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ResponseFormat identifies which shape the unified parser detected.
type ResponseFormat string

const (
	FormatStructured   ResponseFormat = "structured"
	FormatEmbeddedJSON ResponseFormat = "embedded-json"
	FormatLabeledText  ResponseFormat = "labeled-text"
	FormatMarkdownList ResponseFormat = "markdown-list"
	FormatUnrecognized ResponseFormat = "unrecognized"
)

// BaseConfidence is the confidence assigned to issues produced from this
// format, before location/snippet penalties.
func (f ResponseFormat) BaseConfidence() int {
	switch f {
	case FormatStructured:
		return 95
	case FormatEmbeddedJSON:
		return 80
	case FormatLabeledText:
		return 70
	case FormatMarkdownList:
		return 60
	default:
		return 0
	}
}

// IterationRecord captures what one collection iteration contributed.
type IterationRecord struct {
	Iteration int           `json:"iteration"` // 1-based
	Added     int           `json:"added"`
	Duration  time.Duration `json:"duration"`
	Warnings  []string      `json:"warnings,omitempty"`
	Failed    bool          `json:"failed,omitempty"`
}

// BranchMetadata summarizes one branch's collection run.
type BranchMetadata struct {
	Branch     string            `json:"branch"`
	Iterations int               `json:"iterations"`
	Converged  bool              `json:"converged"`
	Exhausted  bool              `json:"exhausted"`
	Recovered  int               `json:"recovered"`
	Dropped    int               `json:"dropped"`
	Duration   time.Duration     `json:"duration"`
	History    []IterationRecord `json:"history,omitempty"`
	Index      IndexStats        `json:"index"`
}

// IndexStats describes the repository index built for one branch.
type IndexStats struct {
	Files         int           `json:"files"`
	SnippetKeys   int           `json:"snippet_keys"`
	SkippedFiles  int           `json:"skipped_files"`
	BuildDuration time.Duration `json:"build_duration"`
}

// PartialFailure records that one branch failed while the other succeeded.
type PartialFailure struct {
	Branch   string          `json:"branch"`
	Category FailureCategory `json:"category"`
	Detail   string          `json:"detail"`
}

// Metadata is the run-level metadata attached to a ComparisonResult. It
// always carries enough to reproduce the run.
type Metadata struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	Base           BranchMetadata  `json:"base"`
	Head           BranchMetadata  `json:"head"`
	Parallel       bool            `json:"parallel"`
	PartialFailure *PartialFailure `json:"partial_failure,omitempty"`
}

// UnchangedIssue pairs a head issue with its base counterpart.
type UnchangedIssue struct {
	Issue *Issue `json:"issue"`
	// OriginalLocation is where the base branch reported the same finding.
	OriginalLocation Location `json:"original_location"`
	BaseID           string   `json:"base_id"`
}

// ComparisonResult is the engine's output: the validated per-branch issue
// sets and their NEW / RESOLVED / UNCHANGED partitions. It is
// JSON-serializable with no cyclic references.
type ComparisonResult struct {
	BaseIssues      []*Issue         `json:"base_issues"`
	HeadIssues      []*Issue         `json:"head_issues"`
	NewIssues       []*Issue         `json:"new_issues"`
	ResolvedIssues  []*Issue         `json:"resolved_issues"`
	UnchangedIssues []UnchangedIssue `json:"unchanged_issues"`
	Metadata        Metadata         `json:"metadata"`
}
