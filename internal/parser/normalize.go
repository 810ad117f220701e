package parser

import (
	"strings"

	"github.com/prlens/prlens/internal/types"
)

// categoryKeywords drives category inference when the Analyzer omitted or
// mangled the category. First matching set wins, in this order.
var categoryKeywords = []struct {
	category types.Category
	words    []string
}{
	{types.CategorySecurity, []string{
		"sql injection", "sql ", "xss", "auth", "password", "crypto",
		"injection", "csrf", "secret", "credential", "sanitiz",
	}},
	{types.CategoryPerformance, []string{
		"n+1", "latency", "memory", "leak", "o(", "cache", "slow",
		"alloc", "throughput", "inefficien",
	}},
	{types.CategoryErrorHandling, []string{
		"unhandled", "error handling", "panic", "exception", "rejection",
		"ignored error", "swallow",
	}},
	{types.CategoryTesting, []string{
		"test coverage", "untested", "missing test", "flaky",
	}},
	{types.CategoryDependencies, []string{
		"dependency", "outdated", "cve", "vulnerable version", "pinned",
	}},
	{types.CategoryArchitecture, []string{
		"coupling", "circular", "layering", "module boundary", "god object",
	}},
}

// normalizeIssue fills severity and category, synthesizing missing values
// from keyword heuristics on title + description.
func normalizeIssue(issue *types.Issue, rawSeverity, rawCategory string) {
	issue.Severity = types.NormalizeSeverity(rawSeverity)

	if rawCategory != "" && isKnownCategory(rawCategory) {
		issue.Category = types.NormalizeCategory(rawCategory)
	} else {
		issue.Category = inferCategory(issue.Title + " " + issue.Description)
	}

	// Empty titles are synthesized from the description.
	if issue.Title == "" && issue.Description != "" {
		issue.Title = synthesizeTitle(issue.Description)
	}
}

func isKnownCategory(raw string) bool {
	normalized := types.NormalizeCategory(raw)
	if normalized != types.CategoryCodeQuality {
		return true
	}
	// code-quality is both a real category and the fallback; accept it only
	// when the raw string actually names it.
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.Contains(lower, "quality") || strings.Contains(lower, "style") ||
		strings.Contains(lower, "maintain")
}

func inferCategory(text string) types.Category {
	lower := strings.ToLower(text)
	for _, set := range categoryKeywords {
		for _, word := range set.words {
			if strings.Contains(lower, word) {
				return set.category
			}
		}
	}
	return types.CategoryCodeQuality
}

// synthesizeTitle takes the first sentence or 80 characters of a
// description.
func synthesizeTitle(description string) string {
	title := strings.TrimSpace(description)
	if idx := strings.IndexAny(title, "\n"); idx > 0 {
		title = title[:idx]
	}
	if len(title) > 80 {
		title = strings.TrimSpace(title[:80])
	}
	return title
}

// placeholderPaths are file values the Analyzer fabricates when it does not
// actually know a location.
var placeholderPaths = []string{"unknown", "<path>", "<file>", "n/a", "none", "path/to"}

// normalizeLocation maps raw file/line values onto a Location, collapsing
// placeholders to the unknown sentinel.
func normalizeLocation(file string, line, column int) types.Location {
	file = strings.TrimSpace(file)
	if isPlaceholderPath(file) {
		return types.UnknownLocation
	}
	// Paths arrive with leading slashes or ./ prefixes; the index keys on
	// clean relative paths.
	file = strings.TrimPrefix(file, "./")
	file = strings.TrimPrefix(file, "/")
	if file == "" {
		return types.UnknownLocation
	}
	return types.Location{File: file, Line: line, Column: column}
}

func isPlaceholderPath(file string) bool {
	if file == "" {
		return true
	}
	lower := strings.ToLower(file)
	if strings.Contains(lower, "/…/") || strings.Contains(lower, "/.../") {
		return true
	}
	for _, placeholder := range placeholderPaths {
		if lower == placeholder || strings.HasPrefix(lower, placeholder+"/") {
			return true
		}
	}
	return false
}
