package collect

import (
	"fmt"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

// Prompt templates. The first iteration asks for a comprehensive review;
// later iterations list what was already found and direct the Analyzer at
// the gaps.

const promptPreamble = `You are reviewing a code repository for defects. Report every issue you find as JSON:

{"issues": [{"title": "...", "description": "...", "severity": "critical|high|medium|low", "category": "security|performance|code-quality|dependencies|testing|architecture|error-handling|other", "file": "relative/path.ext", "line": 123, "code_snippet": "the exact offending line(s)", "suggestion": "..."}]}

Rules:
- file must be a real path in the repository, relative to its root. Never invent paths and never use placeholders like "path/to/file" or "<file>".
- line must be the actual 1-based line number of the issue.
- code_snippet must be copied verbatim from the file, not paraphrased.
- If you genuinely cannot locate an issue, omit file and line rather than guessing.`

// allCategories drives the directed asks in gap-fill prompts.
var allCategories = []types.Category{
	types.CategorySecurity,
	types.CategoryPerformance,
	types.CategoryErrorHandling,
	types.CategoryCodeQuality,
	types.CategoryTesting,
	types.CategoryDependencies,
	types.CategoryArchitecture,
}

// BuildComprehensivePrompt is the iteration-1 prompt. Known issues from a
// previously analyzed revision, when present, are listed so the Analyzer
// can confirm survivors quickly instead of rediscovering them.
func BuildComprehensivePrompt(branch string, fileList []string, known []*types.Issue) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "\n\nBranch under review: %s\n", branch)

	if len(fileList) > 0 {
		b.WriteString("\nRepository files:\n")
		for _, f := range fileList {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}

	if len(known) > 0 {
		b.WriteString("\nA related revision of this repository was previously found to have the issues below. Check whether each still applies here, and then look for anything new:\n")
		writeIssueDigest(&b, known)
	}

	b.WriteString("\nPerform a complete review across all categories: security, performance, error handling, code quality, testing, dependencies, and architecture.")
	return b.String()
}

// BuildGapFillPrompt is the iteration-k prompt (k >= 2): it carries a
// do-not-repeat digest of everything found so far and directs attention at
// categories with no findings yet.
func BuildGapFillPrompt(branch string, iteration int, found []*types.Issue) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "\n\nBranch under review: %s (follow-up pass %d)\n", branch, iteration)

	if len(found) > 0 {
		b.WriteString("\nThe following issues are already recorded. Do NOT report them again:\n")
		writeIssueDigest(&b, found)
	}

	if missing := uncoveredCategories(found); len(missing) > 0 {
		b.WriteString("\nNo findings yet in these categories; examine them specifically:\n")
		for _, c := range missing {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}

	b.WriteString("\nReport only issues not listed above. If you find nothing new, return {\"issues\": []}.")
	return b.String()
}

// BuildSnippetRequeryPrompt asks the Analyzer to pin down the location of
// one issue it reported without a usable file or line.
func BuildSnippetRequeryPrompt(branch string, issue *types.Issue) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "\n\nBranch under review: %s\n", branch)
	fmt.Fprintf(&b, "\nYou previously reported this issue without a usable location:\n  %s\n", issue.Title)
	if issue.Description != "" {
		fmt.Fprintf(&b, "  %s\n", issue.Description)
	}
	b.WriteString("\nReport it again with the exact file, line, and a verbatim code snippet, or return {\"issues\": []} if you cannot ground it.")
	return b.String()
}

func writeIssueDigest(b *strings.Builder, issues []*types.Issue) {
	for _, issue := range issues {
		fmt.Fprintf(b, "  - [%s/%s] %s (%s)\n",
			issue.Severity, issue.Category, issue.Title, issue.Location)
	}
}

func uncoveredCategories(found []*types.Issue) []types.Category {
	covered := make(map[types.Category]bool, len(found))
	for _, issue := range found {
		covered[issue.Category] = true
	}
	var missing []types.Category
	for _, c := range allCategories {
		if !covered[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
