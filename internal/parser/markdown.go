package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

var (
	// listItemRegex matches a top-level numbered or bulleted item.
	listItemRegex = regexp.MustCompile(`^\s{0,3}(?:\d+[.)]|[-*+])\s+(.*)$`)

	inlineFileRegex     = regexp.MustCompile(`(?i)\b(?:file|path)\s*[:=]\s*` + "`?" + `([^\s,;` + "`" + `]+)`)
	inlineLineRegex     = regexp.MustCompile(`(?i)\bline\s*[:=]\s*(\d+)`)
	inlineSeverityRegex = regexp.MustCompile(`(?i)\bseverity\s*[:=]\s*(\w+)`)
	inlineCategoryRegex = regexp.MustCompile(`(?i)\bcategory\s*[:=]\s*([\w-]+)`)
	inlineFixRegex      = regexp.MustCompile(`(?i)\b(?:fix|suggestion|recommendation)\s*[:=]\s*(.+)`)

	// pathLineRegex matches inline "path/to/file.ext:123" references.
	pathLineRegex = regexp.MustCompile(`([\w./-]+\.[A-Za-z]{1,8}):(\d{1,6})\b`)

	// bracketSeverityRegex matches leading tags like "[HIGH]" or "(critical)".
	bracketSeverityRegex = regexp.MustCompile(`(?i)^[\[(](critical|blocker|crit|high|major|medium|low|minor)[\])]\s*`)

	fencedBlockRegex = regexp.MustCompile("(?s)`{3}[a-zA-Z]*\\n?(.*?)`{3}")
	boldRegex        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// parseMarkdownList parses a numbered or bulleted list where each top-level
// item is one issue. Returns false when the text contains no list items.
func parseMarkdownList(text string) (Result, bool) {
	lines := strings.Split(text, "\n")

	// Group lines into items: an item starts at a top-level marker and runs
	// until the next one.
	var items []string
	var current []string
	inItem := false
	for _, line := range lines {
		if m := listItemRegex.FindStringSubmatch(line); m != nil {
			if inItem {
				items = append(items, strings.Join(current, "\n"))
			}
			current = []string{m[1]}
			inItem = true
			continue
		}
		if inItem {
			current = append(current, line)
		}
	}
	if inItem {
		items = append(items, strings.Join(current, "\n"))
	}
	if len(items) == 0 {
		return Result{}, false
	}

	var issues []*types.Issue
	var warnings []string
	for _, item := range items {
		if issue := issueFromListItem(item); issue != nil {
			issues = append(issues, issue)
		} else {
			warnings = append(warnings, "markdown item without usable content skipped")
		}
	}
	return finish(issues, types.FormatMarkdownList, warnings), true
}

// issueFromListItem extracts issue fields from one list item via inline
// regexes and fenced code blocks.
func issueFromListItem(item string) *types.Issue {
	issue := &types.Issue{}

	// Snippet: first fenced code block, removed from the body afterwards.
	if m := fencedBlockRegex.FindStringSubmatch(item); m != nil {
		issue.CodeSnippet = strings.TrimSpace(m[1])
		item = fencedBlockRegex.ReplaceAllString(item, "")
	}

	var rawSeverity, rawCategory string
	firstLine, rest, _ := strings.Cut(item, "\n")
	firstLine = strings.TrimSpace(firstLine)

	if m := bracketSeverityRegex.FindStringSubmatch(firstLine); m != nil {
		rawSeverity = m[1]
		firstLine = strings.TrimSpace(bracketSeverityRegex.ReplaceAllString(firstLine, ""))
	}
	if m := inlineSeverityRegex.FindStringSubmatch(item); m != nil && rawSeverity == "" {
		rawSeverity = m[1]
	}
	if m := inlineCategoryRegex.FindStringSubmatch(item); m != nil {
		rawCategory = m[1]
	}

	var file string
	var line int
	if m := inlineFileRegex.FindStringSubmatch(item); m != nil {
		file = m[1]
	}
	if m := inlineLineRegex.FindStringSubmatch(item); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	// Inline path:line forms cover both fields when explicit labels are
	// absent.
	if file == "" {
		if m := pathLineRegex.FindStringSubmatch(item); m != nil {
			file = m[1]
			if line == 0 {
				line, _ = strconv.Atoi(m[2])
			}
		}
	}

	if m := inlineFixRegex.FindStringSubmatch(item); m != nil {
		issue.Suggestion = strings.TrimSpace(m[1])
	}

	issue.Title = cleanMarkdownTitle(firstLine)
	issue.Description = strings.TrimSpace(stripInlineFields(rest))
	issue.Location = normalizeLocation(file, line, 0)
	if issue.Title == "" && issue.Description == "" && issue.CodeSnippet == "" {
		return nil
	}
	normalizeIssue(issue, rawSeverity, rawCategory)
	return issue
}

// cleanMarkdownTitle strips emphasis markers and trailing inline fields
// from an item's first line, so "Title - File: x.go, Line: 10" keeps just
// the title part.
func cleanMarkdownTitle(line string) string {
	line = boldRegex.ReplaceAllString(line, "$1")
	line = strings.Trim(line, "*_` ")

	cut := len(line)
	for _, re := range []*regexp.Regexp{inlineFileRegex, inlineLineRegex, inlineSeverityRegex, inlineCategoryRegex, pathLineRegex} {
		if idx := re.FindStringIndex(line); idx != nil && idx[0] < cut {
			cut = idx[0]
		}
	}
	line = strings.TrimSpace(line[:cut])
	return strings.TrimRight(line, "-–—:,( ")
}

// stripInlineFields removes lines that only carried inline field values so
// the description keeps the prose.
func stripInlineFields(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*"))
		if trimmed == "" {
			continue
		}
		if inlineFileRegex.MatchString(trimmed) || inlineLineRegex.MatchString(trimmed) ||
			inlineSeverityRegex.MatchString(trimmed) || inlineCategoryRegex.MatchString(trimmed) ||
			inlineFixRegex.MatchString(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}
