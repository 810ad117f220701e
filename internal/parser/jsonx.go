package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

// Pre-compiled regular expressions. Compiling on every parse is an order of
// magnitude slower than reusing these.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json|javascript|js)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)^\s*//.*$`)
)

// parseStructured maps an object payload with an "issues" array onto
// issues. Elements that are not objects are skipped with a warning.
func parseStructured(obj map[string]any) Result {
	raw, ok := obj["issues"]
	if !ok {
		return unrecognized("object payload has no issues array")
	}
	items, ok := raw.([]any)
	if !ok {
		return unrecognized("issues field is not an array")
	}

	var issues []*types.Issue
	var warnings []string
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			warnings = append(warnings, "issues["+strconv.Itoa(i)+"] is not an object, skipped")
			continue
		}
		issues = append(issues, issueFromObject(m))
	}
	return finish(issues, types.FormatStructured, warnings)
}

// parseEmbeddedJSON extracts a balanced outermost {...} from mixed text.
// Cleanup strategies (code fences, trailing commas, comments) follow the
// same fallback chain used for direct parses.
func parseEmbeddedJSON(text string) (Result, bool) {
	candidates := []string{text}
	if defenced := removeCodeFences(text); defenced != text {
		candidates = append(candidates, defenced)
	}

	for _, candidate := range candidates {
		extracted := extractBalancedObject(candidate)
		if extracted == "" {
			continue
		}
		for _, attempt := range []string{extracted, cleanupJSON(extracted)} {
			var obj map[string]any
			if err := json.Unmarshal([]byte(attempt), &obj); err != nil {
				continue
			}
			if _, hasIssues := obj["issues"]; !hasIssues {
				continue
			}
			result := parseStructured(obj)
			result.Format = types.FormatEmbeddedJSON
			for _, issue := range result.Issues {
				applyConfidence(issue, types.FormatEmbeddedJSON)
			}
			return result, true
		}
	}
	return Result{}, false
}

// extractBalancedObject returns the first balanced top-level {...} in text,
// tracking string literals so braces inside them do not count.
func extractBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// removeCodeFences strips markdown code fences wherever they appear.
func removeCodeFences(text string) string {
	return strings.TrimSpace(codeFenceRegex.ReplaceAllString(text, "$1"))
}

// cleanupJSON fixes the JSON quirks LLMs commonly produce: trailing commas
// and // comments. Single quotes are left alone so apostrophes in valid
// strings survive.
func cleanupJSON(text string) string {
	cleaned := trailingCommaRegex.ReplaceAllString(text, "$1")
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// issueFromObject maps one decoded issue object onto a normalized Issue,
// tolerating the field-name variants the Analyzer is known to produce.
func issueFromObject(m map[string]any) *types.Issue {
	issue := &types.Issue{
		Title:       getString(m, "title", "issue", "name"),
		Description: getString(m, "description", "impact", "details"),
		CodeSnippet: getString(m, "code_snippet", "codeSnippet", "code", "snippet"),
		Suggestion:  getString(m, "suggestion", "recommendation", "fix"),
	}

	file := getString(m, "file", "path", "filename")
	line := getInt(m, "line", "line_number", "lineNumber")
	column := getInt(m, "column", "col")
	if loc, ok := m["location"].(map[string]any); ok {
		if file == "" {
			file = getString(loc, "file", "path", "filename")
		}
		if line == 0 {
			line = getInt(loc, "line", "line_number", "lineNumber")
		}
		if column == 0 {
			column = getInt(loc, "column", "col")
		}
	}
	issue.Location = normalizeLocation(file, line, column)

	normalizeIssue(issue, getString(m, "severity"), getString(m, "category", "type"))
	return issue
}

func getString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// getInt tolerates JSON numbers and numeric strings.
func getInt(m map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return parsed
			}
		}
	}
	return 0
}
