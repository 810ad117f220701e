package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prlens/prlens/internal/types"
)

func TestParseStructuredObject(t *testing.T) {
	payload := map[string]any{
		"issues": []any{
			map[string]any{
				"title":        "SQL injection in user lookup",
				"description":  "Raw concatenation of user input into the query.",
				"severity":     "critical",
				"category":     "security",
				"file":         "api/users.go",
				"line":         float64(45),
				"code_snippet": `db.Query("SELECT * FROM users WHERE id = " + id)`,
				"suggestion":   "Use a parameterized query.",
			},
			map[string]any{
				"title":    "Nested location object",
				"severity": "low",
				"location": map[string]any{"file": "pkg/x.go", "line": float64(7)},
			},
		},
	}

	result := Parse(payload)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, types.FormatStructured, result.Format)
	assert.Empty(t, result.Warnings)

	first := result.Issues[0]
	assert.Equal(t, types.SeverityCritical, first.Severity)
	assert.Equal(t, types.CategorySecurity, first.Category)
	assert.Equal(t, types.Location{File: "api/users.go", Line: 45}, first.Location)
	assert.Equal(t, 95, first.Confidence)

	second := result.Issues[1]
	assert.Equal(t, "pkg/x.go", second.Location.File)
	assert.Equal(t, 7, second.Location.Line)
	// No snippet: -10.
	assert.Equal(t, 85, second.Confidence)
}

func TestParseStructuredFillsMissingSeverityAndCategory(t *testing.T) {
	payload := map[string]any{
		"issues": []any{
			map[string]any{
				"title":       "Possible memory leak in connection pool",
				"description": "Connections are never released under error paths.",
			},
		},
	}
	result := Parse(payload)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, types.SeverityMedium, result.Issues[0].Severity)
	assert.Equal(t, types.CategoryPerformance, result.Issues[0].Category)
	assert.True(t, result.Issues[0].Location.IsUnknown())
}

func TestParseEmbeddedJSON(t *testing.T) {
	text := "Here is my analysis of the repository:\n\n```json\n" +
		`{"issues": [{"title": "Unchecked error return", "severity": "high", "file": "cmd/run.go", "line": 12, "code": "defer f.Close()"}],}` +
		"\n```\nLet me know if you need more detail."

	result := Parse(text)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, types.FormatEmbeddedJSON, result.Format)
	issue := result.Issues[0]
	assert.Equal(t, "Unchecked error return", issue.Title)
	assert.Equal(t, types.SeverityHigh, issue.Severity)
	assert.Equal(t, "cmd/run.go", issue.Location.File)
	assert.Equal(t, 80, issue.Confidence)
}

func TestParseEmbeddedJSONWithBracesInStrings(t *testing.T) {
	text := `preamble {"issues": [{"title": "Brace } inside string", "severity": "low"}]} trailing`
	result := Parse(text)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "Brace } inside string", result.Issues[0].Title)
}

func TestParseLabeledText(t *testing.T) {
	text := strings.Join([]string{
		"Issue: Unhandled promise rejection",
		"Severity: High",
		"Category: error-handling",
		"File: source/index.ts",
		"Line: 47",
		"Code: await fn();",
	}, "\n")

	result := Parse(text)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, types.FormatLabeledText, result.Format)
	assert.Empty(t, result.Warnings)

	issue := result.Issues[0]
	assert.Equal(t, "Unhandled promise rejection", issue.Title)
	assert.Equal(t, types.SeverityHigh, issue.Severity)
	assert.Equal(t, types.CategoryErrorHandling, issue.Category)
	assert.Equal(t, types.Location{File: "source/index.ts", Line: 47}, issue.Location)
	assert.Equal(t, "await fn();", issue.CodeSnippet)
	assert.GreaterOrEqual(t, issue.Confidence, 70)
}

func TestParseLabeledTextMultipleRecords(t *testing.T) {
	text := strings.Join([]string{
		"Issue: First finding",
		"Severity: high",
		"File: a.go",
		"Line: 1",
		"",
		"Issue: Second finding",
		"Severity: minor",
		"Path: b/c.go",
		"Line: 9",
		"Impact: Slow lookups under load due to repeated cache misses.",
		"---",
		"Issue: Third finding",
		"Severity: blocker",
	}, "\n")

	result := Parse(text)
	require.Len(t, result.Issues, 3)
	assert.Equal(t, types.SeverityLow, result.Issues[1].Severity)
	assert.Equal(t, "b/c.go", result.Issues[1].Location.File)
	assert.Equal(t, types.SeverityCritical, result.Issues[2].Severity)
	assert.True(t, result.Issues[2].Location.IsUnknown())
}

func TestParseMarkdownList(t *testing.T) {
	text := strings.Join([]string{
		"I found the following problems:",
		"",
		"1. **Race condition in worker pool** - File: internal/pool.go, Line: 88",
		"   The counter is incremented without holding the mutex.",
		"   ```go",
		"   p.active++",
		"   ```",
		"   Fix: guard the increment with p.mu.",
		"2. [HIGH] Missing timeout on HTTP client at internal/client.go:30",
		"- Inefficient O(n^2) scan in dedupe loop, severity: low",
	}, "\n")

	result := Parse(text)
	require.Len(t, result.Issues, 3)
	assert.Equal(t, types.FormatMarkdownList, result.Format)

	first := result.Issues[0]
	assert.Equal(t, "Race condition in worker pool", first.Title)
	assert.Equal(t, "internal/pool.go", first.Location.File)
	assert.Equal(t, 88, first.Location.Line)
	assert.Equal(t, "p.active++", first.CodeSnippet)
	assert.Equal(t, "guard the increment with p.mu.", first.Suggestion)

	second := result.Issues[1]
	assert.Equal(t, types.SeverityHigh, second.Severity)
	assert.Equal(t, "internal/client.go", second.Location.File)
	assert.Equal(t, 30, second.Location.Line)

	third := result.Issues[2]
	assert.Equal(t, types.SeverityLow, third.Severity)
	assert.Equal(t, types.CategoryPerformance, third.Category)
	assert.True(t, third.Location.IsUnknown())
	// Markdown base 60, no location -10, no snippet -10.
	assert.Equal(t, 40, third.Confidence)
}

func TestParsePlaceholderLocations(t *testing.T) {
	payload := map[string]any{
		"issues": []any{
			map[string]any{"title": "a", "file": "unknown"},
			map[string]any{"title": "b", "file": "<path>"},
			map[string]any{"title": "c", "file": "src/…/x.go"},
			map[string]any{"title": "d", "file": "path/to/file.go"},
		},
	}
	result := Parse(payload)
	require.Len(t, result.Issues, 4)
	for _, issue := range result.Issues {
		assert.True(t, issue.Location.IsUnknown(), "title=%s", issue.Title)
	}
}

func TestParseSynthesizesTitleFromDescription(t *testing.T) {
	long := strings.Repeat("the handler ignores write errors ", 5)
	payload := map[string]any{
		"issues": []any{map[string]any{"description": long}},
	}
	result := Parse(payload)
	require.Len(t, result.Issues, 1)
	assert.NotEmpty(t, result.Issues[0].Title)
	assert.LessOrEqual(t, len(result.Issues[0].Title), 80)
}

// Parser totality: any input yields a list and never panics; unrecognized
// inputs carry at least one warning.
func TestParseTotality(t *testing.T) {
	inputs := []any{
		nil,
		"",
		"   \n\t  ",
		"no issues here, great code!",
		"{broken json",
		"```json\n{\"issues\": \"not an array\"}\n```",
		12345,
		map[string]any{"unrelated": true},
		[]any{"not", "objects"},
		strings.Repeat("x", 100_000),
	}
	for _, input := range inputs {
		result := Parse(input)
		assert.NotNil(t, result.Warnings)
		if len(result.Issues) == 0 {
			assert.NotEmpty(t, result.Warnings, "input=%v", input)
		}
	}
}
