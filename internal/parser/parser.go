// Package parser converts one Analyzer response of any supported shape into
// a normalized list of candidate issues. It is the only component that
// tolerates heterogeneous input: downstream code never re-inspects raw
// Analyzer text.
//
// Four formats are auto-detected, in order:
//  1. structured object with an "issues" array
//  2. JSON embedded in surrounding text
//  3. labeled text blocks (Issue:/Severity:/File:/... records)
//  4. numbered or bulleted markdown lists
//
// Parse never fails on content errors: unrecognized input produces an empty
// list and a warning. The parser is deterministic and performs no I/O.
package parser

import (
	"log/slog"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

// Result is the outcome of parsing one Analyzer response.
type Result struct {
	Issues   []*types.Issue
	Format   types.ResponseFormat
	Warnings []string
}

// Parse accepts either a raw string payload or an already-decoded object
// (map[string]any) from the Analyzer transport.
func Parse(payload any) Result {
	switch v := payload.(type) {
	case nil:
		return unrecognized("payload is nil")
	case map[string]any:
		return parseStructured(v)
	case []any:
		// A bare issues array counts as a structured payload.
		return parseStructured(map[string]any{"issues": v})
	case string:
		return parseText(v)
	case []byte:
		return parseText(string(v))
	default:
		return unrecognized("unsupported payload type")
	}
}

// parseText runs the string-format detectors in order.
func parseText(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return unrecognized("empty payload")
	}

	if result, ok := parseEmbeddedJSON(trimmed); ok {
		return result
	}
	if result, ok := parseLabeledText(trimmed); ok {
		return result
	}
	if result, ok := parseMarkdownList(trimmed); ok {
		return result
	}

	slog.Debug("parser: no format matched", "preview", truncate(trimmed, 120))
	return unrecognized("no recognizable issue format in payload")
}

func unrecognized(warning string) Result {
	return Result{
		Format:   types.FormatUnrecognized,
		Warnings: []string{warning},
	}
}

// finish assigns format-based confidence and filters out empty records.
func finish(issues []*types.Issue, format types.ResponseFormat, warnings []string) Result {
	kept := issues[:0]
	for _, issue := range issues {
		if issue.Title == "" && issue.Description == "" {
			warnings = append(warnings, "dropped record with no title or description")
			continue
		}
		applyConfidence(issue, format)
		kept = append(kept, issue)
	}
	if len(kept) == 0 && len(warnings) == 0 {
		warnings = append(warnings, "response contained zero issues")
	}
	return Result{Issues: kept, Format: format, Warnings: warnings}
}

func applyConfidence(issue *types.Issue, format types.ResponseFormat) {
	confidence := format.BaseConfidence()
	if issue.Location.IsUnknown() {
		confidence -= 10
	}
	if issue.CodeSnippet == "" {
		confidence -= 10
	}
	if confidence < 0 {
		confidence = 0
	}
	issue.Confidence = confidence
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
