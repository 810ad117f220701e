// Package validate grounds candidate issues against a repository index:
// locations are confirmed, wrong or fabricated locations are recovered via
// snippet lookup, and ungroundable low-severity issues are dropped.
package validate

import (
	"log/slog"
	"strings"

	"github.com/prlens/prlens/internal/index"
	"github.com/prlens/prlens/internal/types"
)

// Outcome classifies what happened to one candidate issue.
type Outcome int

const (
	// OutcomeValid means the reported location exists as-is.
	OutcomeValid Outcome = iota
	// OutcomeRecovered means the location was rewritten from a snippet match.
	OutcomeRecovered
	// OutcomeDropped means the issue could not be grounded and was discarded.
	OutcomeDropped
)

// DropReason explains why an issue was dropped.
type DropReason string

const (
	DropNoLocation DropReason = "no usable location or snippet"
)

// Verdict is the per-issue validation result.
type Verdict struct {
	Outcome Outcome
	Issue   *types.Issue
	Reason  DropReason
}

// highSeverityPenalty is applied when a high-or-critical issue is kept
// without a grounded location, so it is not silently lost but clearly
// marked less trustworthy.
const highSeverityPenalty = 20

// Validate grounds one candidate issue against the index.
//
// Steps:
//  1. If the reported file exists and the line is in range, the issue is
//     Valid. When a snippet is present it is cross-checked against the
//     file content; a mismatch falls through to recovery.
//  2. Otherwise a non-empty snippet is looked up in the index; the best
//     match rewrites the location and caps confidence at the match score.
//  3. Otherwise high/critical issues are kept with an unknown location and
//     a confidence penalty; everything else is dropped.
func Validate(issue *types.Issue, ix *index.RepositoryIndex) Verdict {
	if locationExists(issue, ix) {
		if snippetAgrees(issue, ix) {
			return Verdict{Outcome: OutcomeValid, Issue: issue}
		}
		slog.Debug("validate: snippet mismatch at reported location",
			"file", issue.Location.File, "line", issue.Location.Line)
	}

	if issue.CodeSnippet != "" {
		if matches := ix.LookupSnippet(issue.CodeSnippet); len(matches) > 0 {
			best := matches[0]
			recovered := *issue
			recovered.Location = types.Location{File: best.File, Line: best.Line}
			if recovered.Confidence > best.Score {
				recovered.Confidence = best.Score
			}
			return Verdict{Outcome: OutcomeRecovered, Issue: &recovered}
		}
	}

	if issue.Severity == types.SeverityCritical || issue.Severity == types.SeverityHigh {
		kept := *issue
		kept.Location = types.UnknownLocation
		kept.Confidence -= highSeverityPenalty
		if kept.Confidence < 0 {
			kept.Confidence = 0
		}
		return Verdict{Outcome: OutcomeValid, Issue: &kept}
	}

	return Verdict{Outcome: OutcomeDropped, Issue: issue, Reason: DropNoLocation}
}

func locationExists(issue *types.Issue, ix *index.RepositoryIndex) bool {
	loc := issue.Location
	if loc.IsUnknown() || loc.Line < 1 {
		return false
	}
	return ix.HasFile(loc.File) && loc.Line <= ix.LineCount(loc.File)
}

// snippetAgrees re-checks that the code at the reported location actually
// contains the issue's snippet (whitespace-normalized). Issues without a
// snippet pass trivially.
func snippetAgrees(issue *types.Issue, ix *index.RepositoryIndex) bool {
	if issue.CodeSnippet == "" {
		return true
	}
	normSnippet := index.NormalizeSnippet(issue.CodeSnippet)
	if normSnippet == "" {
		return true
	}
	snippetLines := strings.Count(normSnippet, "\n")
	extract, err := ix.ExtractLines(issue.Location.File, issue.Location.Line, snippetLines+1)
	if err != nil {
		// Content unavailable (file over the index size cap): trust the
		// line-range check from step 1.
		return true
	}
	return strings.Contains(index.NormalizeSnippet(extract.Code), normSnippet)
}

// Partitions is the bulk validation result.
type Partitions struct {
	Valid     []*types.Issue
	Recovered []*types.Issue
	Dropped   []*types.Issue
}

// ValidateAndFilter validates a batch. Every issue in Valid and Recovered
// either has a location that exists in the index or the explicit unknown
// sentinel.
func ValidateAndFilter(issues []*types.Issue, ix *index.RepositoryIndex) Partitions {
	var parts Partitions
	for _, issue := range issues {
		verdict := Validate(issue, ix)
		switch verdict.Outcome {
		case OutcomeValid:
			parts.Valid = append(parts.Valid, verdict.Issue)
		case OutcomeRecovered:
			parts.Recovered = append(parts.Recovered, verdict.Issue)
		case OutcomeDropped:
			parts.Dropped = append(parts.Dropped, verdict.Issue)
		}
	}
	return parts
}
