// Package compare matches validated issue sets across two branches and
// partitions them into NEW, RESOLVED, and UNCHANGED.
package compare

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/prlens/prlens/internal/collect"
	"github.com/prlens/prlens/internal/types"
)

var numericLiteralRegex = regexp.MustCompile(`\b\d+\b`)

// CrossFingerprint computes the cross-branch identity of an issue. Unlike
// the intra-branch key it deliberately excludes the line number: code moves
// between revisions, and a finding that merely shifted must still match.
// The snippet (numerals masked, whitespace collapsed) anchors the match;
// issues without a snippet fall back to the file's base name.
func CrossFingerprint(issue *types.Issue) string {
	anchor := normalizeSnippetForMatch(issue.CodeSnippet)
	if anchor == "" && !issue.Location.IsUnknown() {
		anchor = path.Base(issue.Location.File)
	}

	h := sha256.New()
	for _, part := range []string{
		collect.NormalizeTitle(issue.Title),
		string(issue.Severity),
		string(issue.Category),
		anchor,
	} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeSnippetForMatch collapses whitespace and masks numeric literals
// so renumbered constants (ports, sizes, line-adjacent offsets) do not
// break the match.
func normalizeSnippetForMatch(snippet string) string {
	if snippet == "" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(snippet, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	joined := strings.Join(lines, "\n")
	return numericLiteralRegex.ReplaceAllString(joined, "N")
}

// Compare partitions two branches' validated issues. Head issues sharing
// a fingerprint collapse to the highest-confidence one; matching against
// base is then one-to-one.
func Compare(base, head []*types.Issue) *types.ComparisonResult {
	for _, issue := range base {
		issue.Fingerprint = CrossFingerprint(issue)
	}
	for _, issue := range head {
		issue.Fingerprint = CrossFingerprint(issue)
	}
	head = collapseHeadDuplicates(head)

	// Index base issues by fingerprint, preserving order for determinism
	// when a fingerprint appears more than once.
	baseByFP := make(map[string][]*types.Issue, len(base))
	for _, issue := range base {
		baseByFP[issue.Fingerprint] = append(baseByFP[issue.Fingerprint], issue)
	}

	result := &types.ComparisonResult{BaseIssues: base, HeadIssues: head}
	matched := make(map[*types.Issue]bool, len(base))

	for _, headIssue := range head {
		candidates := baseByFP[headIssue.Fingerprint]
		if len(candidates) == 0 {
			result.NewIssues = append(result.NewIssues, headIssue)
			continue
		}
		baseIssue := candidates[0]
		baseByFP[headIssue.Fingerprint] = candidates[1:]
		matched[baseIssue] = true
		result.UnchangedIssues = append(result.UnchangedIssues, types.UnchangedIssue{
			Issue:            headIssue,
			OriginalLocation: baseIssue.Location,
			BaseID:           baseIssue.ID,
		})
	}
	for _, baseIssue := range base {
		if !matched[baseIssue] {
			result.ResolvedIssues = append(result.ResolvedIssues, baseIssue)
		}
	}

	sortIssues(result.NewIssues)
	sortIssues(result.ResolvedIssues)
	sortUnchanged(result.UnchangedIssues)
	return result
}

// collapseHeadDuplicates merges head issues that share a fingerprint,
// keeping the highest-confidence one. The fingerprint is location-agnostic,
// so the same finding reported at two locations lands here.
func collapseHeadDuplicates(head []*types.Issue) []*types.Issue {
	byFP := make(map[string]int, len(head))
	out := make([]*types.Issue, 0, len(head))
	for _, issue := range head {
		idx, seen := byFP[issue.Fingerprint]
		if !seen {
			byFP[issue.Fingerprint] = len(out)
			out = append(out, issue)
			continue
		}
		slog.Warn("duplicate fingerprint among head issues, collapsing",
			"title", issue.Title, "location", issue.Location.String(),
			"kept_location", out[idx].Location.String())
		if issue.Confidence > out[idx].Confidence {
			out[idx] = issue
		}
	}
	return out
}

// issueLess orders severity first, then category, file, and line.
func issueLess(a, b *types.Issue) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() < b.Severity.Rank()
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Location.File != b.Location.File {
		return a.Location.File < b.Location.File
	}
	return a.Location.Line < b.Location.Line
}

func sortIssues(issues []*types.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issueLess(issues[i], issues[j])
	})
}

func sortUnchanged(issues []types.UnchangedIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issueLess(issues[i].Issue, issues[j].Issue)
	})
}
