package index

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	edlib "github.com/hbollon/go-edlib"
)

// Match scores. Exact means the snippet appears verbatim; normalized means
// it matches after whitespace collapsing; fuzzy tolerates one differing
// token.
const (
	ScoreExact      = 100
	ScoreNormalized = 80
	ScoreFuzzy      = 60
)

// fuzzySimilarityFloor gates fuzzy candidates before token comparison, so
// unrelated lines that merely share a first line are discarded cheaply.
const fuzzySimilarityFloor = 0.85

// NormalizeLine strips leading/trailing whitespace and collapses internal
// whitespace runs to a single space. This normalization is shared between
// index construction and lookup and must stay identical on both sides.
func NormalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// NormalizeSnippet normalizes a multi-line fragment: blank lines dropped,
// each remaining line normalized, joined with newlines.
func NormalizeSnippet(snippet string) string {
	var normLines []string
	for _, line := range strings.Split(snippet, "\n") {
		if norm := NormalizeLine(line); norm != "" {
			normLines = append(normLines, norm)
		}
	}
	return strings.Join(normLines, "\n")
}

// LookupSnippet finds where a code snippet occurs in the working tree.
// Results are ordered by score descending, then by the deterministic
// occurrence order (shallower path, lexicographic path, line). Two
// invocations with the same snippet return identical orderings.
func (ix *RepositoryIndex) LookupSnippet(snippet string) []Match {
	normLines := normalizedLines(snippet)
	if len(normLines) == 0 {
		return nil
	}

	var matches []Match
	if len(normLines) == 1 {
		matches = ix.lookupSingleLine(snippet, normLines[0])
	} else {
		matches = ix.lookupGroup(snippet, normLines)
	}
	if len(matches) == 0 {
		matches = ix.lookupFuzzy(normLines)
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		da, db := strings.Count(matches[a].File, "/"), strings.Count(matches[b].File, "/")
		if da != db {
			return da < db
		}
		if matches[a].File != matches[b].File {
			return matches[a].File < matches[b].File
		}
		return matches[a].Line < matches[b].Line
	})
	return matches
}

func normalizedLines(snippet string) []string {
	var out []string
	for _, line := range strings.Split(snippet, "\n") {
		if norm := NormalizeLine(line); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

// lookupSingleLine resolves one-line snippets through the per-line index.
func (ix *RepositoryIndex) lookupSingleLine(raw, norm string) []Match {
	occs := ix.lineIndex[xxhash.Sum64String(norm)]
	matches := make([]Match, 0, len(occs))
	rawTrimmed := strings.TrimSpace(raw)
	for _, occ := range occs {
		score := ScoreNormalized
		if fileLines, ok := ix.lines[occ.File]; ok && occ.Line-1 < len(fileLines) {
			if strings.Contains(fileLines[occ.Line-1], rawTrimmed) {
				score = ScoreExact
			}
		}
		matches = append(matches, Match{File: occ.File, Line: occ.Line, Score: score})
	}
	return matches
}

// lookupGroup resolves multi-line snippets through the group index.
func (ix *RepositoryIndex) lookupGroup(raw string, normLines []string) []Match {
	occs := ix.snippets[xxhash.Sum64String(strings.Join(normLines, "\n"))]
	matches := make([]Match, 0, len(occs))
	rawBlock := strings.TrimSpace(raw)
	for _, occ := range occs {
		score := ScoreNormalized
		if fileLines, ok := ix.lines[occ.File]; ok {
			hi := occ.Line - 1 + len(normLines)
			if hi <= len(fileLines) {
				block := strings.TrimSpace(strings.Join(fileLines[occ.Line-1:hi], "\n"))
				if block == rawBlock {
					score = ScoreExact
				}
			}
		}
		matches = append(matches, Match{File: occ.File, Line: occ.Line, Score: score})
	}
	return matches
}

// lookupFuzzy finds near-matches that differ from the snippet by at most
// one token. Candidates are seeded from any line of the snippet that has an
// exact normalized occurrence, then the surrounding window is compared.
func (ix *RepositoryIndex) lookupFuzzy(normLines []string) []Match {
	want := strings.Join(normLines, "\n")
	seen := make(map[Occurrence]struct{})
	var matches []Match

	for li, norm := range normLines {
		for _, occ := range ix.lineIndex[xxhash.Sum64String(norm)] {
			// The candidate window starts li lines above the seed line.
			start := occ.Line - li
			if start < 1 {
				continue
			}
			anchor := Occurrence{File: occ.File, Line: start}
			if _, dup := seen[anchor]; dup {
				continue
			}
			seen[anchor] = struct{}{}

			fileLines, ok := ix.lines[occ.File]
			if !ok || start-1+len(normLines) > len(fileLines) {
				continue
			}
			var window []string
			for _, raw := range fileLines[start-1 : start-1+len(normLines)] {
				window = append(window, NormalizeLine(raw))
			}
			got := strings.Join(window, "\n")

			if sim, err := edlib.StringsSimilarity(want, got, edlib.JaroWinkler); err != nil || sim < fuzzySimilarityFloor {
				continue
			}
			if tokenDistance(want, got) <= 1 {
				matches = append(matches, Match{File: occ.File, Line: start, Score: ScoreFuzzy})
			}
		}
	}
	return matches
}

// tokenDistance counts differing tokens between two normalized fragments.
// Fragments of different token counts differ by at least the length delta.
func tokenDistance(a, b string) int {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) != len(tb) {
		d := len(ta) - len(tb)
		if d < 0 {
			d = -d
		}
		// A length mismatch plus any substitutions is more than one token
		// apart unless the shared prefix/suffix covers the rest.
		if d > 1 {
			return d
		}
	}
	n := len(ta)
	if len(tb) < n {
		n = len(tb)
	}
	diff := 0
	for i := 0; i < n; i++ {
		if ta[i] != tb[i] {
			diff++
		}
	}
	diff += len(ta) - n + len(tb) - n
	return diff
}
