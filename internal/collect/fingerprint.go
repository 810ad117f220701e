package collect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prlens/prlens/internal/types"
)

// lineBucketSize groups nearby lines so a finding that drifts a few lines
// between iterations still deduplicates.
const lineBucketSize = 5

// Fingerprint computes the intra-branch identity of an issue. Two reports
// of the same problem in the same neighborhood collapse to one key even
// when the Analyzer words them slightly differently.
func Fingerprint(issue *types.Issue) string {
	file := "unknown"
	bucket := -1
	if !issue.Location.IsUnknown() {
		file = issue.Location.File
		bucket = issue.Location.Line / lineBucketSize
	}

	h := sha256.New()
	for _, part := range []string{
		NormalizeTitle(issue.Title),
		string(issue.Severity),
		string(issue.Category),
		file,
		strconv.Itoa(bucket),
	} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTitle lowercases and strips punctuation so cosmetic rewording
// does not defeat deduplication.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// issueSet accumulates deduplicated issues in insertion order.
type issueSet struct {
	byKey map[string]*types.Issue
	order []string
}

func newIssueSet() *issueSet {
	return &issueSet{byKey: make(map[string]*types.Issue)}
}

// add merges one issue into the set. Collisions keep the higher-confidence
// copy in place. Returns true when the issue was new.
func (s *issueSet) add(issue *types.Issue) bool {
	key := Fingerprint(issue)
	if existing, ok := s.byKey[key]; ok {
		if issue.Confidence > existing.Confidence {
			s.byKey[key] = issue
		}
		return false
	}
	s.byKey[key] = issue
	s.order = append(s.order, key)
	return true
}

// addAll merges a batch, returning how many were new.
func (s *issueSet) addAll(issues []*types.Issue) int {
	added := 0
	for _, issue := range issues {
		if s.add(issue) {
			added++
		}
	}
	return added
}

// list returns the issues in first-seen order.
func (s *issueSet) list() []*types.Issue {
	out := make([]*types.Issue, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

func (s *issueSet) len() int { return len(s.order) }

// assignIDs gives every issue a stable, deterministic identifier derived
// from its branch and fingerprint.
func assignIDs(branch string, issues []*types.Issue) {
	for _, issue := range issues {
		fp := Fingerprint(issue)
		issue.ID = fmt.Sprintf("%s-%s", branch, fp[:12])
	}
}
