package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prlens/prlens/internal/analyzer"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/index"
	"github.com/prlens/prlens/internal/types"
)

// scriptedCaller returns one payload (or error) per iteration.
type scriptedCaller struct {
	t       *testing.T
	calls   int
	replies []any // map[string]any payload, or error
	prompts []string
}

func (s *scriptedCaller) Call(ctx context.Context, repoURL, branch string, class analyzer.PromptClass, prompt string) (any, error) {
	require.Less(s.t, s.calls, len(s.replies), "more calls than scripted replies")
	s.prompts = append(s.prompts, prompt)
	reply := s.replies[s.calls]
	s.calls++
	if err, ok := reply.(error); ok {
		return nil, err
	}
	return reply, nil
}

func issuePayload(issues ...map[string]any) map[string]any {
	arr := make([]any, len(issues))
	for i, issue := range issues {
		arr[i] = issue
	}
	return map[string]any{"issues": arr}
}

func rawIssue(title, file string, line int, snippet string) map[string]any {
	return map[string]any{
		"title":        title,
		"severity":     "medium",
		"category":     "code-quality",
		"file":         file,
		"line":         float64(line),
		"code_snippet": snippet,
	}
}

func testIndex(t *testing.T) *index.RepositoryIndex {
	t.Helper()
	root := t.TempDir()
	content := []string{
		"package main",
		"",
		"func main() {",
		"\tdb.Query(q + id)",
		"\tresp, _ := http.Get(url)",
		"\t_ = resp",
		"}",
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte(strings.Join(content, "\n")+"\n"), 0o644))
	ix, err := index.Build(root, index.Options{})
	require.NoError(t, err)
	return ix
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.PerIterationTimeout = time.Second
	return cfg
}

func TestCollectConvergesWhenSetStopsGrowing(t *testing.T) {
	ix := testIndex(t)
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(
			rawIssue("Unparameterized query", "main.go", 4, "db.Query(q + id)"),
			rawIssue("Ignored error from http.Get", "main.go", 5, "resp, _ := http.Get(url)"),
		),
		issuePayload(
			rawIssue("Unparameterized query", "main.go", 4, "db.Query(q + id)"), // duplicate
		),
		issuePayload(), // quiet, still within the minimum
		issuePayload(), // quiet, first to count toward the stable window
		issuePayload(), // quiet again -> converged
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)

	assert.True(t, result.Meta.Converged)
	assert.False(t, result.Meta.Exhausted)
	assert.Equal(t, 5, result.Meta.Iterations)
	assert.Len(t, result.Issues, 2)
	for _, issue := range result.Issues {
		assert.NotEmpty(t, issue.ID)
	}
	// Iteration history records per-iteration contributions.
	require.Len(t, result.Meta.History, 5)
	assert.Equal(t, 2, result.Meta.History[0].Added)
	assert.Equal(t, 0, result.Meta.History[1].Added)
}

func TestCollectRunsMinimumIterationsEvenWhenFirstIsQuiet(t *testing.T) {
	ix := testIndex(t)
	// Nothing found at all: the loop must still probe MinIterations times
	// before quiet iterations start counting toward the stable window.
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(), issuePayload(), issuePayload(), issuePayload(), issuePayload(),
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Meta.Iterations)
	assert.True(t, result.Meta.Converged)
	assert.Empty(t, result.Issues)
}

func TestCollectExhaustsIterationBudget(t *testing.T) {
	ix := testIndex(t)
	cfg := testConfig()
	cfg.MaxIterations = 4

	// Every iteration finds something new: no convergence.
	replies := make([]any, 4)
	for i := range replies {
		title := "Finding " + string(rune('A'+i))
		replies[i] = issuePayload(rawIssue(title, "main.go", 4, "db.Query(q + id)"))
	}
	caller := &scriptedCaller{t: t, replies: replies}

	result, err := NewCollector(caller, cfg).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)
	assert.True(t, result.Meta.Exhausted)
	assert.False(t, result.Meta.Converged)
	assert.Equal(t, 4, result.Meta.Iterations)
}

func TestCollectEarlyIterationFailureFailsBranch(t *testing.T) {
	ix := testIndex(t)
	caller := &scriptedCaller{t: t, replies: []any{
		types.NewEngineError(types.FailureFetch, "analyzer call", errors.New("boom")),
	}}

	_, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.Error(t, err)
	assert.Equal(t, types.FailureFetch, types.CategoryOf(err))
}

func TestCollectLateIterationFailureKeepsPartialResults(t *testing.T) {
	ix := testIndex(t)
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(rawIssue("Unparameterized query", "main.go", 4, "db.Query(q + id)")),
		issuePayload(),
		issuePayload(rawIssue("Ignored error from http.Get", "main.go", 5, "resp, _ := http.Get(url)")),
		types.NewEngineError(types.FailureFetch, "analyzer call", errors.New("blip")),
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)
	require.Len(t, result.Meta.History, 4)
	assert.True(t, result.Meta.History[3].Failed)
}

func TestCollectCancellationPropagates(t *testing.T) {
	ix := testIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller := &scriptedCaller{t: t, replies: []any{
		types.NewEngineError(types.FailureCancelled, "analyzer call", context.Canceled),
	}}

	_, err := NewCollector(caller, testConfig()).Collect(ctx,
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.Error(t, err)
	assert.Equal(t, types.FailureCancelled, types.CategoryOf(err))
}

func TestCollectIterationTimeoutIsSoft(t *testing.T) {
	ix := testIndex(t)
	// The iteration deadline expired but the run is alive: keep partial
	// results instead of failing the branch.
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(rawIssue("Unparameterized query", "main.go", 4, "db.Query(q + id)")),
		types.NewEngineError(types.FailureCancelled, "analyzer call", context.DeadlineExceeded),
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 1)
	assert.False(t, result.Meta.Converged)
}

func TestCollectFirstIterationTimeoutFailsBranch(t *testing.T) {
	ix := testIndex(t)
	// The deadline expired before anything was collected: there is no
	// partial result to keep, so the branch must fail rather than report
	// an empty success.
	caller := &scriptedCaller{t: t, replies: []any{
		types.NewEngineError(types.FailureCancelled, "analyzer call", context.DeadlineExceeded),
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, types.FailureFetch, types.CategoryOf(err))
}

func TestCollectGapFillPromptCarriesDoNotRepeatList(t *testing.T) {
	ix := testIndex(t)
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(rawIssue("Unparameterized query", "main.go", 4, "db.Query(q + id)")),
		issuePayload(), issuePayload(), issuePayload(), issuePayload(),
	}}

	_, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)

	require.Len(t, caller.prompts, 5)
	assert.Contains(t, caller.prompts[1], "Do NOT report them again")
	assert.Contains(t, caller.prompts[1], "Unparameterized query")
	// Categories with no findings yet are asked for explicitly.
	assert.Contains(t, caller.prompts[1], string(types.CategorySecurity))
}

func TestCollectKnownIssuesSeedFirstPrompt(t *testing.T) {
	ix := testIndex(t)
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(), issuePayload(), issuePayload(), issuePayload(), issuePayload(),
	}}
	known := []*types.Issue{{
		Title:    "Unparameterized query",
		Severity: types.SeverityHigh,
		Category: types.CategorySecurity,
		Location: types.Location{File: "main.go", Line: 4},
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "dev", Index: ix, KnownIssues: known})
	require.NoError(t, err)

	assert.Contains(t, caller.prompts[0], "previously found")
	assert.Contains(t, caller.prompts[0], "Unparameterized query")
	// Known issues inform the prompt but are never copied into results.
	assert.Empty(t, result.Issues)
}

func TestCollectRequeriesUngroundedHighSeverity(t *testing.T) {
	ix := testIndex(t)
	ungrounded := map[string]any{
		"title":    "Hardcoded credentials somewhere",
		"severity": "critical",
		"category": "security",
	}
	caller := &scriptedCaller{t: t, replies: []any{
		issuePayload(ungrounded),
		issuePayload(), issuePayload(), issuePayload(), issuePayload(),
		// Reply to the snippet requery: same finding, now located.
		issuePayload(map[string]any{
			"title": "Hardcoded credentials somewhere", "severity": "critical",
			"category": "security", "file": "main.go", "line": float64(4),
			"code_snippet": "db.Query(q + id)",
		}),
	}}

	result, err := NewCollector(caller, testConfig()).Collect(context.Background(),
		Request{RepoURL: "repo", Branch: "main", Index: ix})
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.False(t, result.Issues[0].Location.IsUnknown())
	assert.Equal(t, "main.go", result.Issues[0].Location.File)
	require.Len(t, caller.prompts, 6)
	assert.Contains(t, caller.prompts[5], "without a usable location")
}

func TestFingerprintBucketsNearbyLines(t *testing.T) {
	a := &types.Issue{Title: "Leaky abstraction", Severity: types.SeverityMedium,
		Category: types.CategoryCodeQuality, Location: types.Location{File: "x.go", Line: 10}}
	b := &types.Issue{Title: "Leaky Abstraction!", Severity: types.SeverityMedium,
		Category: types.CategoryCodeQuality, Location: types.Location{File: "x.go", Line: 11}}
	c := &types.Issue{Title: "Leaky abstraction", Severity: types.SeverityMedium,
		Category: types.CategoryCodeQuality, Location: types.Location{File: "x.go", Line: 99}}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestIssueSetKeepsHigherConfidenceOnCollision(t *testing.T) {
	low := &types.Issue{Title: "Duplicate finding", Severity: types.SeverityLow,
		Category: types.CategoryCodeQuality, Location: types.Location{File: "x.go", Line: 3},
		Confidence: 60}
	high := &types.Issue{Title: "Duplicate finding", Severity: types.SeverityLow,
		Category: types.CategoryCodeQuality, Location: types.Location{File: "x.go", Line: 4},
		Confidence: 95}

	set := newIssueSet()
	assert.True(t, set.add(low))
	assert.False(t, set.add(high))
	require.Len(t, set.list(), 1)
	assert.Equal(t, 95, set.list()[0].Confidence)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "unhandled promise rejection",
		NormalizeTitle("  Unhandled  Promise-Rejection!! "))
	assert.Equal(t, NormalizeTitle("SQL injection"), NormalizeTitle("sql INJECTION?"))
}
