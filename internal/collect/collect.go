// Package collect runs the adaptive collection loop for one branch: it
// keeps querying the Analyzer until the issue set stops growing, then
// validates and deduplicates what it gathered.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prlens/prlens/internal/analyzer"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/index"
	"github.com/prlens/prlens/internal/parser"
	"github.com/prlens/prlens/internal/types"
	"github.com/prlens/prlens/internal/validate"
)

// Caller is the slice of the analyzer client the loop needs.
type Caller interface {
	Call(ctx context.Context, repoURL, branch string, class analyzer.PromptClass, prompt string) (any, error)
}

// Request describes one branch to collect.
type Request struct {
	RepoURL string
	Branch  string
	Index   *index.RepositoryIndex

	// KnownIssues are validated findings from a previously analyzed
	// revision; they seed the first prompt so the Analyzer converges
	// faster, but they are never copied into this branch's results.
	KnownIssues []*types.Issue
}

// Result is one branch's validated issue set plus collection metadata.
type Result struct {
	Issues []*types.Issue
	Meta   types.BranchMetadata
}

// Collector drives the loop. One Collector may serve several branches
// concurrently; it holds no per-branch state.
type Collector struct {
	client Caller
	cfg    *config.Config
}

func NewCollector(client Caller, cfg *config.Config) *Collector {
	return &Collector{client: client, cfg: cfg}
}

// Collect runs the adaptive loop for one branch.
//
// The loop always runs at least MinIterations and at most MaxIterations.
// It converges when StableWindow consecutive iterations add nothing new.
// An iteration failure after the minimum is tolerated when earlier
// iterations succeeded; before that, the branch fails.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := slog.With("branch", req.Branch)
	log.Info("collection started", "min_iterations", c.cfg.MinIterations,
		"max_iterations", c.cfg.MaxIterations)

	set := newIssueSet()
	meta := types.BranchMetadata{Branch: req.Branch, Index: req.Index.Stats()}
	streak := 0
	succeeded := 0

	for k := 1; k <= c.cfg.MaxIterations; k++ {
		record, err := c.runIteration(ctx, req, k, set)
		meta.History = append(meta.History, record)
		meta.Iterations = k

		if err != nil {
			if ctx.Err() != nil {
				return nil, types.NewEngineError(types.FailureCancelled,
					"collect "+req.Branch, ctx.Err())
			}
			timedOut := types.CategoryOf(err) == types.FailureCancelled
			if timedOut && succeeded > 0 {
				// The iteration's own deadline expired while the run is
				// still alive: a soft timeout. Keep what we have.
				log.Warn("iteration timed out", "iteration", k)
				break
			}
			if k > c.cfg.MinIterations && succeeded > 0 {
				log.Warn("iteration failed after minimum, keeping partial results",
					"iteration", k, "error", err)
				break
			}
			if timedOut {
				// Nothing succeeded yet, so there is no partial result to
				// keep; the branch fails.
				return nil, types.NewEngineError(types.FailureFetch,
					fmt.Sprintf("collect %s: iteration %d timed out", req.Branch, k), err)
			}
			return nil, fmt.Errorf("collect %s: iteration %d: %w", req.Branch, k, err)
		}
		succeeded++

		// Quiet iterations start counting toward convergence only after the
		// minimum has been completed.
		if k > c.cfg.MinIterations && record.Added == 0 {
			streak++
		} else {
			streak = 0
		}
		log.Info("iteration complete", "iteration", k, "added", record.Added,
			"total", set.len(), "stable_streak", streak)

		if streak >= c.cfg.StableWindow {
			meta.Converged = true
			break
		}
	}
	if !meta.Converged && meta.Iterations == c.cfg.MaxIterations {
		meta.Exhausted = true
		log.Warn("collection exhausted iteration budget", "total", set.len())
	}

	issues := c.validateAll(set.list(), req.Index, &meta)
	issues = c.requeryUngrounded(ctx, req, issues, &meta)
	assignIDs(req.Branch, issues)
	meta.Duration = time.Since(start)
	log.Info("collection finished", "issues", len(issues),
		"converged", meta.Converged, "duration", meta.Duration)

	return &Result{Issues: issues, Meta: meta}, nil
}

// runIteration issues one Analyzer call and merges its findings.
func (c *Collector) runIteration(ctx context.Context, req Request, k int, set *issueSet) (types.IterationRecord, error) {
	record := types.IterationRecord{Iteration: k}
	start := time.Now()

	var prompt string
	var class analyzer.PromptClass
	if k == 1 {
		prompt = BuildComprehensivePrompt(req.Branch, req.Index.Files(), req.KnownIssues)
		class = analyzer.ClassComprehensive
	} else {
		// Known issues from the other branch join the do-not-repeat list.
		digest := make([]*types.Issue, 0, len(req.KnownIssues)+set.len())
		digest = append(digest, req.KnownIssues...)
		digest = append(digest, set.list()...)
		prompt = BuildGapFillPrompt(req.Branch, k, digest)
		class = analyzer.ClassGapFill(k)
	}

	iterCtx, cancel := context.WithTimeout(ctx, c.cfg.PerIterationTimeout)
	payload, err := c.client.Call(iterCtx, req.RepoURL, req.Branch, class, prompt)
	cancel()
	record.Duration = time.Since(start)
	if err != nil {
		record.Failed = true
		return record, err
	}

	parsed := parser.Parse(payload)
	record.Warnings = parsed.Warnings
	record.Added = set.addAll(parsed.Issues)
	return record, nil
}

// requeryUngrounded gives high-severity issues that survived validation
// without a location one more chance: a targeted prompt asking the
// Analyzer to pin the finding to a file and line. Best effort; failures
// leave the issue as-is.
func (c *Collector) requeryUngrounded(ctx context.Context, req Request, issues []*types.Issue, meta *types.BranchMetadata) []*types.Issue {
	for i, issue := range issues {
		if !issue.Location.IsUnknown() {
			continue
		}
		prompt := BuildSnippetRequeryPrompt(req.Branch, issue)
		iterCtx, cancel := context.WithTimeout(ctx, c.cfg.PerIterationTimeout)
		payload, err := c.client.Call(iterCtx, req.RepoURL, req.Branch, analyzer.ClassSnippetRequery, prompt)
		cancel()
		if err != nil {
			slog.Debug("snippet requery failed", "branch", req.Branch,
				"title", issue.Title, "error", err)
			continue
		}

		for _, candidate := range parser.Parse(payload).Issues {
			if Fingerprint(candidate) != Fingerprint(issue) &&
				NormalizeTitle(candidate.Title) != NormalizeTitle(issue.Title) {
				continue
			}
			verdict := validate.Validate(candidate, req.Index)
			if verdict.Outcome == validate.OutcomeDropped || verdict.Issue.Location.IsUnknown() {
				continue
			}
			grounded := *issue
			grounded.Location = verdict.Issue.Location
			grounded.CodeSnippet = verdict.Issue.CodeSnippet
			if verdict.Issue.Confidence > grounded.Confidence {
				grounded.Confidence = verdict.Issue.Confidence
			}
			issues[i] = &grounded
			meta.Recovered++
			break
		}
	}
	return issues
}

// validateAll grounds the collected issues against the index, preserving
// first-seen order, and re-deduplicates because recovery can move two
// findings onto the same location.
func (c *Collector) validateAll(issues []*types.Issue, ix *index.RepositoryIndex, meta *types.BranchMetadata) []*types.Issue {
	final := newIssueSet()
	for _, issue := range issues {
		verdict := validate.Validate(issue, ix)
		switch verdict.Outcome {
		case validate.OutcomeRecovered:
			meta.Recovered++
			final.add(verdict.Issue)
		case validate.OutcomeValid:
			final.add(verdict.Issue)
		case validate.OutcomeDropped:
			meta.Dropped++
			slog.Debug("issue dropped during validation",
				"branch", meta.Branch, "title", issue.Title, "reason", verdict.Reason)
		}
	}
	return final.list()
}
