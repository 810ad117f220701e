// Package engine is the analysis orchestrator: it checks out both refs,
// indexes them, runs the collection loop per branch, and emits the
// cross-branch comparison.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/prlens/prlens/internal/collect"
	"github.com/prlens/prlens/internal/compare"
	"github.com/prlens/prlens/internal/config"
	"github.com/prlens/prlens/internal/index"
	"github.com/prlens/prlens/internal/types"
)

// deliveryMarker is implemented by analyzer clients that track cache keys;
// the engine notifies it once the result has been emitted.
type deliveryMarker interface {
	MarkDelivered()
}

// Options tune one Analyze call.
type Options struct {
	// Sequential forces base-then-head collection. The head run then
	// receives the base findings as known issues, which usually converges
	// in fewer iterations at the cost of wall-clock time.
	Sequential bool
}

// Engine coordinates one differential analysis run.
type Engine struct {
	client   collect.Caller
	checkout CheckoutProvider
	cfg      *config.Config
}

func New(client collect.Caller, checkout CheckoutProvider, cfg *config.Config) *Engine {
	return &Engine{client: client, checkout: checkout, cfg: cfg}
}

// branchOutcome is one branch's collection result or failure.
type branchOutcome struct {
	result *collect.Result
	err    error
}

// Analyze compares baseRef and headRef of a repository.
//
// If exactly one branch fails (other than by cancellation), a partial
// ComparisonResult is returned with that branch's issues empty and the
// failure recorded in metadata. Cancellation never yields a partial
// result.
func (e *Engine) Analyze(ctx context.Context, repoURL, baseRef, headRef string, opts Options) (*types.ComparisonResult, error) {
	runID := uuid.NewString()
	started := time.Now()
	log := slog.With("run_id", runID, "base", baseRef, "head", headRef)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OverallTimeout)
	defer cancel()

	parallel := e.cfg.BranchParallelism >= 2 && !opts.Sequential
	log.Info("analysis started", "repo", repoURL, "parallel", parallel)

	var base, head branchOutcome
	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			base.result, base.err = e.runBranch(gctx, repoURL, baseRef, nil)
			return nil // branch failures are partial, not run-fatal
		})
		g.Go(func() error {
			head.result, head.err = e.runBranch(gctx, repoURL, headRef, nil)
			return nil
		})
		g.Wait()
	} else {
		base.result, base.err = e.runBranch(ctx, repoURL, baseRef, nil)
		var known []*types.Issue
		if base.err == nil {
			known = base.result.Issues
		}
		head.result, head.err = e.runBranch(ctx, repoURL, headRef, known)
	}

	// Cancellation is never a partial result.
	for _, outcome := range []branchOutcome{base, head} {
		if outcome.err != nil && types.CategoryOf(outcome.err) == types.FailureCancelled {
			return nil, outcome.err
		}
	}
	if base.err != nil && head.err != nil {
		return nil, base.err
	}

	var partial *types.PartialFailure
	var baseIssues, headIssues []*types.Issue
	var baseMeta, headMeta types.BranchMetadata

	if base.err != nil {
		partial = failureOf(baseRef, base.err)
		baseMeta = types.BranchMetadata{Branch: baseRef}
		log.Warn("base branch failed, emitting partial result", "error", base.err)
	} else {
		baseIssues = base.result.Issues
		baseMeta = base.result.Meta
	}
	if head.err != nil {
		partial = failureOf(headRef, head.err)
		headMeta = types.BranchMetadata{Branch: headRef}
		log.Warn("head branch failed, emitting partial result", "error", head.err)
	} else {
		headIssues = head.result.Issues
		headMeta = head.result.Meta
	}

	result := compare.Compare(baseIssues, headIssues)
	result.Metadata = types.Metadata{
		RunID:          runID,
		StartedAt:      started,
		Duration:       time.Since(started),
		Base:           baseMeta,
		Head:           headMeta,
		Parallel:       parallel,
		PartialFailure: partial,
	}

	if marker, ok := e.client.(deliveryMarker); ok {
		marker.MarkDelivered()
	}
	log.Info("analysis finished",
		"new", len(result.NewIssues), "resolved", len(result.ResolvedIssues),
		"unchanged", len(result.UnchangedIssues), "duration", result.Metadata.Duration)
	return result, nil
}

// runBranch checks out, indexes, and collects one branch. The checkout is
// released on every path.
func (e *Engine) runBranch(ctx context.Context, repoURL, ref string, known []*types.Issue) (*collect.Result, error) {
	if ctx.Err() != nil {
		return nil, types.NewEngineError(types.FailureCancelled, "checkout "+ref, ctx.Err())
	}

	path, release, err := e.checkout.Checkout(ctx, repoURL, ref)
	if err != nil {
		return nil, types.NewEngineError(types.FailureIndexIO, "checkout "+ref, err)
	}
	defer release()

	ix, err := index.Build(path, index.Options{
		FileSizeCap: e.cfg.IndexFileSizeCap,
		GroupMin:    e.cfg.SnippetIndexGroupMin,
		GroupMax:    e.cfg.SnippetIndexGroupMax,
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", ref, err)
	}

	collector := collect.NewCollector(e.client, e.cfg)
	return collector.Collect(ctx, collect.Request{
		RepoURL:     repoURL,
		Branch:      ref,
		Index:       ix,
		KnownIssues: known,
	})
}

func failureOf(branch string, err error) *types.PartialFailure {
	return &types.PartialFailure{
		Branch:   branch,
		Category: types.CategoryOf(err),
		Detail:   err.Error(),
	}
}
