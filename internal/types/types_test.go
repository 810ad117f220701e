package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		raw  string
		want Severity
	}{
		{"critical", SeverityCritical},
		{"Crit", SeverityCritical},
		{"BLOCKER", SeverityCritical},
		{"high", SeverityHigh},
		{"major", SeverityHigh},
		{"medium", SeverityMedium},
		{"minor", SeverityLow},
		{"low", SeverityLow},
		{"  High  ", SeverityHigh},
		{"", SeverityMedium},
		{"bogus", SeverityMedium},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSeverity(tt.raw), "raw=%q", tt.raw)
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityLow.Rank())
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, CategorySecurity, NormalizeCategory("Security"))
	assert.Equal(t, CategoryErrorHandling, NormalizeCategory("error handling"))
	assert.Equal(t, CategoryDependencies, NormalizeCategory("deps"))
	assert.Equal(t, CategoryTesting, NormalizeCategory("tests"))
	// Unknown strings fall back to code-quality.
	assert.Equal(t, CategoryCodeQuality, NormalizeCategory("whatever"))
	assert.Equal(t, CategoryCodeQuality, NormalizeCategory(""))
}

func TestLocationUnknownSentinel(t *testing.T) {
	assert.True(t, UnknownLocation.IsUnknown())
	assert.Equal(t, "unknown", UnknownLocation.String())

	loc := Location{File: "internal/auth/token.go", Line: 47}
	assert.False(t, loc.IsUnknown())
	assert.Equal(t, "internal/auth/token.go:47", loc.String())
}

func TestFormatBaseConfidence(t *testing.T) {
	assert.Equal(t, 95, FormatStructured.BaseConfidence())
	assert.Equal(t, 80, FormatEmbeddedJSON.BaseConfidence())
	assert.Equal(t, 70, FormatLabeledText.BaseConfidence())
	assert.Equal(t, 60, FormatMarkdownList.BaseConfidence())
	assert.Equal(t, 0, FormatUnrecognized.BaseConfidence())
}

func TestComparisonResultSerializable(t *testing.T) {
	issue := &Issue{
		ID:       "run-1-0001",
		Title:    "SQL injection in user lookup",
		Severity: SeverityCritical,
		Category: CategorySecurity,
		Location: Location{File: "api/users.go", Line: 45},
	}
	result := &ComparisonResult{
		BaseIssues: []*Issue{issue},
		HeadIssues: []*Issue{},
		UnchangedIssues: []UnchangedIssue{
			{Issue: issue, OriginalLocation: issue.Location, BaseID: issue.ID},
		},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var back ComparisonResult
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.BaseIssues, 1)
	assert.Equal(t, issue.Title, back.BaseIssues[0].Title)
	assert.Equal(t, "api/users.go", back.UnchangedIssues[0].OriginalLocation.File)
}

func TestEngineErrorCategory(t *testing.T) {
	base := errors.New("connection refused")
	err := NewEngineError(FailureFetch, "collect head", base)

	assert.Equal(t, FailureFetch, CategoryOf(err))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "collect head")
	assert.Contains(t, err.Error(), "FetchFailed")

	// Wrapping preserves the category.
	wrapped := fmt.Errorf("analyze: %w", err)
	assert.Equal(t, FailureFetch, CategoryOf(wrapped))

	// Foreign errors classify as Internal.
	assert.Equal(t, FailureInternal, CategoryOf(errors.New("boom")))
}
