package types

import (
	"errors"
	"fmt"
)

// FailureCategory classifies the typed failures the engine surfaces to
// callers. Transient conditions are retried inside the connection layer and
// only become FetchFailed after retries are exhausted.
type FailureCategory string

const (
	// FailureFetch covers analyzer transport failures: timeouts, network
	// errors, and server errors after retries, or client errors immediately.
	FailureFetch FailureCategory = "FetchFailed"

	// FailureIndexIO means the repository root was unreadable or otherwise
	// fundamentally unsupported. Fatal to the affected branch.
	FailureIndexIO FailureCategory = "IndexIOError"

	// FailureCancelled means the caller requested a stop.
	FailureCancelled FailureCategory = "Cancelled"

	// FailureInternal covers unexpected engine bugs.
	FailureInternal FailureCategory = "Internal"
)

// EngineError is the single error type the engine propagates across
// component boundaries. It carries a category callers can branch on and a
// human-readable detail.
type EngineError struct {
	Category FailureCategory
	Op       string // operation that failed, e.g. "collect head"
	Err      error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err with a failure category and operation name.
func NewEngineError(category FailureCategory, op string, err error) *EngineError {
	return &EngineError{Category: category, Op: op, Err: err}
}

// CategoryOf extracts the failure category from an error chain. Errors that
// did not originate in the engine are classified as Internal.
func CategoryOf(err error) FailureCategory {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return FailureInternal
}
