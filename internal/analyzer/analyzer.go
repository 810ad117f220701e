// Package analyzer is the connection layer to the external analysis
// backend. It owns prompt classes, transport abstraction, retry with
// backoff and jitter, a circuit breaker, rate limiting, and the response
// cache in front of it all.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PromptClass distinguishes the request kinds the engine issues; it is
// part of the cache key, so a comprehensive pass and a gap-fill pass over
// the same branch never collide.
type PromptClass string

const (
	ClassComprehensive  PromptClass = "comprehensive"
	ClassSnippetRequery PromptClass = "snippet-requery"
)

// ClassGapFill returns the class for gap-fill iteration k (k >= 2).
func ClassGapFill(iteration int) PromptClass {
	return PromptClass(fmt.Sprintf("gapfill-%d", iteration))
}

// Request is one analysis call.
type Request struct {
	RepoURL string
	Branch  string
	Class   PromptClass
	Prompt  string

	Model       string
	MaxTokens   int64
	Temperature float64
}

// Transport sends one request to the backend and returns its raw payload:
// either a decoded JSON object or plain text, whatever the backend
// produced. The parser deals with both.
type Transport interface {
	Send(ctx context.Context, req *Request) (any, error)
}

// ErrorKind classifies transport failures; it decides retriability.
type ErrorKind int

const (
	ErrTimeout ErrorKind = iota
	ErrUnreachable
	ErrServer
	ErrClient
	ErrCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrUnreachable:
		return "unreachable"
	case ErrServer:
		return "server_error"
	case ErrClient:
		return "client_error"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TransportError wraps a backend failure with its kind and, when known,
// the HTTP status.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analyzer %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analyzer %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retriable reports whether another attempt could plausibly succeed.
// Client errors (4xx) and cancellation never retry.
func (e *TransportError) Retriable() bool {
	switch e.Kind {
	case ErrTimeout, ErrUnreachable, ErrServer:
		return true
	}
	// 429 is the one 4xx worth retrying.
	return e.StatusCode == 429
}

// classifyError folds an arbitrary transport error into a TransportError.
func classifyError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) {
		return &TransportError{Kind: ErrCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: ErrTimeout, Err: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return &TransportError{Kind: ErrServer, StatusCode: 429, Err: err}
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded"):
		return &TransportError{Kind: ErrServer, Err: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF"):
		return &TransportError{Kind: ErrUnreachable, Err: err}
	case strings.Contains(msg, "400") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "invalid_request"):
		return &TransportError{Kind: ErrClient, Err: err}
	}
	// Unknown failures are treated as transient so retries get a chance.
	return &TransportError{Kind: ErrUnreachable, Err: err}
}
