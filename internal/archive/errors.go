package archive

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is the run-level fatal condition raised once the client
// sees the configured number of consecutive unauthorized responses. Per-issue
// errors never cross the run boundary; this one does.
var ErrSessionExpired = errors.New("session credential rejected repeatedly")

// FetchErrorKind classifies terminal fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchNetwork      FetchErrorKind = "network"
	FetchTimeout      FetchErrorKind = "timeout"
	FetchHTTPStatus   FetchErrorKind = "http_status"
	FetchUnauthorized FetchErrorKind = "unauthorized"
)

// FetchError is returned by the client after the final failed attempt.
// Unauthorized responses fail on the first attempt and are never retried.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	// Attempts counts every request issued, including the first.
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchHTTPStatus, FetchUnauthorized:
		return fmt.Sprintf("fetch %s: %s (status %d, %d attempts)", e.URL, e.Kind, e.StatusCode, e.Attempts)
	default:
		return fmt.Sprintf("fetch %s: %s after %d attempts: %v", e.URL, e.Kind, e.Attempts, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError signals that the expected content region could not be located,
// which usually means a changed page structure or a login/error page served
// in place of the issue.
type ParseError struct {
	IssueID string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse issue %s: structure mismatch: %s", e.IssueID, e.Reason)
}

// RenderErrorKind classifies renderer failures.
type RenderErrorKind string

// Render failure kinds.
const (
	RenderToolFailure RenderErrorKind = "tool_failure"
	RenderTimeout     RenderErrorKind = "timeout"
)

// RenderError is returned when the external rendering tool exits non-zero,
// cannot be started, or overruns its execution budget.
type RenderError struct {
	Kind RenderErrorKind
	// ExitCode is -1 when the tool never ran or was killed.
	ExitCode int
	Err      error
}

func (e *RenderError) Error() string {
	if e.Kind == RenderTimeout {
		return fmt.Sprintf("render: timed out: %v", e.Err)
	}
	return fmt.Sprintf("render: tool failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
