package artifact

import (
	"fmt"
	"strings"
)

// ValidationError indicates that an artifact was unreachable at every known
// URL.
type ValidationError struct {
	// URLs are the locations that were probed, in order.
	URLs []string

	// Cause is the underlying probe failure, or the combination of failures
	// if multiple URLs were probed.
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"artifact is unreachable at %s: %s",
		strings.Join(e.URLs, ", "),
		e.Cause,
	)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// DownloadError indicates that an artifact was reachable but its body could
// not be fetched, or was empty.
type DownloadError struct {
	// URL is the location the download was attempted from.
	URL string

	// Cause is the underlying failure.
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf(
		"unable to download artifact from %s: %s",
		e.URL,
		e.Cause,
	)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// CompilationError indicates that dev-mode sources failed to compile.
//
// Compilation failures suppress the durable write entirely, leaving the
// previous record and the previously running artifact untouched.
type CompilationError struct {
	// Cause is the underlying compiler failure.
	Cause error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("unable to compile artifact: %s", e.Cause)
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// ExecutionError indicates that an artifact ran but threw.
type ExecutionError struct {
	// Cause is the error produced by the executed artifact.
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("artifact execution failed: %s", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
