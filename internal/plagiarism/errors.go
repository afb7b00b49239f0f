package plagiarism

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InvalidBatchError means the caller supplied too few or malformed submissions or parameters
type InvalidBatchError struct {
	Reason string
}

func (e *InvalidBatchError) Error() string {
	return "invalid batch: " + e.Reason
}

func invalidBatch(format string, args ...any) error {
	return &InvalidBatchError{Reason: fmt.Sprintf(format, args...)}
}

// ToolExecutionError means the comparison tool exited without a usable archive
type ToolExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("comparison tool failed (exit code %d)", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// AnalysisTimeoutError means the tool exceeded its wall-clock budget and was killed
type AnalysisTimeoutError struct {
	Timeout time.Duration
}

func (e *AnalysisTimeoutError) Error() string {
	return fmt.Sprintf("analysis exceeded timeout of %s", e.Timeout)
}

// CorruptArchiveError means the tool output cannot be trusted. It lists every problem found.
type CorruptArchiveError struct {
	Path     string
	Problems []error
}

func (e *CorruptArchiveError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Error())
	}
	return fmt.Sprintf("corrupt archive %s: %s", e.Path, strings.Join(parts, "; "))
}

func (e *CorruptArchiveError) Unwrap() []error {
	return e.Problems
}

// ComparisonNotFoundError means the pair was never reported by the tool
type ComparisonNotFoundError struct {
	First  string
	Second string
}

func (e *ComparisonNotFoundError) Error() string {
	return fmt.Sprintf("comparison %s/%s not found", e.First, e.Second)
}

// IsRetryable reports whether an analysis error may succeed on a plain retry.
// Engine errors are never retried automatically.
func IsRetryable(err error) bool {
	var (
		invalid  *InvalidBatchError
		tool     *ToolExecutionError
		timeout  *AnalysisTimeoutError
		corrupt  *CorruptArchiveError
		notFound *ComparisonNotFoundError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &tool), errors.As(err, &timeout),
		errors.As(err, &corrupt), errors.As(err, &notFound):
		return false
	}
	return true
}
