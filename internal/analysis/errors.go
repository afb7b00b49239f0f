package analysis

import (
	"context"
	"errors"

	"github.com/RishiKendai/phosphorus/internal/plagiarism"
)

// ErrAnalysisNotFound means no completed analysis is stored under the id
var ErrAnalysisNotFound = errors.New("analysis not found")

// Error kinds stored with failed problem results
const (
	KindInvalidBatch   = "invalid_batch"
	KindToolExecution  = "tool_execution"
	KindTimeout        = "timeout"
	KindCorruptArchive = "corrupt_archive"
	KindCancelled      = "cancelled"
	KindInternal       = "internal"
)

func errorKind(err error) string {
	var (
		invalid *plagiarism.InvalidBatchError
		tool    *plagiarism.ToolExecutionError
		timeout *plagiarism.AnalysisTimeoutError
		corrupt *plagiarism.CorruptArchiveError
	)
	switch {
	case errors.As(err, &invalid):
		return KindInvalidBatch
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &tool):
		return KindToolExecution
	case errors.As(err, &corrupt):
		return KindCorruptArchive
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
