package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
)

// ErrInvalidMessage marks stream entries that can never be processed
var ErrInvalidMessage = errors.New("invalid stream message")

// StreamMessage is a raw stream entry with its string fields
type StreamMessage struct {
	ID     string
	Fields map[string]string
}

// ParseSubmission converts stream fields into a submission
func ParseSubmission(msg *StreamMessage) (*models.Submission, error) {
	submission := &models.Submission{
		SubmissionID: strings.TrimSpace(msg.Fields["submissionId"]),
		ContestID:    strings.TrimSpace(msg.Fields["contestId"]),
		ProblemID:    strings.TrimSpace(msg.Fields["problemId"]),
		UserID:       strings.TrimSpace(msg.Fields["userId"]),
		DisplayName:  strings.TrimSpace(msg.Fields["displayName"]),
		Language:     strings.TrimSpace(msg.Fields["language"]),
		FileName:     strings.TrimSpace(msg.Fields["fileName"]),
		SourceCode:   msg.Fields["sourceCode"],
	}

	required := []struct {
		field string
		value string
	}{
		{"submissionId", submission.SubmissionID},
		{"contestId", submission.ContestID},
		{"problemId", submission.ProblemID},
		{"userId", submission.UserID},
		{"language", submission.Language},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w %s: missing %s", ErrInvalidMessage, msg.ID, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(submission.SourceCode) == "" {
		return nil, fmt.Errorf("%w %s: empty sourceCode", ErrInvalidMessage, msg.ID)
	}

	submittedAt, err := submissionTime(msg)
	if err != nil {
		return nil, err
	}
	submission.SubmittedAt = submittedAt

	return submission, nil
}

// submissionTime reads submittedAt as RFC 3339 or unix milliseconds. Without the field it
// falls back to the entry id's timestamp, which redelivery does not change.
func submissionTime(msg *StreamMessage) (time.Time, error) {
	raw := strings.TrimSpace(msg.Fields["submittedAt"])
	if raw == "" {
		ms, _, _ := strings.Cut(msg.ID, "-")
		millis, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return time.Time{}, nil
		}
		return time.UnixMilli(millis).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w %s: unreadable submittedAt %q", ErrInvalidMessage, msg.ID, raw)
}
