package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFields() map[string]string {
	return map[string]string{
		"submissionId": "s1",
		"contestId":    "c1",
		"problemId":    "p1",
		"userId":       "u1",
		"displayName":  "Alice",
		"language":     "cc.cc17o2",
		"fileName":     "main.cpp",
		"sourceCode":   "int main() {}\n",
	}
}

func TestParseSubmission(t *testing.T) {
	sub, err := ParseSubmission(&StreamMessage{ID: "1-0", Fields: validFields()})
	require.NoError(t, err)
	assert.Equal(t, "s1", sub.SubmissionID)
	assert.Equal(t, "Alice", sub.DisplayName)
	assert.Equal(t, "int main() {}\n", sub.SourceCode)
}

func TestParseSubmissionInvalid(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
	}{
		{"no submission id", "submissionId", ""},
		{"no contest", "contestId", "  "},
		{"no problem", "problemId", ""},
		{"no user", "userId", ""},
		{"no language", "language", ""},
		{"blank source", "sourceCode", "\n\t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			fields[tt.field] = tt.value
			_, err := ParseSubmission(&StreamMessage{ID: "1-0", Fields: fields})
			assert.True(t, errors.Is(err, ErrInvalidMessage))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseSubmissionOptionalFields(t *testing.T) {
	fields := validFields()
	delete(fields, "displayName")
	delete(fields, "fileName")

	sub, err := ParseSubmission(&StreamMessage{ID: "1-0", Fields: fields})
	require.NoError(t, err)
	assert.Empty(t, sub.DisplayName)
	assert.Empty(t, sub.FileName)
}

func TestParseSubmissionSubmittedAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		id   string
		raw  string
		want time.Time
	}{
		{"rfc3339", "1700000000000-0", "2026-03-01T12:30:00+02:00", at},
		{"unix millis", "1700000000000-0", "1772361000000", at},
		{"entry id fallback", "1772361000000-3", "", at},
		{"no usable id", "not-an-id", "", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			if tt.raw != "" {
				fields["submittedAt"] = tt.raw
			}
			sub, err := ParseSubmission(&StreamMessage{ID: tt.id, Fields: fields})
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(sub.SubmittedAt), "got %v", sub.SubmittedAt)
		})
	}

	fields := validFields()
	fields["submittedAt"] = "yesterday"
	_, err := ParseSubmission(&StreamMessage{ID: "1-0", Fields: fields})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
