package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	stored []*models.StoredSubmission
	err    error
}

func (f *fakeStore) UpsertSubmission(ctx context.Context, submission *models.StoredSubmission) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, submission)
	return nil
}

func TestProcessSubmission(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	submittedAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	err := svc.ProcessSubmission(context.Background(), &models.Submission{
		SubmissionID: "s1",
		ContestID:    "c1",
		ProblemID:    "p1",
		UserID:       "u1",
		DisplayName:  "Alice",
		Language:     "py.py3",
		SourceCode:   "print(1)\n",
		SubmittedAt:  submittedAt,
	})
	require.NoError(t, err)
	require.Len(t, store.stored, 1)

	got := store.stored[0]
	assert.Equal(t, submittedAt, got.SubmittedAt)
	assert.Equal(t, "s1", got.SubmissionID)
	assert.Equal(t, "Alice", got.DisplayName)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "solution.py", got.Files[0].Path)
	assert.Equal(t, "print(1)\n", got.Files[0].Content)
}

func TestProcessSubmissionKeepsFileName(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)

	err := svc.ProcessSubmission(context.Background(), &models.Submission{
		SubmissionID: "s1", ContestID: "c1", ProblemID: "p1", UserID: "u1",
		Language: "cc", FileName: "main.cpp", SourceCode: "int main() {}",
	})
	require.NoError(t, err)
	assert.Equal(t, "main.cpp", store.stored[0].Files[0].Path)
}

func TestProcessSubmissionStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	svc := NewService(store)

	err := svc.ProcessSubmission(context.Background(), &models.Submission{SubmissionID: "s1"})
	assert.ErrorContains(t, err, "connection reset")
}
