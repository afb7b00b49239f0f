package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
)

// SubmissionStore persists ingested submissions
type SubmissionStore interface {
	UpsertSubmission(ctx context.Context, submission *models.StoredSubmission) error
}

type Service struct {
	store SubmissionStore
}

func NewService(store SubmissionStore) *Service {
	return &Service{
		store: store,
	}
}

// ProcessSubmission stores a stream submission as a single-file submission of its problem
func (s *Service) ProcessSubmission(ctx context.Context, submission *models.Submission) error {
	stored := &models.StoredSubmission{
		SubmissionID: submission.SubmissionID,
		ContestID:    submission.ContestID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		DisplayName:  submission.DisplayName,
		Language:     submission.Language,
		SubmittedAt:  submission.SubmittedAt,
		Files: []plagiarism.SourceFile{{
			Path:    fileName(submission),
			Content: submission.SourceCode,
		}},
	}

	if err := s.store.UpsertSubmission(ctx, stored); err != nil {
		return fmt.Errorf("failed to store submission: %w", err)
	}

	return nil
}

// fileName falls back to "solution" with the extension of the submission's language
func fileName(submission *models.Submission) string {
	name := strings.TrimSpace(submission.FileName)
	if name != "" {
		return name
	}
	lang := plagiarism.ResolveLanguage(submission.Language)
	return "solution" + lang.Extension
}
