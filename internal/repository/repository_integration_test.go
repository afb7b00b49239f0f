//go:build database

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	mongoInfra "github.com/RishiKendai/phosphorus/internal/infra/mongo"
	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMongo(t *testing.T) *MongoRepository {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	}
	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoC.Terminate(ctx) })

	host, err := mongoC.Host(ctx)
	require.NoError(t, err)
	port, err := mongoC.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := mongoInfra.NewClient(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "phosphorus_test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(ctx) })

	return NewMongoRepository(client)
}

func TestSubmissionsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSubmissionsRepository(startMongo(t))
	require.NoError(t, repo.EnsureIndexes(ctx))

	sub := &models.StoredSubmission{
		SubmissionID: "s1",
		ContestID:    "c1",
		ProblemID:    "p1",
		UserID:       "u1",
		Language:     "cc.cc17o2",
		Files:        []plagiarism.SourceFile{{Path: "main.cpp", Content: "int main() {}\n"}},
		SubmittedAt:  time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertSubmission(ctx, sub))

	sub.Files[0].Content = "int main() { return 0; }\n"
	require.NoError(t, repo.UpsertSubmission(ctx, sub))
	require.NoError(t, repo.UpsertSubmission(ctx, &models.StoredSubmission{
		SubmissionID: "s2", ContestID: "c1", ProblemID: "p2", UserID: "u2", Language: "py.py3",
	}))

	count, err := repo.CountSubmissionsByContest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	got, err := repo.GetSubmissionsByContest(ctx, "c1", []string{"p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "int main() { return 0; }\n", got[0].Files[0].Content)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.True(t, sub.SubmittedAt.Equal(got[0].SubmittedAt))

	meta, err := repo.GetSubmissionMetadata(ctx, "c1", nil)
	require.NoError(t, err)
	require.Len(t, meta, 2)
	assert.Equal(t, "u1", meta[0].UserID)
	assert.Empty(t, meta[0].Files)
}

func TestResultsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewResultsRepository(startMongo(t))
	require.NoError(t, repo.EnsureIndexes(ctx))

	missing, err := repo.GetLatestProblemResult(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.InsertProblemResult(ctx, &models.ProblemResult{
		ContestID: "c1", ProblemID: "p1", AnalysisID: "a1", Status: models.StatusFailed,
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.InsertProblemResult(ctx, &models.ProblemResult{
		ContestID: "c1", ProblemID: "p1", AnalysisID: "a2", Status: models.StatusCompleted,
		Result: &plagiarism.AnalysisResult{AnalysisID: "a2", Matrix: plagiarism.SimilarityMatrix{}},
	}))

	latest, err := repo.GetLatestProblemResult(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "a2", latest.AnalysisID)

	byID, err := repo.GetProblemResultByAnalysisID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, byID.Status)

	all, err := repo.GetContestResults(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].AnalysisID)

	report := &models.ContestReport{ContestID: "c1", Status: models.StatusPending}
	require.NoError(t, repo.InsertContestReport(ctx, report))
	report.Status = models.StatusCompleted
	report.AnalyzedProblems = []string{"p1"}
	require.NoError(t, repo.UpdateContestReport(ctx, report))

	stored, err := repo.GetLatestContestReport(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, []string{"p1"}, stored.AnalyzedProblems)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.InsertProblemResult(ctx, &models.ProblemResult{
		ContestID: "c2", ProblemID: "p9", Status: models.StatusSkipped,
	}))
	contests, err := repo.ListContests(ctx)
	require.NoError(t, err)
	require.Len(t, contests, 2)
	assert.Equal(t, "c2", contests[0].ContestID)
	assert.Equal(t, "c1", contests[1].ContestID)
	assert.Equal(t, 1, contests[1].CheckedProblems)
	assert.False(t, contests[1].LastCheckAt.IsZero())
}
