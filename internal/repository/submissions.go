package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const submissionsCollection = "plagiarism_submissions"

type SubmissionsRepository struct {
	mongoRepo *MongoRepository
}

func NewSubmissionsRepository(mongoRepo *MongoRepository) *SubmissionsRepository {
	return &SubmissionsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *SubmissionsRepository) EnsureIndexes(ctx context.Context) error {
	err := r.mongoRepo.CreateIndexes(ctx, submissionsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "submissionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "contestId", Value: 1}, {Key: "problemId", Value: 1}},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create submission indexes: %w", err)
	}
	return nil
}

// UpsertSubmission stores a submission, replacing an earlier copy with the same id
func (r *SubmissionsRepository) UpsertSubmission(ctx context.Context, submission *models.StoredSubmission) error {
	now := time.Now()
	submission.UpdatedAt = now

	filter := bson.M{"submissionId": submission.SubmissionID}
	update := bson.M{
		"$set": bson.M{
			"contestId":   submission.ContestID,
			"problemId":   submission.ProblemID,
			"userId":      submission.UserID,
			"displayName": submission.DisplayName,
			"language":    submission.Language,
			"files":       submission.Files,
			"submittedAt": submission.SubmittedAt,
			"updatedAt":   now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}

	_, err := r.mongoRepo.UpdateOne(ctx, submissionsCollection, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert submission: %w", err)
	}

	return nil
}

// GetSubmissionsByContest loads a contest's submissions, optionally limited to some problems
func (r *SubmissionsRepository) GetSubmissionsByContest(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error) {
	return r.findSubmissions(ctx, contestID, problemIDs, nil)
}

// GetSubmissionMetadata loads the same submissions as GetSubmissionsByContest without their files
func (r *SubmissionsRepository) GetSubmissionMetadata(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error) {
	return r.findSubmissions(ctx, contestID, problemIDs, bson.M{"files": 0})
}

func (r *SubmissionsRepository) findSubmissions(ctx context.Context, contestID string, problemIDs []string, projection bson.M) ([]*models.StoredSubmission, error) {
	filter := bson.M{"contestId": contestID}
	if len(problemIDs) > 0 {
		filter["problemId"] = bson.M{"$in": problemIDs}
	}
	opts := options.Find().SetSort(bson.D{{Key: "problemId", Value: 1}, {Key: "submissionId", Value: 1}})
	if projection != nil {
		opts.SetProjection(projection)
	}

	cursor, err := r.mongoRepo.FindMany(ctx, submissionsCollection, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions: %w", err)
	}
	defer cursor.Close(ctx)

	var submissions []*models.StoredSubmission
	if err := cursor.All(ctx, &submissions); err != nil {
		return nil, fmt.Errorf("failed to decode submissions: %w", err)
	}

	return submissions, nil
}

func (r *SubmissionsRepository) CountSubmissionsByContest(ctx context.Context, contestID string) (int64, error) {
	filter := bson.M{"contestId": contestID}

	count, err := r.mongoRepo.CountDocuments(ctx, submissionsCollection, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	return count, nil
}
