package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	resultsCollection = "check_plagiarism_results"
	reportsCollection = "plagiarism_reports"
)

type ResultsRepository struct {
	mongoRepo *MongoRepository
}

func NewResultsRepository(mongoRepo *MongoRepository) *ResultsRepository {
	return &ResultsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *ResultsRepository) EnsureIndexes(ctx context.Context) error {
	err := r.mongoRepo.CreateIndexes(ctx, resultsCollection,
		mongo.IndexModel{Keys: bson.D{{Key: "contestId", Value: 1}, {Key: "problemId", Value: 1}, {Key: "createdAt", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "analysisId", Value: 1}}},
	)
	if err != nil {
		return fmt.Errorf("failed to create result indexes: %w", err)
	}
	err = r.mongoRepo.CreateIndexes(ctx, reportsCollection,
		mongo.IndexModel{Keys: bson.D{{Key: "contestId", Value: 1}, {Key: "createdAt", Value: -1}}},
	)
	if err != nil {
		return fmt.Errorf("failed to create report indexes: %w", err)
	}
	return nil
}

func (r *ResultsRepository) InsertProblemResult(ctx context.Context, result *models.ProblemResult) error {
	result.CreatedAt = time.Now()

	err := r.mongoRepo.InsertOne(ctx, resultsCollection, result)
	if err != nil {
		return fmt.Errorf("failed to insert problem result: %w", err)
	}

	return nil
}

// GetLatestProblemResult returns the newest result of a problem, or nil when there is none
func (r *ResultsRepository) GetLatestProblemResult(ctx context.Context, contestID, problemID string) (*models.ProblemResult, error) {
	filter := bson.M{"contestId": contestID, "problemId": problemID}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.findResult(ctx, filter, opts)
}

// GetProblemResultByAnalysisID returns the result of one analysis, or nil when there is none
func (r *ResultsRepository) GetProblemResultByAnalysisID(ctx context.Context, analysisID string) (*models.ProblemResult, error) {
	return r.findResult(ctx, bson.M{"analysisId": analysisID})
}

func (r *ResultsRepository) findResult(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.ProblemResult, error) {
	var result models.ProblemResult
	err := r.mongoRepo.FindOne(ctx, resultsCollection, filter, opts...).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find problem result: %w", err)
	}

	return &result, nil
}

// GetContestResults returns the newest result of every problem of a contest
func (r *ResultsRepository) GetContestResults(ctx context.Context, contestID string) ([]*models.ProblemResult, error) {
	filter := bson.M{"contestId": contestID}
	opts := options.Find().SetSort(bson.D{{Key: "problemId", Value: 1}, {Key: "createdAt", Value: -1}})

	cursor, err := r.mongoRepo.FindMany(ctx, resultsCollection, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find problem results: %w", err)
	}
	defer cursor.Close(ctx)

	var all []*models.ProblemResult
	if err := cursor.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("failed to decode problem results: %w", err)
	}

	latest := make([]*models.ProblemResult, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, res := range all {
		if seen[res.ProblemID] {
			continue
		}
		seen[res.ProblemID] = true
		latest = append(latest, res)
	}
	return latest, nil
}

// ListContests lists every contest with stored results, most recently checked first
func (r *ResultsRepository) ListContests(ctx context.Context) ([]models.ContestSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":         "$contestId",
			"problems":    bson.M{"$addToSet": "$problemId"},
			"lastCheckAt": bson.M{"$max": "$createdAt"},
		}}},
		{{Key: "$project", Value: bson.M{
			"checkedProblems": bson.M{"$size": "$problems"},
			"lastCheckAt":     1,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "lastCheckAt", Value: -1}, {Key: "_id", Value: 1}}}},
	}

	cursor, err := r.mongoRepo.Aggregate(ctx, resultsCollection, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contests: %w", err)
	}
	defer cursor.Close(ctx)

	contests := []models.ContestSummary{}
	if err := cursor.All(ctx, &contests); err != nil {
		return nil, fmt.Errorf("failed to decode contests: %w", err)
	}
	return contests, nil
}

func (r *ResultsRepository) InsertContestReport(ctx context.Context, report *models.ContestReport) error {
	report.CreatedAt = time.Now()
	report.UpdatedAt = report.CreatedAt

	err := r.mongoRepo.InsertOne(ctx, reportsCollection, report)
	if err != nil {
		return fmt.Errorf("failed to insert contest report: %w", err)
	}

	return nil
}

// UpdateContestReport overwrites the newest report of a contest
func (r *ResultsRepository) UpdateContestReport(ctx context.Context, report *models.ContestReport) error {
	latest, err := r.GetLatestContestReport(ctx, report.ContestID)
	if err != nil {
		return err
	}
	if latest == nil {
		return r.InsertContestReport(ctx, report)
	}

	report.CreatedAt = latest.CreatedAt
	report.UpdatedAt = time.Now()
	filter := bson.M{"contestId": report.ContestID, "createdAt": latest.CreatedAt}
	_, err = r.mongoRepo.UpdateOne(ctx, reportsCollection, filter, bson.M{"$set": report})
	if err != nil {
		return fmt.Errorf("failed to update contest report: %w", err)
	}

	return nil
}

func (r *ResultsRepository) GetLatestContestReport(ctx context.Context, contestID string) (*models.ContestReport, error) {
	filter := bson.M{"contestId": contestID}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var report models.ContestReport
	err := r.mongoRepo.FindOne(ctx, reportsCollection, filter, opts).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}

	return &report, nil
}
