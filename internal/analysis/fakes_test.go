package analysis

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	runs    map[string]plagiarism.Params
	batches map[string]plagiarism.Batch
	fail    map[string]error
	opens   int

	openOptions int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		runs:    make(map[string]plagiarism.Params),
		batches: make(map[string]plagiarism.Batch),
		fail:    make(map[string]error),
	}
}

// test submissions name their file after the problem
func problemOf(batch plagiarism.Batch) string {
	return batch.Submissions[0].Files[0].Path
}

func (f *fakeAnalyzer) RunAnalysis(ctx context.Context, batch plagiarism.Batch, params plagiarism.Params) (*plagiarism.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	problem := problemOf(batch)
	f.runs[problem] = params
	f.batches[problem] = batch
	if err := f.fail[problem]; err != nil {
		return nil, err
	}
	return &plagiarism.AnalysisResult{
		AnalysisID:  "analysis-" + problem,
		ArchivePath: "/archives/analysis-" + problem + ".jplag",
		HighSimilarityPairs: []plagiarism.Comparison{
			{FirstSubmission: "u1", SecondSubmission: "u2"},
			{FirstSubmission: "u1", SecondSubmission: "u3"},
		},
	}, nil
}

func (f *fakeAnalyzer) OpenResult(archivePath string, params plagiarism.Params, aliases map[string]string, opts ...plagiarism.OpenOption) (*plagiarism.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.openOptions = len(opts)
	return &plagiarism.AnalysisResult{AnalysisID: "reopened", ArchivePath: archivePath, Language: params.Language.Tool}, nil
}

func (f *fakeAnalyzer) GetDetailedComparison(result *plagiarism.AnalysisResult, first, second string) (*plagiarism.DetailedComparison, error) {
	if first == "ghost" {
		return nil, &plagiarism.ComparisonNotFoundError{First: first, Second: second}
	}
	return &plagiarism.DetailedComparison{FirstSubmission: first, SecondSubmission: second}, nil
}

type fakeSubmissions struct {
	subs []*models.StoredSubmission
	err  error
}

func (f *fakeSubmissions) GetSubmissionsByContest(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error) {
	return f.subs, f.err
}

func (f *fakeSubmissions) GetSubmissionMetadata(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.StoredSubmission
	for _, sub := range f.subs {
		if len(problemIDs) > 0 && !slices.Contains(problemIDs, sub.ProblemID) {
			continue
		}
		meta := *sub
		meta.Files = nil
		out = append(out, &meta)
	}
	return out, nil
}

type fakeResults struct {
	mu      sync.Mutex
	results []*models.ProblemResult
	reports []*models.ContestReport
}

func (f *fakeResults) InsertProblemResult(ctx context.Context, result *models.ProblemResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeResults) GetLatestProblemResult(ctx context.Context, contestID, problemID string) (*models.ProblemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.results) - 1; i >= 0; i-- {
		if f.results[i].ContestID == contestID && f.results[i].ProblemID == problemID {
			return f.results[i], nil
		}
	}
	return nil, nil
}

func (f *fakeResults) GetProblemResultByAnalysisID(ctx context.Context, analysisID string) (*models.ProblemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.AnalysisID == analysisID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeResults) GetContestResults(ctx context.Context, contestID string) ([]*models.ProblemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ProblemResult
	for _, r := range f.results {
		if r.ContestID == contestID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResults) InsertContestReport(ctx context.Context, report *models.ContestReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeResults) UpdateContestReport(ctx context.Context, report *models.ContestReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *report
	f.reports = append(f.reports, &copied)
	return nil
}

func (f *fakeResults) ListContests(ctx context.Context) ([]models.ContestSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []models.ContestSummary{{ContestID: "c1", CheckedProblems: len(f.results)}}, nil
}

type fakeStatus struct {
	mu       sync.Mutex
	steps    []models.Step
	lease    string
	released []string
}

func (f *fakeStatus) Acquire(ctx context.Context, contestID, owner string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lease != "" {
		return false, nil
	}
	f.lease = owner
	f.steps = append(f.steps, models.StepInitiated)
	return true, nil
}

func (f *fakeStatus) Release(ctx context.Context, contestID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lease == owner {
		f.lease = ""
	}
	f.released = append(f.released, owner)
	return nil
}

func (f *fakeStatus) UpdateStatus(ctx context.Context, contestID string, step models.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeStatus) GetStatus(ctx context.Context, contestID string) (models.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		return models.StepIdle, nil
	}
	return f.steps[len(f.steps)-1], nil
}
