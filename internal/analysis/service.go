package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/RishiKendai/phosphorus/internal/metrics"
	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Analyzer runs and reopens similarity analyses
type Analyzer interface {
	RunAnalysis(ctx context.Context, batch plagiarism.Batch, params plagiarism.Params) (*plagiarism.AnalysisResult, error)
	OpenResult(archivePath string, params plagiarism.Params, aliases map[string]string, opts ...plagiarism.OpenOption) (*plagiarism.AnalysisResult, error)
	GetDetailedComparison(result *plagiarism.AnalysisResult, first, second string) (*plagiarism.DetailedComparison, error)
}

type SubmissionSource interface {
	GetSubmissionsByContest(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error)
	// GetSubmissionMetadata is GetSubmissionsByContest without the source files
	GetSubmissionMetadata(ctx context.Context, contestID string, problemIDs []string) ([]*models.StoredSubmission, error)
}

type ResultStore interface {
	InsertProblemResult(ctx context.Context, result *models.ProblemResult) error
	GetLatestProblemResult(ctx context.Context, contestID, problemID string) (*models.ProblemResult, error)
	GetProblemResultByAnalysisID(ctx context.Context, analysisID string) (*models.ProblemResult, error)
	GetContestResults(ctx context.Context, contestID string) ([]*models.ProblemResult, error)
	InsertContestReport(ctx context.Context, report *models.ContestReport) error
	UpdateContestReport(ctx context.Context, report *models.ContestReport) error
	ListContests(ctx context.Context) ([]models.ContestSummary, error)
}

type StatusStore interface {
	UpdateStatus(ctx context.Context, contestID string, step models.Step) error
	GetStatus(ctx context.Context, contestID string) (models.Step, error)
	// Acquire takes the contest's compute lease and marks it initiated, atomically
	Acquire(ctx context.Context, contestID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, contestID, owner string) error
}

// leaseGrace keeps a lease alive a little past the computation timeout so the
// computation can store its report before another one may start
const leaseGrace = 2 * time.Minute

// Defaults fill parameters a compute request leaves out
type Defaults struct {
	MinTokens           int
	SimilarityThreshold float64
	PrimaryMetric       plagiarism.Metric
}

type ServiceConfig struct {
	Defaults           Defaults
	ComputationTimeout time.Duration
	ResultCacheSize    int
}

// ComputeOptions selects what a contest computation analyzes
type ComputeOptions struct {
	ContestID           string
	ProblemIDs          []string
	MinTokens           *int
	SimilarityThreshold *float64
	NormalizeTokens     bool
	// Lease is the owner token returned by Begin. It is released when the computation ends.
	Lease string
}

type Service struct {
	analyzer    Analyzer
	submissions SubmissionSource
	results     ResultStore
	status      StatusStore
	pool        *WorkerPool
	cache       *resultCache
	cfg         ServiceConfig
}

func NewService(analyzer Analyzer, submissions SubmissionSource, results ResultStore, status StatusStore, pool *WorkerPool, cfg ServiceConfig) (*Service, error) {
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = 32
	}
	if cfg.Defaults.PrimaryMetric == "" {
		cfg.Defaults.PrimaryMetric = plagiarism.MetricAverage
	}
	cache, err := newResultCache(cfg.ResultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &Service{
		analyzer:    analyzer,
		submissions: submissions,
		results:     results,
		status:      status,
		pool:        pool,
		cache:       cache,
		cfg:         cfg,
	}, nil
}

// params builds tool parameters for one problem from the request and the defaults
func (s *Service) params(opts ComputeOptions, lang plagiarism.Language) plagiarism.Params {
	p := plagiarism.Params{
		Language:            lang,
		MinTokenMatch:       s.cfg.Defaults.MinTokens,
		SimilarityThreshold: s.cfg.Defaults.SimilarityThreshold,
		NormalizeTokens:     opts.NormalizeTokens,
		PrimaryMetric:       s.cfg.Defaults.PrimaryMetric,
	}
	if opts.MinTokens != nil {
		p.MinTokenMatch = *opts.MinTokens
	}
	if opts.SimilarityThreshold != nil {
		p.SimilarityThreshold = *opts.SimilarityThreshold
	}
	return p
}

// ValidateOptions rejects request parameters the tool would refuse
func (s *Service) ValidateOptions(opts ComputeOptions) error {
	if opts.ContestID == "" {
		return &plagiarism.InvalidBatchError{Reason: "contestId is required"}
	}
	return plagiarism.ValidateParams(s.params(opts, plagiarism.TextLanguage))
}

// problemBatch is one problem's latest submission per user
type problemBatch struct {
	problemID string
	batch     plagiarism.Batch
	languages []string
	// userLanguages maps user id to contest language id
	userLanguages map[string]string
}

// newer reports whether sub replaces prev as a user's latest submission. Submission time
// decides; the larger submission id breaks ties.
func newer(sub, prev *models.StoredSubmission) bool {
	if !sub.SubmittedAt.Equal(prev.SubmittedAt) {
		return sub.SubmittedAt.After(prev.SubmittedAt)
	}
	return sub.SubmissionID > prev.SubmissionID
}

func groupByProblem(submissions []*models.StoredSubmission) []problemBatch {
	latest := make(map[string]map[string]*models.StoredSubmission)
	for _, sub := range submissions {
		users := latest[sub.ProblemID]
		if users == nil {
			users = make(map[string]*models.StoredSubmission)
			latest[sub.ProblemID] = users
		}
		if prev, ok := users[sub.UserID]; !ok || newer(sub, prev) {
			users[sub.UserID] = sub
		}
	}

	problems := make([]problemBatch, 0, len(latest))
	for problemID, users := range latest {
		pb := problemBatch{problemID: problemID, userLanguages: make(map[string]string, len(users))}
		userIDs := make([]string, 0, len(users))
		for userID := range users {
			userIDs = append(userIDs, userID)
		}
		sort.Strings(userIDs)
		for _, userID := range userIDs {
			sub := users[userID]
			pb.batch.Submissions = append(pb.batch.Submissions, plagiarism.Submission{
				ID:          userID,
				DisplayName: sub.DisplayName,
				Files:       sub.Files,
			})
			pb.languages = append(pb.languages, sub.Language)
			pb.userLanguages[userID] = sub.Language
		}
		problems = append(problems, pb)
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].problemID < problems[j].problemID })
	return problems
}

// ComputeContest analyzes every problem of a contest and stores one result per problem
// plus a contest report. Problems run concurrently on the worker pool.
func (s *Service) ComputeContest(ctx context.Context, opts ComputeOptions) (*models.ContestReport, error) {
	if s.cfg.ComputationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ComputationTimeout)
		defer cancel()
	}
	logger := log.With().Str("contestId", opts.ContestID).Logger()
	if opts.Lease != "" {
		defer s.release(ctx, opts.ContestID, opts.Lease)
	}

	s.setStep(ctx, opts.ContestID, models.StepStarted)
	report := &models.ContestReport{
		ContestID:        opts.ContestID,
		Status:           models.StatusPending,
		AnalyzedProblems: []string{},
		SkippedProblems:  []string{},
		FailedProblems:   []models.ProblemFailure{},
	}
	if err := s.results.InsertContestReport(ctx, report); err != nil {
		s.setStep(ctx, opts.ContestID, models.StepFailed)
		return nil, err
	}

	s.setStep(ctx, opts.ContestID, models.StepPreparing)
	stored, err := s.submissions.GetSubmissionsByContest(ctx, opts.ContestID, opts.ProblemIDs)
	if err != nil {
		s.failReport(ctx, report)
		return nil, err
	}
	problems := groupByProblem(stored)
	logger.Info().
		Int("submissions", len(stored)).
		Int("problems", len(problems)).
		Msg("Contest computation started")

	s.setStep(ctx, opts.ContestID, models.StepAnalyzing)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]*models.ProblemResult, 0, len(problems))
	)
	record := func(res *models.ProblemResult) {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.results.InsertProblemResult(storeCtx, res); err != nil {
			logger.Error().Err(err).Str("problemId", res.ProblemID).Msg("Failed to store problem result")
		}
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	for _, pb := range problems {
		params := s.params(opts, plagiarism.DominantLanguage(pb.languages))
		res := &models.ProblemResult{
			ContestID:       opts.ContestID,
			ProblemID:       pb.problemID,
			SubmissionCount: len(pb.batch.Submissions),
			Params:          storedParams(params),
			Languages:       pb.userLanguages,
		}
		if len(pb.batch.Submissions) < plagiarism.MinSubmissions {
			res.Status = models.StatusSkipped
			record(res)
			continue
		}

		wg.Add(1)
		job := JobFunc(func(poolCtx context.Context) error {
			defer wg.Done()
			runCtx, stop := context.WithCancel(ctx)
			defer stop()
			context.AfterFunc(poolCtx, stop)
			s.analyzeProblem(runCtx, pb, params, res)
			record(res)
			return nil
		})
		if err := s.pool.Submit(ctx, job); err != nil {
			wg.Done()
			res.Status = models.StatusFailed
			res.Error = err.Error()
			res.ErrorKind = errorKind(err)
			record(res)
		}
	}

	// jobs accepted by the pool always run, also when it closes meanwhile
	wg.Wait()

	s.finishReport(ctx, report, results, len(stored))
	logger.Info().
		Str("status", report.Status).
		Int("analyzed", len(report.AnalyzedProblems)).
		Int("failed", len(report.FailedProblems)).
		Int("flaggedPairs", report.FlaggedPairs).
		Msg("Contest computation finished")

	return report, nil
}

func (s *Service) analyzeProblem(ctx context.Context, pb problemBatch, params plagiarism.Params, res *models.ProblemResult) {
	start := time.Now()
	result, err := s.analyzer.RunAnalysis(ctx, pb.batch, params)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		res.Status = models.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = errorKind(err)
		metrics.AnalysisCount.WithLabelValues(models.StatusFailed).Inc()
		log.Error().
			Err(err).
			Str("contestId", res.ContestID).
			Str("problemId", res.ProblemID).
			Str("kind", res.ErrorKind).
			Bool("retryable", plagiarism.IsRetryable(err)).
			Msg("Problem analysis failed")
		return
	}

	metrics.AnalysisCount.WithLabelValues(models.StatusCompleted).Inc()
	metrics.ToolDuration.Observe(result.RunInfo.ToolDuration.Seconds())
	res.Status = models.StatusCompleted
	res.AnalysisID = result.AnalysisID
	res.Result = result
	s.cache.add(result)
}

func (s *Service) finishReport(ctx context.Context, report *models.ContestReport, results []*models.ProblemResult, total int) {
	sort.Slice(results, func(i, j int) bool { return results[i].ProblemID < results[j].ProblemID })
	report.TotalSubmissions = total
	for _, res := range results {
		switch res.Status {
		case models.StatusCompleted:
			report.AnalyzedProblems = append(report.AnalyzedProblems, res.ProblemID)
			report.FlaggedPairs += len(res.Result.HighSimilarityPairs)
		case models.StatusSkipped:
			report.SkippedProblems = append(report.SkippedProblems, res.ProblemID)
		default:
			report.FailedProblems = append(report.FailedProblems, models.ProblemFailure{
				ProblemID: res.ProblemID,
				Error:     res.Error,
				ErrorKind: res.ErrorKind,
			})
		}
	}

	step := models.StepCompleted
	report.Status = models.StatusCompleted
	if len(report.FailedProblems) > 0 && len(report.AnalyzedProblems) == 0 {
		step = models.StepFailed
		report.Status = models.StatusFailed
	}

	// the computation context may be spent, the report must still land
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.results.UpdateContestReport(storeCtx, report); err != nil {
		log.Error().Err(err).Str("contestId", report.ContestID).Msg("Failed to store contest report")
	}
	s.setStep(storeCtx, report.ContestID, step)
}

func (s *Service) failReport(ctx context.Context, report *models.ContestReport) {
	report.Status = models.StatusFailed
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.results.UpdateContestReport(storeCtx, report); err != nil {
		log.Error().Err(err).Str("contestId", report.ContestID).Msg("Failed to store contest report")
	}
	s.setStep(storeCtx, report.ContestID, models.StepFailed)
}

// release gives the compute lease back once the report is stored
func (s *Service) release(ctx context.Context, contestID, lease string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.status.Release(releaseCtx, contestID, lease); err != nil {
		log.Warn().Err(err).Str("contestId", contestID).Msg("Failed to release compute lease")
	}
}

func (s *Service) setStep(ctx context.Context, contestID string, step models.Step) {
	if err := s.status.UpdateStatus(ctx, contestID, step); err != nil {
		log.Warn().Err(err).Str("contestId", contestID).Str("step", string(step)).Msg("Failed to record step")
	}
}

func storedParams(p plagiarism.Params) models.AnalysisParams {
	return models.AnalysisParams{
		Language:            p.Language.Tool,
		MinTokenMatch:       p.MinTokenMatch,
		SimilarityThreshold: p.SimilarityThreshold,
		NormalizeTokens:     p.NormalizeTokens,
		PrimaryMetric:       string(p.PrimaryMetric),
	}
}

func toolParams(p models.AnalysisParams) plagiarism.Params {
	lang, ok := plagiarism.ToolLanguage(p.Language)
	if !ok {
		lang = plagiarism.TextLanguage
	}
	return plagiarism.Params{
		Language:            lang,
		MinTokenMatch:       p.MinTokenMatch,
		SimilarityThreshold: p.SimilarityThreshold,
		NormalizeTokens:     p.NormalizeTokens,
		PrimaryMetric:       plagiarism.Metric(p.PrimaryMetric),
	}
}

// Begin takes the contest's compute lease and marks it initiated. It reports false while
// another computation of the contest holds the lease. A lease left behind by a stopped
// process expires shortly after the computation timeout.
func (s *Service) Begin(ctx context.Context, contestID string) (string, bool, error) {
	lease := uuid.NewString()
	ok, err := s.status.Acquire(ctx, contestID, lease, s.leaseTTL())
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return lease, true, nil
}

func (s *Service) leaseTTL() time.Duration {
	if s.cfg.ComputationTimeout > 0 {
		return s.cfg.ComputationTimeout + leaseGrace
	}
	return statusTTL
}

func (s *Service) Status(ctx context.Context, contestID string) (models.Step, error) {
	return s.status.GetStatus(ctx, contestID)
}

func (s *Service) ContestResults(ctx context.Context, contestID string) ([]*models.ProblemResult, error) {
	return s.results.GetContestResults(ctx, contestID)
}

// ProblemResult returns the latest result of a problem, nil when it was never analyzed
func (s *Service) ProblemResult(ctx context.Context, contestID, problemID string) (*models.ProblemResult, error) {
	return s.results.GetLatestProblemResult(ctx, contestID, problemID)
}

// storedAnalysis loads a completed analysis by id
func (s *Service) storedAnalysis(ctx context.Context, analysisID string) (*models.ProblemResult, error) {
	stored, err := s.results.GetProblemResultByAnalysisID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.Status != models.StatusCompleted || stored.Result == nil {
		return nil, ErrAnalysisNotFound
	}
	return stored, nil
}

// Detail returns the line-level view of a pair from a stored analysis
func (s *Service) Detail(ctx context.Context, analysisID, first, second string) (*plagiarism.DetailedComparison, error) {
	result, err := s.cache.get(analysisID, func() (*plagiarism.AnalysisResult, error) {
		stored, err := s.storedAnalysis(ctx, analysisID)
		if err != nil {
			return nil, err
		}
		reopened, err := s.analyzer.OpenResult(
			stored.Result.ArchivePath,
			toolParams(stored.Params),
			stored.Result.Aliases,
			plagiarism.WithDisplayNames(stored.Result.DisplayNames),
			plagiarism.WithToolDuration(stored.Result.RunInfo.ToolDuration),
		)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: archive no longer retained", ErrAnalysisNotFound)
			}
			return nil, fmt.Errorf("failed to reopen analysis %s: %w", analysisID, err)
		}
		return reopened, nil
	})
	if err != nil {
		return nil, err
	}
	return s.analyzer.GetDetailedComparison(result, first, second)
}

// Clusters returns the clusters of a stored analysis with each cluster's pairwise
// similarities, dominant language and review action
func (s *Service) Clusters(ctx context.Context, analysisID string) ([]models.ClusterAnalysis, error) {
	stored, err := s.storedAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	clusters := make([]models.ClusterAnalysis, 0, len(stored.Result.Clusters))
	for _, c := range stored.Result.Clusters {
		dominant := stored.Params.Language
		if len(stored.Languages) > 0 {
			ids := make([]string, 0, len(c.Members))
			for _, member := range c.Members {
				if id, ok := stored.Languages[member]; ok {
					ids = append(ids, id)
				}
			}
			if len(ids) > 0 {
				dominant = plagiarism.DominantLanguage(ids).Tool
			}
		}
		clusters = append(clusters, models.ClusterAnalysis{
			Cluster:           c,
			Size:              len(c.Members),
			DominantLanguage:  dominant,
			SimilarityMatrix:  stored.Result.Matrix.Sub(c.Members),
			RecommendedAction: plagiarism.RecommendedAction(c.Risk),
		})
	}
	return clusters, nil
}

// Languages lists the tool languages submissions can be analyzed with
func (s *Service) Languages() []plagiarism.Language {
	return plagiarism.SupportedLanguages()
}

// Contests lists every checked contest, most recently checked first
func (s *Service) Contests(ctx context.Context) ([]models.ContestSummary, error) {
	return s.results.ListContests(ctx)
}

// ContestProblems summarizes the ingested submissions of every problem of a contest
// together with its latest check
func (s *Service) ContestProblems(ctx context.Context, contestID string) ([]models.ProblemSummary, error) {
	subs, err := s.submissions.GetSubmissionMetadata(ctx, contestID, nil)
	if err != nil {
		return nil, err
	}
	results, err := s.results.GetContestResults(ctx, contestID)
	if err != nil {
		return nil, err
	}

	type tally struct {
		summary   models.ProblemSummary
		users     map[string]bool
		languages map[string]bool
	}
	problems := make(map[string]*tally)
	problem := func(id string) *tally {
		t, ok := problems[id]
		if !ok {
			t = &tally{
				summary:   models.ProblemSummary{ProblemID: id, Languages: []string{}},
				users:     make(map[string]bool),
				languages: make(map[string]bool),
			}
			problems[id] = t
		}
		return t
	}

	for _, sub := range subs {
		t := problem(sub.ProblemID)
		t.summary.TotalSubmissions++
		t.users[sub.UserID] = true
		t.languages[sub.Language] = true
	}
	for _, res := range results {
		t := problem(res.ProblemID)
		if t.summary.LastCheckAt == nil || res.CreatedAt.After(*t.summary.LastCheckAt) {
			checked := res.CreatedAt
			t.summary.LastCheckAt = &checked
			t.summary.LastCheckStatus = res.Status
		}
	}

	summaries := make([]models.ProblemSummary, 0, len(problems))
	for _, t := range problems {
		t.summary.Users = len(t.users)
		for lang := range t.languages {
			t.summary.Languages = append(t.summary.Languages, lang)
		}
		sort.Strings(t.summary.Languages)
		summaries = append(summaries, t.summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ProblemID < summaries[j].ProblemID })
	return summaries, nil
}

// ProblemLanguages reports how each contest language is used in a problem and whether
// its submissions can be analyzed with a language-aware tokenizer
func (s *Service) ProblemLanguages(ctx context.Context, contestID, problemID string) ([]models.LanguageStats, error) {
	subs, err := s.submissions.GetSubmissionMetadata(ctx, contestID, []string{problemID})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	users := make(map[string]map[string]bool)
	for _, sub := range subs {
		counts[sub.Language]++
		if users[sub.Language] == nil {
			users[sub.Language] = make(map[string]bool)
		}
		users[sub.Language][sub.UserID] = true
	}

	stats := make([]models.LanguageStats, 0, len(counts))
	for id, count := range counts {
		lang := plagiarism.ResolveLanguage(id)
		stats = append(stats, models.LanguageStats{
			Language:        id,
			SubmissionCount: count,
			UniqueUsers:     len(users[id]),
			ToolLanguage:    lang.Tool,
			Capability:      lang.Capability,
			CanAnalyze:      lang.Capability == plagiarism.CapabilityNative && len(users[id]) >= plagiarism.MinSubmissions,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].SubmissionCount != stats[j].SubmissionCount {
			return stats[i].SubmissionCount > stats[j].SubmissionCount
		}
		return stats[i].Language < stats[j].Language
	})
	return stats, nil
}
