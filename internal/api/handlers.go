package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/RishiKendai/phosphorus/internal/analysis"
	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AnalysisService is the contest analysis surface the handlers call
type AnalysisService interface {
	ValidateOptions(opts analysis.ComputeOptions) error
	Begin(ctx context.Context, contestID string) (string, bool, error)
	ComputeContest(ctx context.Context, opts analysis.ComputeOptions) (*models.ContestReport, error)
	Status(ctx context.Context, contestID string) (models.Step, error)
	ContestResults(ctx context.Context, contestID string) ([]*models.ProblemResult, error)
	ProblemResult(ctx context.Context, contestID, problemID string) (*models.ProblemResult, error)
	Detail(ctx context.Context, analysisID, first, second string) (*plagiarism.DetailedComparison, error)
	Clusters(ctx context.Context, analysisID string) ([]models.ClusterAnalysis, error)
	Languages() []plagiarism.Language
	Contests(ctx context.Context) ([]models.ContestSummary, error)
	ContestProblems(ctx context.Context, contestID string) ([]models.ProblemSummary, error)
	ProblemLanguages(ctx context.Context, contestID, problemID string) ([]models.LanguageStats, error)
}

// Handler holds dependencies for handlers
type Handler struct {
	ctx        context.Context
	svc        AnalysisService
	computeSem chan struct{} // Semaphore for bounded concurrency
	inflight   sync.WaitGroup
}

// NewHandler builds a Handler whose background computations run under ctx
func NewHandler(ctx context.Context, svc AnalysisService, maxConcurrentCompute int) *Handler {
	return &Handler{
		ctx:        ctx,
		svc:        svc,
		computeSem: make(chan struct{}, maxConcurrentCompute),
	}
}

// Wait blocks until every accepted computation has returned or timeout
// elapses. It reports whether the drain completed.
func (h *Handler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func (h *Handler) Compute(c *gin.Context) {
	var req models.ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	opts := analysis.ComputeOptions{
		ContestID:           req.ContestID,
		ProblemIDs:          req.ProblemIDs,
		MinTokens:           req.MinTokens,
		SimilarityThreshold: req.SimilarityThreshold,
		NormalizeTokens:     req.NormalizeTokens,
	}
	if err := h.svc.ValidateOptions(opts); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PARAMS",
		})
		return
	}

	// Acquire semaphore (bounded concurrency)
	ctx := c.Request.Context()
	select {
	case h.computeSem <- struct{}{}:
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, ErrorResponse{
			Error: "Request cancelled",
			Code:  "REQUEST_TIMEOUT",
		})
		return
	}

	lease, started, err := h.svc.Begin(ctx, req.ContestID)
	if err != nil {
		<-h.computeSem
		log.Error().Err(err).Str("contestId", req.ContestID).Msg("Failed to check computation status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to check computation status",
			Code:  "INTERNAL_ERROR",
		})
		return
	}
	if !started {
		<-h.computeSem
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "Computation already in progress",
			Code:  "COMPUTATION_IN_PROGRESS",
		})
		return
	}

	c.JSON(http.StatusAccepted, models.ComputeResponse{
		Step:      models.StepInitiated,
		ContestID: req.ContestID,
	})

	opts.Lease = lease
	h.inflight.Add(1)
	go h.processComputation(opts)
}

// processComputation runs a contest computation detached from the request
func (h *Handler) processComputation(opts analysis.ComputeOptions) {
	defer h.inflight.Done()
	defer func() { <-h.computeSem }() // Release semaphore

	report, err := h.svc.ComputeContest(h.ctx, opts)
	if err != nil {
		log.Error().Err(err).Str("contestId", opts.ContestID).Msg("Computation failed")
		return
	}

	log.Debug().
		Str("contestId", opts.ContestID).
		Str("status", report.Status).
		Msg("Computation finished")
}

func (h *Handler) Status(c *gin.Context) {
	contestID := c.Param("contestId")
	step, err := h.svc.Status(c.Request.Context(), contestID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{ContestID: contestID, Step: step})
}

func (h *Handler) Results(c *gin.Context) {
	contestID := c.Param("contestId")
	results, err := h.svc.ContestResults(c.Request.Context(), contestID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if results == nil {
		results = []*models.ProblemResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"contestId": contestID,
		"results":   results,
	})
}

func (h *Handler) ProblemResult(c *gin.Context) {
	result, err := h.svc.ProblemResult(c.Request.Context(), c.Param("contestId"), c.Param("problemId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No result for problem",
			Code:  "RESULT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Detail(c *gin.Context) {
	detail, err := h.svc.Detail(c.Request.Context(), c.Param("analysisId"), c.Param("first"), c.Param("second"))

	var notFound *plagiarism.ComparisonNotFoundError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, detail)
	case errors.Is(err, analysis.ErrAnalysisNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "ANALYSIS_NOT_FOUND",
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "COMPARISON_NOT_FOUND",
		})
	default:
		_ = c.Error(err)
	}
}

func (h *Handler) Clusters(c *gin.Context) {
	clusters, err := h.svc.Clusters(c.Request.Context(), c.Param("analysisId"))
	if errors.Is(err, analysis.ErrAnalysisNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "ANALYSIS_NOT_FOUND",
		})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	if clusters == nil {
		clusters = []models.ClusterAnalysis{}
	}
	c.JSON(http.StatusOK, gin.H{
		"analysisId": c.Param("analysisId"),
		"clusters":   clusters,
	})
}

func (h *Handler) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.svc.Languages()})
}

func (h *Handler) Contests(c *gin.Context) {
	contests, err := h.svc.Contests(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if contests == nil {
		contests = []models.ContestSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"contests": contests})
}

func (h *Handler) ContestProblems(c *gin.Context) {
	contestID := c.Param("contestId")
	problems, err := h.svc.ContestProblems(c.Request.Context(), contestID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if problems == nil {
		problems = []models.ProblemSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"contestId": contestID,
		"problems":  problems,
	})
}

func (h *Handler) ProblemLanguages(c *gin.Context) {
	contestID, problemID := c.Param("contestId"), c.Param("problemId")
	stats, err := h.svc.ProblemLanguages(c.Request.Context(), contestID, problemID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if stats == nil {
		stats = []models.LanguageStats{}
	}
	c.JSON(http.StatusOK, gin.H{
		"contestId": contestID,
		"problemId": problemID,
		"languages": stats,
	})
}
