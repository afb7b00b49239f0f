package models

import (
	"time"

	"github.com/RishiKendai/phosphorus/internal/plagiarism"
)

type Step string

const (
	StepIdle      Step = "idle"
	StepInitiated Step = "initiated"
	StepStarted   Step = "started"
	StepPreparing Step = "preparing"
	StepAnalyzing Step = "analyzing"
	StepCompleted Step = "completed"
	StepFailed    Step = "failed"
)

// Report and result statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// StoredSubmission is an ingested contest submission kept in MongoDB
type StoredSubmission struct {
	SubmissionID string                  `bson:"submissionId" json:"submissionId"`
	ContestID    string                  `bson:"contestId" json:"contestId"`
	ProblemID    string                  `bson:"problemId" json:"problemId"`
	UserID       string                  `bson:"userId" json:"userId"`
	DisplayName  string                  `bson:"displayName" json:"displayName"`
	Language     string                  `bson:"language" json:"language"`
	Files        []plagiarism.SourceFile `bson:"files,omitempty" json:"files,omitempty"`
	SubmittedAt  time.Time               `bson:"submittedAt" json:"submittedAt"`
	CreatedAt    time.Time               `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time               `bson:"updatedAt" json:"updatedAt"`
}

// AnalysisParams are the tool parameters a problem was analyzed with
type AnalysisParams struct {
	Language            string  `bson:"language" json:"language"`
	MinTokenMatch       int     `bson:"minTokenMatch" json:"minTokenMatch"`
	SimilarityThreshold float64 `bson:"similarityThreshold" json:"similarityThreshold"`
	NormalizeTokens     bool    `bson:"normalizeTokens" json:"normalizeTokens"`
	PrimaryMetric       string  `bson:"primaryMetric" json:"primaryMetric"`
}

// ProblemResult is the outcome of one problem's analysis
type ProblemResult struct {
	ContestID       string                     `bson:"contestId" json:"contestId"`
	ProblemID       string                     `bson:"problemId" json:"problemId"`
	AnalysisID      string                     `bson:"analysisId,omitempty" json:"analysisId,omitempty"`
	Status          string                     `bson:"status" json:"status"` // completed, failed, skipped
	SubmissionCount int                        `bson:"submissionCount" json:"submissionCount"`
	Params          AnalysisParams             `bson:"params" json:"params"`
	Languages       map[string]string          `bson:"languages,omitempty" json:"languages,omitempty"` // user id -> contest language id
	Result          *plagiarism.AnalysisResult `bson:"result,omitempty" json:"result,omitempty"`
	Error           string                     `bson:"error,omitempty" json:"error,omitempty"`
	ErrorKind       string                     `bson:"errorKind,omitempty" json:"errorKind,omitempty"`
	CreatedAt       time.Time                  `bson:"createdAt" json:"createdAt"`
}

// ProblemFailure names a problem whose analysis failed
type ProblemFailure struct {
	ProblemID string `bson:"problemId" json:"problemId"`
	Error     string `bson:"error" json:"error"`
	ErrorKind string `bson:"errorKind" json:"errorKind"`
}

// ContestReport summarizes one compute run over a contest
type ContestReport struct {
	ContestID        string           `bson:"contestId" json:"contestId"`
	Status           string           `bson:"status" json:"status"` // pending, completed, failed
	AnalyzedProblems []string         `bson:"analyzedProblems" json:"analyzedProblems"`
	SkippedProblems  []string         `bson:"skippedProblems" json:"skippedProblems"`
	FailedProblems   []ProblemFailure `bson:"failedProblems" json:"failedProblems"`
	FlaggedPairs     int              `bson:"flaggedPairs" json:"flaggedPairs"`
	TotalSubmissions int              `bson:"totalSubmissions" json:"totalSubmissions"`
	CreatedAt        time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// ComputeRequest represents a request to analyze a contest
type ComputeRequest struct {
	ContestID           string   `json:"contestId" binding:"required"`
	ProblemIDs          []string `json:"problemIds"`
	MinTokens           *int     `json:"minTokens"`
	SimilarityThreshold *float64 `json:"similarityThreshold"`
	NormalizeTokens     bool     `json:"normalizeTokens"`
}

// ComputeResponse represents the response from compute endpoint
type ComputeResponse struct {
	Step      Step   `json:"step"`
	ContestID string `json:"contestId"`
}

// StatusResponse reports the current step of a contest computation
type StatusResponse struct {
	ContestID string `json:"contestId"`
	Step      Step   `json:"step"`
}

// ContestSummary lists a contest that has been checked at least once
type ContestSummary struct {
	ContestID       string    `bson:"_id" json:"contestId"`
	CheckedProblems int       `bson:"checkedProblems" json:"checkedProblems"`
	LastCheckAt     time.Time `bson:"lastCheckAt" json:"lastCheckAt"`
}

// ProblemSummary describes one problem of a contest and its latest check
type ProblemSummary struct {
	ProblemID        string     `json:"problemId"`
	TotalSubmissions int        `json:"totalSubmissions"`
	Users            int        `json:"users"`
	Languages        []string   `json:"languages"`
	LastCheckAt      *time.Time `json:"lastCheckAt,omitempty"`
	LastCheckStatus  string     `json:"lastCheckStatus,omitempty"`
}

// LanguageStats is the usage of one contest language within a problem
type LanguageStats struct {
	Language        string                `json:"language"`
	SubmissionCount int                   `json:"submissionCount"`
	UniqueUsers     int                   `json:"uniqueUsers"`
	ToolLanguage    string                `json:"toolLanguage"`
	Capability      plagiarism.Capability `json:"capability"`
	CanAnalyze      bool                  `json:"canAnalyze"`
}

// ClusterAnalysis is a cluster with its members' pairwise similarities and a review action
type ClusterAnalysis struct {
	plagiarism.Cluster
	Size              int                           `json:"size"`
	DominantLanguage  string                        `json:"dominantLanguage"`
	SimilarityMatrix  map[string]map[string]float64 `json:"similarityMatrix"`
	RecommendedAction plagiarism.Action             `json:"recommendedAction"`
}
