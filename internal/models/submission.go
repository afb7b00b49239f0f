package models

import "time"

// Submission represents a submission from Redis stream
type Submission struct {
	SubmissionID string `json:"submissionId"`
	ContestID    string `json:"contestId"`
	ProblemID    string `json:"problemId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Language     string `json:"language"`
	FileName     string `json:"fileName"`
	SourceCode   string `json:"sourceCode"`
	// SubmittedAt is when the user submitted, not when the message was ingested
	SubmittedAt time.Time `json:"submittedAt"`
}
