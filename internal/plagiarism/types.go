package plagiarism

import (
	"sort"
	"strings"
	"time"
)

// Metric names a similarity summary reported by the comparison tool
type Metric string

const (
	MetricAverage       Metric = "AVG"
	MetricMaximum       Metric = "MAX"
	MetricLongestMatch  Metric = "LONGEST_MATCH"
	MetricMaximumLength Metric = "MAXIMUM_LENGTH"
)

// IsRatio reports whether the metric is a fraction in [0,1] rather than a token count
func (m Metric) IsRatio() bool {
	return m == MetricAverage || m == MetricMaximum
}

// SourceFile is one file of a submission, path relative to the submission root
type SourceFile struct {
	Path    string `bson:"path" json:"path"`
	Content string `bson:"content" json:"content"`
}

// LineCount returns the number of lines in the file
func (f SourceFile) LineCount() int {
	return len(splitLines(f.Content))
}

// Submission is one contestant's solution to a problem
type Submission struct {
	ID          string       `bson:"id" json:"id"`
	DisplayName string       `bson:"displayName" json:"displayName"`
	Files       []SourceFile `bson:"files" json:"files"`
}

// Batch is the set of submissions compared in one analysis
type Batch struct {
	Submissions []Submission
}

// Params controls a single tool invocation
type Params struct {
	Language            Language
	MinTokenMatch       int
	SimilarityThreshold float64
	BaseCodeDir         string
	NormalizeTokens     bool
	PrimaryMetric       Metric
}

// TokenPosition locates a token inside a file
type TokenPosition struct {
	Line   int `bson:"line" json:"line"`
	Column int `bson:"column" json:"column"`
	Token  int `bson:"token" json:"token"`
}

// Match is a contiguous region matched between two submissions
type Match struct {
	FirstFile      string        `bson:"firstFile" json:"firstFile"`
	SecondFile     string        `bson:"secondFile" json:"secondFile"`
	StartInFirst   TokenPosition `bson:"startInFirst" json:"startInFirst"`
	EndInFirst     TokenPosition `bson:"endInFirst" json:"endInFirst"`
	StartInSecond  TokenPosition `bson:"startInSecond" json:"startInSecond"`
	EndInSecond    TokenPosition `bson:"endInSecond" json:"endInSecond"`
	LengthOfFirst  int           `bson:"lengthOfFirst" json:"lengthOfFirst"`
	LengthOfSecond int           `bson:"lengthOfSecond" json:"lengthOfSecond"`
}

// Length is the matched token length
func (m Match) Length() int {
	if m.LengthOfFirst > m.LengthOfSecond {
		return m.LengthOfFirst
	}
	return m.LengthOfSecond
}

func (m Match) swapped() Match {
	return Match{
		FirstFile:      m.SecondFile,
		SecondFile:     m.FirstFile,
		StartInFirst:   m.StartInSecond,
		EndInFirst:     m.EndInSecond,
		StartInSecond:  m.StartInFirst,
		EndInSecond:    m.EndInFirst,
		LengthOfFirst:  m.LengthOfSecond,
		LengthOfSecond: m.LengthOfFirst,
	}
}

// Comparison is an unordered submission pair with its similarity metrics
type Comparison struct {
	FirstSubmission  string             `bson:"firstSubmission" json:"firstSubmission"`
	SecondSubmission string             `bson:"secondSubmission" json:"secondSubmission"`
	Similarities     map[string]float64 `bson:"similarities" json:"similarities"`
	FirstSimilarity  float64            `bson:"firstSimilarity" json:"firstSimilarity"`
	SecondSimilarity float64            `bson:"secondSimilarity" json:"secondSimilarity"`
	Risk             PairRisk           `bson:"risk,omitempty" json:"risk,omitempty"`
	Matches          []Match            `bson:"-" json:"-"`
}

// Similarity returns the value of a metric and whether the tool reported it
func (c Comparison) Similarity(m Metric) (float64, bool) {
	v, ok := c.Similarities[string(m)]
	return v, ok
}

// SimilarityMatrix maps submission pairs to the primary metric. Pairs the tool never
// reported are absent, which is different from a zero similarity.
type SimilarityMatrix map[string]map[string]float64

// Get returns the value for a pair and whether it was reported
func (m SimilarityMatrix) Get(a, b string) (float64, bool) {
	if a == b {
		return 0, false
	}
	row, ok := m[a]
	if !ok {
		return 0, false
	}
	v, ok := row[b]
	return v, ok
}

// Sub returns the matrix restricted to members, with 1 on the diagonal and 0 for pairs the
// tool never reported
func (m SimilarityMatrix) Sub(members []string) map[string]map[string]float64 {
	sub := make(map[string]map[string]float64, len(members))
	for _, a := range members {
		row := make(map[string]float64, len(members))
		for _, b := range members {
			if a == b {
				row[b] = 1
				continue
			}
			v, _ := m.Get(a, b)
			row[b] = v
		}
		sub[a] = row
	}
	return sub
}

func (m SimilarityMatrix) set(a, b string, v float64) {
	if a == b {
		return
	}
	if m[a] == nil {
		m[a] = make(map[string]float64)
	}
	if m[b] == nil {
		m[b] = make(map[string]float64)
	}
	m[a][b] = v
	m[b][a] = v
}

// Len returns the number of unordered pairs in the matrix
func (m SimilarityMatrix) Len() int {
	n := 0
	for _, row := range m {
		n += len(row)
	}
	return n / 2
}

// Cluster is a group of submissions the tool reported as mutually similar
type Cluster struct {
	Index             int      `bson:"index" json:"index"`
	Members           []string `bson:"members" json:"members"`
	AverageSimilarity float64  `bson:"averageSimilarity" json:"averageSimilarity"`
	Strength          float64  `bson:"strength" json:"strength"`
	Risk              RiskTier `bson:"risk" json:"risk"`
}

// FailedSubmission is a submission the tool could not tokenize
type FailedSubmission struct {
	ID    string `bson:"id" json:"id"`
	State string `bson:"state" json:"state"`
}

// SubmissionStats summarizes one submission of the batch
type SubmissionStats struct {
	ID              string `bson:"id" json:"id"`
	DisplayName     string `bson:"displayName" json:"displayName"`
	FileCount       int    `bson:"fileCount" json:"fileCount"`
	TotalTokens     int    `bson:"totalTokens" json:"totalTokens"`
	ComparisonCount int    `bson:"comparisonCount" json:"comparisonCount"`
}

// RunInfo is batch-level metadata of one tool run
type RunInfo struct {
	TotalSubmissions  int                `bson:"totalSubmissions" json:"totalSubmissions"`
	TotalComparisons  int                `bson:"totalComparisons" json:"totalComparisons"`
	ToolDuration      time.Duration      `bson:"toolDuration" json:"toolDuration"`
	ReportedDuration  time.Duration      `bson:"reportedDuration" json:"reportedDuration"`
	ToolVersion       string             `bson:"toolVersion" json:"toolVersion"`
	ExecutedAt        string             `bson:"executedAt,omitempty" json:"executedAt,omitempty"`
	FailedSubmissions []FailedSubmission `bson:"failedSubmissions" json:"failedSubmissions"`
	Options           map[string]any     `bson:"options,omitempty" json:"options,omitempty"`
}

// Distribution holds the histogram reported by the tool plus summary statistics over
// the high-similarity pairs
type Distribution struct {
	Buckets map[string][]int `bson:"buckets,omitempty" json:"buckets,omitempty"`
	Average float64          `bson:"average" json:"average"`
	Median  float64          `bson:"median" json:"median"`
	Max     float64          `bson:"max" json:"max"`
	Min     float64          `bson:"min" json:"min"`
}

// AnalysisResult is the outcome of one analysis. It is immutable once returned.
type AnalysisResult struct {
	AnalysisID          string             `bson:"analysisId" json:"analysisId"`
	ArchivePath         string             `bson:"archivePath" json:"-"`
	Language            string             `bson:"language" json:"language"`
	PrimaryMetric       Metric             `bson:"primaryMetric" json:"primaryMetric"`
	Threshold           float64            `bson:"threshold" json:"threshold"`
	RunInfo             RunInfo            `bson:"runInfo" json:"runInfo"`
	HighSimilarityPairs []Comparison       `bson:"highSimilarityPairs" json:"highSimilarityPairs"`
	Matrix              SimilarityMatrix   `bson:"matrix" json:"matrix"`
	Clusters            []Cluster          `bson:"clusters" json:"clusters"`
	SubmissionStats     []SubmissionStats  `bson:"submissionStats" json:"submissionStats"`
	FailedSubmissions   []FailedSubmission `bson:"failedSubmissions" json:"failedSubmissions"`
	Distribution        *Distribution      `bson:"distribution,omitempty" json:"distribution,omitempty"`
	Aliases             map[string]string  `bson:"aliases,omitempty" json:"aliases,omitempty"`
	// DisplayNames holds the names the caller supplied, keyed by caller id
	DisplayNames map[string]string `bson:"displayNames,omitempty" json:"-"`

	comparisons map[string]*Comparison
	toolIDs     map[string]string
	lines       map[string]*tokenLineIndex
}

func (r *AnalysisResult) comparison(a, b string) (*Comparison, bool) {
	c, ok := r.comparisons[pairKey(a, b)]
	return c, ok
}

func (r *AnalysisResult) toolID(id string) string {
	if t, ok := r.toolIDs[id]; ok {
		return t
	}
	return id
}

// pairKey is order independent
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func sortedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
