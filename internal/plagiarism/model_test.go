package plagiarism

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildResult(t *testing.T) {
	result, err := buildFixture(t, newFixture(), testParams())
	require.NoError(t, err)

	assert.Equal(t, "analysis-1", result.AnalysisID)
	assert.Equal(t, MetricAverage, result.PrimaryMetric)
	assert.Equal(t, "cpp", result.Language)

	require.Len(t, result.HighSimilarityPairs, 2)
	assert.Equal(t, "A", result.HighSimilarityPairs[0].FirstSubmission)
	assert.Equal(t, "B", result.HighSimilarityPairs[0].SecondSubmission)
	assert.Equal(t, PairNearCopy, result.HighSimilarityPairs[0].Risk)
	assert.Equal(t, PairSuspicious, result.HighSimilarityPairs[1].Risk)

	v, ok := result.Matrix.Get("A", "B")
	assert.True(t, ok)
	assert.Equal(t, 0.9, v)
	_, ok = result.Matrix.Get("B", "C")
	assert.False(t, ok, "unreported pair must stay undefined")
	_, ok = result.Matrix.Get("A", "A")
	assert.False(t, ok, "diagonal is undefined")
	assert.Equal(t, 2, result.Matrix.Len())

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"A", "B"}, result.Clusters[0].Members)
	assert.Equal(t, RiskHigh, result.Clusters[0].Risk)

	assert.Equal(t, []FailedSubmission{{ID: "D", State: "CANNOT_PARSE"}}, result.FailedSubmissions)

	assert.Equal(t, 4, result.RunInfo.TotalSubmissions)
	assert.Equal(t, 3, result.RunInfo.TotalComparisons)
	assert.Equal(t, 1500*time.Millisecond, result.RunInfo.ReportedDuration)
	assert.Equal(t, "5.1.0", result.RunInfo.ToolVersion)
	assert.Equal(t, float64(9), result.RunInfo.Options["minimumTokenMatch"])

	require.NotNil(t, result.Distribution)
	assert.InDelta(t, 0.65, result.Distribution.Average, 1e-9)
	assert.InDelta(t, 0.65, result.Distribution.Median, 1e-9)
	assert.Equal(t, 0.9, result.Distribution.Max)
	assert.Equal(t, 0.4, result.Distribution.Min)
	assert.Equal(t, []int{0, 1, 0, 0, 1}, result.Distribution.Buckets["AVG"])
}

func TestMatrixSymmetry(t *testing.T) {
	result, err := buildFixture(t, newFixture(), testParams())
	require.NoError(t, err)

	for a, row := range result.Matrix {
		for b, v := range row {
			w, ok := result.Matrix.Get(b, a)
			require.True(t, ok, "%s/%s has no mirror", a, b)
			assert.Equal(t, v, w)
			assert.NotEqual(t, a, b)
		}
	}
}

func TestClusterMembersAtOrAboveThreshold(t *testing.T) {
	result, err := buildFixture(t, newFixture(), testParams())
	require.NoError(t, err)

	for _, c := range result.Clusters {
		for i := range c.Members {
			for j := i + 1; j < len(c.Members); j++ {
				if v, ok := result.Matrix.Get(c.Members[i], c.Members[j]); ok {
					assert.GreaterOrEqual(t, v, result.Threshold)
				}
			}
		}
	}
}

func TestClusterBelowThresholdIsCorrupt(t *testing.T) {
	f := newFixture().json(docCluster, []map[string]any{
		{"averageSimilarity": 0.4, "strength": 0.1, "members": []string{"A", "C"}},
	})
	params := testParams()
	params.SimilarityThreshold = 0.5

	_, err := buildFixture(t, f, params)
	var corrupt *CorruptArchiveError
	require.True(t, errors.As(err, &corrupt))
	assert.Contains(t, err.Error(), "below threshold")
}

func TestHighSimilarityThreshold(t *testing.T) {
	params := testParams()
	params.SimilarityThreshold = 0.5

	result, err := buildFixture(t, newFixture(), params)
	require.NoError(t, err)
	require.Len(t, result.HighSimilarityPairs, 1)
	assert.Equal(t, "A", result.HighSimilarityPairs[0].FirstSubmission)

	// the matrix still carries every reported pair
	_, ok := result.Matrix.Get("A", "C")
	assert.True(t, ok)
}

func TestHighSimilarityTieBreak(t *testing.T) {
	f := newFixture().
		json(docTopComparisons, []map[string]any{
			{"firstSubmission": "C", "secondSubmission": "B", "similarities": map[string]float64{"AVG": 0.7}},
			{"firstSubmission": "B", "secondSubmission": "A", "similarities": map[string]float64{"AVG": 0.7}},
			{"firstSubmission": "C", "secondSubmission": "A", "similarities": map[string]float64{"AVG": 0.8}},
		}).
		without(docCluster)

	result, err := buildFixture(t, f, testParams())
	require.NoError(t, err)

	got := make([][2]string, 0)
	for _, c := range result.HighSimilarityPairs {
		a, b := sortedPair(c.FirstSubmission, c.SecondSubmission)
		got = append(got, [2]string{a, b})
	}
	assert.Equal(t, [][2]string{{"A", "C"}, {"A", "B"}, {"B", "C"}}, got)
}

func TestBuildIsDeterministic(t *testing.T) {
	path := newFixture().write(t)
	schemas := testSchemas(t)
	opts := buildOptions{AnalysisID: "x", ArchivePath: path, Params: testParams(), Risk: DefaultRiskThresholds()}

	encode := func() []byte {
		docs, err := parseArchive(path, schemas)
		require.NoError(t, err)
		result, err := buildResult(docs, opts)
		require.NoError(t, err)
		data, err := json.Marshal(result)
		require.NoError(t, err)
		return data
	}

	first := encode()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, encode())
	}
}

func TestSubmissionStatsIncludeUncompared(t *testing.T) {
	f := newFixture()
	f.json(docMappings, map[string]any{
		"submissionIdToDisplayName": map[string]string{"A": "A", "B": "B", "C": "C", "E": "E"},
	})

	result, err := buildFixture(t, f, testParams())
	require.NoError(t, err)

	byID := make(map[string]SubmissionStats)
	for _, s := range result.SubmissionStats {
		byID[s.ID] = s
	}
	require.Contains(t, byID, "E")
	assert.Equal(t, 0, byID["E"].ComparisonCount)
	assert.Equal(t, 2, byID["A"].ComparisonCount)
	assert.Equal(t, 1, byID["A"].FileCount)
	assert.Equal(t, 30, byID["A"].TotalTokens)
	assert.NotContains(t, byID, "D")
}

func TestFailedSubmissionDoesNotAbortBatch(t *testing.T) {
	result, err := buildFixture(t, newFixture(), testParams())
	require.NoError(t, err)

	assert.NotEmpty(t, result.HighSimilarityPairs)
	assert.NotEmpty(t, result.Clusters)
	require.Len(t, result.FailedSubmissions, 1)
	assert.Equal(t, "D", result.FailedSubmissions[0].ID)
	_, compared := result.Matrix["D"]
	assert.False(t, compared)
}

func TestMissingPrimaryMetricIsCorrupt(t *testing.T) {
	params := testParams()
	params.PrimaryMetric = MetricMaximum
	f := newFixture().json(docTopComparisons, []map[string]any{
		{"firstSubmission": "A", "secondSubmission": "B", "similarities": map[string]float64{"AVG": 0.9}},
	})

	_, err := buildFixture(t, f, params)
	var corrupt *CorruptArchiveError
	require.True(t, errors.As(err, &corrupt))
	assert.Contains(t, err.Error(), "lacks metric MAX")
}

func TestBuildAliases(t *testing.T) {
	path := newFixture().write(t)
	docs, err := parseArchive(path, testSchemas(t))
	require.NoError(t, err)

	result, err := buildResult(docs, buildOptions{
		AnalysisID:   "x",
		ArchivePath:  path,
		Params:       testParams(),
		Risk:         DefaultRiskThresholds(),
		Aliases:      map[string]string{"A": "user a", "B": "user/b"},
		DisplayNames: map[string]string{"user a": "Ada"},
	})
	require.NoError(t, err)

	_, ok := result.Matrix.Get("user a", "user/b")
	assert.True(t, ok)
	assert.Equal(t, []string{"user a", "user/b"}, result.Clusters[0].Members)
	assert.Equal(t, "A", result.toolID("user a"))
	assert.Equal(t, "C", result.toolID("C"))

	var names []string
	for _, s := range result.SubmissionStats {
		names = append(names, s.DisplayName)
	}
	assert.Contains(t, names, "Ada")
}
