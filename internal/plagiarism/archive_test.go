package plagiarism

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArchive(t *testing.T) {
	docs, err := parseArchive(newFixture().write(t), testSchemas(t))
	require.NoError(t, err)

	assert.Len(t, docs.top, 2)
	assert.Len(t, docs.mappings.SubmissionIDToDisplayName, 3)
	require.NotNil(t, docs.runInfo)
	assert.Equal(t, "5.1.0", docs.runInfo.version())
	assert.Equal(t, int64(1500), docs.runInfo.durationMillis())
	assert.Equal(t, "D", docs.runInfo.FailedSubmissions[0].id())
	assert.Equal(t, 30, docs.fileIndex["A"]["main"].TokenCount)
	assert.Len(t, docs.clusters, 1)
	assert.Len(t, docs.details, 2)

	detail := docs.details[pairKey("A", "B")]
	require.NotNil(t, detail)
	require.Len(t, detail.matches, 1)
	assert.Equal(t, "main", detail.matches[0].FirstFile)
	assert.Equal(t, 10, detail.matches[0].StartInFirst.Token)
}

func TestParseArchiveOptionalDocuments(t *testing.T) {
	f := newFixture().
		without(docCluster).
		without(docDistribution).
		without(docRunInformation).
		without(docFileIndex).
		without(docOptions)

	docs, err := parseArchive(f.write(t), testSchemas(t))
	require.NoError(t, err)
	assert.Empty(t, docs.clusters)
	assert.Nil(t, docs.runInfo)
	assert.Empty(t, docs.fileIndex)
}

func TestParseArchiveCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		fixture func() *archiveFixture
		want    []string
	}{
		{
			name:    "missing top comparisons",
			fixture: func() *archiveFixture { return newFixture().without(docTopComparisons) },
			want:    []string{"required document topComparisons.json is missing"},
		},
		{
			name: "missing both required documents",
			fixture: func() *archiveFixture {
				return newFixture().without(docTopComparisons).without(docMappings)
			},
			want: []string{"topComparisons.json is missing", "submissionMappings.json is missing"},
		},
		{
			name: "dangling comparison reference",
			fixture: func() *archiveFixture {
				return newFixture().json(docTopComparisons, []map[string]any{
					{"firstSubmission": "A", "secondSubmission": "Z", "similarities": map[string]float64{"AVG": 0.5}},
				})
			},
			want: []string{`unknown submission "Z"`},
		},
		{
			name: "dangling cluster member",
			fixture: func() *archiveFixture {
				return newFixture().json(docCluster, []map[string]any{
					{"averageSimilarity": 0.9, "strength": 0.6, "members": []string{"A", "Q"}},
				})
			},
			want: []string{`cluster.json references unknown submission "Q"`},
		},
		{
			name: "required field removed",
			fixture: func() *archiveFixture {
				return newFixture().json(docTopComparisons, []map[string]any{
					{"firstSubmission": "A", "secondSubmission": "B"},
				})
			},
			want: []string{"topComparisons.json: schema violation"},
		},
		{
			name: "malformed optional document",
			fixture: func() *archiveFixture {
				return newFixture().raw(docCluster, "{not json")
			},
			want: []string{"cluster.json: invalid JSON"},
		},
		{
			name: "match past end of file",
			fixture: func() *archiveFixture {
				return newFixture().json("comparisons/A-B.json", map[string]any{
					"firstSubmissionId":  "A",
					"secondSubmissionId": "B",
					"similarities":       map[string]float64{"AVG": 0.9},
					"matches": []map[string]any{
						match("A/main", "B/main", pos(4, 10), pos(6, 40), pos(5, 10), pos(7, 20), 31),
					},
				})
			},
			want: []string{"exceeds 30 tokens of main"},
		},
		{
			name: "inverted match range",
			fixture: func() *archiveFixture {
				return newFixture().json("comparisons/A-B.json", map[string]any{
					"firstSubmissionId":  "A",
					"secondSubmissionId": "B",
					"similarities":       map[string]float64{"AVG": 0.9},
					"matches": []map[string]any{
						match("A/main", "B/main", pos(6, 20), pos(4, 10), pos(5, 10), pos(7, 20), 11),
					},
				})
			},
			want: []string{"ends before it starts"},
		},
		{
			name: "self comparison",
			fixture: func() *archiveFixture {
				return newFixture().json(docTopComparisons, []map[string]any{
					{"firstSubmission": "A", "secondSubmission": "A", "similarities": map[string]float64{"AVG": 1}},
				})
			},
			want: []string{`compares "A" with itself`},
		},
		{
			name: "duplicate pair",
			fixture: func() *archiveFixture {
				return newFixture().json(docTopComparisons, []map[string]any{
					{"firstSubmission": "A", "secondSubmission": "B", "similarities": map[string]float64{"AVG": 0.9}},
					{"firstSubmission": "B", "secondSubmission": "A", "similarities": map[string]float64{"AVG": 0.9}},
				})
			},
			want: []string{"twice"},
		},
		{
			name: "single member cluster",
			fixture: func() *archiveFixture {
				return newFixture().json(docCluster, []map[string]any{
					{"averageSimilarity": 0.9, "strength": 0.6, "members": []string{"A"}},
				})
			},
			want: []string{"has 1 members"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.fixture().write(t)
			_, err := parseArchive(path, testSchemas(t))
			require.Error(t, err)

			var corrupt *CorruptArchiveError
			require.True(t, errors.As(err, &corrupt))
			assert.Equal(t, path, corrupt.Path)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestParseArchiveCollectsEveryProblem(t *testing.T) {
	f := newFixture().
		raw(docDistribution, "[]").
		json(docCluster, []map[string]any{
			{"averageSimilarity": 0.9, "strength": 0.6, "members": []string{"A", "X"}},
		})

	_, err := parseArchive(f.write(t), testSchemas(t))
	var corrupt *CorruptArchiveError
	require.True(t, errors.As(err, &corrupt))
	assert.Len(t, corrupt.Problems, 2)
}

func TestParseArchiveNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.jplag")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := parseArchive(path, testSchemas(t))
	var corrupt *CorruptArchiveError
	assert.True(t, errors.As(err, &corrupt))
}

func TestParseArchiveToleratesUnknownFields(t *testing.T) {
	f := newFixture().json(docTopComparisons, []map[string]any{
		{"firstSubmission": "A", "secondSubmission": "B", "similarities": map[string]float64{"AVG": 0.9}, "clusterIndex": 3},
	})
	_, err := parseArchive(f.write(t), testSchemas(t))
	assert.NoError(t, err)
}

func TestRunInfoLegacyFieldNames(t *testing.T) {
	f := newFixture().json(docRunInformation, map[string]any{
		"failedSubmissions": []map[string]string{{"name": "D", "state": "TOO_SMALL"}},
		"submissionDate":    "2026-01-01",
		"duration":          700,
		"version":           map[string]int{"major": 4, "minor": 3, "patch": 0},
	})

	docs, err := parseArchive(f.write(t), testSchemas(t))
	require.NoError(t, err)
	assert.Equal(t, "D", docs.runInfo.FailedSubmissions[0].id())
	assert.Equal(t, "TOO_SMALL", docs.runInfo.FailedSubmissions[0].state())
	assert.Equal(t, "2026-01-01", docs.runInfo.executedAt())
	assert.Equal(t, int64(700), docs.runInfo.durationMillis())
	assert.Equal(t, "4.3.0", docs.runInfo.version())
}

func TestNormalizeFileName(t *testing.T) {
	assert.Equal(t, "main.cpp", normalizeFileName("A", "A/main.cpp"))
	assert.Equal(t, "src/util.cpp", normalizeFileName("A", "A\\src\\util.cpp"))
	assert.Equal(t, "B/main.cpp", normalizeFileName("A", "B/main.cpp"))
	assert.Equal(t, "main.cpp", normalizeFileName("A", "main.cpp"))
}
