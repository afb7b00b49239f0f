package plagiarism

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// archiveFixture builds result archives the way the comparison tool lays them out
type archiveFixture struct {
	entries map[string][]byte
}

func pos(line, token int) map[string]any {
	return map[string]any{"line": line, "column": 1, "tokenListIndex": token}
}

func match(firstFile, secondFile string, fs, fe, ss, se map[string]any, length int) map[string]any {
	return map[string]any{
		"firstFileName":  firstFile,
		"secondFileName": secondFile,
		"startInFirst":   fs,
		"endInFirst":     fe,
		"startInSecond":  ss,
		"endInSecond":    se,
		"lengthOfFirst":  length,
		"lengthOfSecond": length,
	}
}

// newFixture returns a three-submission archive: A and B share tokens 10..20 of main
// (lines 4-6 in A, 5-7 in B), A and C overlap weakly, B and C were never reported, and D
// failed to parse.
func newFixture() *archiveFixture {
	f := &archiveFixture{entries: make(map[string][]byte)}

	f.json(docTopComparisons, []map[string]any{
		{"firstSubmission": "A", "secondSubmission": "B", "similarities": map[string]float64{"AVG": 0.9, "MAX": 0.95, "LONGEST_MATCH": 11, "MAXIMUM_LENGTH": 30}},
		{"firstSubmission": "C", "secondSubmission": "A", "similarities": map[string]float64{"AVG": 0.4, "MAX": 0.45, "LONGEST_MATCH": 6, "MAXIMUM_LENGTH": 30}},
	})
	f.json(docMappings, map[string]any{
		"submissionIdToDisplayName": map[string]string{"A": "A", "B": "B", "C": "C"},
	})
	f.json(docRunInformation, map[string]any{
		"reportViewerVersion": "5.1.0",
		"failedSubmissions":   []map[string]string{{"submissionId": "D", "submissionState": "CANNOT_PARSE"}},
		"dateOfExecution":     "2026-10-01 10:00",
		"executionTime":       1500,
		"totalComparisons":    3,
	})
	f.json(docFileIndex, map[string]any{
		"fileIndexes": map[string]any{
			"A": map[string]any{"A/main": map[string]int{"tokenCount": 30}},
			"B": map[string]any{"B/main": map[string]int{"tokenCount": 30}},
			"C": map[string]any{"C/main": map[string]int{"tokenCount": 25}},
		},
	})
	f.json(docDistribution, map[string][]int{"AVG": {0, 1, 0, 0, 1}})
	f.json(docCluster, []map[string]any{
		{"index": 0, "averageSimilarity": 0.9, "strength": 0.6, "members": []string{"A", "B"}},
	})
	f.json(docOptions, map[string]any{"minimumTokenMatch": 9})

	f.json("comparisons/A-B.json", map[string]any{
		"firstSubmissionId":  "A",
		"secondSubmissionId": "B",
		"similarities":       map[string]float64{"AVG": 0.9, "MAX": 0.95},
		"firstSimilarity":    0.92,
		"secondSimilarity":   0.88,
		"matches": []map[string]any{
			match("A/main", "B/main", pos(4, 10), pos(6, 20), pos(5, 10), pos(7, 20), 11),
		},
	})
	f.json("comparisons/A-C.json", map[string]any{
		"firstSubmissionId":  "A",
		"secondSubmissionId": "C",
		"similarities":       map[string]float64{"AVG": 0.4, "MAX": 0.45},
		"firstSimilarity":    0.45,
		"secondSimilarity":   0.35,
		"matches": []map[string]any{
			match("A/main", "C/main", pos(1, 0), pos(2, 5), pos(2, 3), pos(3, 8), 6),
		},
	})

	f.raw("files/A/main", "a1\na2\na3\na4\na5\na6\na7\na8\n")
	f.raw("files/B/main", "b1\nb2\nb3\nb4\nb5\nb6\nb7\nb8\nb9\n")
	f.raw("files/C/main", "c1\nc2\nc3\nc4\n")
	return f
}

func (f *archiveFixture) json(name string, v any) *archiveFixture {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.entries[name] = data
	return f
}

func (f *archiveFixture) raw(name, content string) *archiveFixture {
	f.entries[name] = []byte(content)
	return f
}

func (f *archiveFixture) without(name string) *archiveFixture {
	delete(f.entries, name)
	return f
}

func (f *archiveFixture) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "result.jplag")
	f.writeTo(t, path)
	return path
}

func (f *archiveFixture) writeTo(t *testing.T, path string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range sortedKeys(f.entries) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(f.entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func testSchemas(t *testing.T) *schemaSet {
	t.Helper()
	s, err := loadSchemas()
	require.NoError(t, err)
	return s
}

func testParams() Params {
	return Params{
		Language:            langCPP,
		MinTokenMatch:       9,
		SimilarityThreshold: 0.3,
		PrimaryMetric:       MetricAverage,
	}
}

func buildFixture(t *testing.T, f *archiveFixture, params Params) (*AnalysisResult, error) {
	t.Helper()
	path := f.write(t)
	docs, err := parseArchive(path, testSchemas(t))
	if err != nil {
		return nil, err
	}
	return buildResult(docs, buildOptions{
		AnalysisID:  "analysis-1",
		ArchivePath: path,
		Params:      params,
		Risk:        DefaultRiskThresholds(),
	})
}
