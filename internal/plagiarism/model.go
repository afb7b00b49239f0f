package plagiarism

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// buildOptions carries what the model builder needs besides the archive itself
type buildOptions struct {
	AnalysisID   string
	ArchivePath  string
	Params       Params
	Risk         RiskThresholds
	ToolDuration time.Duration
	// Aliases maps tool ids to caller ids. Ids without an alias are reported unchanged.
	Aliases map[string]string
	// DisplayNames maps caller ids to names supplied by the caller
	DisplayNames map[string]string
}

// buildResult turns decoded archive documents into an AnalysisResult. Output ordering is a
// pure function of the documents and options.
func buildResult(docs *archiveDocs, opts buildOptions) (*AnalysisResult, error) {
	primary := opts.Params.PrimaryMetric
	if primary == "" {
		primary = MetricAverage
	}
	threshold := opts.Params.SimilarityThreshold

	var problems []error
	caller := func(toolID string) string {
		if id, ok := opts.Aliases[toolID]; ok {
			return id
		}
		return toolID
	}

	toolIDs := make(map[string]string, len(docs.mappings.SubmissionIDToDisplayName))
	for _, toolID := range sortedKeys(docs.mappings.SubmissionIDToDisplayName) {
		id := caller(toolID)
		if other, ok := toolIDs[id]; ok {
			problems = append(problems, fmt.Errorf("submissions %q and %q resolve to the same id %q", other, toolID, id))
			continue
		}
		toolIDs[id] = toolID
	}

	failed := make([]FailedSubmission, 0)
	failedTool := make(map[string]bool)
	if docs.runInfo != nil {
		for _, f := range docs.runInfo.FailedSubmissions {
			failed = append(failed, FailedSubmission{ID: caller(f.id()), State: f.state()})
			failedTool[f.id()] = true
		}
	}

	result := &AnalysisResult{
		AnalysisID:        opts.AnalysisID,
		ArchivePath:       opts.ArchivePath,
		Language:          opts.Params.Language.Tool,
		PrimaryMetric:     primary,
		Threshold:         threshold,
		Matrix:            make(SimilarityMatrix),
		FailedSubmissions: failed,
		Aliases:           opts.Aliases,
		DisplayNames:      opts.DisplayNames,
		comparisons:       make(map[string]*Comparison, len(docs.top)),
		toolIDs:           toolIDs,
	}

	for i, top := range docs.top {
		if failedTool[top.FirstSubmission] || failedTool[top.SecondSubmission] {
			log.Warn().
				Str("first", top.FirstSubmission).
				Str("second", top.SecondSubmission).
				Msg("Skipping comparison involving a failed submission")
			continue
		}
		value, ok := top.Similarities[string(primary)]
		if !ok {
			problems = append(problems, fmt.Errorf("%s entry %d lacks metric %s", docTopComparisons, i, primary))
			continue
		}

		c := &Comparison{
			FirstSubmission:  caller(top.FirstSubmission),
			SecondSubmission: caller(top.SecondSubmission),
			Similarities:     make(map[string]float64, len(top.Similarities)),
			Risk:             opts.Risk.PairRisk(value),
		}
		for k, v := range top.Similarities {
			c.Similarities[k] = v
		}
		if detail, ok := docs.details[pairKey(top.FirstSubmission, top.SecondSubmission)]; ok {
			c.FirstSimilarity, c.SecondSimilarity = detail.FirstSimilarity, detail.SecondSimilarity
			c.Matches = detail.matches
			if detail.FirstSubmissionID != top.FirstSubmission {
				c.FirstSimilarity, c.SecondSimilarity = c.SecondSimilarity, c.FirstSimilarity
				c.Matches = make([]Match, len(detail.matches))
				for j, m := range detail.matches {
					c.Matches[j] = m.swapped()
				}
			}
		}

		result.comparisons[pairKey(c.FirstSubmission, c.SecondSubmission)] = c
		result.Matrix.set(c.FirstSubmission, c.SecondSubmission, value)
	}

	result.HighSimilarityPairs = highSimilarityPairs(result.comparisons, primary, threshold)
	clusters, clusterProblems := buildClusters(docs, result.Matrix, caller, threshold, opts.Risk)
	result.Clusters = clusters
	problems = append(problems, clusterProblems...)

	if len(problems) > 0 {
		return nil, &CorruptArchiveError{Path: docs.path, Problems: problems}
	}

	result.SubmissionStats = submissionStats(docs, result.Matrix, caller, failedTool, opts.DisplayNames)
	result.RunInfo = runInfo(docs, failed, opts.ToolDuration)

	scores := make([]float64, 0, len(result.HighSimilarityPairs))
	for _, c := range result.HighSimilarityPairs {
		v, _ := c.Similarity(primary)
		scores = append(scores, v)
	}
	result.Distribution = summarize(scores, docs.distribution)

	result.lines = make(map[string]*tokenLineIndex)
	for toolID, idx := range buildLineIndexes(docs.details) {
		result.lines[caller(toolID)] = idx
	}

	log.Info().
		Str("analysisId", result.AnalysisID).
		Int("comparisons", len(result.comparisons)).
		Int("highSimilarityPairs", len(result.HighSimilarityPairs)).
		Int("clusters", len(result.Clusters)).
		Int("failedSubmissions", len(result.FailedSubmissions)).
		Msg("Similarity model built")

	return result, nil
}

// highSimilarityPairs returns comparisons at or above the threshold, highest first, with
// ties ordered by the sorted id pair
func highSimilarityPairs(comparisons map[string]*Comparison, primary Metric, threshold float64) []Comparison {
	pairs := make([]Comparison, 0)
	for _, key := range sortedKeys(comparisons) {
		c := comparisons[key]
		if v, _ := c.Similarity(primary); v >= threshold {
			pairs = append(pairs, *c)
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		vi, _ := pairs[i].Similarity(primary)
		vj, _ := pairs[j].Similarity(primary)
		if vi != vj {
			return vi > vj
		}
		ai, bi := sortedPair(pairs[i].FirstSubmission, pairs[i].SecondSubmission)
		aj, bj := sortedPair(pairs[j].FirstSubmission, pairs[j].SecondSubmission)
		if ai != aj {
			return ai < aj
		}
		return bi < bj
	})
	return pairs
}

// buildClusters copies the reported clusters and grades them. Membership is never
// changed; a member pair the matrix rates below threshold makes the archive untrustworthy.
func buildClusters(docs *archiveDocs, matrix SimilarityMatrix, caller func(string) string, threshold float64, risk RiskThresholds) ([]Cluster, []error) {
	var problems []error
	clusters := make([]Cluster, 0, len(docs.clusters))
	for i, doc := range docs.clusters {
		index := i
		if doc.Index != nil {
			index = *doc.Index
		}
		members := make([]string, len(doc.Members))
		for j, m := range doc.Members {
			members[j] = caller(m)
		}

		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				if v, ok := matrix.Get(members[a], members[b]); ok && v < threshold {
					problems = append(problems, fmt.Errorf("%s entry %d pairs %q and %q at %g, below threshold %g",
						docCluster, i, members[a], members[b], v, threshold))
				}
			}
		}

		clusters = append(clusters, Cluster{
			Index:             index,
			Members:           members,
			AverageSimilarity: doc.AverageSimilarity,
			Strength:          doc.Strength,
			Risk:              risk.ClusterRisk(doc.AverageSimilarity, doc.Strength),
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Index < clusters[j].Index
	})
	return clusters, problems
}

// submissionStats reports every mapped submission the tool did not fail, including
// those that appear in no comparison
func submissionStats(docs *archiveDocs, matrix SimilarityMatrix, caller func(string) string, failed map[string]bool, names map[string]string) []SubmissionStats {
	stats := make([]SubmissionStats, 0, len(docs.mappings.SubmissionIDToDisplayName))
	for _, toolID := range sortedKeys(docs.mappings.SubmissionIDToDisplayName) {
		if failed[toolID] {
			continue
		}
		id := caller(toolID)
		name := docs.mappings.SubmissionIDToDisplayName[toolID]
		if n, ok := names[id]; ok && n != "" {
			name = n
		}

		files := docs.fileIndex[toolID]
		tokens := 0
		for _, f := range files {
			tokens += f.TokenCount
		}

		stats = append(stats, SubmissionStats{
			ID:              id,
			DisplayName:     name,
			FileCount:       len(files),
			TotalTokens:     tokens,
			ComparisonCount: len(matrix[id]),
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].ID < stats[j].ID
	})
	return stats
}

func runInfo(docs *archiveDocs, failed []FailedSubmission, toolDuration time.Duration) RunInfo {
	considered := make(map[string]bool, len(docs.mappings.SubmissionIDToDisplayName))
	for id := range docs.mappings.SubmissionIDToDisplayName {
		considered[id] = true
	}

	info := RunInfo{
		TotalComparisons:  len(docs.top),
		ToolDuration:      toolDuration,
		FailedSubmissions: failed,
	}
	if ri := docs.runInfo; ri != nil {
		for _, f := range ri.FailedSubmissions {
			considered[f.id()] = true
		}
		if ri.TotalComparisons > 0 {
			info.TotalComparisons = ri.TotalComparisons
		}
		info.ReportedDuration = time.Duration(ri.durationMillis()) * time.Millisecond
		info.ToolVersion = ri.version()
		info.ExecutedAt = ri.executedAt()
	}
	info.TotalSubmissions = len(considered)
	info.Options = docs.options
	return info
}
