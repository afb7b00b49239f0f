package plagiarism

import (
	"errors"
	"fmt"
	"sort"
)

// LineRange is a contiguous token range of one file together with the source lines it spans
type LineRange struct {
	File       string `bson:"file" json:"file"`
	StartLine  int    `bson:"startLine" json:"startLine"`
	EndLine    int    `bson:"endLine" json:"endLine"`
	StartToken int    `bson:"startToken" json:"startToken"`
	EndToken   int    `bson:"endToken" json:"endToken"`
}

// Lines returns the number of source lines covered
func (r LineRange) Lines() int {
	if r.EndLine < r.StartLine {
		return 0
	}
	return r.EndLine - r.StartLine + 1
}

// MatchSpan pairs the line ranges of one matched region
type MatchSpan struct {
	Index  int       `bson:"index" json:"index"`
	First  LineRange `bson:"first" json:"first"`
	Second LineRange `bson:"second" json:"second"`
	Tokens int       `bson:"tokens" json:"tokens"`
}

// CodeLine is one numbered source line with the spans that cover it
type CodeLine struct {
	Number  int    `bson:"number" json:"number"`
	Content string `bson:"content" json:"content"`
	Matches []int  `bson:"matches,omitempty" json:"matches,omitempty"`
}

// FileView is one file of a submission annotated with match coverage
type FileView struct {
	Path         string     `bson:"path" json:"path"`
	Lines        []CodeLine `bson:"lines" json:"lines"`
	TotalLines   int        `bson:"totalLines" json:"totalLines"`
	MatchedLines int        `bson:"matchedLines" json:"matchedLines"`
	Score        float64    `bson:"score" json:"score"`
}

// DetailedComparison is the line-addressable view of one compared pair, oriented as requested
type DetailedComparison struct {
	AnalysisID        string             `bson:"analysisId" json:"analysisId"`
	FirstSubmission   string             `bson:"firstSubmission" json:"firstSubmission"`
	SecondSubmission  string             `bson:"secondSubmission" json:"secondSubmission"`
	Similarities      map[string]float64 `bson:"similarities" json:"similarities"`
	FirstSimilarity   float64            `bson:"firstSimilarity" json:"firstSimilarity"`
	SecondSimilarity  float64            `bson:"secondSimilarity" json:"secondSimilarity"`
	Risk              PairRisk           `bson:"risk" json:"risk"`
	Spans             []MatchSpan        `bson:"spans" json:"spans"`
	FirstFiles        []FileView         `bson:"firstFiles" json:"firstFiles"`
	SecondFiles       []FileView         `bson:"secondFiles" json:"secondFiles"`
	MatchCoverage     float64            `bson:"matchCoverage" json:"matchCoverage"`
	LongestMatch      int                `bson:"longestMatch" json:"longestMatch"`
	TotalMatchedLines int                `bson:"totalMatchedLines" json:"totalMatchedLines"`
}

// assembleDetail builds the detailed view of a reported pair from the result and its archive
func assembleDetail(result *AnalysisResult, first, second string) (*DetailedComparison, error) {
	if _, ok := result.Matrix.Get(first, second); !ok {
		return nil, &ComparisonNotFoundError{First: first, Second: second}
	}
	c, ok := result.comparison(first, second)
	if !ok {
		return nil, &ComparisonNotFoundError{First: first, Second: second}
	}
	if result.ArchivePath == "" {
		return nil, errors.New("result has no retained archive")
	}

	detail := &DetailedComparison{
		AnalysisID:       result.AnalysisID,
		FirstSubmission:  first,
		SecondSubmission: second,
		Similarities:     make(map[string]float64, len(c.Similarities)),
		FirstSimilarity:  c.FirstSimilarity,
		SecondSimilarity: c.SecondSimilarity,
		Risk:             c.Risk,
	}
	for k, v := range c.Similarities {
		detail.Similarities[k] = v
	}

	matches := c.Matches
	if c.FirstSubmission != first {
		detail.FirstSimilarity, detail.SecondSimilarity = c.SecondSimilarity, c.FirstSimilarity
		matches = make([]Match, len(c.Matches))
		for i, m := range c.Matches {
			matches[i] = m.swapped()
		}
	}

	detail.Spans = resolveSpans(matches, result.lines[first], result.lines[second])
	for _, s := range detail.Spans {
		if s.Tokens > detail.LongestMatch {
			detail.LongestMatch = s.Tokens
		}
	}

	firstSources, err := readSubmissionFiles(result.ArchivePath, result.toolID(first))
	if err != nil {
		return nil, fmt.Errorf("failed to load sources of %s: %w", first, err)
	}
	secondSources, err := readSubmissionFiles(result.ArchivePath, result.toolID(second))
	if err != nil {
		return nil, fmt.Errorf("failed to load sources of %s: %w", second, err)
	}

	detail.FirstFiles = fileViews(firstSources, detail.Spans, func(s MatchSpan) LineRange { return s.First })
	detail.SecondFiles = fileViews(secondSources, detail.Spans, func(s MatchSpan) LineRange { return s.Second })

	totalLines := 0
	for _, views := range [][]FileView{detail.FirstFiles, detail.SecondFiles} {
		for _, v := range views {
			totalLines += v.TotalLines
			detail.TotalMatchedLines += v.MatchedLines
		}
	}
	if totalLines > 0 {
		detail.MatchCoverage = min(100, float64(detail.TotalMatchedLines)/float64(totalLines)*100)
	}

	return detail, nil
}

// resolveSpans maps every match to line ranges through the per-submission token indexes.
// Spans are ordered by position in the first submission.
func resolveSpans(matches []Match, firstLines, secondLines *tokenLineIndex) []MatchSpan {
	spans := make([]MatchSpan, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, MatchSpan{
			First:  lineRange(firstLines, m.FirstFile, m.StartInFirst, m.EndInFirst),
			Second: lineRange(secondLines, m.SecondFile, m.StartInSecond, m.EndInSecond),
			Tokens: m.Length(),
		})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i].First, spans[j].First
		if a.File != b.File {
			return a.File < b.File
		}
		return a.StartToken < b.StartToken
	})
	for i := range spans {
		spans[i].Index = i
	}
	return spans
}

func lineRange(idx *tokenLineIndex, file string, start, end TokenPosition) LineRange {
	r := LineRange{
		File:       file,
		StartLine:  start.Line,
		EndLine:    end.Line,
		StartToken: start.Token,
		EndToken:   end.Token,
	}
	if line, ok := idx.line(file, start.Token); ok {
		r.StartLine = line
	}
	if line, ok := idx.line(file, end.Token); ok {
		r.EndLine = line
	}
	return r
}

// fileViews numbers every line of every file and tags the lines each span covers
func fileViews(sources map[string]string, spans []MatchSpan, side func(MatchSpan) LineRange) []FileView {
	views := make([]FileView, 0, len(sources))
	for _, path := range sortedKeys(sources) {
		text := splitLines(sources[path])
		view := FileView{
			Path:       path,
			Lines:      make([]CodeLine, len(text)),
			TotalLines: len(text),
		}
		for i, content := range text {
			view.Lines[i] = CodeLine{Number: i + 1, Content: content}
		}

		for _, s := range spans {
			r := side(s)
			if r.File != path {
				continue
			}
			for n := max(r.StartLine, 1); n <= min(r.EndLine, len(text)); n++ {
				view.Lines[n-1].Matches = append(view.Lines[n-1].Matches, s.Index)
			}
		}

		for _, l := range view.Lines {
			if len(l.Matches) > 0 {
				view.MatchedLines++
			}
		}
		if view.TotalLines > 0 {
			view.Score = float64(view.MatchedLines) / float64(view.TotalLines)
		}
		views = append(views, view)
	}
	return views
}
