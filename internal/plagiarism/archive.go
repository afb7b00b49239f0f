package plagiarism

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	docTopComparisons = "topComparisons.json"
	docMappings       = "submissionMappings.json"
	docRunInformation = "runInformation.json"
	docFileIndex      = "submissionFileIndex.json"
	docDistribution   = "distribution.json"
	docCluster        = "cluster.json"
	docOptions        = "options.json"

	comparisonsPrefix = "comparisons/"
	filesPrefix       = "files/"

	maxDocumentSize = 64 << 20
)

type topComparisonDoc struct {
	FirstSubmission  string             `json:"firstSubmission"`
	SecondSubmission string             `json:"secondSubmission"`
	Similarities     map[string]float64 `json:"similarities"`
}

type mappingDoc struct {
	SubmissionIDToDisplayName map[string]string `json:"submissionIdToDisplayName"`
}

type failedSubmissionDoc struct {
	SubmissionID    string `json:"submissionId"`
	Name            string `json:"name"`
	SubmissionState string `json:"submissionState"`
	State           string `json:"state"`
}

func (f failedSubmissionDoc) id() string {
	if f.SubmissionID != "" {
		return f.SubmissionID
	}
	return f.Name
}

func (f failedSubmissionDoc) state() string {
	switch {
	case f.SubmissionState != "":
		return f.SubmissionState
	case f.State != "":
		return f.State
	}
	return "unknown"
}

// runInfoDoc accepts the field names of both report layouts the tool has shipped
type runInfoDoc struct {
	FailedSubmissions   []failedSubmissionDoc `json:"failedSubmissions"`
	DateOfExecution     string                `json:"dateOfExecution"`
	SubmissionDate      string                `json:"submissionDate"`
	ExecutionTime       *int64                `json:"executionTime"`
	Duration            *int64                `json:"duration"`
	TotalComparisons    int                   `json:"totalComparisons"`
	Version             json.RawMessage       `json:"version"`
	ReportViewerVersion json.RawMessage       `json:"reportViewerVersion"`
}

func (r *runInfoDoc) executedAt() string {
	if r.DateOfExecution != "" {
		return r.DateOfExecution
	}
	return r.SubmissionDate
}

// durationMillis returns the run duration the tool reported, in milliseconds
func (r *runInfoDoc) durationMillis() int64 {
	switch {
	case r.ExecutionTime != nil:
		return *r.ExecutionTime
	case r.Duration != nil:
		return *r.Duration
	}
	return 0
}

func (r *runInfoDoc) version() string {
	if v := formatVersion(r.Version); v != "" {
		return v
	}
	return formatVersion(r.ReportViewerVersion)
}

// formatVersion reads a version written either as a string or as {major, minor, patch}
func formatVersion(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Patch int `json:"patch"`
	}
	if err := json.Unmarshal(raw, &v); err == nil {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return ""
}

type fileIndexEntry struct {
	TokenCount int `json:"tokenCount"`
}

type fileIndexDoc struct {
	FileIndexes map[string]map[string]fileIndexEntry `json:"fileIndexes"`
}

type clusterDoc struct {
	Index             *int     `json:"index"`
	AverageSimilarity float64  `json:"averageSimilarity"`
	Strength          float64  `json:"strength"`
	Members           []string `json:"members"`
}

type positionDoc struct {
	Line           int `json:"line"`
	Column         int `json:"column"`
	TokenListIndex int `json:"tokenListIndex"`
}

func (p positionDoc) position() TokenPosition {
	return TokenPosition{Line: p.Line, Column: p.Column, Token: p.TokenListIndex}
}

type matchDoc struct {
	FirstFileName  string      `json:"firstFileName"`
	SecondFileName string      `json:"secondFileName"`
	StartInFirst   positionDoc `json:"startInFirst"`
	EndInFirst     positionDoc `json:"endInFirst"`
	StartInSecond  positionDoc `json:"startInSecond"`
	EndInSecond    positionDoc `json:"endInSecond"`
	LengthOfFirst  int         `json:"lengthOfFirst"`
	LengthOfSecond int         `json:"lengthOfSecond"`
}

type comparisonDoc struct {
	FirstSubmissionID  string             `json:"firstSubmissionId"`
	SecondSubmissionID string             `json:"secondSubmissionId"`
	Similarities       map[string]float64 `json:"similarities"`
	FirstSimilarity    float64            `json:"firstSimilarity"`
	SecondSimilarity   float64            `json:"secondSimilarity"`
	Matches            []matchDoc         `json:"matches"`

	entry   string
	matches []Match
}

// archiveDocs is the decoded content of one result archive. Submission ids are the
// tool's ids.
type archiveDocs struct {
	path         string
	top          []topComparisonDoc
	mappings     mappingDoc
	runInfo      *runInfoDoc
	fileIndex    map[string]map[string]fileIndexEntry
	distribution map[string][]int
	clusters     []clusterDoc
	options      map[string]any
	details      map[string]*comparisonDoc
}

// documentStep decodes one logical document of the archive
type documentStep struct {
	name     string
	required bool
	decode   func(raw []byte) error
}

// parseArchive opens a result archive and decodes every document it understands.
// Problems in all documents are collected and returned together as a CorruptArchiveError.
func parseArchive(archivePath string, schemas *schemaSet) (*archiveDocs, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &CorruptArchiveError{Path: archivePath, Problems: []error{fmt.Errorf("failed to open archive: %w", err)}}
	}
	defer r.Close()

	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		entries[strings.TrimPrefix(f.Name, "./")] = f
	}

	docs := &archiveDocs{
		path:    archivePath,
		details: make(map[string]*comparisonDoc),
	}

	var fileIndex fileIndexDoc
	steps := []documentStep{
		{docTopComparisons, true, func(raw []byte) error {
			return schemas.decode(schemaTopComparisons, raw, &docs.top)
		}},
		{docMappings, true, func(raw []byte) error {
			return schemas.decode(schemaMappings, raw, &docs.mappings)
		}},
		{docRunInformation, false, func(raw []byte) error {
			docs.runInfo = &runInfoDoc{}
			return schemas.decode(schemaRunInformation, raw, docs.runInfo)
		}},
		{docFileIndex, false, func(raw []byte) error {
			return schemas.decode(schemaFileIndex, raw, &fileIndex)
		}},
		{docDistribution, false, func(raw []byte) error {
			return schemas.decode(schemaDistribution, raw, &docs.distribution)
		}},
		{docCluster, false, func(raw []byte) error {
			return schemas.decode(schemaCluster, raw, &docs.clusters)
		}},
		{docOptions, false, func(raw []byte) error {
			return json.Unmarshal(raw, &docs.options)
		}},
	}

	var problems []error
	missingRequired := false
	for _, step := range steps {
		f, ok := entries[step.name]
		if !ok {
			if step.required {
				missingRequired = true
				problems = append(problems, fmt.Errorf("required document %s is missing", step.name))
			} else {
				log.Debug().Str("document", step.name).Msg("Optional archive document not present")
			}
			continue
		}
		raw, err := readEntry(f)
		if err == nil {
			err = step.decode(raw)
		}
		if err != nil {
			if step.required {
				missingRequired = true
			}
			problems = append(problems, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	for _, name := range sortedKeys(entries) {
		if !strings.HasPrefix(name, comparisonsPrefix) || path.Ext(name) != ".json" {
			continue
		}
		doc := &comparisonDoc{entry: name}
		raw, err := readEntry(entries[name])
		if err == nil {
			err = schemas.decode(schemaComparison, raw, doc)
		}
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		key := pairKey(doc.FirstSubmissionID, doc.SecondSubmissionID)
		if prev, ok := docs.details[key]; ok {
			problems = append(problems, fmt.Errorf("%s: pair already described by %s", name, prev.entry))
			continue
		}
		docs.details[key] = doc
	}

	docs.fileIndex = normalizeFileIndex(fileIndex.FileIndexes)

	if !missingRequired {
		problems = append(problems, docs.checkIntegrity()...)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			log.Warn().Err(p).Str("archive", archivePath).Msg("Corrupt archive document")
		}
		return nil, &CorruptArchiveError{Path: archivePath, Problems: problems}
	}

	log.Debug().
		Str("archive", archivePath).
		Int("topComparisons", len(docs.top)).
		Int("submissions", len(docs.mappings.SubmissionIDToDisplayName)).
		Int("clusters", len(docs.clusters)).
		Int("details", len(docs.details)).
		Msg("Archive parsed")

	return docs, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	if len(raw) > maxDocumentSize {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxDocumentSize)
	}
	return raw, nil
}

// checkIntegrity validates references between documents. Every dangling reference is
// reported; none is dropped.
func (d *archiveDocs) checkIntegrity() []error {
	var problems []error
	known := d.mappings.SubmissionIDToDisplayName
	ref := func(doc, id string) {
		if _, ok := known[id]; !ok {
			problems = append(problems, fmt.Errorf("%s references unknown submission %q", doc, id))
		}
	}

	seen := make(map[string]bool, len(d.top))
	for i, c := range d.top {
		ref(docTopComparisons, c.FirstSubmission)
		ref(docTopComparisons, c.SecondSubmission)
		if c.FirstSubmission == c.SecondSubmission {
			problems = append(problems, fmt.Errorf("%s entry %d compares %q with itself", docTopComparisons, i, c.FirstSubmission))
			continue
		}
		key := pairKey(c.FirstSubmission, c.SecondSubmission)
		if seen[key] {
			problems = append(problems, fmt.Errorf("%s lists pair %q/%q twice", docTopComparisons, c.FirstSubmission, c.SecondSubmission))
		}
		seen[key] = true
	}

	for i, c := range d.clusters {
		if len(c.Members) < 2 {
			problems = append(problems, fmt.Errorf("%s entry %d has %d members", docCluster, i, len(c.Members)))
		}
		members := make(map[string]bool, len(c.Members))
		for _, m := range c.Members {
			ref(docCluster, m)
			if members[m] {
				problems = append(problems, fmt.Errorf("%s entry %d lists %q twice", docCluster, i, m))
			}
			members[m] = true
		}
	}

	for _, key := range sortedKeys(d.details) {
		doc := d.details[key]
		ref(doc.entry, doc.FirstSubmissionID)
		ref(doc.entry, doc.SecondSubmissionID)
		if doc.FirstSubmissionID == doc.SecondSubmissionID {
			problems = append(problems, fmt.Errorf("%s compares %q with itself", doc.entry, doc.FirstSubmissionID))
			continue
		}
		doc.matches = make([]Match, 0, len(doc.Matches))
		for i, md := range doc.Matches {
			m := Match{
				FirstFile:      normalizeFileName(doc.FirstSubmissionID, md.FirstFileName),
				SecondFile:     normalizeFileName(doc.SecondSubmissionID, md.SecondFileName),
				StartInFirst:   md.StartInFirst.position(),
				EndInFirst:     md.EndInFirst.position(),
				StartInSecond:  md.StartInSecond.position(),
				EndInSecond:    md.EndInSecond.position(),
				LengthOfFirst:  md.LengthOfFirst,
				LengthOfSecond: md.LengthOfSecond,
			}
			if err := d.checkRange(doc.FirstSubmissionID, m.FirstFile, m.StartInFirst, m.EndInFirst); err != nil {
				problems = append(problems, fmt.Errorf("%s match %d: %w", doc.entry, i, err))
			}
			if err := d.checkRange(doc.SecondSubmissionID, m.SecondFile, m.StartInSecond, m.EndInSecond); err != nil {
				problems = append(problems, fmt.Errorf("%s match %d: %w", doc.entry, i, err))
			}
			doc.matches = append(doc.matches, m)
		}
	}

	return problems
}

// checkRange enforces non-negative ordered ranges inside the file's token stream
func (d *archiveDocs) checkRange(sub, file string, start, end TokenPosition) error {
	if start.Token < 0 || start.Line < 0 || end.Line < 0 {
		return fmt.Errorf("negative position in %s of %q", file, sub)
	}
	if start.Token > end.Token || start.Line > end.Line {
		return fmt.Errorf("range %d..%d in %s of %q ends before it starts", start.Token, end.Token, file, sub)
	}
	if entry, ok := d.fileIndex[sub][file]; ok && end.Token >= entry.TokenCount {
		return fmt.Errorf("range %d..%d exceeds %d tokens of %s in %q", start.Token, end.Token, entry.TokenCount, file, sub)
	}
	return nil
}

// normalizeFileName makes a file name relative to its submission directory
func normalizeFileName(sub, name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "/")
	return strings.TrimPrefix(name, sub+"/")
}

func normalizeFileIndex(raw map[string]map[string]fileIndexEntry) map[string]map[string]fileIndexEntry {
	out := make(map[string]map[string]fileIndexEntry, len(raw))
	for sub, files := range raw {
		norm := make(map[string]fileIndexEntry, len(files))
		for name, entry := range files {
			norm[normalizeFileName(sub, name)] = entry
		}
		out[sub] = norm
	}
	return out
}

// readSubmissionFiles loads the copy of a submission's sources kept in the archive
func readSubmissionFiles(archivePath, toolID string) (map[string]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	prefix := filesPrefix + toolID + "/"
	files := make(map[string]string)
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "./")
		if !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, "/") {
			continue
		}
		raw, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		files[strings.TrimPrefix(name, prefix)] = string(raw)
	}
	if len(files) == 0 {
		return nil, errors.New("no source files for submission " + toolID)
	}
	return files, nil
}
