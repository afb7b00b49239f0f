package plagiarism

import "sort"

type lineAnchor struct {
	token int
	line  int
}

// tokenLineIndex resolves token indices of one submission to source lines. Anchors come
// from every match endpoint the tool reported for the submission across all comparisons,
// so a token that is itself an endpoint resolves exactly and any other token resolves to
// the line of the closest preceding endpoint. It is read-only once built.
type tokenLineIndex struct {
	files map[string][]lineAnchor
}

type tokenLineBuilder struct {
	files map[string]map[int]int
}

func newTokenLineBuilder() *tokenLineBuilder {
	return &tokenLineBuilder{files: make(map[string]map[int]int)}
}

func (b *tokenLineBuilder) add(file string, pos TokenPosition) {
	anchors, ok := b.files[file]
	if !ok {
		anchors = make(map[int]int)
		b.files[file] = anchors
	}
	if line, seen := anchors[pos.Token]; !seen || pos.Line < line {
		anchors[pos.Token] = pos.Line
	}
}

func (b *tokenLineBuilder) build() *tokenLineIndex {
	idx := &tokenLineIndex{files: make(map[string][]lineAnchor, len(b.files))}
	for file, anchors := range b.files {
		list := make([]lineAnchor, 0, len(anchors))
		for token, line := range anchors {
			list = append(list, lineAnchor{token: token, line: line})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].token < list[j].token })
		idx.files[file] = list
	}
	return idx
}

// line returns the source line of a token, or false when the file has no anchors
func (idx *tokenLineIndex) line(file string, token int) (int, bool) {
	if idx == nil {
		return 0, false
	}
	anchors := idx.files[file]
	if len(anchors) == 0 {
		return 0, false
	}
	i := sort.Search(len(anchors), func(i int) bool { return anchors[i].token > token })
	if i == 0 {
		return anchors[0].line, true
	}
	return anchors[i-1].line, true
}

// buildLineIndexes derives the per-submission indexes from all comparison details
func buildLineIndexes(details map[string]*comparisonDoc) map[string]*tokenLineIndex {
	builders := make(map[string]*tokenLineBuilder)
	get := func(id string) *tokenLineBuilder {
		b, ok := builders[id]
		if !ok {
			b = newTokenLineBuilder()
			builders[id] = b
		}
		return b
	}

	for _, key := range sortedKeys(details) {
		doc := details[key]
		first, second := get(doc.FirstSubmissionID), get(doc.SecondSubmissionID)
		for _, m := range doc.matches {
			first.add(m.FirstFile, m.StartInFirst)
			first.add(m.FirstFile, m.EndInFirst)
			second.add(m.SecondFile, m.StartInSecond)
			second.add(m.SecondFile, m.EndInSecond)
		}
	}

	indexes := make(map[string]*tokenLineIndex, len(builders))
	for id, b := range builders {
		indexes[id] = b.build()
	}
	return indexes
}
