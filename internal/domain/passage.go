package domain

import "sort"

// Passage is one retrievable unit of the corpus. Passages are read-only for
// the pipeline: stages copy, reorder and score them but never mutate text or
// identity.
type Passage struct {
	// ID is the stable unique identifier of the passage.
	ID string
	// Text is the passage content.
	Text string
	// DocumentID identifies the source document the passage was cut from.
	DocumentID string
	// Path is the structural location inside the source document
	// (e.g. "part2/chapter3/article12").
	Path string
	// Metadata carries optional descriptive key/value pairs.
	Metadata map[string]string
}

// Candidate is a passage plus the retrieval signal that produced it.
type Candidate struct {
	Passage Passage
	// Similarity is the raw vector similarity from the index, higher is better.
	Similarity float32
	// SourceQuery is the query variant text that retrieved this candidate.
	SourceQuery string
}

// RankedCandidate is a candidate with its 1-based position in a RankedList.
type RankedCandidate struct {
	Candidate
	Rank int
}

// RankedList is an ordered list of candidates with contiguous 1-based ranks.
// Ordering is by similarity descending; exact ties break by ascending passage
// ID so that two runs over the same hits always produce the same list.
type RankedList struct {
	Items []RankedCandidate
}

// NewRankedList sorts candidates, breaks ties deterministically and assigns
// contiguous ranks starting at 1.
func NewRankedList(candidates []Candidate) RankedList {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Similarity != sorted[j].Similarity {
			return sorted[i].Similarity > sorted[j].Similarity
		}
		return sorted[i].Passage.ID < sorted[j].Passage.ID
	})

	items := make([]RankedCandidate, len(sorted))
	for i, c := range sorted {
		items[i] = RankedCandidate{Candidate: c, Rank: i + 1}
	}
	return RankedList{Items: items}
}

// Truncate returns a list containing at most k items. Ranks are preserved
// because truncation only drops the tail.
func (l RankedList) Truncate(k int) RankedList {
	if k < 0 || k >= len(l.Items) {
		return l
	}
	return RankedList{Items: l.Items[:k]}
}

// Len returns the number of ranked candidates.
func (l RankedList) Len() int { return len(l.Items) }

// RankContribution records how one ranked list contributed to a fused score.
type RankContribution struct {
	SourceQuery string
	Rank        int
	Similarity  float32
}

// FusedResult is a passage with its reciprocal-rank-fusion score accumulated
// over every ranked list that contained it.
type FusedResult struct {
	Passage       Passage
	FusedScore    float64
	Contributions []RankContribution
}

// RerankedResult is a passage with its cross-encoder relevance score.
// Fallback marks scores that are placeholders assigned when reranking was
// unavailable and the pre-rerank order was kept.
type RerankedResult struct {
	Passage  Passage
	Score    float64
	Fallback bool
}
