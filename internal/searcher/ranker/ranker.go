// Package ranker scores documents by query-term overlap and orders them by
// score descending, then docID ascending.
package ranker

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// ScoredDoc is a candidate document with its overlap score.
type ScoredDoc struct {
	DocID uint32 `json:"doc_id"`
	Score int    `json:"score"`
}

// Less reports whether a ranks before b.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Score counts, for every document, how many of the given posting sets
// contain it. Each set stands for one distinct query term, so the count is
// the number of distinct query terms the document matches.
func Score(postings []*roaring.Bitmap) map[uint32]int {
	scores := make(map[uint32]int)
	for _, bm := range postings {
		if bm == nil {
			continue
		}
		it := bm.Iterator()
		for it.HasNext() {
			scores[it.Next()]++
		}
	}
	return scores
}

// Rank orders every scored document.
func Rank(scores map[uint32]int) []ScoredDoc {
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{DocID: docID, Score: score})
	}
	sort.Slice(result, func(i, j int) bool {
		return Less(result[i], result[j])
	})
	return result
}
