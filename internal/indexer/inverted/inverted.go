// Package inverted turns a forward index into per-term posting sets and
// partitions them into barrels by termID.
package inverted

import (
	"context"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/forward"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
)

// table is a termID to posting-set mapping shared by the full index and
// its barrels.
type table struct {
	postings map[uint32]*roaring.Bitmap
}

func newTable(size int) table {
	return table{postings: make(map[uint32]*roaring.Bitmap, size)}
}

// Postings returns the ascending docIDs containing termID, or nil.
func (t table) Postings(termID uint32) []uint32 {
	bm, ok := t.postings[termID]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// Bitmap returns the posting set of termID. Callers must not modify it.
func (t table) Bitmap(termID uint32) (*roaring.Bitmap, bool) {
	bm, ok := t.postings[termID]
	return bm, ok
}

// Len returns the number of termIDs with postings.
func (t table) Len() int {
	return len(t.postings)
}

// TermIDs returns every termID in ascending order.
func (t table) TermIDs() []uint32 {
	ids := make([]uint32, 0, len(t.postings))
	for id := range t.postings {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PostingCount returns the total number of (termID, docID) pairs.
func (t table) PostingCount() uint64 {
	var n uint64
	for _, bm := range t.postings {
		n += bm.GetCardinality()
	}
	return n
}

func (t table) equal(other table) bool {
	if len(t.postings) != len(other.postings) {
		return false
	}
	for id, bm := range t.postings {
		obm, ok := other.postings[id]
		if !ok || !bm.Equals(obm) {
			return false
		}
	}
	return true
}

// Index is the full inverted index.
type Index struct {
	table
}

// Equal reports whether both indexes hold identical posting sets.
func (x *Index) Equal(other *Index) bool {
	return x.table.equal(other.table)
}

// Build inverts fwd. Each shard inverts its own docID range into a local
// table; after the join barrier the local posting sets of each termID are
// unioned. Every docID belongs to exactly one shard, so the result does not
// depend on the shard count.
func Build(ctx context.Context, fwd *forward.Index, workers int) (*Index, error) {
	logger := slog.Default().With("component", "inverted-builder")
	locals, err := shard.Map(ctx, "inverted", shard.Split(fwd.Len(), workers),
		func(ctx context.Context, r shard.Range) (map[uint32]*roaring.Bitmap, error) {
			return invertShard(ctx, r, fwd.Slice(r.Start, r.End))
		})
	if err != nil {
		return nil, err
	}

	grouped := make(map[uint32][]*roaring.Bitmap)
	for _, local := range locals {
		for id, bm := range local {
			grouped[id] = append(grouped[id], bm)
		}
	}
	idx := &Index{table: newTable(len(grouped))}
	for id, parts := range grouped {
		var merged *roaring.Bitmap
		if len(parts) == 1 {
			merged = parts[0]
		} else {
			merged = roaring.FastOr(parts...)
		}
		merged.RunOptimize()
		idx.postings[id] = merged
	}
	logger.Info("inverted index built",
		"terms", idx.Len(),
		"postings", idx.PostingCount(),
		"shards", len(locals),
	)
	return idx, nil
}

func invertShard(ctx context.Context, r shard.Range, docs [][]uint32) (map[uint32]*roaring.Bitmap, error) {
	local := make(map[uint32]*roaring.Bitmap)
	for i, termIDs := range docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		docID := uint32(r.Start + i)
		for _, id := range termIDs {
			bm, ok := local[id]
			if !ok {
				bm = roaring.New()
				local[id] = bm
			}
			bm.Add(docID)
		}
	}
	return local, nil
}

// FromPostings builds an index directly from termID to docID lists.
func FromPostings(postings map[uint32][]uint32) *Index {
	idx := &Index{table: newTable(len(postings))}
	for id, docs := range postings {
		idx.postings[id] = roaring.BitmapOf(docs...)
	}
	return idx
}
