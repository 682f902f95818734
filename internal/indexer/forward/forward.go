// Package forward builds the forward index: for every document, the sorted
// set of termIDs it contains.
package forward

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/lexicon"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// Header is the column header of a forward index file.
var Header = []string{"doc_id", "term_ids"}

const missedSampleSize = 20

// Index maps docID (its slice position) to an ascending set of termIDs.
type Index struct {
	docs [][]uint32
}

// Stats reports diagnostics collected while building.
type Stats struct {
	Documents   int
	Postings    int
	MissedTerms int
	// MissedSample is a sorted sample of terms absent from the lexicon.
	MissedSample []string
}

type partial struct {
	r      shard.Range
	docs   [][]uint32
	missed map[string]struct{}
}

// Build resolves each document's terms against lex. Terms missing from the
// lexicon are dropped and reported in Stats, never failing the build.
// Shards own disjoint docID ranges, so merging is a positional copy.
func Build(ctx context.Context, docs [][]string, lex *lexicon.Lexicon, workers int) (*Index, Stats, error) {
	logger := slog.Default().With("component", "forward-builder")
	parts, err := shard.Map(ctx, "forward", shard.Split(len(docs), workers),
		func(ctx context.Context, r shard.Range) (partial, error) {
			return buildShard(ctx, r, docs[r.Start:r.End], lex)
		})
	if err != nil {
		return nil, Stats{}, err
	}

	idx := &Index{docs: make([][]uint32, len(docs))}
	missed := make(map[string]struct{})
	for _, p := range parts {
		copy(idx.docs[p.r.Start:p.r.End], p.docs)
		for t := range p.missed {
			missed[t] = struct{}{}
		}
	}

	stats := Stats{
		Documents:   idx.Len(),
		Postings:    idx.Postings(),
		MissedTerms: len(missed),
	}
	if len(missed) > 0 {
		sample := make([]string, 0, len(missed))
		for t := range missed {
			sample = append(sample, t)
		}
		sort.Strings(sample)
		if len(sample) > missedSampleSize {
			sample = sample[:missedSampleSize]
		}
		stats.MissedSample = sample
		logger.Warn("terms missing from lexicon were skipped", "unique_missed", len(missed))
		logger.Debug("missed term sample", "terms", sample)
	}
	logger.Info("forward index built",
		"documents", stats.Documents,
		"postings", stats.Postings,
		"shards", len(parts),
	)
	return idx, stats, nil
}

func buildShard(ctx context.Context, r shard.Range, docs [][]string, lex *lexicon.Lexicon) (partial, error) {
	p := partial{
		r:      r,
		docs:   make([][]uint32, len(docs)),
		missed: make(map[string]struct{}),
	}
	for i, terms := range docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return partial{}, err
			}
		}
		ids := make([]uint32, 0, len(terms))
		for _, t := range terms {
			id, ok := lex.Lookup(t)
			if !ok {
				p.missed[t] = struct{}{}
				continue
			}
			ids = append(ids, id)
		}
		slices.Sort(ids)
		p.docs[i] = slices.Compact(ids)
	}
	return p, nil
}

// New returns an index over the given per-document termID sets. Each set is
// sorted and de-duplicated.
func New(docs [][]uint32) *Index {
	idx := &Index{docs: make([][]uint32, len(docs))}
	for i, ids := range docs {
		c := slices.Clone(ids)
		slices.Sort(c)
		idx.docs[i] = slices.Compact(c)
	}
	return idx
}

// Len returns the number of documents.
func (x *Index) Len() int {
	return len(x.docs)
}

// Postings returns the total number of (docID, termID) pairs.
func (x *Index) Postings() int {
	n := 0
	for _, ids := range x.docs {
		n += len(ids)
	}
	return n
}

// Terms returns the ascending termIDs of docID. The slice must not be modified.
func (x *Index) Terms(docID uint32) []uint32 {
	if int(docID) >= len(x.docs) {
		return nil
	}
	return x.docs[docID]
}

// Contains reports whether docID contains termID.
func (x *Index) Contains(docID, termID uint32) bool {
	_, ok := slices.BinarySearch(x.Terms(docID), termID)
	return ok
}

// Slice returns the documents in [start, end) for shard-local processing.
func (x *Index) Slice(start, end int) [][]uint32 {
	return x.docs[start:end]
}

// Each calls fn for every document in docID order.
func (x *Index) Each(fn func(docID uint32, termIDs []uint32)) {
	for i, ids := range x.docs {
		fn(uint32(i), ids)
	}
}

// Equal reports whether two indexes hold identical entries.
func (x *Index) Equal(other *Index) bool {
	if x.Len() != other.Len() {
		return false
	}
	for i := range x.docs {
		if !slices.Equal(x.docs[i], other.docs[i]) {
			return false
		}
	}
	return true
}

// Write stores the index as CSV rows of doc_id,term_ids with termIDs
// space-separated and ascending.
func (x *Index) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return apperrors.Storage(err, "writing forward index header")
	}
	row := make([]string, 2)
	var sb strings.Builder
	for i, ids := range x.docs {
		sb.Reset()
		for j, id := range ids {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatUint(uint64(id), 10))
		}
		row[0] = strconv.Itoa(i)
		row[1] = sb.String()
		if err := cw.Write(row); err != nil {
			return apperrors.Storage(err, "writing forward index row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Storage(err, "flushing forward index")
	}
	return nil
}

// Read loads an index written by Write for a generation of maxDocs
// documents. Documents absent from the file between present docIDs have no
// terms. A docID at or beyond maxDocs is rejected.
func Read(r io.Reader, maxDocs int) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	if _, err := cr.Read(); err != nil {
		return nil, apperrors.Storage(err, "reading forward index header")
	}
	idx := &Index{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Storage(err, "reading forward index line %d", line)
		}
		docID, err := strconv.ParseUint(rec[0], 10, 32)
		if err != nil {
			return nil, apperrors.Storage(fmt.Errorf("invalid doc_id %q", rec[0]), "forward index line %d", line)
		}
		if docID >= uint64(maxDocs) {
			return nil, apperrors.Storage(fmt.Errorf("doc_id %d outside [0,%d)", docID, maxDocs), "forward index line %d", line)
		}
		ids, err := ParseIDs(rec[1])
		if err != nil {
			return nil, apperrors.Storage(err, "forward index line %d", line)
		}
		for int(docID) >= len(idx.docs) {
			idx.docs = append(idx.docs, nil)
		}
		slices.Sort(ids)
		idx.docs[docID] = slices.Compact(ids)
	}
	return idx, nil
}

// ParseIDs parses a space-separated list of unsigned 32-bit IDs.
func ParseIDs(s string) ([]uint32, error) {
	fields := strings.Fields(s)
	ids := make([]uint32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", f, err)
		}
		ids = append(ids, uint32(v))
	}
	return ids, nil
}
