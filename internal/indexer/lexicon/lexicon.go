// Package lexicon assigns stable integer IDs to normalized terms.
//
// Terms are ranked by document frequency (the number of distinct documents
// containing them), highest first, with ties broken by ascending term so
// that rebuilding an unchanged corpus reproduces every assignment. The term
// at rank r receives termID r+1.
package lexicon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// Header is the column header of a lexicon file.
var Header = []string{"term", "term_id"}

// Lexicon is an immutable bijection between terms and termIDs.
type Lexicon struct {
	ids   map[string]uint32
	terms []string // terms[id-1]
	freqs []int    // freqs[id-1], zero when read back from disk
}

// Entry is one lexicon row.
type Entry struct {
	Term    string
	TermID  uint32
	DocFreq int
}

// Build counts, per shard, the documents each term occurs in, sums the shard
// counters once every shard has finished, and assigns IDs. docs[i] is the
// term stream of document i; repeated terms within a document count once.
func Build(ctx context.Context, docs [][]string, workers int) (*Lexicon, error) {
	logger := slog.Default().With("component", "lexicon-builder")
	counters, err := shard.Map(ctx, "lexicon", shard.Split(len(docs), workers),
		func(ctx context.Context, r shard.Range) (map[string]int, error) {
			return countShard(ctx, docs[r.Start:r.End])
		})
	if err != nil {
		return nil, err
	}

	global := make(map[string]int)
	for _, c := range counters {
		for term, n := range c {
			global[term] += n
		}
	}
	entries := make([]Entry, 0, len(global))
	for term, n := range global {
		entries = append(entries, Entry{Term: term, DocFreq: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DocFreq != entries[j].DocFreq {
			return entries[i].DocFreq > entries[j].DocFreq
		}
		return entries[i].Term < entries[j].Term
	})

	lex := &Lexicon{
		ids:   make(map[string]uint32, len(entries)),
		terms: make([]string, len(entries)),
		freqs: make([]int, len(entries)),
	}
	for rank, e := range entries {
		lex.ids[e.Term] = uint32(rank + 1)
		lex.terms[rank] = e.Term
		lex.freqs[rank] = e.DocFreq
	}
	logger.Info("lexicon built",
		"documents", len(docs),
		"terms", lex.Len(),
		"shards", len(counters),
	)
	return lex, nil
}

func countShard(ctx context.Context, docs [][]string) (map[string]int, error) {
	counts := make(map[string]int)
	seen := make(map[string]struct{})
	for i, terms := range docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		clear(seen)
		for _, t := range terms {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
		}
	}
	return counts, nil
}

// Lookup returns the termID of term.
func (l *Lexicon) Lookup(term string) (uint32, bool) {
	id, ok := l.ids[term]
	return id, ok
}

// Term returns the term with the given ID.
func (l *Lexicon) Term(id uint32) (string, bool) {
	if id == 0 || int(id) > len(l.terms) {
		return "", false
	}
	return l.terms[id-1], true
}

// DocFreq returns the build-time document frequency of the term with the
// given ID, or 0 if it is unknown or the lexicon was read from disk.
func (l *Lexicon) DocFreq(id uint32) int {
	if id == 0 || int(id) > len(l.freqs) {
		return 0
	}
	return l.freqs[id-1]
}

// Len returns the number of terms.
func (l *Lexicon) Len() int {
	return len(l.terms)
}

// Entries returns every row in termID order.
func (l *Lexicon) Entries() []Entry {
	out := make([]Entry, len(l.terms))
	for i, t := range l.terms {
		out[i] = Entry{Term: t, TermID: uint32(i + 1), DocFreq: l.DocFreq(uint32(i + 1))}
	}
	return out
}

// Write stores the lexicon as CSV rows of term,term_id in termID order.
func (l *Lexicon) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return apperrors.Storage(err, "writing lexicon header")
	}
	row := make([]string, 2)
	for i, t := range l.terms {
		row[0] = t
		row[1] = strconv.FormatUint(uint64(i+1), 10)
		if err := cw.Write(row); err != nil {
			return apperrors.Storage(err, "writing lexicon row %d", i+1)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Storage(err, "flushing lexicon")
	}
	return nil
}

// Read loads a lexicon written by Write. Rows may appear in any order, but
// IDs must be unique, positive and dense (1..n) and terms must be unique.
func Read(r io.Reader) (*Lexicon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, apperrors.Storage(err, "reading lexicon header")
	}
	if header[0] != Header[0] || header[1] != Header[1] {
		return nil, apperrors.Storage(fmt.Errorf("got %q", header), "unexpected lexicon header")
	}

	ids := make(map[string]uint32)
	byID := make(map[uint32]string)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Storage(err, "reading lexicon line %d", line)
		}
		id, err := strconv.ParseUint(rec[1], 10, 32)
		if err != nil || id == 0 {
			return nil, apperrors.Storage(fmt.Errorf("invalid term_id %q", rec[1]), "lexicon line %d", line)
		}
		term := rec[0]
		if _, dup := ids[term]; dup {
			return nil, apperrors.Storage(fmt.Errorf("duplicate term %q", term), "lexicon line %d", line)
		}
		if _, dup := byID[uint32(id)]; dup {
			return nil, apperrors.Storage(fmt.Errorf("duplicate term_id %d", id), "lexicon line %d", line)
		}
		ids[term] = uint32(id)
		byID[uint32(id)] = term
	}

	lex := &Lexicon{
		ids:   ids,
		terms: make([]string, len(byID)),
		freqs: make([]int, len(byID)),
	}
	for id, term := range byID {
		if int(id) > len(byID) {
			return nil, apperrors.Storage(fmt.Errorf("term_id %d exceeds term count %d", id, len(byID)), "lexicon ids not dense")
		}
		lex.terms[id-1] = term
	}
	return lex, nil
}

// Equal reports whether two lexicons assign the same IDs to the same terms.
func (l *Lexicon) Equal(other *Lexicon) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i, t := range l.terms {
		if other.terms[i] != t {
			return false
		}
	}
	return true
}
