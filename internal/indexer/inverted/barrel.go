package inverted

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/forward"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// Header is the column header of inverted index and barrel files.
var Header = []string{"term_id", "doc_ids"}

// Barrel holds the entries of the inverted index whose termID maps to ID.
type Barrel struct {
	ID int
	table
}

// Partition splits the index into barrels entries, routing each termID to
// barrel termID mod barrels. Every termID lands in exactly one barrel; the
// returned slice always has length barrels, empty barrels included.
func (x *Index) Partition(barrels int) ([]*Barrel, error) {
	if barrels < 1 {
		return nil, apperrors.Configuration(nil, "barrel count must be positive, got %d", barrels)
	}
	out := make([]*Barrel, barrels)
	for b := range out {
		out[b] = &Barrel{ID: b, table: newTable(x.Len()/barrels + 1)}
	}
	for id, bm := range x.postings {
		out[shard.Barrel(id, barrels)].postings[id] = bm
	}
	return out, nil
}

// Write stores the index as CSV rows of term_id,doc_ids in termID order.
func (x *Index) Write(w io.Writer) error {
	return x.table.write(w, "inverted index")
}

// Write stores the barrel in the same layout as the full index.
func (b *Barrel) Write(w io.Writer) error {
	return b.table.write(w, fmt.Sprintf("barrel %d", b.ID))
}

func (t table) write(w io.Writer, what string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return apperrors.Storage(err, "writing %s header", what)
	}
	row := make([]string, 2)
	var sb strings.Builder
	for _, id := range t.TermIDs() {
		sb.Reset()
		it := t.postings[id].Iterator()
		for first := true; it.HasNext(); first = false {
			if !first {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatUint(uint64(it.Next()), 10))
		}
		row[0] = strconv.FormatUint(uint64(id), 10)
		row[1] = sb.String()
		if err := cw.Write(row); err != nil {
			return apperrors.Storage(err, "writing %s term %d", what, id)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Storage(err, "flushing %s", what)
	}
	return nil
}

// ReadBarrel loads a barrel written by Barrel.Write. The caller sets ID.
func ReadBarrel(r io.Reader) (*Barrel, error) {
	t, err := readTable(r, "barrel")
	if err != nil {
		return nil, err
	}
	return &Barrel{table: t}, nil
}

// ReadIndex loads a full inverted index written by Index.Write.
func ReadIndex(r io.Reader) (*Index, error) {
	t, err := readTable(r, "inverted index")
	if err != nil {
		return nil, err
	}
	return &Index{table: t}, nil
}

func readTable(r io.Reader, what string) (table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return table{}, apperrors.Storage(err, "reading %s header", what)
	}
	if header[0] != Header[0] || header[1] != Header[1] {
		return table{}, apperrors.Storage(fmt.Errorf("got %q", header), "unexpected %s header", what)
	}
	t := newTable(0)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, apperrors.Storage(err, "reading %s line %d", what, line)
		}
		id, err := strconv.ParseUint(rec[0], 10, 32)
		if err != nil || id == 0 {
			return table{}, apperrors.Storage(fmt.Errorf("invalid term_id %q", rec[0]), "%s line %d", what, line)
		}
		if _, dup := t.postings[uint32(id)]; dup {
			return table{}, apperrors.Storage(fmt.Errorf("duplicate term_id %d", id), "%s line %d", what, line)
		}
		docs, err := forward.ParseIDs(rec[1])
		if err != nil {
			return table{}, apperrors.Storage(err, "%s line %d", what, line)
		}
		t.postings[uint32(id)] = roaring.BitmapOf(docs...)
	}
	return t, nil
}
