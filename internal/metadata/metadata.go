// Package metadata resolves docIDs to display fields (title, url).
package metadata

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// Header is the column header of the documents artifact.
var Header = []string{"doc_id", "title", "url"}

// Document is the display metadata of one corpus row.
type Document struct {
	DocID uint32 `json:"doc_id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Source looks up documents by docID. IDs without metadata are absent from
// the returned map.
type Source interface {
	Documents(ctx context.Context, ids []uint32) (map[uint32]Document, error)
}

// Table is an in-memory Source indexed by docID.
type Table struct {
	docs []Document
	set  []bool
}

// FromRecords builds a table from cleaned corpus records.
func FromRecords(records []corpus.Record) *Table {
	t := &Table{}
	for _, r := range records {
		t.put(Document{DocID: r.DocID, Title: r.Title, URL: r.URL})
	}
	return t
}

func (t *Table) put(d Document) {
	for int(d.DocID) >= len(t.docs) {
		t.docs = append(t.docs, Document{})
		t.set = append(t.set, false)
	}
	t.docs[d.DocID] = d
	t.set[d.DocID] = true
}

// Get returns the metadata of docID.
func (t *Table) Get(docID uint32) (Document, bool) {
	if int(docID) >= len(t.docs) || !t.set[docID] {
		return Document{}, false
	}
	return t.docs[docID], true
}

// Len returns the number of documents with metadata.
func (t *Table) Len() int {
	n := 0
	for _, ok := range t.set {
		if ok {
			n++
		}
	}
	return n
}

// All returns every document in docID order.
func (t *Table) All() []Document {
	out := make([]Document, 0, len(t.docs))
	for i, d := range t.docs {
		if t.set[i] {
			out = append(out, d)
		}
	}
	return out
}

func (t *Table) Documents(_ context.Context, ids []uint32) (map[uint32]Document, error) {
	out := make(map[uint32]Document, len(ids))
	for _, id := range ids {
		if d, ok := t.Get(id); ok {
			out[id] = d
		}
	}
	return out, nil
}

// Write stores the table as CSV rows of doc_id,title,url.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return apperrors.Storage(err, "writing documents header")
	}
	for _, d := range t.All() {
		if err := cw.Write([]string{strconv.FormatUint(uint64(d.DocID), 10), d.Title, d.URL}); err != nil {
			return apperrors.Storage(err, "writing document %d", d.DocID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Storage(err, "flushing documents")
	}
	return nil
}

// Read loads a table written by Write. A docID at or beyond maxDocs is
// rejected.
func Read(r io.Reader, maxDocs int) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	if _, err := cr.Read(); err != nil {
		return nil, apperrors.Storage(err, "reading documents header")
	}
	t := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Storage(err, "reading documents line %d", line)
		}
		id, err := strconv.ParseUint(rec[0], 10, 32)
		if err != nil {
			return nil, apperrors.Storage(fmt.Errorf("invalid doc_id %q", rec[0]), "documents line %d", line)
		}
		if id >= uint64(maxDocs) {
			return nil, apperrors.Storage(fmt.Errorf("doc_id %d outside [0,%d)", id, maxDocs), "documents line %d", line)
		}
		t.put(Document{DocID: uint32(id), Title: rec[1], URL: rec[2]})
	}
	return t, nil
}

// LoadGeneration reads the documents snapshot stored with gen.
func LoadGeneration(gen *store.Generation) (*Table, error) {
	data, err := gen.ReadArtifact(store.DocumentsFile)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(data), gen.Manifest().Documents)
}
