// Package corpus reads the cleaned article dataset the index is built from.
// Each CSV row is one document; its zero-based row position is its docID.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// Column names of the cleaned dataset.
const (
	ColumnCleanedText = "cleaned_text"
	ColumnTitle       = "title"
	ColumnURL         = "url"
	ColumnTags        = "tags"
)

// Record is one corpus document.
type Record struct {
	DocID       uint32
	Title       string
	URL         string
	Tags        string
	CleanedText string
}

// Terms splits the cleaned text into its whitespace-separated terms.
func (r Record) Terms() []string {
	return strings.Fields(r.CleanedText)
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Storage(err, "opening corpus %s", path)
	}
	defer f.Close()
	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return records, nil
}

// Read parses a cleaned dataset. The header must contain cleaned_text,
// title and url; tags is optional. A missing required column is a schema
// error. An input with a header and no rows yields an empty corpus.
func Read(r io.Reader) ([]Record, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Schema("corpus has no header row")
	}
	if err != nil {
		return nil, apperrors.Storage(err, "reading corpus header")
	}
	cols, err := columnIndex(header, ColumnCleanedText, ColumnTitle, ColumnURL)
	if err != nil {
		return nil, err
	}
	tagsCol := indexOf(header, ColumnTags)

	records := make([]Record, 0)
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Storage(err, "reading corpus row %d", row)
		}
		rec := Record{
			DocID:       uint32(row),
			CleanedText: field(fields, cols[ColumnCleanedText]),
			Title:       field(fields, cols[ColumnTitle]),
			URL:         field(fields, cols[ColumnURL]),
		}
		if tagsCol >= 0 {
			rec.Tags = field(fields, tagsCol)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Terms returns the per-document term streams of records, indexed by docID.
func Terms(records []Record) [][]string {
	docs := make([][]string, len(records))
	for i, rec := range records {
		docs[i] = rec.Terms()
	}
	return docs
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// columnIndex resolves the position of every required column.
func columnIndex(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(required))
	for _, name := range required {
		idx := indexOf(header, name)
		if idx < 0 {
			return nil, apperrors.Schema("dataset must contain %q column", name)
		}
		cols[name] = idx
	}
	return cols, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			return i
		}
	}
	return -1
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}
