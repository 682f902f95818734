package corpus

import (
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// ColumnText is the raw article body column of the uncleaned dataset.
const ColumnText = "text"

// CleanStats summarises one Clean run.
type CleanStats struct {
	Rows    int
	Written int
	Dropped int
}

// Clean converts the raw article dataset (title, text, tags, url) into the
// cleaned dataset Read expects. Rows missing any of the four fields are
// dropped. cleaned_text holds the sorted, distinct normalized terms of
// title, text and tags.
func Clean(r io.Reader, w io.Writer, n *textnorm.Normalizer) (CleanStats, error) {
	logger := slog.Default().With("component", "corpus-cleaner")
	var stats CleanStats

	cr := newCSVReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return stats, apperrors.Schema("raw dataset has no header row")
	}
	if err != nil {
		return stats, apperrors.Storage(err, "reading raw dataset header")
	}
	cols, err := columnIndex(header, ColumnTitle, ColumnText, ColumnTags, ColumnURL)
	if err != nil {
		return stats, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnTitle, ColumnURL, ColumnTags, ColumnCleanedText}); err != nil {
		return stats, apperrors.Storage(err, "writing cleaned header")
	}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, apperrors.Storage(err, "reading raw dataset row %d", stats.Rows)
		}
		stats.Rows++
		title := strings.TrimSpace(field(fields, cols[ColumnTitle]))
		text := field(fields, cols[ColumnText])
		tags := field(fields, cols[ColumnTags])
		url := strings.TrimSpace(field(fields, cols[ColumnURL]))
		if title == "" || strings.TrimSpace(text) == "" || strings.TrimSpace(tags) == "" || url == "" {
			stats.Dropped++
			continue
		}
		terms := distinctSorted(n.Tokens(title + " " + text + " " + tags))
		if err := cw.Write([]string{title, url, tags, strings.Join(terms, " ")}); err != nil {
			return stats, apperrors.Storage(err, "writing cleaned row")
		}
		stats.Written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, apperrors.Storage(err, "flushing cleaned dataset")
	}
	logger.Info("dataset cleaned",
		"rows", stats.Rows,
		"written", stats.Written,
		"dropped", stats.Dropped,
	)
	return stats, nil
}

func distinctSorted(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
