package lexicon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

func mustBuild(t *testing.T, docs [][]string, workers int) *Lexicon {
	t.Helper()
	lex, err := Build(context.Background(), docs, workers)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return lex
}

func TestBuild_RankByDocFreqThenTerm(t *testing.T) {
	docs := [][]string{
		{"red", "car"},
		{"blue", "car"},
	}
	lex := mustBuild(t, docs, 2)

	want := map[string]uint32{"car": 1, "blue": 2, "red": 3}
	for term, id := range want {
		got, ok := lex.Lookup(term)
		if !ok || got != id {
			t.Errorf("Lookup(%q) = %d, %v; want %d", term, got, ok, id)
		}
	}
	if lex.DocFreq(1) != 2 {
		t.Errorf("DocFreq(car) = %d, want 2", lex.DocFreq(1))
	}
}

func TestBuild_CountsDocumentsNotOccurrences(t *testing.T) {
	docs := [][]string{
		{"spam", "spam", "spam", "spam"},
		{"egg"},
		{"egg"},
	}
	lex := mustBuild(t, docs, 1)
	if id, _ := lex.Lookup("egg"); id != 1 {
		t.Errorf("egg (2 docs) should outrank spam (1 doc, 4 occurrences), got id %d", id)
	}
	if lex.DocFreq(2) != 1 {
		t.Errorf("DocFreq(spam) = %d, want 1", lex.DocFreq(2))
	}
}

func TestBuild_Bijection(t *testing.T) {
	docs := make([][]string, 0, 200)
	for i := 0; i < 200; i++ {
		docs = append(docs, []string{
			fmt.Sprintf("t%d", i%17),
			fmt.Sprintf("u%d", i%5),
			fmt.Sprintf("v%d", i),
		})
	}
	lex := mustBuild(t, docs, 4)
	seen := make(map[uint32]string)
	for _, e := range lex.Entries() {
		if prev, dup := seen[e.TermID]; dup {
			t.Fatalf("terms %q and %q share id %d", prev, e.Term, e.TermID)
		}
		seen[e.TermID] = e.Term
		if term, ok := lex.Term(e.TermID); !ok || term != e.Term {
			t.Errorf("Term(%d) = %q, want %q", e.TermID, term, e.Term)
		}
	}
	if len(seen) != 17+5+200 {
		t.Errorf("expected %d terms, got %d", 17+5+200, len(seen))
	}
}

func TestBuild_IndependentOfShardCount(t *testing.T) {
	docs := [][]string{
		{"alpha", "beta"}, {"beta", "gamma"}, {"gamma", "delta"},
		{"alpha"}, {"epsilon", "beta"}, {"zeta"}, {"eta", "theta", "alpha"},
	}
	base := mustBuild(t, docs, 1)
	for _, workers := range []int{2, 3, 7, 16} {
		if other := mustBuild(t, docs, workers); !base.Equal(other) {
			t.Errorf("workers=%d produced a different lexicon", workers)
		}
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	lex := mustBuild(t, nil, 4)
	if lex.Len() != 0 {
		t.Errorf("expected empty lexicon, got %d terms", lex.Len())
	}
	if _, ok := lex.Lookup("anything"); ok {
		t.Error("empty lexicon resolved a term")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, [][]string{{"a"}}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	lex := mustBuild(t, [][]string{{"red", "car"}, {"blue", "car"}}, 1)
	var buf bytes.Buffer
	if err := lex.Write(&buf); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "term,term_id\ncar,1\nblue,2\nred,3\n") {
		t.Errorf("unexpected file contents:\n%s", buf.String())
	}
	back, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !lex.Equal(back) {
		t.Error("round trip changed the lexicon")
	}
}

func TestRead_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"duplicate term": "term,term_id\ncar,1\ncar,2\n",
		"duplicate id":   "term,term_id\ncar,1\nbus,1\n",
		"zero id":        "term,term_id\ncar,0\n",
		"non numeric":    "term,term_id\ncar,x\n",
		"gap":            "term,term_id\ncar,1\nbus,3\n",
		"bad header":     "word,word_id\ncar,1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(in))
			if !errors.Is(err, apperrors.ErrStorage) {
				t.Errorf("error = %v, want ErrStorage", err)
			}
		})
	}
}
