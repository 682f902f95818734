package forward

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/lexicon"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

func buildLexicon(t *testing.T, docs [][]string) *lexicon.Lexicon {
	t.Helper()
	lex, err := lexicon.Build(context.Background(), docs, 1)
	if err != nil {
		t.Fatalf("lexicon.Build() error: %v", err)
	}
	return lex
}

func TestBuild(t *testing.T) {
	docs := [][]string{{"red", "car", "car"}, {"blue", "car"}}
	lex := buildLexicon(t, docs)

	idx, stats, err := Build(context.Background(), docs, lex, 2)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	// car=1 blue=2 red=3
	if got := idx.Terms(0); !reflect.DeepEqual(got, []uint32{1, 3}) {
		t.Errorf("Terms(0) = %v, want [1 3]", got)
	}
	if got := idx.Terms(1); !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Errorf("Terms(1) = %v, want [1 2]", got)
	}
	if stats.Documents != 2 || stats.Postings != 4 || stats.MissedTerms != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !idx.Contains(0, 3) || idx.Contains(1, 3) {
		t.Error("Contains() disagrees with Terms()")
	}
}

func TestBuild_MissedTermsAreNotFatal(t *testing.T) {
	lex := buildLexicon(t, [][]string{{"known"}})
	docs := [][]string{{"known", "mystery"}, {"enigma"}}

	idx, stats, err := Build(context.Background(), docs, lex, 2)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if stats.MissedTerms != 2 {
		t.Errorf("MissedTerms = %d, want 2", stats.MissedTerms)
	}
	if !reflect.DeepEqual(stats.MissedSample, []string{"enigma", "mystery"}) {
		t.Errorf("MissedSample = %q", stats.MissedSample)
	}
	if got := idx.Terms(1); len(got) != 0 {
		t.Errorf("document with only unknown terms has %v", got)
	}
	if idx.Len() != 2 {
		t.Errorf("Len() = %d, want 2", idx.Len())
	}
}

func TestBuild_IndependentOfShardCount(t *testing.T) {
	docs := [][]string{
		{"a1", "b2"}, {"b2", "c3"}, {"c3"}, {}, {"a1", "c3", "d4"},
		{"d4"}, {"e5", "a1"}, {"b2"}, {"c3", "e5"},
	}
	lex := buildLexicon(t, docs)
	base, _, err := Build(context.Background(), docs, lex, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, workers := range []int{2, 4, 9, 32} {
		other, _, err := Build(context.Background(), docs, lex, workers)
		if err != nil {
			t.Fatal(err)
		}
		if !base.Equal(other) {
			t.Errorf("workers=%d produced a different forward index", workers)
		}
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	idx := New([][]uint32{{3, 1, 3}, {}, {2}})
	var buf bytes.Buffer
	if err := idx.Write(&buf); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	want := "doc_id,term_ids\n0,1 3\n1,\n2,2\n"
	if buf.String() != want {
		t.Errorf("file = %q, want %q", buf.String(), want)
	}
	back, err := Read(&buf, idx.Len())
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !idx.Equal(back) {
		t.Error("round trip changed the index")
	}
}

func TestRead_RejectsDocIDBeyondGeneration(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"just past the end", "doc_id,term_ids\n0,1\n3,2\n"},
		{"huge doc_id", "doc_id,term_ids\n4294967295,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), 3)
			if !errors.Is(err, apperrors.ErrStorage) {
				t.Errorf("Read() error = %v, want ErrStorage", err)
			}
		})
	}
	idx, err := Read(strings.NewReader("doc_id,term_ids\n2,5\n"), 3)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs(" 4 10  7 ")
	if err != nil || !reflect.DeepEqual(ids, []uint32{4, 10, 7}) {
		t.Errorf("ParseIDs() = %v, %v", ids, err)
	}
	if _, err := ParseIDs("1 x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
