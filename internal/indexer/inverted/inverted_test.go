package inverted

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/forward"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// fixture returns a forward index over 40 documents with a deterministic
// spread of termIDs 1..23.
func fixture() *forward.Index {
	docs := make([][]uint32, 40)
	for d := range docs {
		for t := uint32(1); t <= 23; t++ {
			if (uint32(d)+t)%(t%4+2) == 0 {
				docs[d] = append(docs[d], t)
			}
		}
	}
	return forward.New(docs)
}

func mustBuild(t *testing.T, fwd *forward.Index, workers int) *Index {
	t.Helper()
	idx, err := Build(context.Background(), fwd, workers)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return idx
}

func TestBuild_TwoDocuments(t *testing.T) {
	// red car / blue car with car=1 blue=2 red=3
	fwd := forward.New([][]uint32{{1, 3}, {1, 2}})
	idx := mustBuild(t, fwd, 2)

	want := map[uint32][]uint32{1: {0, 1}, 2: {1}, 3: {0}}
	for id, docs := range want {
		if got := idx.Postings(id); !reflect.DeepEqual(got, docs) {
			t.Errorf("Postings(%d) = %v, want %v", id, got, docs)
		}
	}
	if idx.Postings(99) != nil {
		t.Error("unknown termID has postings")
	}
	if !reflect.DeepEqual(idx.TermIDs(), []uint32{1, 2, 3}) {
		t.Errorf("TermIDs() = %v", idx.TermIDs())
	}
}

func TestBuild_ConsistentWithForward(t *testing.T) {
	fwd := fixture()
	idx := mustBuild(t, fwd, 3)

	fwd.Each(func(docID uint32, termIDs []uint32) {
		for _, id := range termIDs {
			bm, ok := idx.Bitmap(id)
			if !ok || !bm.Contains(docID) {
				t.Errorf("doc %d lists term %d but postings miss it", docID, id)
			}
		}
	})
	for _, id := range idx.TermIDs() {
		for _, docID := range idx.Postings(id) {
			if !fwd.Contains(docID, id) {
				t.Errorf("term %d posts doc %d which does not contain it", id, docID)
			}
		}
	}
	if idx.PostingCount() != uint64(fwd.Postings()) {
		t.Errorf("PostingCount() = %d, forward has %d", idx.PostingCount(), fwd.Postings())
	}
}

func TestBuild_IndependentOfShardCount(t *testing.T) {
	fwd := fixture()
	base := mustBuild(t, fwd, 1)
	for _, workers := range []int{2, 5, 40, 64} {
		if !base.Equal(mustBuild(t, fwd, workers)) {
			t.Errorf("workers=%d produced a different inverted index", workers)
		}
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, fixture(), 2); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPartition_CompleteAndDisjoint(t *testing.T) {
	idx := mustBuild(t, fixture(), 4)
	for _, b := range []int{1, 2, 7, 10, 50} {
		t.Run(fmt.Sprintf("B=%d", b), func(t *testing.T) {
			barrels, err := idx.Partition(b)
			if err != nil {
				t.Fatalf("Partition() error: %v", err)
			}
			if len(barrels) != b {
				t.Fatalf("got %d barrels, want %d", len(barrels), b)
			}
			owner := make(map[uint32]int)
			for _, barrel := range barrels {
				for _, id := range barrel.TermIDs() {
					if prev, dup := owner[id]; dup {
						t.Errorf("term %d in barrels %d and %d", id, prev, barrel.ID)
					}
					owner[id] = barrel.ID
					if int(id)%b != barrel.ID {
						t.Errorf("term %d in barrel %d, want %d", id, barrel.ID, int(id)%b)
					}
					if !reflect.DeepEqual(barrel.Postings(id), idx.Postings(id)) {
						t.Errorf("barrel %d changed postings of term %d", barrel.ID, id)
					}
				}
			}
			if len(owner) != idx.Len() {
				t.Errorf("barrels cover %d terms, index has %d", len(owner), idx.Len())
			}
		})
	}
}

func TestPartition_InvalidCount(t *testing.T) {
	idx := FromPostings(map[uint32][]uint32{1: {0}})
	for _, b := range []int{0, -3} {
		if _, err := idx.Partition(b); !errors.Is(err, apperrors.ErrConfiguration) {
			t.Errorf("Partition(%d) error = %v, want ErrConfiguration", b, err)
		}
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	idx := FromPostings(map[uint32][]uint32{3: {0}, 1: {1, 0}, 2: {1}})
	var buf bytes.Buffer
	if err := idx.Write(&buf); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	want := "term_id,doc_ids\n1,0 1\n2,1\n3,0\n"
	if buf.String() != want {
		t.Errorf("file = %q, want %q", buf.String(), want)
	}
	back, err := ReadIndex(&buf)
	if err != nil {
		t.Fatalf("ReadIndex() error: %v", err)
	}
	if !idx.Equal(back) {
		t.Error("round trip changed the index")
	}

	barrels, _ := idx.Partition(2)
	buf.Reset()
	if err := barrels[1].Write(&buf); err != nil {
		t.Fatalf("Barrel.Write() error: %v", err)
	}
	barrel, err := ReadBarrel(&buf)
	if err != nil {
		t.Fatalf("ReadBarrel() error: %v", err)
	}
	if !reflect.DeepEqual(barrel.TermIDs(), []uint32{1, 3}) {
		t.Errorf("barrel 1 terms = %v, want [1 3]", barrel.TermIDs())
	}
}

func TestReadBarrel_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad header":   "term,docs\n1,0\n",
		"zero term":    "term_id,doc_ids\n0,1\n",
		"duplicate":    "term_id,doc_ids\n1,1\n1,2\n",
		"bad doc id":   "term_id,doc_ids\n1,1 x\n",
		"extra column": "term_id,doc_ids\n1,1,2\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadBarrel(strings.NewReader(in)); !errors.Is(err, apperrors.ErrStorage) {
				t.Errorf("error = %v, want ErrStorage", err)
			}
		})
	}
}
