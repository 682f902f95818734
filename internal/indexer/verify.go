package indexer

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
)

// Verify reloads every artifact of gen and checks the cross-artifact
// invariants: the forward and inverted indexes describe the same
// (doc, term) pairs, and the barrels partition the inverted index by
// termID mod B with identical posting sets.
func Verify(gen *store.Generation) error {
	lex, err := gen.LoadLexicon()
	if err != nil {
		return err
	}
	fwd, err := gen.LoadForward()
	if err != nil {
		return err
	}
	inv, err := gen.LoadInverted()
	if err != nil {
		return err
	}

	var firstErr error
	fwd.Each(func(docID uint32, termIDs []uint32) {
		for _, id := range termIDs {
			if firstErr != nil {
				return
			}
			if _, ok := lex.Term(id); !ok {
				firstErr = fmt.Errorf("doc %d references unknown term %d", docID, id)
				return
			}
			bm, ok := inv.Bitmap(id)
			if !ok || !bm.Contains(docID) {
				firstErr = fmt.Errorf("doc %d lists term %d but its postings do not", docID, id)
			}
		}
	})
	if firstErr != nil {
		return firstErr
	}
	if got, want := inv.PostingCount(), uint64(fwd.Postings()); got != want {
		return fmt.Errorf("inverted index has %d postings, forward index %d", got, want)
	}

	B := gen.BarrelCount()
	seen := 0
	for b := 0; b < B; b++ {
		barrel, err := gen.LoadBarrel(b)
		if err != nil {
			return err
		}
		for _, id := range barrel.TermIDs() {
			if home := shard.Barrel(id, B); home != b {
				return fmt.Errorf("term %d found in barrel %d, belongs in %d", id, b, home)
			}
			want, ok := inv.Bitmap(id)
			got, _ := barrel.Bitmap(id)
			if !ok || !want.Equals(got) {
				return fmt.Errorf("barrel %d postings of term %d differ from inverted index", b, id)
			}
		}
		seen += barrel.Len()
	}
	if seen != inv.Len() {
		return fmt.Errorf("barrels hold %d terms, inverted index %d", seen, inv.Len())
	}
	return nil
}
