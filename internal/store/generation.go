package store

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/forward"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/inverted"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/indexer/lexicon"
	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// ErrBarrelNotFound is returned by LoadBarrel when the barrel file is
// missing or its index is outside the generation's barrel range.
var ErrBarrelNotFound = fmt.Errorf("barrel %w", apperrors.ErrNotFound)

// Generation is a published, immutable set of index artifacts.
type Generation struct {
	dir      string
	manifest *Manifest
}

func (g *Generation) ID() string {
	return g.manifest.Generation
}

func (g *Generation) Dir() string {
	return g.dir
}

// Manifest returns a copy of the generation's manifest.
func (g *Generation) Manifest() Manifest {
	return *g.manifest
}

// Exists reports whether the generation's manifest is still on disk.
func (g *Generation) Exists() bool {
	_, err := os.Stat(filepath.Join(g.dir, ManifestFile))
	return err == nil
}

// BarrelCount returns B as recorded in the manifest.
func (g *Generation) BarrelCount() int {
	return g.manifest.BarrelCount
}

func (g *Generation) LoadLexicon() (*lexicon.Lexicon, error) {
	data, err := g.ReadArtifact(LexiconFile)
	if err != nil {
		return nil, err
	}
	return lexicon.Read(bytes.NewReader(data))
}

func (g *Generation) LoadForward() (*forward.Index, error) {
	data, err := g.ReadArtifact(ForwardFile)
	if err != nil {
		return nil, err
	}
	return forward.Read(bytes.NewReader(data), g.manifest.Documents)
}

func (g *Generation) LoadInverted() (*inverted.Index, error) {
	data, err := g.ReadArtifact(InvertedFile)
	if err != nil {
		return nil, err
	}
	return inverted.ReadIndex(bytes.NewReader(data))
}

// LoadBarrel reads and verifies barrel b.
func (g *Generation) LoadBarrel(b int) (*inverted.Barrel, error) {
	if b < 0 || b >= g.manifest.BarrelCount {
		return nil, fmt.Errorf("%w: index %d outside [0,%d)", ErrBarrelNotFound, b, g.manifest.BarrelCount)
	}
	data, err := g.ReadArtifact(BarrelFile(b))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBarrelNotFound, BarrelFile(b))
	}
	if err != nil {
		return nil, err
	}
	barrel, err := inverted.ReadBarrel(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	barrel.ID = b
	return barrel, nil
}

// ReadArtifact reads a whole artifact and checks it against the manifest
// checksum.
func (g *Generation) ReadArtifact(name string) ([]byte, error) {
	want, ok := g.manifest.Checksums[filepath.ToSlash(name)]
	if !ok {
		return nil, apperrors.Storage(fs.ErrNotExist, "%s not listed in manifest", name)
	}
	data, err := os.ReadFile(filepath.Join(g.dir, name))
	if err != nil {
		return nil, apperrors.Storage(err, "reading %s", name)
	}
	if got := crc32.ChecksumIEEE(data); got != want {
		return nil, apperrors.Storage(fmt.Errorf("crc32 %08x, manifest %08x", got, want), "checksum mismatch in %s", name)
	}
	return data, nil
}
