package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// FormatVersion is the table format written by this build. Generations with
// any other version are rejected on open.
const FormatVersion = 1

const (
	ManifestFile = "manifest.json"
	LexiconFile  = "lexicon.csv"
	ForwardFile  = "forward_index.csv"
	InvertedFile = "inverted_index.csv"
	BarrelDir    = "barrels"
	// DocumentsFile snapshots doc_id,title,url of the corpus the
	// generation was built from.
	DocumentsFile = "documents.csv"
)

// BarrelFile returns the path of barrel b relative to the generation root.
func BarrelFile(b int) string {
	return filepath.Join(BarrelDir, fmt.Sprintf("inverted_index_barrel_%d.csv", b))
}

// Manifest describes one published generation. It is written last, so a
// generation directory without one is incomplete.
type Manifest struct {
	FormatVersion int               `json:"format_version"`
	Generation    string            `json:"generation"`
	BarrelCount   int               `json:"barrel_count"`
	Documents     int               `json:"documents"`
	Terms         int               `json:"terms"`
	CreatedAt     time.Time         `json:"created_at"`
	Checksums     map[string]uint32 `json:"checksums"`
}

func (m *Manifest) validate() error {
	if m.FormatVersion != FormatVersion {
		return apperrors.Storage(fmt.Errorf("got %d, want %d", m.FormatVersion, FormatVersion), "unsupported table format version")
	}
	if m.BarrelCount < 1 {
		return apperrors.Storage(fmt.Errorf("barrel_count %d", m.BarrelCount), "invalid manifest")
	}
	for b := 0; b < m.BarrelCount; b++ {
		if _, ok := m.Checksums[filepath.ToSlash(BarrelFile(b))]; !ok {
			return apperrors.Storage(fmt.Errorf("no checksum for %s", BarrelFile(b)), "incomplete manifest")
		}
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Storage(err, "parsing manifest in %s", dir)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
