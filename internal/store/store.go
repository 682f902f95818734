// Package store persists index generations on local disk.
//
// A build writes every artifact into staging/<gen>, then Commit moves the
// directory under generations/ and atomically replaces the CURRENT pointer.
// Readers only ever follow CURRENT, so a build that fails at any point
// before the pointer swap leaves the previous generation in service.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

const (
	CurrentFile    = "CURRENT"
	generationsDir = "generations"
	stagingDir     = "staging"
	leasesDir      = "leases"
	genPrefix      = "gen-"
)

// LeaseTTL is how long a lease protects a generation from Prune without
// being renewed.
const LeaseTTL = 2 * time.Minute

// Store is a data directory holding published generations.
type Store struct {
	dataDir string
	logger  *slog.Logger
}

// New returns a Store rooted at dataDir. Nothing is created until Stage.
func New(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		logger:  slog.Default().With("component", "barrel-store"),
	}
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dataDir
}

// Current returns the active generation ID.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, CurrentFile))
	if err != nil {
		return "", apperrors.Configuration(err, "no published generation in %s", s.dataDir)
	}
	id := strings.TrimSpace(string(data))
	if _, ok := parseGeneration(id); !ok {
		return "", apperrors.Configuration(nil, "malformed %s pointer %q", CurrentFile, id)
	}
	return id, nil
}

// Open loads the manifest of the active generation in dataDir.
func Open(dataDir string) (*Generation, error) {
	return New(dataDir).Open()
}

// Open loads the manifest of the active generation.
func (s *Store) Open() (*Generation, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.OpenGeneration(id)
}

// OpenGeneration loads the manifest of a specific published generation.
func (s *Store) OpenGeneration(id string) (*Generation, error) {
	dir := filepath.Join(s.dataDir, generationsDir, id)
	m, err := readManifest(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Configuration(err, "generation %s has no manifest", id)
	}
	if err != nil {
		return nil, err
	}
	if m.Generation != id {
		return nil, apperrors.Storage(fmt.Errorf("manifest names %q", m.Generation), "generation %s", id)
	}
	return &Generation{dir: dir, manifest: m}, nil
}

// Generations returns the published generation IDs, oldest first.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, generationsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err, "listing generations")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := parseGeneration(e.Name()); ok && e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sortGenerations(ids)
	return ids, nil
}

// Prune removes published generations beyond the newest keep. The active
// generation and generations holding a live lease are never removed. It
// returns the removed IDs.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	ids, err := s.Generations()
	if err != nil {
		return nil, err
	}
	current, _ := s.Current()
	if len(ids) <= keep {
		return nil, nil
	}
	now := time.Now()
	var removed []string
	for _, id := range ids[:len(ids)-keep] {
		if id == current {
			continue
		}
		holders, err := s.liveHolders(id, now)
		if err != nil {
			return removed, err
		}
		if len(holders) > 0 {
			s.logger.Info("keeping leased generation", "generation", id, "holders", holders)
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dataDir, generationsDir, id)); err != nil {
			return removed, apperrors.Storage(err, "removing generation %s", id)
		}
		if err := os.RemoveAll(filepath.Join(s.dataDir, leasesDir, id)); err != nil {
			s.logger.Warn("removing expired leases failed", "generation", id, "error", err)
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		s.logger.Info("pruned old generations", "removed", removed, "kept", keep)
	}
	return removed, nil
}

// Acquire records that holder is serving generation id, or renews the
// lease if it already exists. Leases expire after LeaseTTL.
func (s *Store) Acquire(id, holder string) error {
	dir := filepath.Join(s.dataDir, leasesDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Storage(err, "creating lease directory for %s", id)
	}
	path := filepath.Join(dir, holder)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return apperrors.Storage(err, "writing lease %s/%s", id, holder)
	}
	return nil
}

// Release drops holder's lease on generation id.
func (s *Store) Release(id, holder string) error {
	err := os.Remove(filepath.Join(s.dataDir, leasesDir, id, holder))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.Storage(err, "releasing lease %s/%s", id, holder)
	}
	return nil
}

// liveHolders lists holders whose lease on id was renewed within LeaseTTL.
func (s *Store) liveHolders(id string, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, leasesDir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err, "listing leases of %s", id)
	}
	var holders []string
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < LeaseTTL {
			holders = append(holders, e.Name())
		}
	}
	return holders, nil
}

// Stage creates an empty staging directory for a new generation. Its ID is
// strictly greater than every published generation.
func (s *Store) Stage(ctx context.Context) (*Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.Generations()
	if err != nil {
		return nil, err
	}
	n := time.Now().UnixNano()
	if len(ids) > 0 {
		if last, _ := parseGeneration(ids[len(ids)-1]); n <= last {
			n = last + 1
		}
	}
	id := genPrefix + strconv.FormatInt(n, 10)
	dir := filepath.Join(s.dataDir, stagingDir, id)
	if err := os.MkdirAll(filepath.Join(dir, BarrelDir), 0o755); err != nil {
		return nil, apperrors.Storage(err, "creating staging directory")
	}
	s.logger.Debug("staging generation", "generation", id, "dir", dir)
	return &Staged{
		store:     s,
		id:        id,
		dir:       dir,
		checksums: make(map[string]uint32),
	}, nil
}

// Staged is a generation under construction. It is not safe for concurrent
// use.
type Staged struct {
	store     *Store
	id        string
	dir       string
	checksums map[string]uint32
	done      bool
}

// ID returns the generation ID that Commit will publish.
func (st *Staged) ID() string {
	return st.id
}

// WriteArtifact streams one artifact file into the staging directory. The
// file is written to a .tmp sibling, fsynced and renamed; its CRC32 is
// recorded for the manifest.
func (st *Staged) WriteArtifact(name string, write func(io.Writer) error) error {
	if st.done {
		return apperrors.Storage(errors.New("generation already finished"), "writing %s", name)
	}
	final := filepath.Join(st.dir, name)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Storage(err, "creating %s", name)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	bw := bufio.NewWriterSize(io.MultiWriter(f, h), 64<<10)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return apperrors.Storage(err, "writing %s", name)
	}
	if err := f.Sync(); err != nil {
		return apperrors.Storage(err, "syncing %s", name)
	}
	if err := f.Close(); err != nil {
		return apperrors.Storage(err, "closing %s", name)
	}
	if err := os.Rename(tmp, final); err != nil {
		return apperrors.Storage(err, "renaming %s", name)
	}
	st.checksums[filepath.ToSlash(name)] = h.Sum32()
	return nil
}

// WriteBarrel writes barrel b.
func (st *Staged) WriteBarrel(b int, write func(io.Writer) error) error {
	return st.WriteArtifact(BarrelFile(b), write)
}

// Commit writes the manifest, publishes the staged directory and swaps the
// CURRENT pointer to it. Every barrel in [0, m.BarrelCount) must have been
// written. On error the previous generation stays active and the caller
// should Abort.
func (st *Staged) Commit(m Manifest) (*Generation, error) {
	if st.done {
		return nil, apperrors.Storage(errors.New("generation already finished"), "committing %s", st.id)
	}
	m.FormatVersion = FormatVersion
	m.Generation = st.id
	m.Checksums = maps.Clone(st.checksums)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := st.WriteArtifact(ManifestFile, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&m)
	}); err != nil {
		return nil, err
	}

	root := st.store.dataDir
	if err := os.MkdirAll(filepath.Join(root, generationsDir), 0o755); err != nil {
		return nil, apperrors.Storage(err, "creating generations directory")
	}
	published := filepath.Join(root, generationsDir, st.id)
	if err := os.Rename(st.dir, published); err != nil {
		return nil, apperrors.Storage(err, "publishing generation %s", st.id)
	}
	st.dir = published
	if err := syncDir(filepath.Join(root, generationsDir)); err != nil {
		return nil, err
	}
	if err := writeCurrent(root, st.id); err != nil {
		return nil, err
	}
	st.done = true
	st.store.logger.Info("generation published",
		"generation", st.id,
		"barrels", m.BarrelCount,
		"documents", m.Documents,
		"terms", m.Terms,
	)
	return &Generation{dir: published, manifest: &m}, nil
}

// Abort discards the staged generation. It is a no-op after Commit
// succeeded. If Commit failed after publishing the directory, the directory
// is removed as long as CURRENT does not point at it.
func (st *Staged) Abort() error {
	if st.done {
		return nil
	}
	st.done = true
	if cur, err := st.store.Current(); err == nil && cur == st.id {
		return nil
	}
	if err := os.RemoveAll(st.dir); err != nil {
		return apperrors.Storage(err, "removing staged generation %s", st.id)
	}
	st.store.logger.Warn("staged generation discarded", "generation", st.id)
	return nil
}

func writeCurrent(root, id string) error {
	final := filepath.Join(root, CurrentFile)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Storage(err, "creating %s", tmp)
	}
	defer f.Close()
	if _, err := f.WriteString(id + "\n"); err != nil {
		return apperrors.Storage(err, "writing %s", tmp)
	}
	if err := f.Sync(); err != nil {
		return apperrors.Storage(err, "syncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return apperrors.Storage(err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, final); err != nil {
		return apperrors.Storage(err, "swapping %s", CurrentFile)
	}
	return syncDir(root)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return apperrors.Storage(err, "opening %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return apperrors.Storage(err, "syncing %s", dir)
	}
	return nil
}

func parseGeneration(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, genPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func sortGenerations(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, _ := parseGeneration(ids[i])
		b, _ := parseGeneration(ids[j])
		return a < b
	})
}

// Newer reports whether generation a was staged after generation b.
// Malformed IDs are never newer.
func Newer(a, b string) bool {
	na, ok := parseGeneration(a)
	if !ok {
		return false
	}
	nb, ok := parseGeneration(b)
	if !ok {
		return true
	}
	return na > nb
}
