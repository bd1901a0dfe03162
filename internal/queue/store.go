// Package queue is the device-local durable queue of captured artifacts
// that have not yet been confirmed by the server.
package queue

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"edgecam/internal/fsutil"
)

const (
	// RejectedDir holds quarantined artifacts inside the queue directory.
	RejectedDir = "rejected"

	namePrefix = "img_"
	nameLayout = "20060102-150405"
	nameExt    = ".jpg"
)

// ErrNotFound is returned for identifiers that are not pending.
var ErrNotFound = errors.New("artifact not found")

// Store is a directory-backed queue. Every final .jpg file in the
// directory is a pending artifact.
type Store struct {
	dir string
}

// NewStore opens the queue directory, creating it if needed. Temporary
// files abandoned by an interrupted Enqueue are removed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	fsutil.SweepTemps(dir, time.Now().Add(-fsutil.StaleAfter))
	return &Store{dir: dir}, nil
}

// Dir returns the queue directory.
func (s *Store) Dir() string {
	return s.dir
}

// NameFor returns the base identifier for an artifact captured at t.
func NameFor(t time.Time) string {
	return namePrefix + t.Format(nameLayout) + nameExt
}

// Enqueue durably stores payload and returns its identifier. An existing
// artifact is never overwritten: a capture in the same second gets a
// _1, _2, ... suffix.
func (s *Store) Enqueue(payload []byte, capturedAt time.Time) (string, error) {
	path, _, err := fsutil.WriteUnique(s.dir, NameFor(capturedAt), payload, nil)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return filepath.Base(path), nil
}

// Pending returns a snapshot of queued identifiers, oldest first.
// Temporaries, directories and non-image files are not members.
func (s *Store) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !isArtifact(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids, nil
}

// Path returns the location of a pending artifact.
func (s *Store) Path(id string) (string, error) {
	if !validID(id) {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, id)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", id, err)
	}
	return path, nil
}

// Open opens a pending artifact for reading.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return f, err
}

// Remove deletes a delivered artifact. Removing an absent artifact
// succeeds, so a retried removal is harmless.
func (s *Store) Remove(id string) error {
	if !validID(id) {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Quarantine moves an artifact into the rejected directory, where it is
// no longer pending. Name clashes there get a numeric suffix.
func (s *Store) Quarantine(id string) (string, error) {
	src, err := s.Path(id)
	if err != nil {
		return "", err
	}
	rejected := filepath.Join(s.dir, RejectedDir)
	if err := os.MkdirAll(rejected, 0755); err != nil {
		return "", fmt.Errorf("create rejected directory: %w", err)
	}

	for i := 0; i < fsutil.MaxCandidates; i++ {
		dst := filepath.Join(rejected, fsutil.Candidate(id, i))
		err := os.Link(src, dst)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("quarantine %s: %w", id, err)
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("quarantine %s: %w", id, err)
		}
		return dst, nil
	}
	return "", fmt.Errorf("quarantine %s: %w", id, fsutil.ErrExhausted)
}

// Rejected lists quarantined artifacts.
func (s *Store) Rejected() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, RejectedDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rejected: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.Type().IsRegular() && isArtifact(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func isArtifact(name string) bool {
	if fsutil.IsTemp(name) || strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}

func validID(id string) bool {
	return id != "" && id == filepath.Base(id) && isArtifact(id)
}

// lessID orders identifiers by capture stamp, then by numeric suffix, so
// img_x_2.jpg sorts before img_x_10.jpg.
func lessID(a, b string) bool {
	sa, na := splitSuffix(a)
	sb, nb := splitSuffix(b)
	if sa != sb {
		return sa < sb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitSuffix(id string) (string, int) {
	stem := strings.TrimSuffix(id, filepath.Ext(id))
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return stem, 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil || n <= 0 {
		return stem, 0
	}
	return stem[:i], n
}
