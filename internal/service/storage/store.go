// Package storage persists ingested artifacts under per-day directories of
// the upload root and lists them back.
package storage

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"edgecam/internal/fsutil"
	"edgecam/internal/metadata"
)

// URLPrefix is where the upload root is served.
const URLPrefix = "/static/uploads/"

// ErrInvalidType is returned for payloads whose name is not a JPEG name.
var ErrInvalidType = errors.New("invalid file type")

// StoredArtifact describes where Save put a payload.
type StoredArtifact struct {
	Filename  string
	Day       string
	RelPath   string
	URL       string
	Size      int64
	Digest    string
	Metadata  metadata.Metadata
	Duplicate bool
}

// Store writes artifacts below root.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates the upload root if needed and removes temporary files
// left by uploads that were interrupted mid-write.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	fsutil.SweepTemps(root, time.Now().Add(-fsutil.StaleAfter))
	return &Store{root: root, now: time.Now}, nil
}

// Root returns the upload root directory.
func (s *Store) Root() string {
	return s.root
}

// Save stores payload under <root>/<day>/<name>, where day comes from the
// embedded capture time or today's date. An existing file is never
// replaced; a name already holding identical bytes is returned with
// Duplicate set instead of writing a copy.
func (s *Store) Save(payload []byte, declaredName string) (*StoredArtifact, error) {
	name := SanitizeFilename(declaredName)
	if !IsImageName(name) {
		return nil, ErrInvalidType
	}

	md := metadata.Extract(payload)
	day := md.DayKeyOr(s.now())

	dir := filepath.Join(s.root, day)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create day directory: %w", err)
	}

	sum := blake3.Sum256(payload)
	size := int64(len(payload))

	final, existed, err := fsutil.WriteUnique(dir, name, payload, sameContent(size, sum))
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(final)
	rel := path.Join(day, filename)
	return &StoredArtifact{
		Filename:  filename,
		Day:       day,
		RelPath:   rel,
		URL:       URLPrefix + rel,
		Size:      size,
		Digest:    hex.EncodeToString(sum[:]),
		Metadata:  md,
		Duplicate: existed,
	}, nil
}

// sameContent compares an existing file by size first and BLAKE3 digest
// second.
func sameContent(size int64, sum [32]byte) fsutil.SameFunc {
	return func(p string) (bool, error) {
		info, err := os.Stat(p)
		if err != nil {
			return false, err
		}
		if !info.Mode().IsRegular() || info.Size() != size {
			return false, nil
		}

		other, err := DigestFile(p)
		if err != nil {
			return false, err
		}
		return bytes.Equal(other[:], sum[:]), nil
	}
}

// DigestFile returns the BLAKE3 digest of the file at p.
func DigestFile(p string) ([32]byte, error) {
	var sum [32]byte

	f, err := os.Open(p)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// IsImageName reports whether name has a .jpg or .jpeg extension,
// ignoring case.
func IsImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// MaxStemBytes caps the sanitized name without its extension, leaving
// room for _N suffixes within the usual 255 byte file name limit.
const MaxStemBytes = 200

// SanitizeFilename reduces a client-supplied name to a safe base name:
// directory parts are dropped, characters outside [A-Za-z0-9._-] become
// '_', leading dots and underscores are stripped, the stem is cut to
// MaxStemBytes and the extension is lower-cased.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = strings.TrimLeft(b.String(), "._")

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if len(stem) > MaxStemBytes {
		stem = stem[:MaxStemBytes]
	}
	if stem == "" {
		stem = "image"
	}
	return stem + strings.ToLower(ext)
}
