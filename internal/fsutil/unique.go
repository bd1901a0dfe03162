// Package fsutil writes files that must never replace an existing one.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxCandidates bounds the name_N suffix search.
	MaxCandidates = 10000

	// StaleAfter is how old a temporary file must be before SweepTemps
	// treats it as abandoned.
	StaleAfter = 10 * time.Minute

	tempPattern = ".up-*.part"
)

// ErrExhausted is returned when every candidate name up to MaxCandidates
// is already taken by different content.
var ErrExhausted = errors.New("no free file name")

// SameFunc reports whether the existing file at path already holds the
// content being written. A nil SameFunc treats every existing file as
// different.
type SameFunc func(path string) (bool, error)

// Candidate returns the i-th name for base: "name.ext" for 0 and
// "name_i.ext" after that.
func Candidate(base string, i int) string {
	if i == 0 {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + strconv.Itoa(i) + ext
}

// WriteUnique stores data in dir under name or the first free name_N
// variant. The payload is written to a hidden temporary file, synced and
// then hard-linked into place, so the final name either does not exist or
// holds the complete payload. Linking fails when the target exists, which
// makes concurrent writers race safely for distinct names.
//
// When same reports that a candidate already holds identical content, no
// new file is created and existed is true.
func WriteUnique(dir, name string, data []byte, same SameFunc) (path string, existed bool, err error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", false, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("close temp: %w", err)
	}

	for i := 0; i < MaxCandidates; i++ {
		candidate := filepath.Join(dir, Candidate(name, i))

		err := os.Link(tmpName, candidate)
		if err == nil {
			syncDir(dir)
			return candidate, false, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", false, fmt.Errorf("promote %s: %w", filepath.Base(candidate), err)
		}

		if same != nil {
			ok, err := same(candidate)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("compare %s: %w", filepath.Base(candidate), err)
			}
			if ok {
				return candidate, true, nil
			}
		}
	}
	return "", false, fmt.Errorf("%s: %w", name, ErrExhausted)
}

// IsTemp reports whether name is a temporary file left by WriteUnique.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".part")
}

// SweepTemps removes temporary files under root that were last modified
// before cutoff. They are left behind only when a writer died between
// creating and removing them. It returns how many were removed.
func SweepTemps(root string, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !IsTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// syncDir flushes the directory entry of a freshly linked file. Errors are
// ignored: some filesystems do not support syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
