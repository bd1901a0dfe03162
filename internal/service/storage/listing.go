package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"edgecam/internal/dto"
	"edgecam/internal/fsutil"
	"edgecam/internal/metadata"
)

// ErrInvalidDay is returned by ListDay for a key that is not YYYYMMDD.
var ErrInvalidDay = errors.New("invalid day, expected YYYYMMDD")

type entry struct {
	info    dto.ArtifactInfo
	modTime time.Time
}

// List returns every stored artifact, newest first. Ties on storage time
// are broken by filename, descending.
func (s *Store) List() ([]dto.ArtifactInfo, error) {
	return s.list(s.root)
}

// ListDay is List restricted to one day directory. A day without
// artifacts yields an empty list.
func (s *Store) ListDay(day string) ([]dto.ArtifactInfo, error) {
	if !ValidDay(day) {
		return nil, ErrInvalidDay
	}
	return s.list(filepath.Join(s.root, day))
}

func (s *Store) list(dir string) ([]dto.ArtifactInfo, error) {
	var entries []entry

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// vanished mid-scan, or the day directory does not exist yet
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isListable(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		entries = append(entries, entry{
			info: dto.ArtifactInfo{
				Filename:   d.Name(),
				URL:        URLPrefix + filepath.ToSlash(rel),
				UploadTime: info.ModTime().Local().Format(metadata.TimestampLayout),
				Metadata:   metadata.ExtractFile(p),
			},
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.After(entries[j].modTime)
		}
		return entries[i].info.Filename > entries[j].info.Filename
	})

	out := make([]dto.ArtifactInfo, len(entries))
	for i, e := range entries {
		out[i] = e.info
	}
	return out, nil
}

// Days summarises each day directory, newest day first.
func (s *Store) Days() ([]dto.DaySummary, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []dto.DaySummary{}, nil
		}
		return nil, err
	}

	days := []dto.DaySummary{}
	for _, d := range dirs {
		if !d.IsDir() || !ValidDay(d.Name()) {
			continue
		}

		files, err := os.ReadDir(filepath.Join(s.root, d.Name()))
		if err != nil {
			continue
		}

		var (
			count  int
			latest time.Time
		)
		for _, f := range files {
			if f.IsDir() || !isListable(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			count++
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
		if count == 0 {
			continue
		}

		days = append(days, dto.DaySummary{
			Day:              d.Name(),
			Count:            count,
			LatestUploadTime: latest.Local().Format(metadata.TimestampLayout),
		})
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Day > days[j].Day })
	return days, nil
}

// ValidDay reports whether day is a real calendar date in YYYYMMDD form.
func ValidDay(day string) bool {
	if len(day) != len(metadata.DayKeyLayout) {
		return false
	}
	for _, r := range day {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, err := time.Parse(metadata.DayKeyLayout, day)
	return err == nil
}

func isListable(name string) bool {
	return !fsutil.IsTemp(name) && IsImageName(name)
}
