package service

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"edgecam/internal/metadata"
	"edgecam/internal/model"
	"edgecam/internal/repository"
	"edgecam/internal/service/storage"
)

// BackfillResult reports what Backfill found and recorded.
type BackfillResult struct {
	Scanned  int
	Inserted int
	Skipped  []string
}

// Backfill walks the upload root and records every artifact missing from
// the ledger. Files outside a day directory and unreadable files are
// skipped and reported. The file modification time stands in for the
// arrival time.
func Backfill(store *storage.Store, ledger repository.ArtifactRepository) (*BackfillResult, error) {
	result := &BackfillResult{}
	var rows []model.Artifact

	err := filepath.WalkDir(store.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !storage.IsImageName(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(store.Root(), p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		result.Scanned++

		day, name, ok := strings.Cut(rel, "/")
		if !ok || strings.Contains(name, "/") || !storage.ValidDay(day) {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}
		sum, err := storage.DigestFile(p)
		if err != nil {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		row := model.Artifact{
			Filename:   name,
			Day:        day,
			RelPath:    rel,
			Size:       info.Size(),
			Digest:     hex.EncodeToString(sum[:]),
			ReceivedAt: info.ModTime(),
		}
		if t, ok := metadata.ExtractFile(p).CapturedTime(); ok {
			row.CapturedAt = &t
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		if result.Inserted, err = ledger.InsertBatch(rows); err != nil {
			return nil, err
		}
	}
	return result, nil
}
