package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgecam/internal/model"
)

// timeLayout is fixed-width UTC so stored values sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ArtifactRepository implements repository.ArtifactRepository for SQLite.
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new SQLite artifact repository.
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Insert records a stored artifact. A row for the same relative path is
// left untouched and Insert reports false. A missing ID is generated.
func (r *ArtifactRepository) Insert(a *model.Artifact) (bool, error) {
	r.db.Lock()
	defer r.db.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now()
	}

	result, err := r.db.Conn().Exec(`
		INSERT OR IGNORE INTO artifacts (id, filename, day, rel_path, size, digest, captured_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Filename, a.Day, a.RelPath, a.Size, a.Digest, nullTime(a.CapturedAt), a.ReceivedAt.UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("failed to insert artifact: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertBatch records many artifacts in a single transaction and returns
// how many were new. Rows whose path is already present are skipped.
func (r *ArtifactRepository) InsertBatch(artifacts []model.Artifact) (int, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO artifacts (id, filename, day, rel_path, size, digest, captured_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range artifacts {
		a := &artifacts[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.ReceivedAt.IsZero() {
			a.ReceivedAt = time.Now()
		}

		result, err := stmt.Exec(a.ID, a.Filename, a.Day, a.RelPath, a.Size, a.Digest,
			nullTime(a.CapturedAt), a.ReceivedAt.UTC().Format(timeLayout))
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", a.RelPath, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// GetByPath retrieves an artifact by its path below the upload root.
func (r *ArtifactRepository) GetByPath(relPath string) (*model.Artifact, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var (
		a        model.Artifact
		captured sql.NullString
		received string
	)
	err := r.db.Conn().QueryRow(`
		SELECT id, filename, day, rel_path, size, digest, captured_at, received_at
		FROM artifacts WHERE rel_path = ?
	`, relPath).Scan(&a.ID, &a.Filename, &a.Day, &a.RelPath, &a.Size, &a.Digest, &captured, &received)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if a.ReceivedAt, err = time.Parse(timeLayout, received); err != nil {
		return nil, fmt.Errorf("failed to parse received_at: %w", err)
	}
	if captured.Valid {
		t, err := time.Parse(timeLayout, captured.String)
		if err == nil {
			a.CapturedAt = &t
		}
	}
	return &a, nil
}

// Count returns the number of recorded artifacts.
func (r *ArtifactRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

// Stats returns totals and per-day counts.
func (r *ArtifactRepository) Stats() (*model.LedgerStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.LedgerStats{PerDay: make(map[string]int)}

	// Totals
	var last sql.NullString
	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(size), 0), MAX(received_at) FROM artifacts
	`).Scan(&stats.TotalArtifacts, &stats.TotalBytes, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	if last.Valid {
		if t, err := time.Parse(timeLayout, last.String); err == nil {
			stats.LastReceivedAt = &t
		}
	}

	// Artifacts per day
	rows, err := r.db.Conn().Query(`SELECT day, COUNT(*) FROM artifacts GROUP BY day`)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			day   string
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		stats.PerDay[day] = count
	}
	return stats, rows.Err()
}

// DeleteAll removes every ledger row. Stored files are not touched.
func (r *ArtifactRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM artifacts`); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
