package repository

import (
	"edgecam/internal/model"
)

// ArtifactRepository defines the ingestion ledger operations.
type ArtifactRepository interface {
	// Create operations
	Insert(a *model.Artifact) (bool, error)
	InsertBatch(artifacts []model.Artifact) (int, error)

	// Read operations
	GetByPath(relPath string) (*model.Artifact, error)
	Count() (int, error)
	Stats() (*model.LedgerStats, error)

	// Delete operations
	DeleteAll() error
}
