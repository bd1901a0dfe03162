package service

import (
	"context"
	"encoding/json"
	"time"

	"edgecam/internal/bus"
	"edgecam/internal/dto"
	"edgecam/internal/logger"
	"edgecam/internal/metrics"
	"edgecam/internal/model"
	"edgecam/internal/repository"
	"edgecam/internal/service/storage"
)

// Broadcaster pushes a message to live viewers without blocking.
type Broadcaster interface {
	Broadcast(message []byte) bool
}

// Publisher sends an event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Manager coordinates what happens to an accepted upload: it is stored
// first, then recorded, counted, broadcast and published. Only the store
// step can fail the request.
type Manager struct {
	store       *storage.Store
	ledger      repository.ArtifactRepository
	broadcaster Broadcaster
	publisher   Publisher
	logger      *logger.Logger
	now         func() time.Time
}

// NewManager wires the ingest pipeline. ledger, broadcaster and publisher
// may be nil.
func NewManager(store *storage.Store, ledger repository.ArtifactRepository, broadcaster Broadcaster, publisher Publisher, logger *logger.Logger) *Manager {
	return &Manager{
		store:       store,
		ledger:      ledger,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// Store returns the artifact store.
func (m *Manager) Store() *storage.Store {
	return m.store
}

// Ledger returns the ingestion ledger, or nil when running without one.
func (m *Manager) Ledger() repository.ArtifactRepository {
	return m.ledger
}

// Ingest stores payload under the sanitized filename. A duplicate of an
// already stored artifact is returned as-is and not announced again.
func (m *Manager) Ingest(ctx context.Context, payload []byte, filename string) (*storage.StoredArtifact, error) {
	stored, err := m.store.Save(payload, filename)
	if err != nil {
		return nil, err
	}

	if stored.Duplicate {
		m.logger.Info("Duplicate upload of %s ignored", stored.RelPath)
		metrics.Ingested(metrics.ResultDuplicate, stored.Size)
		return stored, nil
	}

	m.logger.Info("📥 Stored %s (%d bytes)", stored.RelPath, stored.Size)
	metrics.Ingested(metrics.ResultStored, stored.Size)

	m.record(stored)

	event := dto.ArtifactEvent{
		Type:     "artifact",
		Filename: stored.Filename,
		URL:      stored.URL,
		Subdir:   stored.Day,
		Size:     stored.Size,
		Digest:   stored.Digest,
		Metadata: stored.Metadata,
	}
	m.announce(event)

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, bus.SubjectStored, event); err != nil {
			m.logger.Warning("Failed to publish %s: %v", stored.RelPath, err)
		}
	}
	return stored, nil
}

func (m *Manager) record(stored *storage.StoredArtifact) {
	if m.ledger == nil {
		return
	}

	row := &model.Artifact{
		Filename:   stored.Filename,
		Day:        stored.Day,
		RelPath:    stored.RelPath,
		Size:       stored.Size,
		Digest:     stored.Digest,
		ReceivedAt: m.now(),
	}
	if t, ok := stored.Metadata.CapturedTime(); ok {
		row.CapturedAt = &t
	}

	if _, err := m.ledger.Insert(row); err != nil {
		m.logger.Error("Failed to record %s in ledger: %v", stored.RelPath, err)
	}
}

func (m *Manager) announce(event dto.ArtifactEvent) {
	if m.broadcaster == nil {
		return
	}
	msg, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("Failed to encode live update: %v", err)
		return
	}
	m.broadcaster.Broadcast(msg)
}
