package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"path/filepath"
	"testing"

	"edgecam/internal/dto"
	"edgecam/internal/logger"
	"edgecam/internal/model"
	"edgecam/internal/repository/sqlite"
	"edgecam/internal/service/storage"
)

// ========================================
// Fakes
// ========================================

type recordingBroadcaster struct {
	messages [][]byte
}

func (b *recordingBroadcaster) Broadcast(message []byte) bool {
	b.messages = append(b.messages, message)
	return true
}

type recordingPublisher struct {
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, _ any) error {
	p.subjects = append(p.subjects, subj)
	return p.err
}

type failingLedger struct {
	*sqlite.ArtifactRepository
}

func (failingLedger) Insert(*model.Artifact) (bool, error) {
	return false, errors.New("disk I/O error")
}

func testJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T) (*Manager, *sqlite.ArtifactRepository, *recordingBroadcaster, *recordingPublisher) {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := sqlite.New(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ledger := sqlite.NewArtifactRepository(db)
	b := &recordingBroadcaster{}
	p := &recordingPublisher{}
	return NewManager(store, ledger, b, p, logger.NewNop()), ledger, b, p
}

// ========================================
// Ingest
// ========================================

func TestIngest_RecordsAndAnnounces(t *testing.T) {
	m, ledger, b, p := newTestManager(t)

	stored, err := m.Ingest(context.Background(), testJPEG(t, 10), "a.jpg")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	row, err := ledger.GetByPath(stored.RelPath)
	if err != nil || row == nil {
		t.Fatalf("Ledger row missing: %v", err)
	}
	if row.Digest != stored.Digest || row.Size != stored.Size {
		t.Errorf("Ledger row = %+v", row)
	}

	if len(b.messages) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(b.messages))
	}
	var event dto.ArtifactEvent
	if err := json.Unmarshal(b.messages[0], &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != "artifact" || event.URL != stored.URL || event.Subdir != stored.Day {
		t.Errorf("Event = %+v", event)
	}

	if len(p.subjects) != 1 || p.subjects[0] != "edgecam.artifacts.stored" {
		t.Errorf("Published subjects = %v", p.subjects)
	}
}

func TestIngest_DuplicateNotAnnouncedAgain(t *testing.T) {
	m, ledger, b, p := newTestManager(t)
	payload := testJPEG(t, 20)

	m.Ingest(context.Background(), payload, "a.jpg")
	second, err := m.Ingest(context.Background(), payload, "a.jpg")
	if err != nil {
		t.Fatal(err)
	}

	if !second.Duplicate {
		t.Error("Expected duplicate")
	}
	if len(b.messages) != 1 || len(p.subjects) != 1 {
		t.Errorf("Duplicate was announced: %d broadcasts, %d publishes", len(b.messages), len(p.subjects))
	}
	if count, _ := ledger.Count(); count != 1 {
		t.Errorf("Ledger count = %d", count)
	}
}

func TestIngest_SideEffectFailuresAreNotFatal(t *testing.T) {
	m, ledger, _, p := newTestManager(t)
	m.ledger = failingLedger{ledger}
	p.err = errors.New("no responders")

	if _, err := m.Ingest(context.Background(), testJPEG(t, 30), "a.jpg"); err != nil {
		t.Errorf("Ledger and bus failures must not fail the upload: %v", err)
	}
}

func TestIngest_WithoutOptionalCollaborators(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, nil, nil, nil, logger.NewNop())

	if _, err := m.Ingest(context.Background(), testJPEG(t, 40), "a.jpg"); err != nil {
		t.Errorf("Ingest failed: %v", err)
	}
}

func TestIngest_InvalidType(t *testing.T) {
	m, _, b, _ := newTestManager(t)

	if _, err := m.Ingest(context.Background(), testJPEG(t, 50), "a.gif"); !errors.Is(err, storage.ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType, got %v", err)
	}
	if len(b.messages) != 0 {
		t.Error("Nothing should be broadcast")
	}
}
