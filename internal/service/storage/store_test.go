package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"edgecam/internal/metadata"
)

// ========================================
// Test Setup Helpers
// ========================================

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 6, 2, 12, 0, 0, 0, time.Local) }
	return s
}

func plainJPEG(t *testing.T, shade uint8) []byte {
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

func taggedJPEG(t *testing.T, captured time.Time, shade uint8) []byte {
	t.Helper()

	out, err := metadata.Tag(plainJPEG(t, shade), metadata.Header{CapturedAt: &captured}, nil)
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}
	return out
}

// ========================================
// Save
// ========================================

func TestSave_BucketsByCaptureDay(t *testing.T) {
	s := newTestStore(t)
	payload := taggedJPEG(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local), 10)

	stored, err := s.Save(payload, "img_20240501-100000.jpg")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if stored.Day != "20240501" {
		t.Errorf("Day = %s, expected 20240501", stored.Day)
	}
	if stored.URL != "/static/uploads/20240501/img_20240501-100000.jpg" {
		t.Errorf("URL = %s", stored.URL)
	}
	if stored.Duplicate {
		t.Error("First save reported as duplicate")
	}
	if stored.Metadata.CapturedAt == nil || *stored.Metadata.CapturedAt != "2024-05-01 10:00:00" {
		t.Errorf("CapturedAt = %v", stored.Metadata.CapturedAt)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), "20240501", "img_20240501-100000.jpg"))
	if err != nil || !bytes.Equal(got, payload) {
		t.Error("Stored bytes differ from the payload")
	}
}

func TestSave_NoMetadataUsesToday(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.Save(plainJPEG(t, 20), "x.jpg")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if stored.Day != "20240602" {
		t.Errorf("Day = %s, expected the server date 20240602", stored.Day)
	}
	if stored.Metadata.CapturedAt != nil {
		t.Error("CapturedAt should be absent")
	}
}

func TestSave_DuplicateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	payload := plainJPEG(t, 30)

	first, err := s.Save(payload, "x.jpg")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Save(payload, "x.jpg")
	if err != nil {
		t.Fatal(err)
	}

	if !second.Duplicate {
		t.Error("Identical resend should be a duplicate")
	}
	if second.RelPath != first.RelPath {
		t.Errorf("Duplicate points at %s, expected %s", second.RelPath, first.RelPath)
	}

	files, _ := os.ReadDir(filepath.Join(s.Root(), first.Day))
	if len(files) != 1 {
		t.Errorf("Expected 1 file, got %d", len(files))
	}
}

func TestSave_SameNameDifferentBytes(t *testing.T) {
	s := newTestStore(t)

	names := []string{}
	for i := 0; i < 3; i++ {
		stored, err := s.Save(plainJPEG(t, uint8(40+i*50)), "x.jpg")
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, stored.Filename)
	}

	expected := []string{"x.jpg", "x_1.jpg", "x_2.jpg"}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("Save %d stored %s, expected %s", i, names[i], expected[i])
		}
	}
}

func TestSave_DuplicateOfSuffixedCopy(t *testing.T) {
	s := newTestStore(t)
	a, b := plainJPEG(t, 1), plainJPEG(t, 200)

	s.Save(a, "x.jpg")
	s.Save(b, "x.jpg")
	again, err := s.Save(b, "x.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate || again.Filename != "x_1.jpg" {
		t.Errorf("Resend of the second payload = %+v", again)
	}
}

func TestSave_Concurrent(t *testing.T) {
	s := newTestStore(t)
	const writers = 12

	payloads := make([][]byte, writers)
	for i := range payloads {
		payloads[i] = plainJPEG(t, uint8(i*20))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]bool)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := s.Save(payloads[i], "same.jpg")
			if err != nil {
				t.Errorf("Save %d failed: %v", i, err)
				return
			}
			mu.Lock()
			paths[stored.RelPath] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(paths) != writers {
		t.Errorf("Expected %d distinct paths, got %d", writers, len(paths))
	}

	files, _ := os.ReadDir(filepath.Join(s.Root(), "20240602"))
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".part" {
			t.Errorf("Temporary file left behind: %s", f.Name())
		}
	}
}

func TestSave_LongName(t *testing.T) {
	s := newTestStore(t)
	name := strings.Repeat("a", 240) + ".jpg"
	expected := strings.Repeat("a", MaxStemBytes) + ".jpg"

	first, err := s.Save(plainJPEG(t, 70), name)
	if err != nil {
		t.Fatalf("Save of a %d byte name failed: %v", len(name), err)
	}
	if first.Filename != expected {
		t.Errorf("Filename has %d bytes, expected %d", len(first.Filename), len(expected))
	}

	second, err := s.Save(plainJPEG(t, 71), name)
	if err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	if second.Filename != strings.Repeat("a", MaxStemBytes)+"_1.jpg" {
		t.Errorf("Second filename = %s", second.Filename)
	}
}

func TestNewStore_SweepsAbandonedTemps(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	day := filepath.Join(root, "20240501")
	os.MkdirAll(day, 0755)

	abandoned := filepath.Join(day, ".up-42.part")
	os.WriteFile(abandoned, []byte("partial"), 0644)
	old := time.Now().Add(-time.Hour)
	os.Chtimes(abandoned, old, old)

	if _, err := NewStore(root); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(abandoned); !os.IsNotExist(err) {
		t.Error("Abandoned temp file should be removed on open")
	}
}

func TestSave_InvalidType(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save(plainJPEG(t, 0), "x.png"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType, got %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("Rejected save wrote %d entries", len(entries))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"img_20240501-100000.jpg", "img_20240501-100000.jpg"},
		{"PHOTO.JPG", "PHOTO.jpg"},
		{"../../etc/passwd.jpg", "passwd.jpg"},
		{`C:\Users\cam\shot.jpeg`, "shot.jpeg"},
		{"my photo (1).jpg", "my_photo__1_.jpg"},
		{".hidden.jpg", "hidden.jpg"},
		{"__x.jpg", "x.jpg"},
		{"zdjęcie.jpg", "zdj_cie.jpg"},
		{".jpg", "jpg"},
		{strings.Repeat("b", 300) + ".JPG", strings.Repeat("b", MaxStemBytes) + ".jpg"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("SanitizeFilename(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsImageName(t *testing.T) {
	for name, expected := range map[string]bool{
		"a.jpg": true, "a.JPEG": true, "a.Jpg": true,
		"a.png": false, "a": false, "a.jpg.part": false,
	} {
		if IsImageName(name) != expected {
			t.Errorf("IsImageName(%q) = %v", name, !expected)
		}
	}
}

func TestDigestFile(t *testing.T) {
	s := newTestStore(t)
	payload := plainJPEG(t, 77)

	stored, err := s.Save(payload, "d.jpg")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := DigestFile(filepath.Join(s.Root(), stored.Day, stored.Filename))
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprintf("%x", sum) != stored.Digest {
		t.Errorf("Digest mismatch: %x vs %s", sum, stored.Digest)
	}
}
