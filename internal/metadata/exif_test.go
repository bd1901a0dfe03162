package metadata

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestTagAndExtract(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	payload := testJPEG(t, 32, 24)

	tagged, err := Tag(payload, Header{CapturedAt: &at}, nil)
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}

	md := Extract(tagged)
	if md.CapturedAt == nil {
		t.Fatal("Expected captured_at to be present")
	}
	if *md.CapturedAt != "2024-05-01 10:00:00" {
		t.Errorf("captured_at = %s, expected 2024-05-01 10:00:00", *md.CapturedAt)
	}
	if md.Latitude != nil || md.Longitude != nil {
		t.Error("Position should be absent when not tagged")
	}
	if md.Temperature != nil {
		t.Error("Temperature should be absent when not tagged")
	}
}

func TestTag_PreservesDimensions(t *testing.T) {
	at := time.Now()
	payload := testJPEG(t, 40, 16)

	tagged, err := Tag(payload, Header{CapturedAt: &at}, nil)
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(tagged))
	if err != nil {
		t.Fatalf("Tagged payload no longer decodes: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 16 {
		t.Errorf("Dimensions changed: %dx%d", cfg.Width, cfg.Height)
	}
}

func TestTag_EnvironmentAndPosition(t *testing.T) {
	at := time.Date(2024, 7, 14, 6, 30, 5, 0, time.Local)
	header := Header{
		CapturedAt:  &at,
		Environment: Environment{Temperature: Float(18.25), Pressure: Float(1009.5), Humidity: Float(0)},
	}
	pos := &Position{Latitude: 51.107883, Longitude: -17.038538}

	tagged, err := Tag(testJPEG(t, 8, 8), header, pos)
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}

	md := Extract(tagged)
	if md.Temperature == nil || *md.Temperature != 18.25 {
		t.Errorf("temperature = %v", md.Temperature)
	}
	if md.Pressure == nil || *md.Pressure != 1009.5 {
		t.Errorf("pressure = %v", md.Pressure)
	}
	if md.Humidity == nil || *md.Humidity != 0 {
		t.Errorf("humidity should be a present zero, got %v", md.Humidity)
	}
	if md.Latitude == nil || math.Abs(*md.Latitude-pos.Latitude) > 1e-6 {
		t.Errorf("latitude = %v, expected %v", md.Latitude, pos.Latitude)
	}
	if md.Longitude == nil || math.Abs(*md.Longitude-pos.Longitude) > 1e-6 {
		t.Errorf("longitude = %v, expected %v", md.Longitude, pos.Longitude)
	}
}

func TestTag_Retag(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	second := time.Date(2024, 2, 2, 12, 0, 0, 0, time.Local)

	tagged, err := Tag(testJPEG(t, 8, 8), Header{CapturedAt: &first}, nil)
	if err != nil {
		t.Fatalf("First Tag failed: %v", err)
	}
	retagged, err := Tag(tagged, Header{CapturedAt: &second}, nil)
	if err != nil {
		t.Fatalf("Second Tag failed: %v", err)
	}

	md := Extract(retagged)
	if md.CapturedAt == nil || *md.CapturedAt != "2024-02-02 12:00:00" {
		t.Errorf("captured_at = %v, expected the second timestamp", md.CapturedAt)
	}
}

func TestTag_NotJPEG(t *testing.T) {
	_, err := Tag([]byte("\x89PNG\r\n\x1a\n not a jpeg"), Header{}, nil)
	if err != ErrNotJPEG {
		t.Errorf("Expected ErrNotJPEG, got %v", err)
	}
}

func TestExtract_Absent(t *testing.T) {
	tests := map[string][]byte{
		"nil":            nil,
		"garbage":        []byte("definitely not an image"),
		"jpeg no exif":   testJPEG(t, 4, 4),
		"truncated jpeg": {0xFF, 0xD8, 0xFF, 0xE1, 0x00},
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			md := Extract(payload)
			if md.CapturedAt != nil {
				t.Errorf("Expected absent captured_at, got %s", *md.CapturedAt)
			}
			if md.Latitude != nil || md.Temperature != nil {
				t.Errorf("Expected all fields absent, got %+v", md)
			}
		})
	}
}

func TestExtractFile(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	tagged, err := Tag(testJPEG(t, 16, 16), Header{CapturedAt: &at}, nil)
	if err != nil {
		t.Fatalf("Tag failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "img.jpg")
	if err := os.WriteFile(path, tagged, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	md := ExtractFile(path)
	if md.CapturedAt == nil || *md.CapturedAt != "2024-05-01 10:00:00" {
		t.Errorf("captured_at = %v", md.CapturedAt)
	}

	if md := ExtractFile(filepath.Join(t.TempDir(), "missing.jpg")); md.CapturedAt != nil {
		t.Error("Missing file should yield absent metadata")
	}
}

func TestMetadata_JSONNulls(t *testing.T) {
	data, err := json.Marshal(Metadata{Environment: Environment{Temperature: Float(0)}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for _, key := range []string{"captured_at", "pressure", "humidity", "latitude", "longitude"} {
		v, ok := decoded[key]
		if !ok {
			t.Errorf("Expected key %s in %s", key, data)
		}
		if v != nil {
			t.Errorf("Expected %s to be null, got %v", key, v)
		}
	}
	if decoded["temperature"] != float64(0) {
		t.Errorf("Expected temperature 0, got %v", decoded["temperature"])
	}
}

func TestDMSRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1.5, 51.107883, 89.9999999, 179.999, 12.0000001} {
		got, ok := fromDMS(toDMS(v), "N", "S")
		if !ok {
			t.Fatalf("fromDMS(toDMS(%v)) not ok", v)
		}
		if math.Abs(got-v) > 1e-6 {
			t.Errorf("round trip of %v = %v", v, got)
		}
	}

	if _, ok := fromDMS(nil, "N", "S"); ok {
		t.Error("Empty rationals should not parse")
	}
}
