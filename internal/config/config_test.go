package config

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	if cfg.Port != 5000 {
		t.Errorf("Port = %d, expected 5000", cfg.Port)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Errorf("MaxUploadBytes = %d, expected 50 MiB", cfg.MaxUploadBytes)
	}
	if cfg.UploadDirectory() != filepath.Join("static", "uploads") {
		t.Errorf("UploadDirectory = %s", cfg.UploadDirectory())
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"*"}) {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.NATSURL != "" || cfg.OTLPEndpoint != "" {
		t.Error("Optional integrations should default to disabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"PORT":                 "8081",
		"STATIC_DIR":           "/srv/static",
		"MAX_UPLOAD_BYTES":     "1024",
		"CORS_ALLOWED_ORIGINS": "http://a.local,http://b.local",
		"NATS_URL":             "nats://localhost:4222",
	}))
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}

	if cfg.Port != 8081 || cfg.MaxUploadBytes != 1024 {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.UploadDirectory() != filepath.Join("/srv/static", "uploads") {
		t.Errorf("UploadDirectory = %s", cfg.UploadDirectory())
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad port":      {"PORT": "70000"},
		"not a number":  {"PORT": "abc"},
		"zero upload":   {"MAX_UPLOAD_BYTES": "0"},
		"negative buf":  {"BROADCAST_BUFFER": "-1"},
		"blank statics": {"STATIC_DIR": " "},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadWith(context.Background(), envconfig.MapLookuper(env)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoadAgent_Defaults(t *testing.T) {
	cfg, err := LoadAgentWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadAgentWith failed: %v", err)
	}

	if cfg.ServerURL != "http://localhost:5000/receive" {
		t.Errorf("ServerURL = %s", cfg.ServerURL)
	}
	if cfg.RequestTimeout != 20*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffCeiling != time.Minute {
		t.Errorf("Backoff = %s..%s", cfg.BackoffBase, cfg.BackoffCeiling)
	}
	if cfg.RejectedPolicy != "keep" {
		t.Errorf("RejectedPolicy = %s", cfg.RejectedPolicy)
	}
	if !reflect.DeepEqual(cfg.CaptureArgs, []string{"-n", "--autofocus-mode", "continuous"}) {
		t.Errorf("CaptureArgs = %v", cfg.CaptureArgs)
	}
	if pos, err := cfg.Position(); pos != nil || err != nil {
		t.Errorf("Position = %v, %v; expected none", pos, err)
	}
	if cfg.ScratchDirectory() != filepath.Join("img", ".capture") {
		t.Errorf("ScratchDirectory = %s", cfg.ScratchDirectory())
	}
}

func TestLoadAgent_Position(t *testing.T) {
	cfg, err := LoadAgentWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DEVICE_LATITUDE":  "51.107883",
		"DEVICE_LONGITUDE": "-17.038538",
	}))
	if err != nil {
		t.Fatalf("LoadAgentWith failed: %v", err)
	}

	pos, err := cfg.Position()
	if err != nil || pos == nil {
		t.Fatalf("Position = %v, %v", pos, err)
	}
	if pos.Latitude != 51.107883 || pos.Longitude != -17.038538 {
		t.Errorf("Position = %+v", pos)
	}
}

func TestLoadAgent_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"policy":           {"REJECTED_POLICY": "delete"},
		"timeout":          {"REQUEST_TIMEOUT": "0s"},
		"ceiling < base":   {"BACKOFF_BASE": "10s", "BACKOFF_CEILING": "5s"},
		"half position":    {"DEVICE_LATITUDE": "51.1"},
		"bad latitude":     {"DEVICE_LATITUDE": "91", "DEVICE_LONGITUDE": "0"},
		"garbage position": {"DEVICE_LATITUDE": "north", "DEVICE_LONGITUDE": "0"},
		"bad duration":     {"WAIT_FOR_SERVER": "soon"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadAgentWith(context.Background(), envconfig.MapLookuper(env)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
