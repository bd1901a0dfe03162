package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"edgecam/internal/metadata"
)

// Config holds runtime configuration for the collection server.
type Config struct {
	Port               int      `env:"PORT,default=5000"`
	StaticDirectory    string   `env:"STATIC_DIR,default=static"`
	MaxUploadBytes     int64    `env:"MAX_UPLOAD_BYTES,default=52428800"`
	DatabasePath       string   `env:"DB_PATH,default=data/artifacts.db"`
	LogDirectory       string   `env:"LOG_DIR,default=logs"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE,default=600"`
	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	NATSURL            string   `env:"NATS_URL"`
	OTLPEndpoint       string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	BroadcastBuffer    int      `env:"BROADCAST_BUFFER,default=64"`
}

// UploadDirectory is where stored artifacts live, one subdirectory per day.
func (c *Config) UploadDirectory() string {
	return filepath.Join(c.StaticDirectory, "uploads")
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration through l, so tests can supply a map.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.BroadcastBuffer < 0 {
		return fmt.Errorf("BROADCAST_BUFFER must not be negative")
	}
	if strings.TrimSpace(c.StaticDirectory) == "" {
		return fmt.Errorf("STATIC_DIR must not be empty")
	}
	return nil
}

// AgentConfig holds runtime configuration for the device agent.
type AgentConfig struct {
	ServerURL          string        `env:"SERVER_URL,default=http://localhost:5000/receive"`
	QueueDirectory     string        `env:"QUEUE_DIR,default=img"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT,default=20s"`
	BackoffBase        time.Duration `env:"BACKOFF_BASE,default=1s"`
	BackoffCeiling     time.Duration `env:"BACKOFF_CEILING,default=60s"`
	RejectedPolicy     string        `env:"REJECTED_POLICY,default=keep"`
	CaptureCommand     string        `env:"CAPTURE_COMMAND,default=rpicam-still"`
	CaptureArgs        []string      `env:"CAPTURE_ARGS,default=-n,--autofocus-mode,continuous"`
	EnvironmentCommand string        `env:"ENVIRONMENT_COMMAND"`
	Latitude           string        `env:"DEVICE_LATITUDE"`
	Longitude          string        `env:"DEVICE_LONGITUDE"`
	WaitForServer      time.Duration `env:"WAIT_FOR_SERVER,default=0s"`
	LogDirectory       string        `env:"LOG_DIR"`
}

// ScratchDirectory holds in-progress captures. It sits inside the queue
// directory so moving a capture into the queue never crosses filesystems.
func (c *AgentConfig) ScratchDirectory() string {
	return filepath.Join(c.QueueDirectory, ".capture")
}

// Position parses the configured device position. Both coordinates must
// be set for a position to exist.
func (c *AgentConfig) Position() (*metadata.Position, error) {
	lat, lon := strings.TrimSpace(c.Latitude), strings.TrimSpace(c.Longitude)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, fmt.Errorf("DEVICE_LATITUDE and DEVICE_LONGITUDE must be set together")
	}

	latV, err := strconv.ParseFloat(lat, 64)
	if err != nil || latV < -90 || latV > 90 {
		return nil, fmt.Errorf("invalid DEVICE_LATITUDE %q", c.Latitude)
	}
	lonV, err := strconv.ParseFloat(lon, 64)
	if err != nil || lonV < -180 || lonV > 180 {
		return nil, fmt.Errorf("invalid DEVICE_LONGITUDE %q", c.Longitude)
	}
	return &metadata.Position{Latitude: latV, Longitude: lonV}, nil
}

// LoadAgent returns an AgentConfig populated from environment variables.
func LoadAgent(ctx context.Context) (*AgentConfig, error) {
	return LoadAgentWith(ctx, envconfig.OsLookuper())
}

// LoadAgentWith reads the agent configuration through l.
func LoadAgentWith(ctx context.Context, l envconfig.Lookuper) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot. Flags that override the
// environment are applied before calling it again.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("SERVER_URL must not be empty")
	}
	if strings.TrimSpace(c.QueueDirectory) == "" {
		return fmt.Errorf("QUEUE_DIR must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffCeiling < c.BackoffBase {
		return fmt.Errorf("backoff must satisfy 0 < BACKOFF_BASE <= BACKOFF_CEILING")
	}
	switch strings.ToLower(c.RejectedPolicy) {
	case "keep", "quarantine":
	default:
		return fmt.Errorf("REJECTED_POLICY must be keep or quarantine, got %q", c.RejectedPolicy)
	}
	if c.WaitForServer < 0 {
		return fmt.Errorf("WAIT_FOR_SERVER must not be negative")
	}
	if _, err := c.Position(); err != nil {
		return err
	}
	return nil
}
