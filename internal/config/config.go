package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the context plane.
type Config struct {
	Port         int                `yaml:"port"`
	Version      string             `yaml:"version"`
	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Notify       NotifyConfig       `yaml:"notify"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tools        ToolsConfig        `yaml:"tools"`
	Retention    RetentionConfig    `yaml:"retention"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver       string `yaml:"driver"` // memory, pebble, sqlite, postgres
	DataDir      string `yaml:"dataDir"`
	SnapshotPath string `yaml:"snapshotPath"` // memory driver only; empty disables snapshots
	PostgresURL  string `yaml:"postgresUrl"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	ServiceName  string  `yaml:"serviceName"`
	SampleRatio  float64 `yaml:"sampleRatio"` // fraction of new traces kept; 0 or 1 keeps all
}

type NotifyConfig struct {
	MaxBacklog     int           `yaml:"maxBacklog"`
	WebhookURLs    []string      `yaml:"webhookUrls"`
	WebhookSecret  string        `yaml:"webhookSecret"`
	WebhookEvents  []string      `yaml:"webhookEvents"`
	WebhookRetries int           `yaml:"webhookRetries"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
}

type OrchestratorConfig struct {
	// ConflictRetries is the number of automatic read-modify-write retries
	// after a version conflict. 0 surfaces every conflict to the caller.
	ConflictRetries int `yaml:"conflictRetries"`
}

type ToolsConfig struct {
	// MCPEndpoint is a streamable-HTTP MCP server that executes agent tools.
	MCPEndpoint string        `yaml:"mcpEndpoint"`
	MCPTimeout  time.Duration `yaml:"mcpTimeout"`
}

type RetentionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	Schedule   string        `yaml:"schedule"` // cron spec with seconds field
	ArchiveDir string        `yaml:"archiveDir"`
	Gzip       bool          `yaml:"gzip"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

// Load reads configuration with the precedence: environment > YAML file
// (CONTEXTD_CONFIG) > defaults. A .env file in the working directory is
// loaded into the environment first; existing variables are not replaced.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Defaults()
	if path := os.Getenv("CONTEXTD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".contextd")
	}
	return &Config{
		Port:    8080,
		Version: "0.1.0",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Driver:       "memory",
			DataDir:      dataDir,
			SnapshotPath: filepath.Join(dataDir, "contexts.json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "contextd",
			SampleRatio:  1,
		},
		Notify: NotifyConfig{
			MaxBacklog:     10000,
			WebhookRetries: 3,
			WebhookTimeout: 15 * time.Second,
		},
		Tools: ToolsConfig{
			MCPTimeout: 30 * time.Second,
		},
		Retention: RetentionConfig{
			TTL:        7 * 24 * time.Hour,
			Schedule:   "0 0 * * * *", // hourly
			ArchiveDir: filepath.Join(dataDir, "archive"),
			Gzip:       true,
		},
		RateLimit: RateLimitConfig{
			Burst: 20,
		},
	}
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("CONTEXTD_PORT", c.Port)
	c.Version = envStr("CONTEXTD_VERSION", c.Version)

	c.Log.Level = envStr("CONTEXTD_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("CONTEXTD_LOG_FORMAT", c.Log.Format)

	c.Storage.Driver = envStr("CONTEXTD_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DataDir = envStr("CONTEXTD_DATA_DIR", c.Storage.DataDir)
	c.Storage.SnapshotPath = envStr("CONTEXTD_SNAPSHOT_PATH", c.Storage.SnapshotPath)
	c.Storage.PostgresURL = envStr("DATABASE_URL", c.Storage.PostgresURL)

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.SampleRatio = envFloat("CONTEXTD_TRACE_SAMPLE_RATIO", c.Telemetry.SampleRatio)

	c.Notify.MaxBacklog = envInt("CONTEXTD_NOTIFY_MAX_BACKLOG", c.Notify.MaxBacklog)
	c.Notify.WebhookURLs = envList("CONTEXTD_WEBHOOK_URLS", c.Notify.WebhookURLs)
	c.Notify.WebhookSecret = envStr("CONTEXTD_WEBHOOK_SECRET", c.Notify.WebhookSecret)
	c.Notify.WebhookEvents = envList("CONTEXTD_WEBHOOK_EVENTS", c.Notify.WebhookEvents)
	c.Notify.WebhookRetries = envInt("CONTEXTD_WEBHOOK_RETRIES", c.Notify.WebhookRetries)
	c.Notify.WebhookTimeout = envDuration("CONTEXTD_WEBHOOK_TIMEOUT", c.Notify.WebhookTimeout)

	c.Orchestrator.ConflictRetries = envInt("CONTEXTD_CONFLICT_RETRIES", c.Orchestrator.ConflictRetries)

	c.Tools.MCPEndpoint = envStr("CONTEXTD_TOOLS_MCP_ENDPOINT", c.Tools.MCPEndpoint)
	c.Tools.MCPTimeout = envDuration("CONTEXTD_TOOLS_MCP_TIMEOUT", c.Tools.MCPTimeout)

	c.Retention.Enabled = envBool("CONTEXTD_RETENTION_ENABLED", c.Retention.Enabled)
	c.Retention.TTL = envDuration("CONTEXTD_RETENTION_TTL", c.Retention.TTL)
	c.Retention.Schedule = envStr("CONTEXTD_RETENTION_SCHEDULE", c.Retention.Schedule)
	c.Retention.ArchiveDir = envStr("CONTEXTD_ARCHIVE_DIR", c.Retention.ArchiveDir)
	c.Retention.Gzip = envBool("CONTEXTD_ARCHIVE_GZIP", c.Retention.Gzip)

	c.RateLimit.RPS = envFloat("CONTEXTD_RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = envInt("CONTEXTD_RATE_LIMIT_BURST", c.RateLimit.Burst)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
