package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Database    DatabaseConfig  `toml:"database"`
	Broker      BrokerConfig    `toml:"broker"`
	Vector      VectorConfig    `toml:"vector"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Workers     WorkersConfig   `toml:"workers"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Timezone    string          `toml:"timezone"` // IANA name used for watermark stamping
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type DatabaseConfig struct {
	DSN            string `toml:"dsn" validate:"required"`
	MaxConns       int32  `toml:"max_conns"`
	MinConns       int32  `toml:"min_conns"`
	MigrateOnStart bool   `toml:"migrate_on_start"`
	ConnectTimeout string `toml:"connect_timeout"` // e.g. "10s"
}

type BrokerConfig struct {
	Addr              string `toml:"addr" validate:"required"`
	Password          string `toml:"password"`
	DB                int    `toml:"db"`
	PublishAttempts   int    `toml:"publish_attempts"`   // failures before dead-letter (default 5)
	VisibilityTimeout string `toml:"visibility_timeout"` // pending-entry reclaim window, e.g. "5m"
	MaxReceive        int    `toml:"max_receive"`        // deliveries before dead-letter
	BlockInterval     string `toml:"block_interval"`     // consumer block duration, e.g. "2s"
}

type VectorConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
	UseTLS  bool   `toml:"use_tls"`
	Timeout string `toml:"timeout"`
}

type EmbeddingConfig struct {
	APIKey    string `toml:"api_key"` // Google Gemini API key
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension"`
	Timeout   string `toml:"timeout"`
}

// StageWorkers is the per-tenant worker count per stage. Changes take effect
// on worker-manager restart.
type StageWorkers struct {
	Extraction int `toml:"extraction" validate:"min=1,max=10"`
	Transform  int `toml:"transform" validate:"min=1,max=10"`
	Embedding  int `toml:"embedding" validate:"min=1,max=10"`
}

type WorkersConfig struct {
	Tenants       []int                   `toml:"tenants"` // tenant ids served by this process
	Defaults      StageWorkers            `toml:"defaults"`
	PerTenant     map[string]StageWorkers `toml:"per_tenant"` // tenant id (string key) -> counts
	DrainWindow   string                  `toml:"drain_window"`
	RetryAttempts int                     `toml:"retry_attempts"` // upstream retry budget per message
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron format, kicks READY jobs
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// deployment-facing settings belong in pulse.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Database: DatabaseConfig{
			DSN:            "",
			MaxConns:       10,
			MinConns:       2,
			MigrateOnStart: true,
			ConnectTimeout: "10s",
		},
		Broker: BrokerConfig{
			Addr:              "localhost:6379",
			DB:                0,
			PublishAttempts:   5,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			BlockInterval:     "2s",
		},
		Vector: VectorConfig{
			Host:    "localhost",
			Port:    6334,
			Timeout: "30s",
		},
		Embedding: EmbeddingConfig{
			Model:     "gemini-embedding-001",
			Dimension: 768,
			Timeout:   "60s",
		},
		Workers: WorkersConfig{
			Tenants: []int{},
			Defaults: StageWorkers{
				Extraction: 1,
				Transform:  2,
				Embedding:  2,
			},
			PerTenant:     map[string]StageWorkers{},
			DrainWindow:   "30s",
			RetryAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "*/15 * * * *",
		},
		Timezone: "UTC",
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints (worker counts 1..10, required DSNs).
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PULSE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("PULSE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PULSE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if dsn := os.Getenv("PULSE_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if addr := os.Getenv("PULSE_BROKER_ADDR"); addr != "" {
		config.Broker.Addr = addr
	}
	if pw := os.Getenv("PULSE_BROKER_PASSWORD"); pw != "" {
		config.Broker.Password = pw
	}

	if host := os.Getenv("PULSE_VECTOR_HOST"); host != "" {
		config.Vector.Host = host
	}
	if port := os.Getenv("PULSE_VECTOR_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Vector.Port = p
		}
	}
	if key := os.Getenv("PULSE_VECTOR_API_KEY"); key != "" {
		config.Vector.APIKey = key
	}

	if key := os.Getenv("PULSE_EMBEDDING_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Embedding.APIKey = key
	}
	if model := os.Getenv("PULSE_EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}

	if level := os.Getenv("PULSE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if tz := os.Getenv("PULSE_TIMEZONE"); tz != "" {
		config.Timezone = tz
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// StageWorkerCount resolves the configured worker count for a tenant and
// stage, clamped to 1..10.
func (c *Config) StageWorkerCount(tenantID int, stage string) int {
	counts := c.Workers.Defaults
	if per, ok := c.Workers.PerTenant[strconv.Itoa(tenantID)]; ok {
		counts = per
	}

	n := 1
	switch stage {
	case "extraction":
		n = counts.Extraction
	case "transform":
		n = counts.Transform
	case "embedding":
		n = counts.Embedding
	}

	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration parses a duration config string, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
