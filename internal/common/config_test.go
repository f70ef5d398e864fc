package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 5, cfg.Broker.PublishAttempts)
	assert.Equal(t, 3, cfg.Broker.MaxReceive)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[database]
dsn = "postgres://base"

[broker]
addr = "base:6379"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[broker]
addr = "override:6379"
`), 0644))

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "postgres://base", cfg.Database.DSN)
	assert.Equal(t, "override:6379", cfg.Broker.Addr)
}

func TestLoadFromFilesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
dsn = "postgres://file"
`), 0644))

	t.Setenv("PULSE_DATABASE_DSN", "postgres://env")
	t.Setenv("PULSE_LOG_LEVEL", "debug")

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadWorkerCounts(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Database.DSN = "postgres://x"
	cfg.Workers.Defaults.Extraction = 11

	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Database.DSN = "postgres://x"
	cfg.Timezone = "Mars/Olympus"

	assert.Error(t, Validate(cfg))
}

func TestStageWorkerCount(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Workers.Defaults = StageWorkers{Extraction: 2, Transform: 4, Embedding: 3}
	cfg.Workers.PerTenant = map[string]StageWorkers{
		"7": {Extraction: 1, Transform: 9, Embedding: 20},
	}

	assert.Equal(t, 2, cfg.StageWorkerCount(1, "extraction"))
	assert.Equal(t, 4, cfg.StageWorkerCount(1, "transform"))
	assert.Equal(t, 1, cfg.StageWorkerCount(7, "extraction"))
	assert.Equal(t, 9, cfg.StageWorkerCount(7, "transform"))

	// Counts are clamped to 1..10.
	assert.Equal(t, 10, cfg.StageWorkerCount(7, "embedding"))
	assert.Equal(t, 1, cfg.StageWorkerCount(1, "unknown"))
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("", 5*time.Second))
	assert.Equal(t, 5*time.Second, Duration("bogus", 5*time.Second))
	assert.Equal(t, 2*time.Minute, Duration("2m", 5*time.Second))
}
