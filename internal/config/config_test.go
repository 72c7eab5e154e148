package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SENTINEL_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, 10*time.Minute, cfg.Window.Retention)
	assert.Equal(t, 0.1, cfg.Ensemble.Contamination)
	assert.Equal(t, 100, cfg.Explain.GlobalSampleSize)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  httpAddress: ":8080"
window:
  retention: 15m
ensemble:
  contamination: 0.05
  modelDir: /var/lib/sentinel
kafka:
  brokers: ["a:9092"]
`), 0o644))

	t.Setenv("SENTINEL_CONFIG", path)
	t.Setenv("SENTINEL_HTTP_ADDRESS", ":9090")
	t.Setenv("SENTINEL_KAFKA_ENABLED", "true")
	t.Setenv("SENTINEL_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SENTINEL_SQLITE_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddress)
	assert.Equal(t, 15*time.Minute, cfg.Window.Retention)
	assert.Equal(t, 0.05, cfg.Ensemble.Contamination)
	assert.Equal(t, "/var/lib/sentinel", cfg.Ensemble.ModelDir)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "access-logs", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Storage.SQLitePath)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SENTINEL_CONFIG", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SENTINEL_TEST_DOTENV_LEVEL=debug\nSENTINEL_LOG_FORMAT=json\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("SENTINEL_TEST_DOTENV_LEVEL")
		os.Unsetenv("SENTINEL_LOG_FORMAT")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "debug", os.Getenv("SENTINEL_TEST_DOTENV_LEVEL"))
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"contamination": func(c *Config) { c.Ensemble.Contamination = 0.7 },
		"samples":       func(c *Config) { c.Ensemble.TrainingSamples = 0 },
		"retention":     func(c *Config) { c.Window.Retention = time.Minute },
		"kafka":         func(c *Config) { c.Kafka.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := defaultConfig()
	assert.NoError(t, cfg.Validate())
}
