package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the detection service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Window    WindowConfig    `yaml:"window"`
	Ensemble  EnsembleConfig  `yaml:"ensemble"`
	Explain   ExplainConfig   `yaml:"explain"`
	Severity  SeverityConfig  `yaml:"severity"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// WindowConfig sizes the sliding window buffer.
type WindowConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// EnsembleConfig controls scorer training, persistence and hot reload.
type EnsembleConfig struct {
	Contamination   float64 `yaml:"contamination"`
	Seed            int64   `yaml:"seed"`
	TrainingSamples int     `yaml:"trainingSamples"`
	Trees           int     `yaml:"trees"`
	Neighbors       int     `yaml:"neighbors"`
	ModelDir        string  `yaml:"modelDir"`
	Watch           bool    `yaml:"watch"`
}

// ExplainConfig controls attribution cost.
type ExplainConfig struct {
	BackgroundSize   int           `yaml:"backgroundSize"`
	GlobalSampleSize int           `yaml:"globalSampleSize"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
}

// SeverityConfig points at an optional severity rule file.
type SeverityConfig struct {
	RulesPath string `yaml:"rulesPath"`
}

// CacheConfig controls Valkey-backed caching of explanations.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// StorageConfig locates the feedback and whitelist database. An empty path
// keeps that state in memory only.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// KafkaConfig controls stream ingestion.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	ResultTopic string   `yaml:"resultTopic"`
	Group       string   `yaml:"group"`
}

// TelemetryConfig controls the websocket window push.
type TelemetryConfig struct {
	PushInterval time.Duration `yaml:"pushInterval"`
}

// Load initialises Config from a YAML file and optional environment
// overrides. A .env file in the working directory is loaded first and never
// overrides variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Ensemble.Contamination <= 0 || c.Ensemble.Contamination >= 0.5 {
		return fmt.Errorf("ensemble.contamination must be in (0, 0.5), got %v", c.Ensemble.Contamination)
	}
	if c.Ensemble.TrainingSamples <= 0 {
		return fmt.Errorf("ensemble.trainingSamples must be positive")
	}
	if c.Window.Retention < 5*time.Minute {
		return fmt.Errorf("window.retention must cover the 5min window, got %s", c.Window.Retention)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":5000",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Window:  WindowConfig{Retention: 10 * time.Minute},
		Ensemble: EnsembleConfig{
			Contamination:   0.1,
			Seed:            42,
			TrainingSamples: 1000,
			Trees:           100,
			Neighbors:       20,
			ModelDir:        "models",
			Watch:           true,
		},
		Explain: ExplainConfig{
			BackgroundSize:   32,
			GlobalSampleSize: 100,
			CacheTTL:         5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Storage: StorageConfig{SQLitePath: "data/sentinel.db"},
		Kafka: KafkaConfig{
			Topic:       "access-logs",
			ResultTopic: "access-verdicts",
			Group:       "sentinel-engine",
		},
		Telemetry: TelemetryConfig{PushInterval: 2 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_WINDOW_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window.Retention = d
		}
	}
	if v := os.Getenv("SENTINEL_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ensemble.Contamination = f
		}
	}
	if v := os.Getenv("SENTINEL_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ensemble.Seed = seed
		}
	}
	if v := os.Getenv("SENTINEL_TRAINING_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ensemble.TrainingSamples = n
		}
	}
	if v := os.Getenv("SENTINEL_MODEL_DIR"); v != "" {
		cfg.Ensemble.ModelDir = v
	}
	if v := os.Getenv("SENTINEL_MODEL_WATCH"); v != "" {
		cfg.Ensemble.Watch = truthy(v)
	}
	if v := os.Getenv("SENTINEL_EXPLAIN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Explain.CacheTTL = d
		}
	}
	if v := os.Getenv("SENTINEL_SEVERITY_RULES"); v != "" {
		cfg.Severity.RulesPath = v
	}
	if v := os.Getenv("SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = truthy(v)
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_TLS"); truthy(v) {
		cfg.Cache.TLS = true
	}
	if v, ok := os.LookupEnv("SENTINEL_SQLITE_PATH"); ok {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("SENTINEL_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = truthy(v)
	}
	if v := os.Getenv("SENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SENTINEL_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("SENTINEL_KAFKA_RESULT_TOPIC"); v != "" {
		cfg.Kafka.ResultTopic = v
	}
	if v := os.Getenv("SENTINEL_KAFKA_GROUP"); v != "" {
		cfg.Kafka.Group = v
	}
	if v := os.Getenv("SENTINEL_TELEMETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Telemetry.PushInterval = d
		}
	}
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
