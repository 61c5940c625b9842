// Package config defines the taskmem configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and environment variables (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/taskmem/memory/embedder/remote"
	"github.com/becomeliminal/taskmem/task"
)

// Config is the top-level taskmem configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Worker    WorkerConfig    `yaml:"worker"`
	LogLevel  string          `yaml:"log_level"`
}

// DatabaseConfig selects the task store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// MemoryConfig controls the vector store.
type MemoryConfig struct {
	// PersistDir holds chromem collections. Empty keeps memory in-process only.
	PersistDir     string `yaml:"persist_dir"`
	Compress       bool   `yaml:"compress"`
	DefaultResults int    `yaml:"default_results"`
}

// EmbeddingConfig configures the embedding providers. The remote provider
// is used only when Endpoint, APIKey and Deployment are all set.
type EmbeddingConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Deployment string        `yaml:"deployment"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`

	// Dimensions of the local model.
	Dimensions int `yaml:"dimensions"`
	// CacheSize is the number of cached vectors; 0 disables the cache.
	CacheSize int64 `yaml:"cache_size"`

	// ONNX model files, used by binaries built with -tags onnx.
	ONNXModelPath     string `yaml:"onnx_model_path"`
	ONNXTokenizerPath string `yaml:"onnx_tokenizer_path"`
	ONNXLibraryPath   string `yaml:"onnx_library_path"`
}

// WorkerConfig controls `taskmem worker run`.
type WorkerConfig struct {
	Role     string        `yaml:"role"`
	Interval time.Duration `yaml:"interval"`
	Results  int           `yaml:"results"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: task.DriverSQLite,
			Path:   "data/tasks.db",
		},
		Memory: MemoryConfig{
			PersistDir:     "data/memory",
			DefaultResults: 5,
		},
		Embedding: EmbeddingConfig{
			APIVersion: "2023-05-15",
			Timeout:    30 * time.Second,
			Dimensions: 384,
			CacheSize:  10_000,
		},
		Worker: WorkerConfig{
			Interval: time.Second,
			Results:  5,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any of the recognised environment variables
// that are set.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("TASKMEM_DB_DRIVER", &c.Database.Driver)
	str("TASKMEM_DB_PATH", &c.Database.Path)
	str("DATABASE_URL", &c.Database.DSN)
	str("TASKMEM_MEMORY_DIR", &c.Memory.PersistDir)
	str("EMBEDDING_ENDPOINT", &c.Embedding.Endpoint)
	str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("EMBEDDING_DEPLOYMENT", &c.Embedding.Deployment)
	str("EMBEDDING_API_VERSION", &c.Embedding.APIVersion)
	str("ONNX_MODEL_PATH", &c.Embedding.ONNXModelPath)
	str("ONNX_TOKENIZER_PATH", &c.Embedding.ONNXTokenizerPath)
	str("ONNXRUNTIME_LIB", &c.Embedding.ONNXLibraryPath)
	str("TASKMEM_WORKER_ROLE", &c.Worker.Role)
	str("TASKMEM_LOG_LEVEL", &c.LogLevel)

	if v := os.Getenv("EMBEDDING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EMBEDDING_TIMEOUT: %w", err)
		}
		c.Embedding.Timeout = d
	}
	if v := os.Getenv("TASKMEM_DEFAULT_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKMEM_DEFAULT_RESULTS: %w", err)
		}
		c.Memory.DefaultResults = n
	}
	return nil
}

// Validate checks that the config describes a usable setup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", task.DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case task.DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn (or DATABASE_URL) is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Embedding.Timeout <= 0 {
		return errors.New("embedding.timeout must be positive")
	}
	if c.Memory.DefaultResults <= 0 {
		return errors.New("memory.default_results must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// TaskOptions returns the options for task.Open.
func (c *Config) TaskOptions() task.Options {
	return task.Options{Driver: c.Database.Driver, Path: c.Database.Path, DSN: c.Database.DSN}
}

// Remote returns the remote embedder settings.
func (c *Config) Remote() remote.Config {
	return remote.Config{
		Endpoint:   c.Embedding.Endpoint,
		APIKey:     c.Embedding.APIKey,
		Deployment: c.Embedding.Deployment,
		APIVersion: c.Embedding.APIVersion,
		Timeout:    c.Embedding.Timeout,
	}
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
