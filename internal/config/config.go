// Package config provides configuration management for Nexus.
// Settings start from defaults, are overlaid by an optional YAML file and
// finally by environment variables with the NEXUS_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Nexus application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Security  SecurityConfig  `yaml:"security"`
	Backup    BackupConfig    `yaml:"backup"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`            // default: 8000
	Host           string   `yaml:"host"`            // default: 127.0.0.1
	RateLimit      float64  `yaml:"rate_limit"`      // requests per second, default: 10
	RateBurst      int      `yaml:"rate_burst"`      // default: 20
	AllowedOrigins []string `yaml:"allowed_origins"` // websocket origin patterns
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // directory holding nexus.db (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // also read from DATABASE_URL
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`  // ollama, openai, onnx, hash (default: ollama)
	Model             string        `yaml:"model"`     // empty uses the provider default (ollama: all-minilm)
	BaseURL           string        `yaml:"base_url"`  // empty uses the provider default
	APIKey            string        `yaml:"api_key"`   // OpenAI API key
	Dimension         int           `yaml:"dimension"` // expected vector length; 0 learns it (default: 384)
	Timeout           time.Duration `yaml:"timeout"`   // per-call timeout (default: 30s)
	ONNXModelPath     string        `yaml:"onnx_model_path"`
	ONNXTokenizerPath string        `yaml:"onnx_tokenizer_path"`
	ONNXLibraryPath   string        `yaml:"onnx_library_path"`
}

// SearchConfig controls semantic search and the re-embedding policy.
type SearchConfig struct {
	DefaultTopK     int           `yaml:"default_top_k"`     // default: 5
	MaxTopK         int           `yaml:"max_top_k"`         // default: 20
	ReembedOnUpdate bool          `yaml:"reembed_on_update"` // default: true
	Timeout         time.Duration `yaml:"timeout"`           // default: 10s
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	Mode   string `yaml:"mode"`    // development or production (default: development)
	APIKey string `yaml:"api_key"` // value expected in the NEXUS_API_KEY header
}

// BackupConfig controls SQLite snapshots. Postgres deployments rely on the
// database's own backup tooling.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`      // default: <data_path>/backups
	Interval time.Duration `yaml:"interval"` // periodic snapshots while serving; 0 disables
	Keep     int           `yaml:"keep"`     // newest snapshots to retain (default: 24)
	Verify   bool          `yaml:"verify"`   // integrity_check each snapshot (default: true)
}

// EventsConfig controls the file-based change feed shared between
// processes on one data path (nexus mcp writes, nexus serve watches).
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Dir     string `yaml:"dir"`     // default: <data_path>/events
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8000,
			Host:      "127.0.0.1",
			RateLimit: 10,
			RateBurst: 20,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Dimension: 384,
			Timeout:   30 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK:     5,
			MaxTopK:         20,
			ReembedOnUpdate: true,
			Timeout:         10 * time.Second,
		},
		Security: SecurityConfig{
			Mode: "development",
		},
		Backup: BackupConfig{
			Keep:   24,
			Verify: true,
		},
		Events: EventsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig builds the configuration. If path is non-empty the YAML file is
// read on top of the defaults; environment variables are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and out-of-range numbers.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.engine %q", c.Storage.Engine))
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "hash":
	case "onnx":
		if c.Embedding.ONNXModelPath == "" || c.Embedding.ONNXTokenizerPath == "" {
			errs = append(errs, errors.New("embedding.onnx_model_path and embedding.onnx_tokenizer_path are required for the onnx provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must not be negative"))
	}
	if c.Search.MaxTopK < 1 {
		errs = append(errs, fmt.Errorf("search.max_top_k must be at least 1"))
	}
	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search.default_top_k must be in [1, %d]", c.Search.MaxTopK))
	}
	if c.Backup.Interval < 0 {
		errs = append(errs, fmt.Errorf("backup.interval must not be negative"))
	}
	if c.Backup.Keep < 1 {
		errs = append(errs, fmt.Errorf("backup.keep must be at least 1"))
	}
	switch c.Security.Mode {
	case "development":
	case "production":
		if c.Security.APIKey == "" {
			errs = append(errs, errors.New("security.api_key is required in production mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown security.mode %q", c.Security.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// BackupDir returns the snapshot directory, defaulting to a backups folder
// next to the database.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Storage.DataPath, "backups")
}

// EventsDir returns the change feed directory.
func (c *Config) EventsDir() string {
	if c.Events.Dir != "" {
		return c.Events.Dir
	}
	return filepath.Join(c.Storage.DataPath, "events")
}

// IsDevelopment reports whether authentication may be skipped.
func (c *Config) IsDevelopment() bool {
	return c.Security.Mode == "development"
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("NEXUS_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("NEXUS_HOST", cfg.Server.Host)
	cfg.Server.RateLimit = getEnvFloat("NEXUS_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getEnvInt("NEXUS_RATE_BURST", cfg.Server.RateBurst)
	cfg.Server.AllowedOrigins = getEnvList("NEXUS_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Storage.Engine = getEnv("NEXUS_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("NEXUS_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("DATABASE_URL", cfg.Storage.PostgresDSN)
	cfg.Storage.PostgresDSN = getEnv("NEXUS_DATABASE_URL", cfg.Storage.PostgresDSN)

	cfg.Embedding.Provider = getEnv("NEXUS_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = getEnv("NEXUS_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getEnv("NEXUS_EMBEDDING_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("NEXUS_OPENAI_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Dimension = getEnvInt("NEXUS_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.Timeout = getEnvDuration("NEXUS_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.ONNXModelPath = getEnv("NEXUS_ONNX_MODEL_PATH", cfg.Embedding.ONNXModelPath)
	cfg.Embedding.ONNXTokenizerPath = getEnv("NEXUS_ONNX_TOKENIZER_PATH", cfg.Embedding.ONNXTokenizerPath)
	cfg.Embedding.ONNXLibraryPath = getEnv("NEXUS_ONNX_LIBRARY_PATH", cfg.Embedding.ONNXLibraryPath)

	cfg.Search.DefaultTopK = getEnvInt("NEXUS_DEFAULT_TOP_K", cfg.Search.DefaultTopK)
	cfg.Search.MaxTopK = getEnvInt("NEXUS_MAX_TOP_K", cfg.Search.MaxTopK)
	cfg.Search.ReembedOnUpdate = getEnvBool("NEXUS_REEMBED_ON_UPDATE", cfg.Search.ReembedOnUpdate)
	cfg.Search.Timeout = getEnvDuration("NEXUS_SEARCH_TIMEOUT", cfg.Search.Timeout)

	cfg.Security.Mode = getEnv("NEXUS_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIKey = getEnv("NEXUS_API_KEY", cfg.Security.APIKey)

	cfg.Backup.Dir = getEnv("NEXUS_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Interval = getEnvDuration("NEXUS_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Keep = getEnvInt("NEXUS_BACKUP_KEEP", cfg.Backup.Keep)
	cfg.Backup.Verify = getEnvBool("NEXUS_BACKUP_VERIFY", cfg.Backup.Verify)

	cfg.Events.Enabled = getEnvBool("NEXUS_EVENTS_ENABLED", cfg.Events.Enabled)
	cfg.Events.Dir = getEnv("NEXUS_EVENTS_DIR", cfg.Events.Dir)

	cfg.Log.Level = getEnv("NEXUS_LOG_LEVEL", cfg.Log.Level)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
