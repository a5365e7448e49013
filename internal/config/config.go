// Package config provides configuration loading and structs for the callmind server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Index       IndexConfig       `yaml:"index"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Search      SearchConfig      `yaml:"search"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Spool       SpoolConfig       `yaml:"spool"`
	Telephony   TelephonyConfig   `yaml:"telephony"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	WebhookRateLimit string        `yaml:"webhook_rate_limit"` // ulule/limiter format, e.g. "50-S"
}

// StorageConfig holds paths for the call database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
// The same provider and model embed transcripts and queries.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // hash, onnx, openai, ollama
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string        `yaml:"backend"` // memory, sqlite, milvus
	Timeout time.Duration `yaml:"timeout"`
	Milvus  MilvusConfig  `yaml:"milvus"`
}

// MilvusConfig holds Milvus/Zilliz connection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Collection string `yaml:"collection"`
}

// IndexingConfig holds the retry policy and worker pool size of the transcript indexer.
type IndexingConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	// Transcripts longer than ChunkSize words are embedded in overlapping windows and mean-pooled.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	DefaultLimit        int     `yaml:"default_limit"`
	MaxLimit            int     `yaml:"max_limit"`
	MinScore            float64 `yaml:"min_score"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"` // over-fetch factor when filters are applied
	ExcerptLength       int     `yaml:"excerpt_length"`
	// KeywordWeight is the keyword share of a hybrid score, in [0, 1]. Nil means
	// DefaultKeywordWeight; an explicit 0 ranks hybrid results by semantic score alone.
	KeywordWeight *float64 `yaml:"keyword_weight"`
}

// DefaultKeywordWeight is the hybrid keyword share used when keyword_weight is unset.
const DefaultKeywordWeight = 0.3

// HybridKeywordWeight returns the configured keyword share or DefaultKeywordWeight.
func (s SearchConfig) HybridKeywordWeight() float64 {
	if s.KeywordWeight == nil {
		return DefaultKeywordWeight
	}
	return *s.KeywordWeight
}

// CorrelationConfig controls how long a call may wait for a missing stage.
type CorrelationConfig struct {
	// StageTimeout fails records stuck before TRANSCRIBED for longer than this. Zero disables it.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// RequeueAfter sends TRANSCRIBED records idle this long back to the index queue.
	RequeueAfter  time.Duration `yaml:"requeue_after"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// SpoolConfig holds the event inbox directories.
type SpoolConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Debounce    time.Duration `yaml:"debounce"`
}

// TelephonyConfig holds the call-control response settings.
type TelephonyConfig struct {
	PublicBaseURL       string        `yaml:"public_base_url"`
	Greeting            string        `yaml:"greeting"`
	Goodbye             string        `yaml:"goodbye"`
	MaxRecordingSeconds int           `yaml:"max_recording_seconds"`
	FinishOnKey         string        `yaml:"finish_on_key"`
	Infobip             InfobipConfig `yaml:"infobip"`
}

// InfobipConfig holds the Infobip Calls API credentials used to answer calls and start
// their transcription. Without a base URL and API key Infobip webhooks are only recorded.
type InfobipConfig struct {
	BaseURL  string        `yaml:"base_url"` // account host, e.g. xyz123.api.infobip.com
	APIKey   string        `yaml:"api_key"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether call control requests can be sent.
func (c InfobipConfig) Enabled() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// LogConfig holds optional log file rotation settings.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig holds settings for the agent tool server.
type MCPConfig struct {
	Name    string `yaml:"name"`
	SSEAddr string `yaml:"sse_addr"`
}

// Load reads and parses the config file at path, loads a sibling .env file when present,
// applies environment overrides and defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Log.File = expandPath(cfg.Log.File, configDir)
	for i := range cfg.Spool.Directories {
		cfg.Spool.Directories[i] = expandPath(cfg.Spool.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built only from defaults and the environment.
func Default() *Config {
	var cfg Config
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "hash", "onnx", "openai", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case "memory", "sqlite", "milvus":
	default:
		return fmt.Errorf("unknown index backend: %q", c.Index.Backend)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key (or OPENAI_API_KEY) is required for the openai provider")
	}
	if c.Index.Backend == "milvus" && c.Index.Milvus.Address == "" {
		return fmt.Errorf("index.milvus.address is required for the milvus backend")
	}
	if c.Indexing.MaxAttempts < 1 {
		return fmt.Errorf("indexing.max_attempts must be at least 1, got %d", c.Indexing.MaxAttempts)
	}
	if c.Correlation.StageTimeout < 0 {
		return fmt.Errorf("correlation.stage_timeout must not be negative")
	}
	if w := c.Search.HybridKeywordWeight(); w < 0 || w > 1 {
		return fmt.Errorf("search.keyword_weight must be between 0 and 1, got %g", w)
	}
	if c.Correlation.RequeueAfter < 0 {
		return fmt.Errorf("correlation.requeue_after must not be negative")
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	// godotenv.Load never overrides variables that are already set
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
