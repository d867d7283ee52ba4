// Package config loads the engine configuration: built-in defaults, an
// optional YAML file, then CORPORA_* environment overrides, validated as
// one unit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/corpora/internal/errors"
)

// FileName is the config file looked up inside the data directory.
const FileName = "corpora.yaml"

// Config is the complete engine configuration.
type Config struct {
	// DataDir holds the SQLite database, the vector and full-text
	// indexes, and the writer lock.
	DataDir string `yaml:"data_dir"`

	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Models     ModelsConfig     `yaml:"models"`
	Breakers   BreakersConfig   `yaml:"breakers"`
	Search     SearchConfig     `yaml:"search"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChunkingConfig sets the word-boundary chunker parameters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingsConfig selects and tunes the embedding backend.
type EmbeddingsConfig struct {
	// Provider is "ollama" (with deterministic degradation) or
	// "deterministic".
	Provider   string   `yaml:"provider"`
	Host       string   `yaml:"host"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	BatchSize  int      `yaml:"batch_size"`
	Timeout    Duration `yaml:"timeout"`
	// CacheSize is the LRU entry count for the embedding cache.
	CacheSize int `yaml:"cache_size"`
}

// ModelsConfig configures the generate client used by the enrichment
// collaborators (summary, keywords, tags, propositions, captions).
type ModelsConfig struct {
	Host       string   `yaml:"host"`
	Model      string   `yaml:"model"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	// TranscriptionHost is an OpenAI-compatible speech-to-text endpoint
	// (whisper.cpp server, LocalAI). Empty disables audio and video
	// transcription; those files degrade to descriptions instead.
	TranscriptionHost  string `yaml:"transcription_host"`
	TranscriptionModel string `yaml:"transcription_model"`
}

// BreakersConfig sets the shared circuit-breaker thresholds.
type BreakersConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	HalfOpenMaxCalls int      `yaml:"half_open_max_calls"`
}

// SearchConfig tunes the query orchestrator.
type SearchConfig struct {
	RRFConstant    int      `yaml:"rrf_constant"`
	CandidateLimit int      `yaml:"candidate_limit"`
	QueryTimeout   Duration `yaml:"query_timeout"`
}

// EnrichmentConfig tunes the enrichment DAG.
type EnrichmentConfig struct {
	StepTimeout       Duration `yaml:"step_timeout"`
	TotalTimeout      Duration `yaml:"total_timeout"`
	MaxConcurrent     int64    `yaml:"max_concurrent"`
	EmbedPropositions bool     `yaml:"embed_propositions"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Dirs     []string `yaml:"dirs"`
	Debounce Duration `yaml:"debounce"`
}

// LoggingConfig configures the rotating JSON log.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	FilePath      string `yaml:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Host:       "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			Timeout:    Duration(30 * time.Second),
			CacheSize:  4096,
		},
		Models: ModelsConfig{
			Host:       "http://localhost:11434",
			Model:      "llama3.2",
			Timeout:    Duration(2 * time.Minute),
			MaxRetries: 2,
		},
		Breakers: BreakersConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(60 * time.Second),
			HalfOpenMaxCalls: 3,
		},
		Search: SearchConfig{
			RRFConstant:    60,
			CandidateLimit: 100,
			QueryTimeout:   Duration(10 * time.Second),
		},
		Enrichment: EnrichmentConfig{
			StepTimeout:       Duration(2 * time.Minute),
			TotalTimeout:      Duration(10 * time.Minute),
			MaxConcurrent:     4,
			EmbedPropositions: true,
		},
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".corpora"
	}
	return filepath.Join(home, ".corpora")
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or DataDir/corpora.yaml when path is empty, missing file is fine),
// then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, FileName)
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the file onto the receiver. A missing file is not an
// error; a malformed one is.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New(errors.ErrCodeConfigNotFound,
			fmt.Sprintf("cannot read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.ConfigError(
			fmt.Sprintf("malformed config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies CORPORA_* environment variables, which win
// over both defaults and the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CORPORA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CORPORA_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CORPORA_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CORPORA_EMBEDDINGS_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("CORPORA_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
		c.Models.Host = v
	}
	if v := os.Getenv("CORPORA_MODEL"); v != "" {
		c.Models.Model = v
	}
	if v := os.Getenv("CORPORA_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("CORPORA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.ConfigError("data_dir is required", nil)
	}
	switch c.Embeddings.Provider {
	case "ollama", "deterministic":
	default:
		return errors.ConfigError(
			fmt.Sprintf("unknown embeddings provider %q", c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return errors.ConfigError("embeddings dimensions must be positive", nil)
	}
	if c.Chunking.Size <= 0 {
		return errors.ConfigError("chunking size must be positive", nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return errors.ConfigError("chunking overlap must be in [0, size)", nil)
	}
	if c.Search.RRFConstant <= 0 {
		return errors.ConfigError("search rrf_constant must be positive", nil)
	}
	if c.Enrichment.MaxConcurrent <= 0 {
		return errors.ConfigError("enrichment max_concurrent must be positive", nil)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.ConfigError(
			fmt.Sprintf("unknown log level %q", c.Logging.Level), nil)
	}
	return nil
}

// Paths derived from the data directory.

// DatabasePath is the SQLite file.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "corpora.db") }

// VectorIndexPath is the HNSW graph file.
func (c *Config) VectorIndexPath() string { return filepath.Join(c.DataDir, "vectors.hnsw") }

// FulltextIndexPath is the bleve index directory.
func (c *Config) FulltextIndexPath() string { return filepath.Join(c.DataDir, "fulltext.bleve") }

// LockPath is the single-writer flock file.
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, "corpora.lock") }

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ConfigError("cannot marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.ConfigError("cannot create config directory", err)
	}
	return os.WriteFile(path, data, 0o644)
}
