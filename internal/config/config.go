// Package config provides configuration loading for queryd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/queryd/internal/logging"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Oracle     OracleConfig     `koanf:"oracle"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Generation GenerationConfig `koanf:"generation"`
	Logging    logging.Config   `koanf:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
	RateBurst       int           `koanf:"rate_burst"`
}

// DatabaseConfig configures the metadata store.
type DatabaseConfig struct {
	DataDir string `koanf:"data_dir"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
}

// OracleConfig configures the model provider.
type OracleConfig struct {
	BaseURL       string        `koanf:"base_url"`
	APIKey        string        `koanf:"api_key"`
	EmbedModel    string        `koanf:"embed_model"`
	GenModel      string        `koanf:"gen_model"`
	BatchSize     int           `koanf:"batch_size"`
	BatchDelay    time.Duration `koanf:"batch_delay"`
	RetryAttempts int           `koanf:"retry_attempts"`
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	MaxChunks        int `koanf:"max_chunks"`
	MaxContextTokens int `koanf:"max_context_tokens"`
}

// GenerationConfig tunes the completion call.
type GenerationConfig struct {
	MaxCompletionTokens int     `koanf:"max_completion_tokens"`
	Temperature         float64 `koanf:"temperature"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 20
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 40
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "queryd_embeddings"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 3072 // text-embedding-3-large dimensions
	}

	if cfg.Oracle.EmbedModel == "" {
		cfg.Oracle.EmbedModel = "text-embedding-3-large"
	}
	if cfg.Oracle.GenModel == "" {
		cfg.Oracle.GenModel = "gpt-4o"
	}
	if cfg.Oracle.BatchSize == 0 {
		cfg.Oracle.BatchSize = 64
	}
	if cfg.Oracle.BatchDelay == 0 {
		cfg.Oracle.BatchDelay = 100 * time.Millisecond
	}
	if cfg.Oracle.RetryAttempts == 0 {
		cfg.Oracle.RetryAttempts = 2
	}

	if cfg.Retrieval.MaxChunks == 0 {
		cfg.Retrieval.MaxChunks = 12
	}
	if cfg.Retrieval.MaxContextTokens == 0 {
		cfg.Retrieval.MaxContextTokens = 6000
	}

	if cfg.Generation.MaxCompletionTokens == 0 {
		cfg.Generation.MaxCompletionTokens = 2000
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.1
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant port must be between 1 and 65535, got %d", c.Qdrant.Port)
	}
	if c.Qdrant.VectorSize == 0 {
		return fmt.Errorf("qdrant vector_size must be > 0")
	}
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle api_key is required")
	}
	if c.Retrieval.MaxChunks < 1 {
		return fmt.Errorf("retrieval max_chunks must be >= 1")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation temperature must be between 0 and 2")
	}
	return c.Logging.Validate()
}
