// Package config holds typed configuration for every component of the
// hybrid store, loaded from environment variables / flags via viper.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration for a running instance.
type Config struct {
	KV        KVConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Ingest    IngestConfig
}

// KVConfig configures the C1 metadata store.
type KVConfig struct {
	Driver string // "sqlite" | "memory"
	DSN    string // path for sqlite, ignored for memory
}

// VectorConfig configures the C2 vector index.
type VectorConfig struct {
	Driver     string // "pgvector" | "memory"
	DSN        string // postgres connection string, ignored for memory
	Dimensions int
	Distance   string // "cosine" | "dot"
}

// EmbeddingConfig configures the C3 embedding provider.
type EmbeddingConfig struct {
	Provider string // informational only; protocol is always OpenAI-compatible
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// CacheConfig configures the C7 cache core.
type CacheConfig struct {
	Capacity   int
	DefaultTTL time.Duration
	// RefreshRPS bounds the rate of background stale-while-revalidate
	// refreshes spawned across all keys.
	RefreshRPS float64
}

// IngestConfig configures the C6 ingestion pipeline.
type IngestConfig struct {
	// MaxConcurrency bounds how many fragment Points are created
	// concurrently during materialization. 1 means strictly sequential.
	MaxConcurrency int
	// EmbeddingType names a logical "type" tag for ingested fragment
	// content. No component reads it: the embedding provider receives only
	// the fragment texts.
	EmbeddingType string
}

// Default returns a configuration usable for local development: an
// in-memory KV store, an in-memory vector index, and a disabled embedding
// provider (callers must set APIKey before ingestion will work end to end).
func Default() *Config {
	return &Config{
		KV: KVConfig{Driver: "memory"},
		Vector: VectorConfig{
			Driver:     "memory",
			Dimensions: 1536,
			Distance:   "cosine",
		},
		Embedding: EmbeddingConfig{
			Model:   "text-embedding-3-small",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:   10000,
			DefaultTTL: 5 * time.Minute,
			RefreshRPS: 50,
		},
		Ingest: IngestConfig{
			MaxConcurrency: 1,
			EmbeddingType:  "default",
		},
	}
}

// FromEnv overlays environment variables on top of Default(), mirroring the
// provider-default-map pattern used throughout the teacher's profile
// package: a handful of well-known env vars, never a generic env dumper.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("SPACEDB_KV_DRIVER"); v != "" {
		cfg.KV.Driver = v
	}
	if v := os.Getenv("SPACEDB_KV_DSN"); v != "" {
		cfg.KV.DSN = v
	}
	if v := os.Getenv("SPACEDB_VECTOR_DRIVER"); v != "" {
		cfg.Vector.Driver = v
	}
	if v := os.Getenv("SPACEDB_VECTOR_DSN"); v != "" {
		cfg.Vector.DSN = v
	}
	if v := os.Getenv("SPACEDB_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SPACEDB_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("SPACEDB_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	return cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.KV.Driver {
	case "sqlite":
		if c.KV.DSN == "" {
			return fmt.Errorf("kv: dsn is required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("kv: unknown driver %q", c.KV.Driver)
	}

	switch c.Vector.Driver {
	case "pgvector":
		if c.Vector.DSN == "" {
			return fmt.Errorf("vector: dsn is required for pgvector driver")
		}
	case "memory":
	default:
		return fmt.Errorf("vector: unknown driver %q", c.Vector.Driver)
	}

	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("vector: dimensions must be positive")
	}
	if c.Vector.Distance != "cosine" && c.Vector.Distance != "dot" {
		return fmt.Errorf("vector: distance must be cosine or dot, got %q", c.Vector.Distance)
	}

	if c.Ingest.MaxConcurrency <= 0 {
		return fmt.Errorf("ingest: max concurrency must be positive")
	}

	return nil
}
