// Package server wires the process-wide components (kvstore, vector
// index, embedding provider, hybridstore.Store, cache.Cache, and
// ingest.Pipeline) together once per process, the way
// cmd/divinesense/main.go builds a single store.Driver and threads it
// through server.NewServer.
package server

import (
	"context"
	"fmt"

	"github.com/xlab2016/space-db-public/cache"
	"github.com/xlab2016/space-db-public/embedding"
	"github.com/xlab2016/space-db-public/hybridstore"
	"github.com/xlab2016/space-db-public/ingest"
	"github.com/xlab2016/space-db-public/internal/config"
	"github.com/xlab2016/space-db-public/internal/logging"
	"github.com/xlab2016/space-db-public/internal/metrics"
	"github.com/xlab2016/space-db-public/kvstore"
	"github.com/xlab2016/space-db-public/parser"
	"github.com/xlab2016/space-db-public/parser/jsonparser"
	"github.com/xlab2016/space-db-public/parser/owl"
	"github.com/xlab2016/space-db-public/parser/text"
	"github.com/xlab2016/space-db-public/vectorindex"
	"github.com/xlab2016/space-db-public/vectorindex/memvec"
	"github.com/xlab2016/space-db-public/vectorindex/pgvector"
)

// Server holds every long-lived component constructed from a single
// config.Config, ready to serve ingestion and search requests.
type Server struct {
	Store    *hybridstore.Store
	Cache    *cache.Cache[string, []vectorindex.SearchResult]
	Pipeline *ingest.Pipeline
	Metrics  *metrics.Registry

	log *logging.Logger
}

// New constructs every component described by cfg. The KV store, vector
// index, and embedding provider are selected by driver name; closing the
// returned Server closes all of them.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	kv, err := newKVStore(cfg.KV)
	if err != nil {
		return nil, fmt.Errorf("construct kv store: %w", err)
	}

	vec, err := newVectorIndex(cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("construct vector index: %w", err)
	}

	embed, err := newEmbeddingProvider(cfg.Embedding, cfg.Vector.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("construct embedding provider: %w", err)
	}

	store, err := hybridstore.New(ctx, kv, vec, embed, hybridstore.Config{
		VectorSize: cfg.Vector.Dimensions,
		Distance:   vectorindex.Distance(cfg.Vector.Distance),
	})
	if err != nil {
		return nil, fmt.Errorf("construct hybrid store: %w", err)
	}

	parserRegistry := parser.NewRegistry(text.New(), jsonparser.New(), owl.New())
	telemetry := metrics.New()
	pipeline := ingest.New(parserRegistry, embed, store, ingest.Config{MaxConcurrency: cfg.Ingest.MaxConcurrency}).
		WithMetrics(telemetry)

	searchCache := cache.New[string, []vectorindex.SearchResult](cfg.Cache.Capacity, cfg.Cache.RefreshRPS).
		WithMetrics(telemetry)

	return &Server{
		Store:    store,
		Cache:    searchCache,
		Pipeline: pipeline,
		Metrics:  telemetry,
		log:      logging.Default().WithComponent("server"),
	}, nil
}

// Close releases every resource owned by the Server.
func (s *Server) Close() error {
	s.Cache.Clear()
	return s.Store.Close()
}

func newKVStore(cfg config.KVConfig) (kvstore.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return kvstore.NewSQLiteStore(cfg.DSN)
	case "memory", "":
		return kvstore.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown kv driver %q", cfg.Driver)
	}
}

func newVectorIndex(cfg config.VectorConfig) (vectorindex.Index, error) {
	switch cfg.Driver {
	case "pgvector":
		return pgvector.New(cfg.DSN)
	case "memory", "":
		return memvec.New(), nil
	default:
		return nil, fmt.Errorf("unknown vector driver %q", cfg.Driver)
	}
}

func newEmbeddingProvider(cfg config.EmbeddingConfig, dimensions int) (embedding.Provider, error) {
	return embedding.NewOpenAIProvider(embedding.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: dimensions,
		Timeout:    cfg.Timeout,
	})
}
