package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xlab2016/space-db-public/hybridstore"
	"github.com/xlab2016/space-db-public/ingest"
	"github.com/xlab2016/space-db-public/internal/config"
	"github.com/xlab2016/space-db-public/server"
	"github.com/xlab2016/space-db-public/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "spacedb",
	Short: "Hybrid point/segment knowledge store with content ingestion and caching.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("kv-driver", "", "kv store driver (memory, sqlite)")
	rootCmd.PersistentFlags().String("kv-dsn", "", "kv store dsn (sqlite path)")
	rootCmd.PersistentFlags().String("vector-driver", "", "vector index driver (memory, pgvector)")
	rootCmd.PersistentFlags().String("vector-dsn", "", "vector index dsn (postgres connection string)")
	rootCmd.PersistentFlags().String("embedding-api-key", "", "embedding provider api key")
	rootCmd.PersistentFlags().String("embedding-base-url", "", "embedding provider base url")
	rootCmd.PersistentFlags().String("embedding-model", "", "embedding model name")

	for _, flag := range []string{
		"kv-driver", "kv-dsn", "vector-driver", "vector-dsn",
		"embedding-api-key", "embedding-base-url", "embedding-model",
	} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("spacedb")
	viper.AutomaticEnv()

	rootCmd.AddCommand(ingestCmd, searchCmd, statusCmd, metricsCmd)
}

// loadConfig overlays viper-bound flags/env on top of config.FromEnv(),
// mirroring cmd/divinesense/main.go's profile-from-viper-then-FromEnv
// layering.
func loadConfig() *config.Config {
	cfg := config.FromEnv()

	if v := viper.GetString("kv-driver"); v != "" {
		cfg.KV.Driver = v
	}
	if v := viper.GetString("kv-dsn"); v != "" {
		cfg.KV.DSN = v
	}
	if v := viper.GetString("vector-driver"); v != "" {
		cfg.Vector.Driver = v
	}
	if v := viper.GetString("vector-dsn"); v != "" {
		cfg.Vector.DSN = v
	}
	if v := viper.GetString("embedding-api-key"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := viper.GetString("embedding-base-url"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := viper.GetString("embedding-model"); v != "" {
		cfg.Embedding.Model = v
	}

	return cfg
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Parse and ingest a content payload, materializing resource and fragment points.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		cfg := loadConfig()
		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		contentType, _ := cmd.Flags().GetString("content-type")
		resourceID, _ := cmd.Flags().GetString("resource-id")
		if resourceID == "" {
			resourceID = args[0]
		}

		result, err := srv.Pipeline.Ingest(ctx, ingest.Request{
			ResourceID:  resourceID,
			ContentType: contentType,
			Payload:     payload,
		})
		if err != nil {
			return err
		}

		return printJSON(result)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search points by text query, optionally filtered by singularity/dimension/layer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg := loadConfig()
		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		req := hybridstore.SearchRequest{
			Query: args[0],
			Limit: limit,
		}
		if v, _ := cmd.Flags().GetInt64("singularity-id"); v != 0 {
			req.SingularityID = &v
		}
		if v, _ := cmd.Flags().GetInt("dimension"); v >= 0 {
			req.Dimension = &v
		}

		results, err := srv.Cache.Put(ctx, searchCacheKey(req), cfg.Cache.DefaultTTL, func(ctx context.Context) ([]vectorindex.SearchResult, error) {
			return srv.Store.Search(ctx, req)
		}, false)
		if err != nil {
			return err
		}

		return printJSON(results)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print hybrid store point/segment counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg := loadConfig()
		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		stats, err := srv.Store.Stats(ctx)
		if err != nil {
			return err
		}

		return printJSON(stats)
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve Prometheus metrics for the store, cache, and ingestion pipeline until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		cfg := loadConfig()
		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		addr, _ := cmd.Flags().GetString("addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.Metrics.Handler())
		httpServer := &http.Server{Addr: addr, Handler: mux}

		go refreshStoreGauges(ctx, srv)

		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()

		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}
	},
}

// refreshStoreGauges periodically snapshots hybridstore.Store.Stats into
// the point/segment gauges until ctx is canceled.
func refreshStoreGauges(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		stats, err := srv.Store.Stats(ctx)
		if err == nil {
			srv.Metrics.SetStorePointCounts(stats.PointsByDimension, stats.SegmentCount)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	ingestCmd.Flags().String("content-type", "", "content type hint (text, json, owl); empty auto-detects")
	ingestCmd.Flags().String("resource-id", "", "resource id; defaults to the file path")

	searchCmd.Flags().Int("limit", 10, "maximum results to return")
	searchCmd.Flags().Int64("singularity-id", 0, "filter by singularity id (0 means no filter)")
	searchCmd.Flags().Int("dimension", -1, "filter by dimension (-1 means no filter)")

	metricsCmd.Flags().String("addr", ":9090", "address to serve /metrics on")
}

// searchCacheKey derives a stable cache key from a SearchRequest's
// query and filters, so repeated identical searches within a process
// share C7's cache entry.
func searchCacheKey(req hybridstore.SearchRequest) string {
	var singularityID, dimension, layer any
	if req.SingularityID != nil {
		singularityID = *req.SingularityID
	}
	if req.Dimension != nil {
		dimension = *req.Dimension
	}
	if req.Layer != nil {
		layer = *req.Layer
	}
	return fmt.Sprintf("query=%s|singularityId=%v|dimension=%v|layer=%v|limit=%d",
		req.Query, singularityID, dimension, layer, req.Limit)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
