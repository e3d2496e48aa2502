// Package pgvector is the production C2 backend: a Postgres table per
// collection, using the pgvector extension for the vector column and a
// JSONB column for the scalar payload. Query shape (placeholder numbering,
// errors.Wrap usage, the `<=>` cosine-distance operator converted to a
// similarity score via `1 - distance`) is grounded directly on
// store/db/postgres/episodic_memory_embedding.go's EpisodicVectorSearch.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/lib/pq"

	"github.com/xlab2016/space-db-public/internal/logging"
	"github.com/xlab2016/space-db-public/vectorindex"
)

// Index is the Postgres + pgvector backed vectorindex.Index implementation.
type Index struct {
	db  *sql.DB
	log *logging.Logger
}

// New opens a connection pool against dsn and ensures the pgvector
// extension is available. Each collection gets its own table, created
// lazily by CreateCollection.
func New(dsn string) (*Index, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres vector index")
	}

	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create vector extension")
	}

	return &Index{db: db, log: logging.Default().WithComponent("vectorindex.pgvector")}, nil
}

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func tableName(collection string) (string, error) {
	if !collectionNamePattern.MatchString(collection) {
		return "", errors.Errorf("invalid collection name %q", collection)
	}
	return "vec_" + collection, nil
}

func (idx *Index) CreateCollection(ctx context.Context, name string, vectorSize int, distance vectorindex.Distance) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id      BIGINT PRIMARY KEY,
		vector  vector(%d) NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, table, vectorSize)
	if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "create collection %s", name)
	}

	opClass := "vector_cosine_ops"
	if distance == vectorindex.Dot {
		opClass = "vector_ip_ops"
	}
	indexStmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ann ON %s USING hnsw (vector %s)`, table, table, opClass)
	if _, err := idx.db.ExecContext(ctx, indexStmt); err != nil {
		return errors.Wrapf(err, "create ann index for %s", name)
	}

	return nil
}

func (idx *Index) CollectionExists(ctx context.Context, name string) (bool, error) {
	table, err := tableName(name)
	if err != nil {
		return false, err
	}
	var exists bool
	err = idx.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = $1
	)`, table).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check collection existence")
	}
	return exists, nil
}

func (idx *Index) DeleteCollection(ctx context.Context, name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if _, err := idx.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return errors.Wrapf(err, "delete collection %s", name)
	}
	return nil
}

func (idx *Index) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_name LIKE 'vec_%'`)
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, errors.Wrap(err, "scan collection table name")
		}
		names = append(names, strings.TrimPrefix(table, "vec_"))
	}
	return names, rows.Err()
}

func (idx *Index) UpsertPoints(ctx context.Context, collection string, points []vectorindex.Point) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin upsert transaction")
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, vector, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector, payload = EXCLUDED.payload`, table)

	for _, p := range points {
		payload, err := marshalPayload(p.Payload)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, p.ID, pgvector.NewVector(p.Vector), payload); err != nil {
			return errors.Wrapf(err, "upsert point %d", p.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit upsert transaction")
	}
	return nil
}

func (idx *Index) DeletePoints(ctx context.Context, collection string, ids []uint64) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	int64IDs := make([]int64, len(ids))
	for i, id := range ids {
		int64IDs[i] = int64(id)
	}
	_, err = idx.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table), pq.Array(int64IDs))
	if err != nil {
		return errors.Wrapf(err, "delete points from %s", collection)
	}
	return nil
}

func (idx *Index) Search(ctx context.Context, collection string, vector []float32, filter vectorindex.Filter, limit int, scoreThreshold float32) ([]vectorindex.SearchResult, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	where := []string{"1 = 1"}
	args := []any{pgvector.NewVector(vector)}
	argIdx := 2
	for field, want := range filter {
		if !collectionNamePattern.MatchString(field) {
			return nil, errors.Errorf("invalid filter field %q", field)
		}
		where = append(where, fmt.Sprintf("payload->>'%s' = $%d", field, argIdx))
		args = append(args, fmt.Sprintf("%v", want))
		argIdx++
	}

	// The <=> operator is cosine distance; 1 - distance gives similarity in
	// the same [-1, 1] range the in-memory backend produces for cosine
	// collections. Search uses <=> for every collection, including ones
	// created with Dot distance; <#> is not used.
	query := fmt.Sprintf(`
		SELECT id, payload, 1 - (vector <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY vector <=> $1
		LIMIT %d`, table, strings.Join(where, " AND "), limit)

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "vector search")
	}
	defer rows.Close()

	var results []vectorindex.SearchResult
	for rows.Next() {
		var (
			id          uint64
			payloadJSON []byte
			score       float32
		)
		if err := rows.Scan(&id, &payloadJSON, &score); err != nil {
			return nil, errors.Wrap(err, "scan search row")
		}
		if score < scoreThreshold {
			continue
		}
		payload, err := unmarshalPayload(payloadJSON)
		if err != nil {
			return nil, err
		}
		results = append(results, vectorindex.SearchResult{ID: id, Score: score, Payload: payload})
	}
	return results, rows.Err()
}

func (idx *Index) CreatePayloadIndex(ctx context.Context, collection, field string, schema vectorindex.SchemaType) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	if !collectionNamePattern.MatchString(field) {
		return errors.Errorf("invalid payload field %q", field)
	}
	cast := "text"
	switch schema {
	case vectorindex.SchemaInteger:
		cast = "bigint"
	case vectorindex.SchemaFloat:
		cast = "double precision"
	}
	indexName := fmt.Sprintf("%s_%s_idx", table, field)
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (((payload->>'%s')::%s))`, indexName, table, field, cast)
	if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "create payload index on %s.%s", collection, field)
	}
	return nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return b, nil
}

func unmarshalPayload(b []byte) (map[string]any, error) {
	payload := map[string]any{}
	if len(b) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal payload")
	}
	return payload, nil
}
