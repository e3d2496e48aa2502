package kvstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver (the teacher's own direct dependency; see
	// store/db/sqlite/sqlite.go for the pragma choices this mirrors).
	_ "modernc.org/sqlite"

	"github.com/xlab2016/space-db-public/internal/logging"
)

// SQLiteStore is the production C1 backend: an ordered key-value table in
// a local SQLite file. Range scan relies on the fact that SQLite's b-tree
// primary-key index gives ascending byte-order iteration over TEXT keys,
// which is exactly the ordering spec.md §4.3 requires.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

// NewSQLiteStore opens (and migrates) a SQLite-backed KV store at dsn.
//
// Pragma choices mirror store/db/sqlite/sqlite.go: foreign keys stay off
// (this store has no foreign-key relationships to enforce), WAL journal
// mode avoids locking issues, and the connection pool is pinned to a
// single connection since modernc.org/sqlite serializes writes anyway.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite kv store at %s", dsn)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create kv table")
	}

	return &SQLiteStore{db: db, log: logging.Default().WithComponent("kvstore.sqlite")}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) RangeScan(ctx context.Context, startKey, endKeyInclusive string) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv
		WHERE key >= ? AND key <= ?
		ORDER BY key ASC`, startKey, endKeyInclusive)
	if err != nil {
		return nil, errors.Wrap(err, "range scan")
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, errors.Wrap(err, "scan range row")
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv`)
	if err != nil {
		return errors.Wrap(err, "clear")
	}
	return nil
}

// Compact issues a SQLite VACUUM to reclaim space from deleted rows.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	if err != nil {
		s.log.Warn("vacuum failed", "error", err.Error())
		return errors.Wrap(err, "compact")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
