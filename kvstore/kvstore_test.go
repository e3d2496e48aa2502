package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStores returns one instance of every Store implementation under test,
// keyed by a human-readable driver name.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	mem := NewMemStore()

	dir := t.TempDir()
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": mem,
		"sqlite": sqliteStore,
	}
}

func TestStore_PutGetDeleteExists(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.Exists(ctx, "point:1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Put(ctx, "point:1", []byte(`{"id":1}`)))

			ok, err = store.Exists(ctx, "point:1")
			require.NoError(t, err)
			assert.True(t, ok)

			val, ok, err := store.Get(ctx, "point:1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `{"id":1}`, string(val))

			require.NoError(t, store.Delete(ctx, "point:1"))
			_, ok, err = store.Get(ctx, "point:1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_RangeScanOrdering(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{"point:1", "point:10", "point:2", "seg:in:1:2", "seg:out:2:1"}
			for _, k := range keys {
				require.NoError(t, store.Put(ctx, k, []byte(k)))
			}

			pairs, err := store.RangeScan(ctx, "point:", "point:~")
			require.NoError(t, err)
			require.Len(t, pairs, 3)
			// Lexical order: "point:1" < "point:10" < "point:2"
			assert.Equal(t, []string{"point:1", "point:10", "point:2"}, []string{pairs[0].Key, pairs[1].Key, pairs[2].Key})

			segPairs, err := store.RangeScan(ctx, "seg:", "seg:~")
			require.NoError(t, err)
			assert.Len(t, segPairs, 2)
		})
	}
}

func TestStore_CountAndClear(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, store.Put(ctx, string(rune('a'+i)), []byte("v")))
			}
			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			require.NoError(t, store.Clear(ctx))
			n, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestPutJSON_GetJSON(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			type point struct {
				ID     int64 `json:"id"`
				Layer  int   `json:"layer"`
				Weight float64
			}

			in := point{ID: 42, Layer: 1, Weight: 0.5}
			require.NoError(t, PutJSON(ctx, store, "point:42", in))

			var out point
			ok, err := GetJSON(ctx, store, "point:42", &out)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, in, out)

			ok, err = GetJSON(ctx, store, "point:missing", &out)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv.db")

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(context.Background(), "point:1", []byte("hello")))
	require.NoError(t, s1.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	val, ok, err := s2.Get(context.Background(), "point:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(val))
}
