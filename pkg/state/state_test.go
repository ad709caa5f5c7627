package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlStore, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sql":    sqlStore,
	}
}

func TestStoreSetGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "summarizer", "alice", "notes", json.RawMessage(`{"n":1}`)))

			got, err := s.Get(ctx, "summarizer", "alice", "notes")
			require.NoError(t, err)
			assert.JSONEq(t, `{"n":1}`, string(got))
		})
	}
}

func TestStoreSetOverwrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "a", "u", "k", json.RawMessage(`1`)))
			require.NoError(t, s.Set(ctx, "a", "u", "k", json.RawMessage(`2`)))

			got, err := s.Get(ctx, "a", "u", "k")
			require.NoError(t, err)
			assert.Equal(t, "2", string(got))
		})
	}
}

func TestStoreGetNotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "a", "u", "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "a", "u", "k", json.RawMessage(`1`)))
			require.NoError(t, s.Delete(ctx, "a", "u", "k"))

			_, err := s.Get(ctx, "a", "u", "k")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing entry is a no-op
			assert.NoError(t, s.Delete(ctx, "a", "u", "k"))
		})
	}
}

func TestStoreTenantIsolation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "a", "alice", "k", json.RawMessage(`"alice data"`)))
			require.NoError(t, s.Set(ctx, "a", "bob", "k", json.RawMessage(`"bob data"`)))
			require.NoError(t, s.Set(ctx, "other", "alice", "k", json.RawMessage(`"other agent"`)))

			got, err := s.Get(ctx, "a", "alice", "k")
			require.NoError(t, err)
			assert.Equal(t, `"alice data"`, string(got))

			keys, err := s.ListKeys(ctx, "a", "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"k"}, keys)
		})
	}
}

func TestStoreListKeysSorted(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, k := range []string{"cherry", "apple", "banana"} {
				require.NoError(t, s.Set(ctx, "a", "u", k, json.RawMessage(`null`)))
			}

			keys, err := s.ListKeys(ctx, "a", "u")
			require.NoError(t, err)
			assert.Equal(t, []string{"apple", "banana", "cherry"}, keys)
		})
	}
}
