package linkage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "linkage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestUpsertAndGet(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Upsert(ctx, &Linkage{
				RequesterID:    42,
				RobloxID:       900,
				RobloxUsername: "nova",
			}))

			link, err := store.GetByRequester(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, int64(900), link.RobloxID)
			assert.Equal(t, "nova", link.RobloxUsername)
			assert.False(t, link.LinkedAt.IsZero())

			byRoblox, err := store.GetByRoblox(ctx, 900)
			require.NoError(t, err)
			assert.Equal(t, int64(42), byRoblox.RequesterID)
		})
	}
}

func TestUpsertOverwrites(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Upsert(ctx, &Linkage{RequesterID: 42, RobloxID: 900, RobloxUsername: "nova"}))
			require.NoError(t, store.Upsert(ctx, &Linkage{RequesterID: 42, RobloxID: 901, RobloxUsername: "vega"}))

			// Exactly one linkage, reflecting the latest values.
			link, err := store.GetByRequester(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, int64(901), link.RobloxID)
			assert.Equal(t, "vega", link.RobloxUsername)

			// The previous Roblox identity no longer resolves.
			_, err = store.GetByRoblox(ctx, 900)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetByRequester(context.Background(), 1)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.GetByRoblox(context.Background(), 1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Upsert(ctx, &Linkage{RequesterID: 42, RobloxID: 900, RobloxUsername: "nova"}))
			require.NoError(t, store.Delete(ctx, 42))

			_, err := store.GetByRequester(ctx, 42)
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, store.Delete(ctx, 42), ErrNotFound)
		})
	}
}
