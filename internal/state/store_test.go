package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	bolt, err := NewBoltStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	file, err := NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return map[string]Store{"bolt": bolt, "file": file}
}

func TestUsedStoreContainsInsert(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			found, err := store.Contains(CategoryDaily, "abc123")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, store.Insert(CategoryDaily, "abc123"))

			found, err = store.Contains(CategoryDaily, "abc123")
			require.NoError(t, err)
			assert.True(t, found)

			// Categories are independent sets.
			found, err = store.Contains(CategoryWeekly, "abc123")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestUsedStoreInsertIdempotent(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Insert(CategoryBreaking, "key"))
			require.NoError(t, store.Insert(CategoryBreaking, "key"))

			found, err := store.Contains(CategoryBreaking, "key")
			require.NoError(t, err)
			assert.True(t, found)
		})
	}
}

func TestUsedStorePruneMaxKeep(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{"k1", "k2", "k3", "k4", "k5"}
			for _, k := range keys {
				require.NoError(t, store.Insert(CategoryDaily, k))
				time.Sleep(2 * time.Millisecond) // distinct timestamps
			}

			require.NoError(t, store.Prune(CategoryDaily, 24*time.Hour, 3))

			// Oldest two trimmed, newest three kept.
			for i, k := range keys {
				found, err := store.Contains(CategoryDaily, k)
				require.NoError(t, err)
				assert.Equal(t, i >= 2, found, "key %s", k)
			}
		})
	}
}

func TestUsedStorePruneRetention(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Insert(CategoryWeekly, "fresh"))

			// A zero-duration retention window expires everything.
			time.Sleep(2 * time.Millisecond)
			require.NoError(t, store.Prune(CategoryWeekly, time.Nanosecond, 0))

			found, err := store.Contains(CategoryWeekly, "fresh")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestLockAcquireAndContention(t *testing.T) {
	staleness := 30 * time.Minute
	now := time.Now()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.AcquireLock(now, staleness)
			require.NoError(t, err)
			assert.True(t, ok)

			// Second acquire within the staleness window must fail.
			ok, err = store.AcquireLock(now.Add(5*time.Minute), staleness)
			require.NoError(t, err)
			assert.False(t, ok)

			held, err := store.LockHeld(now.Add(5*time.Minute), staleness)
			require.NoError(t, err)
			assert.True(t, held)

			require.NoError(t, store.ReleaseLock())

			held, err = store.LockHeld(now.Add(5*time.Minute), staleness)
			require.NoError(t, err)
			assert.False(t, held)
		})
	}
}

func TestLockStaleReclaim(t *testing.T) {
	staleness := 30 * time.Minute
	now := time.Now()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.AcquireLock(now, staleness)
			require.NoError(t, err)
			require.True(t, ok)

			// At exactly the staleness age the lock counts as expired and a
			// new run may claim it.
			ok, err = store.AcquireLock(now.Add(staleness), staleness)
			require.NoError(t, err)
			assert.True(t, ok)

			// The reclaimed lock is fresh again.
			ok, err = store.AcquireLock(now.Add(staleness+time.Minute), staleness)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBreakingCountPerDay(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			day := DayKey(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

			n, err := store.BreakingCount(day)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			n, err = store.IncrBreakingCount(day)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = store.IncrBreakingCount(day)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Next day starts from zero.
			n, err = store.BreakingCount(DayKey(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)))
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestFileStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Insert(CategoryDaily, "persisted"))
	_, err = store.IncrBreakingCount("2026-03-14")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err := reopened.Contains(CategoryDaily, "persisted")
	require.NoError(t, err)
	assert.True(t, found)

	n, err := reopened.BreakingCount("2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
