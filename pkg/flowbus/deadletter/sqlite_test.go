package deadletter_test

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/deadletter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "deadletter.db")

	store1, err := deadletter.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	entry := newEntry("order.created", time.Now())
	require.NoError(t, store1.Save(entry))
	require.NoError(t, store1.Close())

	store2, err := deadletter.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	loaded, err := store2.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.CallID, loaded.CallID)
	assert.JSONEq(t, string(entry.Args), string(loaded.Args))
}

func TestSQLiteStore_CorruptTimestamp(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "deadletter.db")

	store, err := deadletter.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	entry := newEntry("order.created", time.Now())
	require.NoError(t, store.Save(entry))

	raw, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE dead_letters SET failed_at = 'yesterday' WHERE id = ?`, entry.ID)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = store.Get(entry.ID)
	assert.ErrorContains(t, err, "parse failed_at")

	_, err = store.List("order.created")
	assert.ErrorContains(t, err, "parse failed_at")
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := deadletter.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := deadletter.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_SubsecondOrdering(t *testing.T) {
	store, err := deadletter.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	// Fixed-width timestamps keep text order equal to time order.
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := newEntry("order.created", at.Add(900*time.Millisecond))
	earlier := newEntry("order.created", at.Add(100*time.Millisecond))
	whole := newEntry("order.created", at)

	for _, e := range []deadletter.Entry{later, earlier, whole} {
		require.NoError(t, store.Save(e))
	}

	entries, err := store.List("order.created")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, whole.ID, entries[0].ID)
	assert.Equal(t, earlier.ID, entries[1].ID)
	assert.Equal(t, later.ID, entries[2].ID)
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	store, err := deadletter.NewSQLiteStore(filepath.Join(t.TempDir(), "concurrent.db"))
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Save(newEntry("order.created", time.Now())))
		}()
	}
	wg.Wait()

	entries, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
