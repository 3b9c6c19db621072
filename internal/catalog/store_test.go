package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(relPath string) *Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return &Entry{
		ID:          uuid.NewString(),
		RelPath:     relPath,
		ContentHash: "0000000000000000000000000000000000000000000000000000000000000000",
		Size:        42,
		CreatedAt:   now,
		ModifiedAt:  now,
		AccessedAt:  now,
		Health:      Healthy,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := testEntry("docs/a.txt")
	entry.MimeType = "text/plain"
	entry.FullPath = "/vault/docs/a.txt"
	require.NoError(t, store.Insert(ctx, entry))

	byID, err := store.GetByID(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, entry.RelPath, byID.RelPath)
	assert.Equal(t, entry.MimeType, byID.MimeType)
	assert.True(t, entry.ModifiedAt.Equal(byID.ModifiedAt))

	byPath, err := store.GetByRelPath("docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, entry.ID, byPath.ID)

	byHash, err := store.GetByContentHash(entry.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, byHash)

	byFull, err := store.GetByFullPath("/vault/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, byFull)

	missing, err := store.GetByRelPath("nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestSaveBatchAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	existing := testEntry("taken.txt")
	require.NoError(t, store.Insert(ctx, existing))

	good := testEntry("fresh.txt")
	bad := testEntry("taken.txt") // violates the unique rel_path constraint

	err := store.SaveBatch(ctx, []*Entry{good, bad})
	require.Error(t, err)

	// The whole batch must have rolled back.
	got, err := store.GetByRelPath("fresh.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPageCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const total = 450
	entries := make([]*Entry, 0, total)
	for i := 0; i < total; i++ {
		entries = append(entries, testEntry(fmt.Sprintf("f/%04d.bin", i)))
	}
	require.NoError(t, store.SaveBatch(ctx, entries))

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		page, err := store.Page(cursor, 200)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		for _, entry := range page {
			assert.Greater(t, entry.ID, cursor, "cursor must never revisit earlier ids")
			assert.False(t, seen[entry.ID], "entry %s returned twice", entry.ID)
			seen[entry.ID] = true
		}
		cursor = page[len(page)-1].ID
		if len(page) < 200 {
			break
		}
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, total)
}

func TestPageCursorIgnoresEarlierInserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Insert(ctx, testEntry(fmt.Sprintf("a/%d", i))))
	}

	page, err := store.Page("", 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	cursor := page[len(page)-1].ID

	// Entries sorting before the cursor must not reappear on later pages.
	early := testEntry("early.txt")
	early.ID = "0000-" + early.ID
	require.NoError(t, store.Insert(ctx, early))

	rest, err := store.Page(cursor, 100)
	require.NoError(t, err)
	for _, entry := range rest {
		assert.NotEqual(t, early.ID, entry.ID)
		assert.Greater(t, entry.ID, cursor)
	}
}

func TestRootsSingleton(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	validated := 0
	roots := NewRoots(store, func(path string) (string, error) {
		validated++
		return path, nil
	})

	_, err := roots.Get()
	require.ErrorIs(t, err, ErrNoStorageRoot)

	set, err := roots.Set(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, set)

	got, err := roots.Get()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	// Second Get comes from cache, no re-validation.
	before := validated
	_, err = roots.Get()
	require.NoError(t, err)
	assert.Equal(t, before, validated)

	// Invalidate forces re-validation.
	roots.Invalidate()
	_, err = roots.Get()
	require.NoError(t, err)
	assert.Equal(t, before+1, validated)
}
