package sync

import (
	"context"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

// recordingDispatcher captures notifications for assertions.
type recordingDispatcher struct {
	mu    stdsync.Mutex
	calls []Action
}

func (d *recordingDispatcher) record(t ActionType, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Action{Type: t, EntryID: id})
	return nil
}

func (d *recordingDispatcher) OnMissing(id string) error        { return d.record(ActionMissing, id) }
func (d *recordingDispatcher) OnRehydrated(id string) error     { return d.record(ActionRehydrated, id) }
func (d *recordingDispatcher) OnMoved(id string) error          { return d.record(ActionMoved, id) }
func (d *recordingDispatcher) OnContentChanged(id string) error { return d.record(ActionContentChanged, id) }

func (d *recordingDispatcher) byType(t ActionType) []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Action
	for _, call := range d.calls {
		if call.Type == t {
			out = append(out, call)
		}
	}
	return out
}

func newTestRoot(t *testing.T) *vault.Root {
	t.Helper()
	root, err := vault.OpenRoot(t.TempDir())
	require.NoError(t, err)
	return root
}

func newTestStore(t *testing.T) *catalog.SQLiteStore {
	t.Helper()
	store := catalog.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	return store
}

// catalogFile writes content under the root and inserts a matching healthy
// entry, the state after a clean ingest.
func catalogFile(t *testing.T, store catalog.Store, root *vault.Root, rel, content string) *catalog.Entry {
	t.Helper()
	full := root.Full(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	info, err := os.Stat(full)
	require.NoError(t, err)
	hash, err := vault.HashFile(full)
	require.NoError(t, err)

	now := time.Now().UTC()
	entry := &catalog.Entry{
		ID:          uuid.NewString(),
		RelPath:     rel,
		ContentHash: hash,
		Size:        info.Size(),
		CreatedAt:   now,
		ModifiedAt:  info.ModTime().UTC(),
		AccessedAt:  now,
		Health:      catalog.Healthy,
		FullPath:    full,
	}
	require.NoError(t, store.Insert(context.Background(), entry))
	return entry
}

func TestCheckEntryUnchangedIsNoOp(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "content")

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	assert.False(t, outcome.Changed)
	assert.Nil(t, outcome.Entry)
	assert.Nil(t, outcome.Action)
}

func TestCheckEntryMissing(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "content")
	require.NoError(t, os.Remove(root.Full("a.txt")))

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	require.True(t, outcome.Changed)
	assert.Equal(t, catalog.Missing, outcome.Entry.Health)
	require.NotNil(t, outcome.Action)
	assert.Equal(t, ActionMissing, outcome.Action.Type)
}

func TestCheckEntryMissingRenotifiesWithoutWrite(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "content")
	require.NoError(t, os.Remove(root.Full("a.txt")))
	entry.Health = catalog.Missing

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	assert.False(t, outcome.Changed, "a stable missing entry needs no catalog write")
	assert.Nil(t, outcome.Entry)
	require.NotNil(t, outcome.Action, "but it is re-notified on every observation")
	assert.Equal(t, ActionMissing, outcome.Action.Type)
}

func TestCheckEntryRehydrated(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "content")
	entry.Health = catalog.Missing

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	require.True(t, outcome.Changed)
	assert.Equal(t, catalog.Healthy, outcome.Entry.Health)
	require.NotNil(t, outcome.Action)
	assert.Equal(t, ActionRehydrated, outcome.Action.Type)
}

func TestCheckEntryMetadataOnlyChange(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "content")

	// Same bytes, newer mtime.
	later := entry.ModifiedAt.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(root.Full("a.txt"), later, later))

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	require.True(t, outcome.Changed)
	assert.Equal(t, catalog.Healthy, outcome.Entry.Health)
	assert.Equal(t, entry.ContentHash, outcome.Entry.ContentHash)
	assert.True(t, later.Equal(outcome.Entry.ModifiedAt))
	assert.Nil(t, outcome.Action, "timestamp refresh alone is not notified")
}

func TestCheckEntryContentChanged(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	entry := catalogFile(t, store, root, "a.txt", "original")
	require.NoError(t, os.WriteFile(root.Full("a.txt"), []byte("rewritten entirely"), 0o644))

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	require.True(t, outcome.Changed)
	assert.Equal(t, catalog.ContentChanged, outcome.Entry.Health)
	assert.NotEqual(t, entry.ContentHash, outcome.Entry.ContentHash)
	assert.Equal(t, int64(len("rewritten entirely")), outcome.Entry.Size)
	require.NotNil(t, outcome.Action)
	assert.Equal(t, ActionContentChanged, outcome.Action.Type)
}

func TestCommitSettlesContentChangedToHealthy(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}
	entry := catalogFile(t, store, root, "a.txt", "original")
	require.NoError(t, os.WriteFile(root.Full("a.txt"), []byte("rewritten entirely"), 0o644))

	outcome := CheckEntry(catalog.SystemClock{}, root, entry)
	require.True(t, outcome.Changed)

	err := commitAndDispatch(context.Background(), store, dispatcher,
		[]*catalog.Entry{outcome.Entry}, []Action{*outcome.Action})
	require.NoError(t, err)

	saved, err := store.GetByID(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.Healthy, saved.Health, "content change is transient, settles after commit")
	assert.Equal(t, outcome.Entry.ContentHash, saved.ContentHash)
	assert.Len(t, dispatcher.byType(ActionContentChanged), 1)
}
