package sync

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

func newTestScanner(root *vault.Root, store catalog.Store, dispatcher Dispatcher, parallel bool, gates ...Waiter) *Scanner {
	return NewScanner(ScannerConfig{
		Root:       root,
		Store:      store,
		Clock:      catalog.SystemClock{},
		Dispatcher: dispatcher,
		Gates:      gates,
		BatchSize:  200,
		Parallel:   parallel,
		Workers:    4,
	})
}

func TestScannerSweepAcrossPages(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}

	// 450 entries forces three cursor pages at batch size 200.
	const total = 450
	entries := make([]*catalog.Entry, 0, total)
	for i := 0; i < total; i++ {
		entries = append(entries, catalogFile(t, store, root, fmt.Sprintf("f/%04d.bin", i), fmt.Sprintf("payload-%d", i)))
	}

	// One casualty per page region.
	removed := []*catalog.Entry{entries[10], entries[220], entries[430]}
	for _, entry := range removed {
		require.NoError(t, os.Remove(entry.FullPath))
	}

	scanner := newTestScanner(root, store, dispatcher, false)
	require.NoError(t, scanner.RunOnce(context.Background()))

	missing := dispatcher.byType(ActionMissing)
	require.Len(t, missing, len(removed))
	for _, entry := range removed {
		saved, err := store.GetByID(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.Missing, saved.Health)
	}

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, total, count, "a sweep never adds or removes entries")
}

func TestScannerParallelMatchesSerial(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}

	var changed []*catalog.Entry
	for i := 0; i < 40; i++ {
		entry := catalogFile(t, store, root, fmt.Sprintf("p/%02d.txt", i), fmt.Sprintf("body-%d", i))
		if i%10 == 0 {
			require.NoError(t, os.WriteFile(entry.FullPath, []byte(fmt.Sprintf("edited out of band %d", i)), 0o644))
			changed = append(changed, entry)
		}
	}

	scanner := newTestScanner(root, store, dispatcher, true)
	require.NoError(t, scanner.RunOnce(context.Background()))

	require.Len(t, dispatcher.byType(ActionContentChanged), len(changed))
	for _, entry := range changed {
		saved, err := store.GetByID(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.Healthy, saved.Health)
		assert.NotEqual(t, entry.ContentHash, saved.ContentHash)
	}
}

func TestScannerRenotifiesStableMissing(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}

	entry := catalogFile(t, store, root, "a.txt", "content")
	require.NoError(t, os.Remove(entry.FullPath))

	scanner := newTestScanner(root, store, dispatcher, false)
	require.NoError(t, scanner.RunOnce(context.Background()))
	require.NoError(t, scanner.RunOnce(context.Background()))

	assert.Len(t, dispatcher.byType(ActionMissing), 2, "a file that stays gone is reported every sweep")
}

func TestScannerCleanSweepIsSilent(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}

	for i := 0; i < 25; i++ {
		catalogFile(t, store, root, fmt.Sprintf("ok/%02d.txt", i), "stable")
	}

	scanner := newTestScanner(root, store, dispatcher, false)
	require.NoError(t, scanner.RunOnce(context.Background()))
	assert.Empty(t, dispatcher.calls)
}

func TestScannerHonorsGateBetweenPages(t *testing.T) {
	root := newTestRoot(t)
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}
	catalogFile(t, store, root, "a.txt", "content")

	gate := NewGate()
	gate.Pause()

	scanner := newTestScanner(root, store, dispatcher, false, gate)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- scanner.RunOnce(ctx)
	}()

	select {
	case <-errCh:
		t.Fatal("sweep proceeded while paused")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("paused sweep did not respond to cancellation")
	}
}
