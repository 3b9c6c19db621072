package sync

import (
	"context"
	"log/slog"
	"os"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

// CheckOutcome is the result of evaluating one catalog entry against disk.
// Entry is an updated clone when Changed is true; Action is the notification
// to dispatch after commit, if any.
type CheckOutcome struct {
	Entry   *catalog.Entry
	Action  *Action
	Changed bool
}

// CheckEntry applies the shared transition logic used by both the monitor and
// the scanner. It is side-effect free on the catalog: committing the returned
// entry is the caller's job.
//
// The unchanged fast path compares size and modification time only. Creation
// and access times are deliberately excluded from the trigger set: neither is
// a portable change signal (atime is often mount-disabled, ctime/birthtime
// semantics differ per OS), and a stale value would force pointless re-hashes.
//
// Transitions:
//   - file absent             -> Missing (notification emitted on every observation)
//   - reappears unchanged     -> Healthy, Rehydrated
//   - metadata-only change    -> Healthy, timestamps refreshed
//   - content hash differs    -> ContentChanged, hash/size/timestamps replaced
func CheckEntry(clock catalog.Clock, root *vault.Root, entry *catalog.Entry) CheckOutcome {
	full := root.Full(entry.RelPath)

	info, err := os.Stat(full)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("stat failed, treating as missing", "path", full, "error", err)
		}
		action := &Action{Type: ActionMissing, EntryID: entry.ID}
		if entry.Health == catalog.Missing {
			// Already known missing: re-notify, nothing to persist.
			return CheckOutcome{Action: action}
		}
		updated := entry.Clone()
		updated.Health = catalog.Missing
		return CheckOutcome{Entry: updated, Action: action, Changed: true}
	}

	wasMissing := entry.Health == catalog.Missing
	modTime := info.ModTime().UTC()
	metaUnchanged := info.Size() == entry.Size && modTime.Equal(entry.ModifiedAt)

	if metaUnchanged {
		if !wasMissing {
			return CheckOutcome{}
		}
		updated := entry.Clone()
		updated.Health = catalog.Healthy
		updated.FullPath = full
		updated.AccessedAt = clock.Now()
		return CheckOutcome{
			Entry:   updated,
			Action:  &Action{Type: ActionRehydrated, EntryID: entry.ID},
			Changed: true,
		}
	}

	// Something differs: the hash decides between metadata-only and content
	// change.
	hash, hashErr := vault.HashFile(full)
	now := clock.Now()

	updated := entry.Clone()
	updated.ModifiedAt = modTime
	updated.AccessedAt = now
	updated.FullPath = full

	if hashErr != nil {
		if info.Size() == entry.Size {
			// Cannot tell content changed; leave the entry untouched rather
			// than record a hash we never computed.
			slog.Warn("hash failed, entry left unchanged", "path", full, "error", hashErr)
			return CheckOutcome{}
		}
		// Size alone proves a change. Best effort: record the new size, keep
		// the stale hash, and still notify.
		slog.Warn("hash failed, marking changed by size", "path", full, "error", hashErr)
		updated.Size = info.Size()
		updated.Health = catalog.ContentChanged
		return CheckOutcome{
			Entry:   updated,
			Action:  &Action{Type: ActionContentChanged, EntryID: entry.ID},
			Changed: true,
		}
	}

	if hash == entry.ContentHash {
		// Metadata-only update.
		updated.Health = catalog.Healthy
		var action *Action
		if wasMissing {
			action = &Action{Type: ActionRehydrated, EntryID: entry.ID}
		}
		return CheckOutcome{Entry: updated, Action: action, Changed: true}
	}

	updated.ContentHash = hash
	updated.Size = info.Size()
	updated.Health = catalog.ContentChanged
	return CheckOutcome{
		Entry:   updated,
		Action:  &Action{Type: ActionContentChanged, EntryID: entry.ID},
		Changed: true,
	}
}

// commitAndDispatch persists a batch of transitions in one transaction, then
// delivers notifications. ContentChanged is a transient marker: once the new
// hash and timestamps are in the batch, entries settle back to Healthy.
func commitAndDispatch(ctx context.Context, store catalog.Store, dispatcher Dispatcher, entries []*catalog.Entry, actions []Action) error {
	for _, entry := range entries {
		if entry.Health == catalog.ContentChanged {
			entry.Health = catalog.Healthy
		}
	}
	if err := store.SaveBatch(ctx, entries); err != nil {
		return err
	}
	dispatchAll(dispatcher, actions)
	return nil
}
