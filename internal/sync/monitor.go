package sync

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

const (
	// DefaultDebounceWindow is the quiet period that must elapse with no new
	// events before a batch closes.
	DefaultDebounceWindow = 250 * time.Millisecond

	eventQueueSize = 256

	// A rename shows up as a Rename on the old path followed by a Create on
	// the new one; pair them within this window.
	renamePairWindow = 100 * time.Millisecond
)

// MonitorConfig wires a Monitor. Gates are awaited before every batch, so a
// pause always takes effect before the next batch, never mid-batch.
type MonitorConfig struct {
	Root       *vault.Root
	Store      catalog.Store
	Clock      catalog.Clock
	Dispatcher Dispatcher
	Gates      []Waiter
	Debounce   time.Duration
}

// Monitor converts filesystem notifications into catalog transitions. Raw
// events are enqueued by the watcher callbacks (producers never touch the
// catalog); a single consumer drains them into debounced, coalesced batches
// and commits each batch in one transaction.
type Monitor struct {
	root       *vault.Root
	store      catalog.Store
	clock      catalog.Clock
	dispatcher Dispatcher
	gates      []Waiter
	debounce   time.Duration

	queue chan Event
	raw   chan notify.EventInfo
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = catalog.SystemClock{}
	}
	return &Monitor{
		root:       cfg.Root,
		store:      cfg.Store,
		clock:      clock,
		dispatcher: dispatcher,
		gates:      cfg.Gates,
		debounce:   debounce,
		queue:      make(chan Event, eventQueueSize),
	}
}

// Enqueue timestamps and queues one event. Used by the watcher adapter and by
// tests that drive the consumer directly.
func (m *Monitor) Enqueue(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.clock.Now()
	}
	select {
	case m.queue <- ev:
	default:
		slog.Warn("monitor queue full, dropping event", "path", ev.Path, "type", ev.Type)
	}
}

// CloseQueue signals the consumer that no more events will arrive. The
// consumer exits after draining what is already queued.
func (m *Monitor) CloseQueue() {
	close(m.queue)
}

// Watch subscribes to recursive filesystem notifications under the root and
// feeds the queue until ctx is done. Rename pairs are stitched into a single
// Renamed event carrying the old path.
func (m *Monitor) Watch(ctx context.Context) error {
	m.raw = make(chan notify.EventInfo, eventQueueSize)
	recursive := m.root.Dir + "/..."
	if err := notify.Watch(recursive, m.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}
	slog.Info("monitor watching", "dir", m.root.Dir)

	go func() {
		defer notify.Stop(m.raw)
		defer m.CloseQueue()

		var pendingRename *Event
		var renameTimer *time.Timer
		var renameExpiry <-chan time.Time

		flushRename := func() {
			if pendingRename != nil {
				// No Create followed: the file left the root, treat as a
				// delete of the old path.
				m.Enqueue(Event{Type: EventDeleted, Path: pendingRename.OldPath, At: pendingRename.At})
				pendingRename = nil
			}
			renameExpiry = nil
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-renameExpiry:
				flushRename()
			case info, ok := <-m.raw:
				if !ok {
					flushRename()
					return
				}
				path := info.Path()
				if m.root.IsMetadataPath(path) {
					continue
				}
				now := m.clock.Now()
				switch info.Event() {
				case notify.Rename:
					flushRename()
					pendingRename = &Event{Type: EventRenamed, OldPath: path, At: now}
					if renameTimer == nil {
						renameTimer = time.NewTimer(renamePairWindow)
					} else {
						renameTimer.Reset(renamePairWindow)
					}
					renameExpiry = renameTimer.C
				case notify.Create:
					if pendingRename != nil {
						ev := *pendingRename
						ev.Path = path
						ev.At = now
						pendingRename = nil
						renameExpiry = nil
						if renameTimer != nil {
							renameTimer.Stop()
						}
						m.Enqueue(ev)
						continue
					}
					m.Enqueue(Event{Type: EventCreated, Path: path, At: now})
				case notify.Write:
					m.Enqueue(Event{Type: EventChanged, Path: path, At: now})
				case notify.Remove:
					m.Enqueue(Event{Type: EventDeleted, Path: path, At: now})
				}
			}
		}
	}()

	return nil
}

// Run is the single consumer loop. It blocks until the queue closes or ctx is
// cancelled; cancellation never interrupts a batch already being committed,
// only the waits around it.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		for _, gate := range m.gates {
			if err := gate.Wait(ctx); err != nil {
				return nil
			}
		}

		var first Event
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.queue:
			if !ok {
				return nil
			}
			first = ev
		}

		batch, closed := m.collectBatch(ctx, first)
		if ctx.Err() != nil {
			// Cancelled mid-debounce: nothing evaluated, nothing committed.
			return nil
		}
		if err := m.processBatch(ctx, batch); err != nil {
			slog.Error("monitor batch failed", "events", len(batch), "error", err)
		}
		if closed {
			return nil
		}
	}
}

// collectBatch drains the queue until a quiet period of the debounce window
// elapses with no new events.
func (m *Monitor) collectBatch(ctx context.Context, first Event) (batch []Event, closed bool) {
	batch = []Event{first}
	timer := time.NewTimer(m.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return batch, false
		case <-timer.C:
			return batch, false
		case ev, ok := <-m.queue:
			if !ok {
				return batch, true
			}
			batch = append(batch, ev)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(m.debounce)
		}
	}
}

// processBatch coalesces, applies transitions in timestamp order, commits the
// whole batch in one transaction, then dispatches notifications.
func (m *Monitor) processBatch(ctx context.Context, events []Event) error {
	coalesced := CoalesceEvents(events)

	// Entries touched earlier in the batch are applied on top of, not
	// re-fetched stale from the store.
	touched := make(map[string]*catalog.Entry)
	var order []string
	var actions []Action

	record := func(entry *catalog.Entry, action *Action) {
		if entry != nil {
			if _, seen := touched[entry.ID]; !seen {
				order = append(order, entry.ID)
			}
			touched[entry.ID] = entry
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}

	lookup := func(rel string) (*catalog.Entry, error) {
		for _, entry := range touched {
			if entry.RelPath == rel {
				return entry, nil
			}
		}
		return m.store.GetByRelPath(rel)
	}

	for _, ev := range coalesced {
		switch ev.Type {
		case EventCreated, EventChanged:
			rel, err := m.root.Rel(ev.Path)
			if err != nil {
				continue
			}
			entry, err := lookup(rel)
			if err != nil {
				return err
			}
			if entry == nil {
				// Not cataloged; registration is the ingest surface's job.
				slog.Debug("event for uncataloged path", "path", rel)
				continue
			}
			outcome := CheckEntry(m.clock, m.root, entry)
			if outcome.Changed {
				record(outcome.Entry, outcome.Action)
			} else if outcome.Action != nil {
				record(nil, outcome.Action)
			}

		case EventDeleted:
			rel, err := m.root.Rel(ev.Path)
			if err != nil {
				continue
			}
			entry, err := lookup(rel)
			if err != nil {
				return err
			}
			if entry == nil || entry.Health == catalog.Missing {
				continue
			}
			updated := entry.Clone()
			updated.Health = catalog.Missing
			record(updated, &Action{Type: ActionMissing, EntryID: entry.ID})

		case EventRenamed:
			entry, err := m.resolveRenamed(ev)
			if err != nil {
				return err
			}
			if entry == nil {
				slog.Debug("rename for uncataloged path", "old", ev.OldPath, "new", ev.Path)
				continue
			}
			newRel, err := m.root.Rel(ev.Path)
			if err != nil {
				// Moved outside the root: gone as far as the catalog is
				// concerned.
				updated := entry.Clone()
				updated.Health = catalog.Missing
				record(updated, &Action{Type: ActionMissing, EntryID: entry.ID})
				continue
			}
			updated := entry.Clone()
			updated.RelPath = newRel
			updated.FullPath = ev.Path
			updated.Health = catalog.Healthy
			if info, err := os.Stat(ev.Path); err == nil {
				updated.ModifiedAt = info.ModTime().UTC()
			}
			updated.AccessedAt = m.clock.Now()
			record(updated, &Action{Type: ActionMoved, EntryID: entry.ID})
		}
	}

	entries := make([]*catalog.Entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, touched[id])
	}
	return commitAndDispatch(ctx, m.store, m.dispatcher, entries, actions)
}

// resolveRenamed locates the entry for a rename by its prior relative path,
// falling back to the last-known full path.
func (m *Monitor) resolveRenamed(ev Event) (*catalog.Entry, error) {
	if oldRel, err := m.root.Rel(ev.OldPath); err == nil {
		entry, err := m.store.GetByRelPath(oldRel)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return m.store.GetByFullPath(ev.OldPath)
}
