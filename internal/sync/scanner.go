package sync

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

const (
	DefaultScanBatchSize = 200
	DefaultScanInterval  = time.Hour
	DefaultScanWorkers   = 4
)

// ScannerConfig wires a Scanner.
type ScannerConfig struct {
	Root       *vault.Root
	Store      catalog.Store
	Clock      catalog.Clock
	Dispatcher Dispatcher
	Gates      []Waiter
	BatchSize  int
	Interval   time.Duration
	Parallel   bool
	Workers    int
}

// Scanner sweeps the whole catalog on a fixed interval, re-verifying every
// entry against disk. It catches changes the monitor missed: downtime,
// out-of-band edits, unplugged volumes.
type Scanner struct {
	root       *vault.Root
	store      catalog.Store
	clock      catalog.Clock
	dispatcher Dispatcher
	gates      []Waiter
	batchSize  int
	interval   time.Duration
	parallel   bool
	workers    int
}

func NewScanner(cfg ScannerConfig) *Scanner {
	s := &Scanner{
		root:       cfg.Root,
		store:      cfg.Store,
		clock:      cfg.Clock,
		dispatcher: cfg.Dispatcher,
		gates:      cfg.Gates,
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		parallel:   cfg.Parallel,
		workers:    cfg.Workers,
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultScanBatchSize
	}
	if s.interval <= 0 {
		s.interval = DefaultScanInterval
	}
	if s.workers <= 0 {
		s.workers = DefaultScanWorkers
	}
	if s.dispatcher == nil {
		s.dispatcher = LogDispatcher{}
	}
	if s.clock == nil {
		s.clock = catalog.SystemClock{}
	}
	return s
}

// Run executes one sweep immediately, then one per interval until ctx is
// done. A failed iteration is logged; the loop keeps going.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Error("integrity scan failed", "error", err)
	}

	// Timer, not ticker: a sweep longer than the interval must not queue
	// follow-up ticks.
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("integrity scan failed", "error", err)
			}
			timer.Reset(s.interval)
		}
	}
}

// RunOnce sweeps the catalog in ascending-id pages. The cursor is the last
// seen id, so entries inserted mid-scan are never revisited and never skipped
// backwards.
func (s *Scanner) RunOnce(ctx context.Context) error {
	start := s.clock.Now()
	var pages, checked, changed int

	cursor := ""
	for {
		for _, gate := range s.gates {
			if err := gate.Wait(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.store.Page(cursor, s.batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		pages++
		checked += len(page)

		outcomes := s.evaluatePage(ctx, page)

		// Commit order is deterministic regardless of evaluation order.
		sort.Slice(outcomes, func(i, j int) bool {
			return outcomeID(outcomes[i]) < outcomeID(outcomes[j])
		})

		entries := make([]*catalog.Entry, 0, len(outcomes))
		var actions []Action
		for _, outcome := range outcomes {
			if outcome.Changed {
				entries = append(entries, outcome.Entry)
			}
			if outcome.Action != nil {
				actions = append(actions, *outcome.Action)
			}
		}
		changed += len(entries)

		if err := commitAndDispatch(ctx, s.store, s.dispatcher, entries, actions); err != nil {
			return err
		}

		cursor = page[len(page)-1].ID
		if len(page) < s.batchSize {
			break
		}
	}

	if changed > 0 {
		slog.Info("integrity scan",
			"pages", pages,
			"checked", checked,
			"changed", changed,
			"took", time.Since(start),
		)
	} else {
		slog.Debug("integrity scan clean", "pages", pages, "checked", checked, "took", time.Since(start))
	}
	return nil
}

// evaluatePage checks every entry of one page, optionally fanning the hash
// work out over a bounded worker pool. Only changed outcomes are returned.
func (s *Scanner) evaluatePage(ctx context.Context, page []*catalog.Entry) []CheckOutcome {
	results := make([]CheckOutcome, len(page))

	if s.parallel {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i, entry := range page {
			i, entry := i, entry
			g.Go(func() error {
				results[i] = CheckEntry(s.clock, s.root, entry)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, entry := range page {
			results[i] = CheckEntry(s.clock, s.root, entry)
		}
	}

	kept := results[:0]
	for _, outcome := range results {
		// Unchanged outcomes can still carry an action: an entry that stays
		// missing is re-notified on every sweep.
		if outcome.Changed || outcome.Action != nil {
			kept = append(kept, outcome)
		}
	}
	return kept
}

func outcomeID(o CheckOutcome) string {
	if o.Entry != nil {
		return o.Entry.ID
	}
	return o.Action.EntryID
}
