package sync

import (
	"sort"
	"time"
)

// EventType classifies a raw filesystem notification.
type EventType int

const (
	EventCreated EventType = iota
	EventChanged
	EventDeleted
	EventRenamed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one timestamped filesystem notification. Path is absolute; OldPath
// is set only for renames and carries the pre-rename absolute path.
type Event struct {
	Type    EventType
	Path    string
	OldPath string
	At      time.Time
}

// CoalesceEvents collapses a batch to at most one event per path.
//
// Rules, applied in timestamp order:
//   - Deleted and Renamed dominate Created/Changed for the same path.
//   - Created/Changed following a Renamed at the rename destination merge
//     into the rename, preserving its OldPath.
//   - Otherwise the later event replaces the earlier one.
//
// The result is ordered by ascending timestamp.
func CoalesceEvents(events []Event) []Event {
	byPath := make(map[string]Event, len(events))

	for _, ev := range sortedByTime(events) {
		switch ev.Type {
		case EventRenamed:
			// The old path no longer exists; whatever was pending there is
			// superseded by the rename.
			delete(byPath, ev.OldPath)
			byPath[ev.Path] = ev
		case EventDeleted:
			byPath[ev.Path] = ev
		case EventCreated, EventChanged:
			prev, ok := byPath[ev.Path]
			if !ok {
				byPath[ev.Path] = ev
				continue
			}
			switch prev.Type {
			case EventDeleted:
				// Deleted dominates within the batch; the transition check
				// observes the recreated file on the next event anyway.
			case EventRenamed:
				prev.At = ev.At
				byPath[ev.Path] = prev
			default:
				byPath[ev.Path] = ev
			}
		}
	}

	out := make([]Event, 0, len(byPath))
	for _, ev := range byPath {
		out = append(out, ev)
	}
	return sortedByTime(out)
}

func sortedByTime(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}
