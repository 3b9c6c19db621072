package sync

import "log/slog"

// ActionType identifies a catalog transition worth notifying about.
type ActionType string

const (
	ActionMissing        ActionType = "missing"
	ActionRehydrated     ActionType = "rehydrated"
	ActionMoved          ActionType = "moved"
	ActionContentChanged ActionType = "content_changed"
)

// Action is an ephemeral notification produced while applying transitions. It
// is dispatched only after the batch's catalog changes are committed.
type Action struct {
	Type    ActionType
	EntryID string
}

// Dispatcher receives synchronization notifications. Delivery is at-most-once
// and best-effort: errors are logged by the caller, never retried, and never
// roll back the catalog commit.
type Dispatcher interface {
	OnMissing(entryID string) error
	OnRehydrated(entryID string) error
	OnMoved(entryID string) error
	OnContentChanged(entryID string) error
}

// LogDispatcher logs every notification. The default when no external
// collaborator is wired in.
type LogDispatcher struct{}

func (LogDispatcher) OnMissing(entryID string) error {
	slog.Info("sync notify", "event", ActionMissing, "entry", entryID)
	return nil
}

func (LogDispatcher) OnRehydrated(entryID string) error {
	slog.Info("sync notify", "event", ActionRehydrated, "entry", entryID)
	return nil
}

func (LogDispatcher) OnMoved(entryID string) error {
	slog.Info("sync notify", "event", ActionMoved, "entry", entryID)
	return nil
}

func (LogDispatcher) OnContentChanged(entryID string) error {
	slog.Info("sync notify", "event", ActionContentChanged, "entry", entryID)
	return nil
}

// dispatchAll delivers each action, isolating failures so one bad dispatch
// does not block the rest.
func dispatchAll(d Dispatcher, actions []Action) {
	for _, action := range actions {
		var err error
		switch action.Type {
		case ActionMissing:
			err = d.OnMissing(action.EntryID)
		case ActionRehydrated:
			err = d.OnRehydrated(action.EntryID)
		case ActionMoved:
			err = d.OnMoved(action.EntryID)
		case ActionContentChanged:
			err = d.OnContentChanged(action.EntryID)
		}
		if err != nil {
			slog.Warn("sync notify failed", "event", action.Type, "entry", action.EntryID, "error", err)
		}
	}
}
