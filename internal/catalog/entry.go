package catalog

import "time"

// HealthStatus describes the last verified relationship between a catalog
// entry and the file on disk.
type HealthStatus string

const (
	// Healthy means the file was present and matched the entry at the last
	// verification.
	Healthy HealthStatus = "healthy"
	// Missing means the file could not be found on disk. The entry's hash and
	// size are not assumed fresh until the file is observed again.
	Missing HealthStatus = "missing"
	// ContentChanged is a transient marker applied while a batch replaces the
	// stored hash; entries settle back to Healthy once the new hash and
	// timestamps are committed.
	ContentChanged HealthStatus = "content_changed"
)

// Entry is the catalog record for one physical file under the vault root.
//
// RelPath is the authoritative location: root-relative, forward slashes, never
// absolute and never containing ".." segments. FullPath is an advisory cache
// of the last observed absolute path, updated on move.
type Entry struct {
	ID          string       `db:"id"`
	RelPath     string       `db:"rel_path"`
	ContentHash string       `db:"content_hash"`
	Size        int64        `db:"size"`
	CreatedAt   time.Time    `db:"-"`
	ModifiedAt  time.Time    `db:"-"`
	AccessedAt  time.Time    `db:"-"`
	MimeType    string       `db:"mime_type"`
	Encrypted   bool         `db:"encrypted"`
	Health      HealthStatus `db:"health"`
	FullPath    string       `db:"full_path"`
}

// FileName returns the base name of the entry's relative path.
func (e *Entry) FileName() string {
	for i := len(e.RelPath) - 1; i >= 0; i-- {
		if e.RelPath[i] == '/' {
			return e.RelPath[i+1:]
		}
	}
	return e.RelPath
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	return &cp
}

// Clock provides the current time. Everything in the catalog is recorded in
// UTC.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
