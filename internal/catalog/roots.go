package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNoStorageRoot is returned when the singleton storage root row has never
// been set.
var ErrNoStorageRoot = errors.New("storage root not configured")

// RootValidator checks a proposed root and returns its resolved absolute
// form. The vault package supplies the production implementation.
type RootValidator func(path string) (string, error)

// Roots manages the singleton storage-root record. The root is validated on
// first read and cached; Set invalidates the cache so migrations and imports
// always re-validate.
type Roots struct {
	store    *SQLiteStore
	validate RootValidator

	mu     sync.Mutex
	cached string
}

func NewRoots(store *SQLiteStore, validate RootValidator) *Roots {
	return &Roots{store: store, validate: validate}
}

// Get returns the validated absolute root path, from cache when available.
func (r *Roots) Get() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		return r.cached, nil
	}

	var path string
	err := r.store.db.Get(&path, `SELECT path FROM storage_root WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoStorageRoot
		}
		return "", fmt.Errorf("query storage root: %w", err)
	}

	resolved, err := r.validate(path)
	if err != nil {
		return "", fmt.Errorf("stored root %q failed validation: %w", path, err)
	}

	r.cached = resolved
	return resolved, nil
}

// Set validates and stores a new root path, invalidating the cache.
func (r *Roots) Set(path string) (string, error) {
	resolved, err := r.validate(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.store.db.Exec(
		`INSERT INTO storage_root (id, path) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET path = excluded.path`, resolved)
	if err != nil {
		return "", fmt.Errorf("store storage root: %w", err)
	}

	r.cached = ""
	return resolved, nil
}

// Invalidate drops the cached root so the next Get re-reads and re-validates.
func (r *Roots) Invalidate() {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
}
