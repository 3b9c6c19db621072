package vault

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/openvault/cartonbox/internal/utils"
)

const (
	// MetadataDirName holds the catalog database, lock file and logs. The
	// monitor and scanner never track files under it.
	MetadataDirName = ".cartonbox"
	lockFileName    = "cartonbox.lock"
	catalogFileName = "catalog.db"
	logsDirName     = "logs"
)

// ErrRootLocked means another cartonbox instance holds the vault.
var ErrRootLocked = errors.New("vault locked by another process")

// Root is a validated vault root plus its metadata layout and instance lock.
type Root struct {
	Dir         string
	MetadataDir string
	LogsDir     string
	CatalogPath string

	flock *flock.Flock
}

// OpenRoot validates dir and prepares the metadata layout. It does not take
// the instance lock; call Lock before mutating the vault.
func OpenRoot(dir string) (*Root, error) {
	resolved, err := ValidateRoot(dir)
	if err != nil {
		return nil, err
	}

	metadataDir := filepath.Join(resolved, MetadataDirName)
	return &Root{
		Dir:         resolved,
		MetadataDir: metadataDir,
		LogsDir:     filepath.Join(metadataDir, logsDirName),
		CatalogPath: filepath.Join(metadataDir, catalogFileName),
		flock:       flock.New(filepath.Join(metadataDir, lockFileName)),
	}, nil
}

// Lock takes the vault instance lock so concurrent daemons cannot race on the
// same root.
func (r *Root) Lock() error {
	if err := utils.EnsureDir(r.MetadataDir); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	locked, err := r.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock vault: %w", err)
	}
	if !locked {
		return ErrRootLocked
	}
	return nil
}

func (r *Root) Unlock() error {
	return r.flock.Unlock()
}

// IsMetadataPath reports whether an absolute path lives under the metadata
// directory.
func (r *Root) IsMetadataPath(full string) bool {
	return full == r.MetadataDir ||
		strings.HasPrefix(full, r.MetadataDir+string(filepath.Separator))
}

// Full resolves a canonical relative path against this root.
func (r *Root) Full(rel string) string {
	return ResolveFull(r.Dir, rel)
}

// Rel converts an absolute path under this root to canonical relative form.
func (r *Root) Rel(full string) (string, error) {
	return ResolveRel(r.Dir, full)
}
