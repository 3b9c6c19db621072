package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/openvault/cartonbox/internal/catalog"
)

// Ingest registers a file already present under the root as a new Healthy
// catalog entry. The path may be absolute (under the root) or root-relative.
func Ingest(ctx context.Context, store catalog.Store, clock catalog.Clock, root *Root, path string) (*catalog.Entry, error) {
	rel, err := root.Rel(path)
	if err != nil {
		// Not absolute under the root, try it as a relative path.
		rel, err = NormalizeRel(path)
		if err != nil {
			return nil, err
		}
	}

	full := root.Full(rel)
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", full, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, full)
	}

	if existing, err := store.GetByRelPath(rel); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("entry already cataloged: %s", rel)
	}

	hash, err := HashFile(full)
	if err != nil {
		return nil, err
	}

	mime := ""
	if mt, err := mimetype.DetectFile(full); err == nil {
		mime = mt.String()
	}

	now := clock.Now()
	entry := &catalog.Entry{
		ID:          uuid.NewString(),
		RelPath:     rel,
		ContentHash: hash,
		Size:        info.Size(),
		CreatedAt:   now,
		ModifiedAt:  info.ModTime().UTC(),
		AccessedAt:  now,
		MimeType:    mime,
		Health:      catalog.Healthy,
		FullPath:    full,
	}

	if err := store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
