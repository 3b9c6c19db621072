package pack

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/openvault/cartonbox/internal/catalog"
	fsync "github.com/openvault/cartonbox/internal/sync"
	"github.com/openvault/cartonbox/internal/utils"
	"github.com/openvault/cartonbox/internal/vault"
)

// MigrateOptions configures a root relocation.
type MigrateOptions struct {
	NewRoot string
	// VerifyHash rehashes every copied file instead of trusting size alone.
	VerifyHash   bool
	SafetyMargin float64
}

// MigrateResult reports a root relocation.
type MigrateResult struct {
	Status         ResultStatus `json:"status"`
	NewRoot        string       `json:"newRoot,omitempty"`
	Copied         int          `json:"copied"`
	Failed         int          `json:"failed"`
	RequiredBytes  int64        `json:"requiredBytes,omitempty"`
	AvailableBytes int64        `json:"availableBytes,omitempty"`
	Issues         []Issue      `json:"issues,omitempty"`
	Message        string       `json:"message"`
}

// Migrator relocates the vault: copy everything, verify everything, and only
// then switch the authoritative storage root. On any verification failure the
// old root stays authoritative and the partial copy is left in place for
// inspection.
type Migrator struct {
	store catalog.Store
	roots *catalog.Roots
	root  *vault.Root
	gate  *fsync.Gate

	freeSpace freeSpaceFunc
}

func NewMigrator(store catalog.Store, roots *catalog.Roots, root *vault.Root, gate *fsync.Gate) *Migrator {
	return &Migrator{
		store:     store,
		roots:     roots,
		root:      root,
		gate:      gate,
		freeSpace: diskFree,
	}
}

func (m *Migrator) Migrate(ctx context.Context, opts MigrateOptions) (*MigrateResult, error) {
	newRoot, err := vault.ValidateRoot(opts.NewRoot)
	if err != nil {
		return nil, err
	}

	entries, err := m.store.All()
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	for _, entry := range entries {
		totalBytes += entry.Size
	}
	required := requiredWithMargin(totalBytes, opts.SafetyMargin)
	available, err := m.freeSpace(newRoot)
	if err != nil {
		return nil, err
	}
	if uint64(required) > available {
		return &MigrateResult{
			Status:         StatusInsufficientSpace,
			RequiredBytes:  required,
			AvailableBytes: int64(available),
			Message:        fmt.Sprintf("new root needs %d bytes free, has %d", required, available),
		}, nil
	}

	if m.gate != nil {
		m.gate.Pause()
		defer m.gate.Resume()
	}

	result := &MigrateResult{}
	var errs *multierror.Error

	// Phase 1: copy.
	copied := make([]*catalog.Entry, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := m.root.Full(entry.RelPath)
		if !utils.FileExists(src) {
			// A missing source is not a copy failure; the entry migrates as
			// Missing and the scanner keeps reporting it at the new root.
			continue
		}
		dst := vault.ResolveFull(newRoot, entry.RelPath)
		if err := vault.AtomicCopy(src, dst, true); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("copy %s: %w", entry.RelPath, err))
			result.Issues = append(result.Issues, Issue{RelPath: entry.RelPath, Message: err.Error()})
			continue
		}
		copied = append(copied, entry)
	}

	// Phase 2: verify every copy before the switch.
	for _, entry := range copied {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := vault.ResolveFull(newRoot, entry.RelPath)
		if err := verifyCopy(dst, entry, opts.VerifyHash); err != nil {
			errs = multierror.Append(errs, err)
			result.Issues = append(result.Issues, Issue{RelPath: entry.RelPath, Message: err.Error()})
			continue
		}
		result.Copied++
	}
	result.Failed = len(result.Issues)

	if errs.ErrorOrNil() != nil {
		result.Status = StatusFailed
		result.Message = fmt.Sprintf("%d of %d files failed verification; old root remains authoritative, partial copy left at %s",
			result.Failed, len(entries), newRoot)
		slog.Error("migration failed", "failed", result.Failed, "newRoot", newRoot)
		return result, nil
	}

	// Phase 3: switch the authoritative pointer.
	if _, err := m.roots.Set(newRoot); err != nil {
		return nil, fmt.Errorf("switch storage root: %w", err)
	}

	result.Status = StatusSuccess
	result.NewRoot = newRoot
	result.Message = fmt.Sprintf("migrated %d files to %s", result.Copied, newRoot)
	slog.Info("migration complete", "files", result.Copied, "newRoot", newRoot)
	return result, nil
}

func verifyCopy(dst string, entry *catalog.Entry, verifyHash bool) error {
	if !utils.FileExists(dst) {
		return fmt.Errorf("verify %s: copy missing", entry.RelPath)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("verify %s: %w", entry.RelPath, err)
	}
	if info.Size() != entry.Size {
		return fmt.Errorf("verify %s: size %d, expected %d", entry.RelPath, info.Size(), entry.Size)
	}
	if verifyHash {
		hash, err := vault.HashFile(dst)
		if err != nil {
			return fmt.Errorf("verify %s: %w", entry.RelPath, err)
		}
		if hash != entry.ContentHash {
			return fmt.Errorf("verify %s: content hash mismatch", entry.RelPath)
		}
	}
	return nil
}
