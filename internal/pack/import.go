package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/openvault/cartonbox/internal/catalog"
	fsync "github.com/openvault/cartonbox/internal/sync"
	"github.com/openvault/cartonbox/internal/vault"
)

// ImportPlan is the validated view of a package: what it contains and how
// each file classifies against the catalog. Close removes the extracted tree.
type ImportPlan struct {
	Status     ResultStatus
	Manifest   Manifest
	Metadata   Metadata
	Items      []ItemPreview
	Issues     []Issue
	TotalBytes int64

	tempDir string
}

// Close removes the plan's extracted temporary tree.
func (p *ImportPlan) Close() {
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
	}
}

// ContentPath returns the extracted content file for a package-relative path.
func (p *ImportPlan) ContentPath(relPath string) string {
	return filepath.Join(p.tempDir, FilesDirName, filepath.FromSlash(relPath))
}

// ImportResult is the caller-facing outcome of a commit.
type ImportResult struct {
	Status         ResultStatus `json:"status"`
	Imported       int          `json:"imported"`
	Skipped        int          `json:"skipped"`
	Rejected       int          `json:"rejected"`
	Failed         int          `json:"failed"`
	RequiredBytes  int64        `json:"requiredBytes,omitempty"`
	AvailableBytes int64        `json:"availableBytes,omitempty"`
	Issues         []Issue      `json:"issues,omitempty"`
	Message        string       `json:"message"`
}

// Importer validates a package and commits its accepted files into the vault.
type Importer struct {
	store catalog.Store
	root  *vault.Root
	clock catalog.Clock
	gate  *fsync.Gate

	freeSpace freeSpaceFunc
}

func NewImporter(store catalog.Store, root *vault.Root, clock catalog.Clock, gate *fsync.Gate) *Importer {
	return &Importer{
		store:     store,
		root:      root,
		clock:     clock,
		gate:      gate,
		freeSpace: diskFree,
	}
}

// Validate opens the container, extracts it, checks manifest, metadata and
// every file's declared hash and size, and classifies every file against the
// catalog. Any failure to open or parse the package is terminal: the plan
// carries the issue and an invalid status, never a partial item list.
func (im *Importer) Validate(ctx context.Context, pkgPath, passphrase string) (*ImportPlan, error) {
	plan := &ImportPlan{Status: StatusInvalidPackage}

	tempDir, err := os.MkdirTemp("", "carton-import-*")
	if err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}
	plan.tempDir = tempDir

	if err := openContainer(pkgPath, tempDir, passphrase); err != nil {
		plan.Issues = append(plan.Issues, Issue{Message: err.Error()})
		return plan, nil
	}

	if err := readJSON(filepath.Join(tempDir, ManifestName), &plan.Manifest); err != nil {
		plan.Issues = append(plan.Issues, Issue{Message: "manifest missing or unreadable: " + err.Error()})
		return plan, nil
	}
	if err := readJSON(filepath.Join(tempDir, MetadataName), &plan.Metadata); err != nil {
		plan.Issues = append(plan.Issues, Issue{Message: "metadata missing or unreadable: " + err.Error()})
		return plan, nil
	}

	if plan.Manifest.FormatVersion != FormatVersion {
		plan.Issues = append(plan.Issues, Issue{
			Message: fmt.Sprintf("unsupported package format v%d, this build reads v%d", plan.Manifest.FormatVersion, FormatVersion),
		})
		return plan, nil
	}
	if plan.Metadata.SchemaVersion != catalog.SchemaVersion {
		plan.Issues = append(plan.Issues, Issue{
			Message: fmt.Sprintf("package schema v%d does not match catalog schema v%d", plan.Metadata.SchemaVersion, catalog.SchemaVersion),
		})
		return plan, nil
	}
	if plan.Metadata.HashAlgorithm != vault.HashAlgorithm {
		plan.Issues = append(plan.Issues, Issue{
			Message: fmt.Sprintf("unsupported hash algorithm %q", plan.Metadata.HashAlgorithm),
		})
		return plan, nil
	}

	filesDir := filepath.Join(tempDir, FilesDirName)
	err = filepath.WalkDir(filesDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, DescriptorExt) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var desc Descriptor
		if err := readJSON(path, &desc); err != nil {
			plan.Issues = append(plan.Issues, Issue{RelPath: path, Message: "descriptor unreadable: " + err.Error()})
			return nil
		}

		contentPath := strings.TrimSuffix(path, DescriptorExt)
		info, err := os.Stat(contentPath)
		if err != nil {
			plan.Issues = append(plan.Issues, Issue{RelPath: desc.RelPath, Message: "content file missing from package"})
			return nil
		}
		if info.Size() != desc.Size {
			plan.Issues = append(plan.Issues, Issue{
				RelPath: desc.RelPath,
				Message: fmt.Sprintf("declared size %d does not match actual %d", desc.Size, info.Size()),
			})
			return nil
		}
		actualHash, err := vault.HashFile(contentPath)
		if err != nil {
			plan.Issues = append(plan.Issues, Issue{RelPath: desc.RelPath, Message: "content unreadable: " + err.Error()})
			return nil
		}
		if !strings.EqualFold(actualHash, desc.ContentHash) {
			plan.Issues = append(plan.Issues, Issue{RelPath: desc.RelPath, Message: "content hash does not match descriptor"})
			return nil
		}

		status, reason, err := Classify(im.store, &desc)
		if err != nil {
			return err
		}
		plan.Items = append(plan.Items, ItemPreview{
			FileID:      desc.FileID,
			RelPath:     desc.RelPath,
			FileName:    desc.FileName,
			ContentHash: desc.ContentHash,
			Size:        desc.Size,
			ModifiedAt:  desc.ModifiedAt,
			Status:      status,
			Reason:      reason,
		})
		plan.TotalBytes += desc.Size
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan.Status = StatusSuccess
	return plan, nil
}

type verdict int

const (
	verdictCommit verdict = iota
	verdictDuplicate
	verdictSkip
	verdictReject
)

// decide maps a classification to an action under the chosen strategy.
// OlderInPackage and Conflict never proceed without an explicit override.
func decide(status ItemStatus, strategy ConflictStrategy) verdict {
	if status == ItemSame {
		return verdictSkip
	}
	if status == ItemNew {
		return verdictCommit
	}
	switch strategy {
	case StrategyAlwaysOverwrite:
		return verdictCommit
	case StrategyCreateDuplicate:
		return verdictDuplicate
	case StrategyUpdateIfNewer:
		if status == ItemNewerInPackage {
			return verdictCommit
		}
		return verdictReject
	default:
		return verdictReject
	}
}

// Commit applies a validated plan under the pause gate. Each accepted file is
// copied atomically and its catalog entry saved in its own transaction, so a
// single failure stays isolated.
func (im *Importer) Commit(ctx context.Context, plan *ImportPlan, strategy ConflictStrategy) (*ImportResult, error) {
	result := &ImportResult{}

	if plan.Status != StatusSuccess {
		result.Status = plan.Status
		result.Issues = plan.Issues
		result.Message = "package failed validation"
		return result, nil
	}

	var acceptedBytes int64
	for _, item := range plan.Items {
		if v := decide(item.Status, strategy); v == verdictCommit || v == verdictDuplicate {
			acceptedBytes += item.Size
		}
	}
	available, err := im.freeSpace(im.root.Dir)
	if err != nil {
		return nil, err
	}
	if uint64(acceptedBytes) > available {
		result.Status = StatusInsufficientSpace
		result.RequiredBytes = acceptedBytes
		result.AvailableBytes = int64(available)
		result.Message = fmt.Sprintf("need %s free, only %s available",
			humanize.Bytes(uint64(acceptedBytes)), humanize.Bytes(available))
		return result, nil
	}

	// Suspend the monitor and scanner for the duration of the bulk copy.
	if im.gate != nil {
		im.gate.Pause()
		defer im.gate.Resume()
	}

	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch decide(item.Status, strategy) {
		case verdictSkip:
			result.Skipped++
			continue
		case verdictReject:
			result.Rejected++
			result.Issues = append(result.Issues, Issue{
				RelPath: item.RelPath,
				Message: fmt.Sprintf("%s rejected under strategy %q", item.Status, strategy),
			})
			continue
		case verdictCommit:
			if err := im.commitItem(ctx, plan, item, item.RelPath, item.FileID); err != nil {
				result.Failed++
				result.Issues = append(result.Issues, Issue{RelPath: item.RelPath, Message: err.Error()})
				continue
			}
		case verdictDuplicate:
			rel := duplicateRelPath(item.RelPath, item.FileID)
			if err := im.commitItem(ctx, plan, item, rel, uuid.NewString()); err != nil {
				result.Failed++
				result.Issues = append(result.Issues, Issue{RelPath: item.RelPath, Message: err.Error()})
				continue
			}
		}
		result.Imported++
	}

	switch {
	case result.Failed == 0 && result.Rejected == 0:
		result.Status = StatusSuccess
		result.Message = fmt.Sprintf("imported %d files, %d unchanged", result.Imported, result.Skipped)
	case result.Imported > 0 || result.Skipped > 0:
		result.Status = StatusPartialSuccess
		result.Message = fmt.Sprintf("imported %d files, %d skipped, %d rejected, %d failed",
			result.Imported, result.Skipped, result.Rejected, result.Failed)
	default:
		result.Status = StatusFailed
		result.Message = "no files imported"
	}
	slog.Info("import complete", "status", result.Status, "imported", result.Imported,
		"skipped", result.Skipped, "rejected", result.Rejected, "failed", result.Failed)
	return result, nil
}

func (im *Importer) commitItem(ctx context.Context, plan *ImportPlan, item ItemPreview, destRel, entryID string) error {
	rel, err := vault.NormalizeRel(destRel)
	if err != nil {
		return err
	}
	full := im.root.Full(rel)
	if err := vault.AtomicCopy(plan.ContentPath(item.RelPath), full, true); err != nil {
		return err
	}

	existing, err := im.store.GetByID(entryID)
	if err != nil {
		return err
	}
	if existing == nil {
		// A different id may already own this path. One entry per rel_path:
		// an overwrite adopts the resident id instead of colliding with it.
		existing, err = im.store.GetByRelPath(rel)
		if err != nil {
			return err
		}
		if existing != nil {
			entryID = existing.ID
		}
	}

	entry := &catalog.Entry{
		ID:          entryID,
		RelPath:     rel,
		ContentHash: item.ContentHash,
		Size:        item.Size,
		ModifiedAt:  item.ModifiedAt,
		AccessedAt:  im.clock.Now(),
		Health:      catalog.Healthy,
		FullPath:    full,
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		entry.MimeType = existing.MimeType
		entry.Encrypted = existing.Encrypted
	} else {
		entry.CreatedAt = im.clock.Now()
		if mt, err := mimetype.DetectFile(full); err == nil {
			entry.MimeType = mt.String()
		}
	}

	return im.store.SaveBatch(ctx, []*catalog.Entry{entry})
}

// duplicateRelPath appends a short id to the file name:
// docs/report.txt -> docs/report.1a2b3c4d.txt
func duplicateRelPath(relPath, fileID string) string {
	suffix := strings.ReplaceAll(fileID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	dir := ""
	name := relPath
	if i := strings.LastIndex(relPath, "/"); i >= 0 {
		dir, name = relPath[:i+1], relPath[i+1:]
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return dir + base + "." + suffix + ext
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
