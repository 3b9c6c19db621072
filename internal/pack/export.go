package pack

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/utils"
	"github.com/openvault/cartonbox/internal/vault"
)

// ExportOptions configures one export run.
type ExportOptions struct {
	Dest         string
	Overwrite    bool
	Passphrase   string
	SigningKey   ed25519.PrivateKey
	SafetyMargin float64
}

// ExportResult is the caller-facing outcome of an export.
type ExportResult struct {
	Status         ResultStatus `json:"status"`
	PackageID      string       `json:"packageId,omitempty"`
	FileCount      int          `json:"fileCount"`
	TotalBytes     int64        `json:"totalBytes"`
	MissingPaths   []string     `json:"missingPaths,omitempty"`
	RequiredBytes  int64        `json:"requiredBytes,omitempty"`
	AvailableBytes int64        `json:"availableBytes,omitempty"`
	Message        string       `json:"message"`
}

// Exporter packages the whole catalog plus content into a portable container.
type Exporter struct {
	store catalog.Store
	root  *vault.Root
	clock catalog.Clock

	freeSpace freeSpaceFunc
}

func NewExporter(store catalog.Store, root *vault.Root, clock catalog.Clock) *Exporter {
	return &Exporter{
		store:     store,
		root:      root,
		clock:     clock,
		freeSpace: diskFree,
	}
}

// Export stages every cataloged file with its descriptor, writes manifest and
// metadata, and bundles the tree into a compressed container. Missing source
// files are warnings, not failures.
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	version, err := e.store.SchemaVersion()
	if err != nil {
		return nil, err
	}
	if version != catalog.SchemaVersion {
		return &ExportResult{
			Status:  StatusPendingMigrations,
			Message: fmt.Sprintf("catalog schema is v%d, this build requires v%d; run migrations first", version, catalog.SchemaVersion),
		}, nil
	}

	entries, err := e.store.All()
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	for _, entry := range entries {
		totalBytes += entry.Size
	}

	required := requiredWithMargin(totalBytes, opts.SafetyMargin)
	destDir, err := utils.ResolvePath(filepath.Dir(opts.Dest))
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(destDir); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrNotWritable, destDir)
	}
	available, err := e.freeSpace(destDir)
	if err != nil {
		return nil, err
	}
	if uint64(required) > available {
		return &ExportResult{
			Status:         StatusInsufficientSpace,
			FileCount:      len(entries),
			TotalBytes:     totalBytes,
			RequiredBytes:  required,
			AvailableBytes: int64(available),
			Message: fmt.Sprintf("need %s free (%s with safety margin), only %s available",
				humanize.Bytes(uint64(totalBytes)), humanize.Bytes(uint64(required)), humanize.Bytes(available)),
		}, nil
	}

	stage, err := os.MkdirTemp(destDir, ".carton-stage-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	var missing []string
	staged := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := e.root.Full(entry.RelPath)
		if !utils.FileExists(src) {
			slog.Warn("export source missing", "path", entry.RelPath)
			missing = append(missing, entry.RelPath)
			continue
		}
		dst := filepath.Join(stage, FilesDirName, filepath.FromSlash(entry.RelPath))
		if err := vault.AtomicCopy(src, dst, true); err != nil {
			slog.Warn("export copy failed", "path", entry.RelPath, "error", err)
			missing = append(missing, entry.RelPath)
			continue
		}
		desc := Descriptor{
			FileID:      entry.ID,
			RelPath:     entry.RelPath,
			FileName:    entry.FileName(),
			ContentHash: entry.ContentHash,
			Size:        entry.Size,
			MimeType:    entry.MimeType,
			CreatedAt:   entry.CreatedAt,
			ModifiedAt:  entry.ModifiedAt,
		}
		if err := writeJSON(dst+DescriptorExt, desc); err != nil {
			return nil, err
		}
		staged++
	}

	packageID := uuid.NewString()
	manifest := Manifest{
		PackageID:     packageID,
		CreatedAt:     e.clock.Now(),
		ExportMode:    ExportModeFull,
		FormatVersion: FormatVersion,
	}
	if err := writeJSON(filepath.Join(stage, ManifestName), manifest); err != nil {
		return nil, err
	}
	metadata := Metadata{
		SchemaVersion: catalog.SchemaVersion,
		FileCount:     staged,
		TotalBytes:    totalBytes,
		HashAlgorithm: vault.HashAlgorithm,
		Encrypted:     opts.Passphrase != "",
		Signed:        opts.SigningKey != nil,
	}
	if err := writeJSON(filepath.Join(stage, MetadataName), metadata); err != nil {
		return nil, err
	}

	if err := writeContainer(stage, opts.Dest, opts.Passphrase, opts.Overwrite); err != nil {
		return &ExportResult{
			Status:  StatusFailed,
			Message: err.Error(),
		}, nil
	}
	if opts.SigningKey != nil {
		if err := SignPackage(opts.Dest, opts.SigningKey); err != nil {
			return &ExportResult{Status: StatusFailed, Message: err.Error()}, nil
		}
	}

	result := &ExportResult{
		Status:       StatusSuccess,
		PackageID:    packageID,
		FileCount:    staged,
		TotalBytes:   totalBytes,
		MissingPaths: missing,
	}
	if len(missing) > 0 {
		result.Status = StatusPartialSuccess
		result.Message = fmt.Sprintf("exported %d files, %d missing on disk", staged, len(missing))
	} else {
		result.Message = fmt.Sprintf("exported %d files (%s)", staged, humanize.Bytes(uint64(totalBytes)))
	}
	slog.Info("export complete", "package", packageID, "files", staged, "missing", len(missing), "dest", opts.Dest)
	return result, nil
}

func writeJSON(path string, v any) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
