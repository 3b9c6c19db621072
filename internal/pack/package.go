package pack

import "time"

// Package on-disk layout, wrapped into a single compressed container:
//
//	manifest.json          package id, creation time, export mode, format version
//	metadata.json          schema version, counts, hash algorithm
//	files/<relpath>        content, mirroring catalog relative paths
//	files/<relpath>.json   per-file descriptor
const (
	ManifestName  = "manifest.json"
	MetadataName  = "metadata.json"
	FilesDirName  = "files"
	DescriptorExt = ".json"

	// FormatVersion is bumped whenever the layout above changes.
	FormatVersion = 1

	// DefaultSafetyMargin is applied to required bytes before comparing with
	// available disk space.
	DefaultSafetyMargin = 1.1
)

// ExportMode records what subset of the catalog a package carries.
type ExportMode string

const (
	ExportModeFull ExportMode = "full"
)

// Manifest identifies a package.
type Manifest struct {
	PackageID     string     `json:"packageId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExportMode    ExportMode `json:"exportMode"`
	FormatVersion int        `json:"formatVersion"`
}

// Metadata carries the technical envelope of a package.
type Metadata struct {
	SchemaVersion int    `json:"schemaVersion"`
	FileCount     int    `json:"fileCount"`
	TotalBytes    int64  `json:"totalBytes"`
	HashAlgorithm string `json:"hashAlgorithm"`
	Encrypted     bool   `json:"encrypted"`
	Signed        bool   `json:"signed"`
}

// Descriptor is the sidecar written next to every packaged file.
type Descriptor struct {
	FileID      string    `json:"fileId"`
	RelPath     string    `json:"relPath"`
	FileName    string    `json:"fileName"`
	ContentHash string    `json:"contentHash"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// ResultStatus is the overall outcome of an export, import or migration.
type ResultStatus string

const (
	StatusSuccess           ResultStatus = "success"
	StatusPartialSuccess    ResultStatus = "partial_success"
	StatusFailed            ResultStatus = "failed"
	StatusInsufficientSpace ResultStatus = "insufficient_space"
	StatusPendingMigrations ResultStatus = "pending_migrations"
	StatusInvalidPackage    ResultStatus = "invalid_package"
)

// ItemStatus classifies one package file against the existing catalog.
type ItemStatus string

const (
	ItemNew            ItemStatus = "new"
	ItemSame           ItemStatus = "same"
	ItemNewerInPackage ItemStatus = "newer_in_package"
	ItemOlderInPackage ItemStatus = "older_in_package"
	ItemConflict       ItemStatus = "conflict"
)

// ConflictStrategy decides which classifications an import commits.
type ConflictStrategy string

const (
	// StrategyReject commits only new files.
	StrategyReject ConflictStrategy = "reject"
	// StrategyUpdateIfNewer commits new files and files newer in the package.
	// The default.
	StrategyUpdateIfNewer ConflictStrategy = "update-if-newer"
	// StrategyAlwaysOverwrite commits everything except byte-identical files.
	StrategyAlwaysOverwrite ConflictStrategy = "always-overwrite"
	// StrategyCreateDuplicate imports conflicting files under a deduplicated
	// name instead of overwriting.
	StrategyCreateDuplicate ConflictStrategy = "create-duplicate"
)

// ParseStrategy maps a config string to a strategy, defaulting to
// update-if-newer.
func ParseStrategy(s string) ConflictStrategy {
	switch ConflictStrategy(s) {
	case StrategyReject, StrategyUpdateIfNewer, StrategyAlwaysOverwrite, StrategyCreateDuplicate:
		return ConflictStrategy(s)
	default:
		return StrategyUpdateIfNewer
	}
}

// ItemPreview is the per-file verdict of import validation.
type ItemPreview struct {
	FileID      string     `json:"fileId"`
	RelPath     string     `json:"relPath"`
	FileName    string     `json:"fileName"`
	ContentHash string     `json:"contentHash"`
	Size        int64      `json:"size"`
	ModifiedAt  time.Time  `json:"modifiedAt"`
	Status      ItemStatus `json:"status"`
	Reason      string     `json:"reason,omitempty"`
}

// Issue is one per-file or package-level problem surfaced to the caller.
type Issue struct {
	RelPath string `json:"relPath,omitempty"`
	Message string `json:"message"`
}
