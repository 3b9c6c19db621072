package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/openvault/cartonbox/internal/utils"
)

var (
	// ErrInvalidPath means the path is empty or cannot be resolved.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotWritable means the probe write into the root failed.
	ErrNotWritable = errors.New("root is not writable")
	// ErrProtectedDir means the root sits inside an OS or install directory.
	ErrProtectedDir = errors.New("root is inside a protected system directory")
	// ErrPathEscapesRoot means a relative path contains ".." segments or is
	// absolute. Callers must treat this as a hard rejection.
	ErrPathEscapesRoot = errors.New("path escapes storage root")
	// ErrInvalidChars means the path contains characters the host filesystem
	// rejects.
	ErrInvalidChars = errors.New("path contains invalid characters")
	// ErrOutsideRoot means an absolute path does not live under the root.
	ErrOutsideRoot = errors.New("path is outside storage root")
)

// protectedDirs lists roots we refuse to manage. Matched by prefix after
// resolution.
func protectedDirs() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`C:\Windows`,
			`C:\Program Files`,
			`C:\Program Files (x86)`,
		}
	}
	return []string{
		"/bin", "/sbin", "/usr", "/etc", "/boot", "/dev", "/proc", "/sys",
		"/lib", "/lib64", "/var/lib", "/System", "/Library", "/Applications",
	}
}

// ValidateRoot resolves path to an absolute directory, rejects protected
// locations, and proves writability by creating and removing a probe file.
func ValidateRoot(path string) (string, error) {
	resolved, err := utils.ResolvePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	for _, dir := range protectedDirs() {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrProtectedDir, resolved)
		}
	}

	if err := utils.EnsureDir(resolved); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotWritable, resolved, err)
	}

	// Prove writability, permissions bits alone lie on network mounts.
	probe := filepath.Join(resolved, ".cartonbox-probe-"+uuid.NewString())
	f, err := os.Create(probe)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotWritable, resolved, err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotWritable, resolved, err)
	}

	return resolved, nil
}

// invalidPathChars covers characters rejected by at least one supported
// filesystem. Kept platform-independent so packages stay portable.
const invalidPathChars = "\x00<>:\"|?*"

// NormalizeRel converts a relative path to canonical form: forward slashes,
// no leading separator, no "." or ".." segments.
func NormalizeRel(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	// ToSlash is a no-op on POSIX; backslash separators must be rewritten
	// explicitly so packages stay portable across hosts.
	slashed := strings.ReplaceAll(path, "\\", "/")
	if strings.ContainsAny(slashed, invalidPathChars) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChars, path)
	}

	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(path) || hasVolumePrefix(slashed) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscapesRoot, path)
	}

	cleaned := filepath.ToSlash(filepath.Clean(slashed))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, path)
	}
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: %q resolves to the root itself", ErrInvalidPath, path)
	}

	return cleaned, nil
}

func hasVolumePrefix(path string) bool {
	return len(path) >= 2 && path[1] == ':'
}

// ResolveFull joins a validated root with a canonical relative path.
func ResolveFull(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// ResolveRel converts an absolute path under root back to canonical relative
// form. Inverse of ResolveFull: ResolveRel(root, ResolveFull(root, r)) ==
// NormalizeRel(r) for every valid r.
func ResolveRel(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, full)
	}
	slashed := filepath.ToSlash(rel)
	if slashed == ".." || strings.HasPrefix(slashed, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, full)
	}
	return NormalizeRel(slashed)
}
