package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openvault/cartonbox/internal/utils"
)

// ErrDestExists is returned by AtomicCopy when the destination exists and
// overwrite is false.
var ErrDestExists = errors.New("destination already exists")

// AtomicCopy copies src to dst through a uniquely named temporary sibling in
// the destination directory, then renames it into place. The destination is
// observed either fully absent or fully present, never truncated. On any
// failure the temporary file is removed and the original error returned.
func AtomicCopy(src, dst string, overwrite bool) error {
	if !overwrite && utils.FileExists(dst) {
		return fmt.Errorf("%w: %s", ErrDestExists, dst)
	}

	if err := utils.EnsureParent(dst); err != nil {
		return fmt.Errorf("ensure destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	// Temp file must be a sibling of dst so the final rename stays on one
	// filesystem.
	tmpPath := filepath.Join(filepath.Dir(dst), ".tmp-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := copyAndSync(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func copyAndSync(dst *os.File, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy content: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	return nil
}
