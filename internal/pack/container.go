package pack

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/flate"

	"github.com/openvault/cartonbox/internal/utils"
	"github.com/openvault/cartonbox/internal/vault"
)

// ErrPackageMissing means the container file does not exist.
var ErrPackageMissing = errors.New("package file not found")

// ErrBadPassphrase means the container is encrypted and the supplied
// passphrase did not open it.
var ErrBadPassphrase = errors.New("package decryption failed")

// ageMagic prefixes every age v1 file; used to detect encrypted containers.
const ageMagic = "age-encryption.org/v1"

// writeContainer zips stageDir into a single file at dest, encrypting with
// the passphrase when one is given. The final write is atomic.
func writeContainer(stageDir, dest, passphrase string, overwrite bool) error {
	if !overwrite && utils.FileExists(dest) {
		return fmt.Errorf("%w: %s", vault.ErrDestExists, dest)
	}
	if err := utils.EnsureParent(dest); err != nil {
		return fmt.Errorf("ensure destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".carton-*")
	if err != nil {
		return fmt.Errorf("create container temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	var out io.Writer = tmp
	var encWriter io.WriteCloser
	if passphrase != "" {
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			cleanup()
			return fmt.Errorf("prepare encryption: %w", err)
		}
		encWriter, err = age.Encrypt(tmp, recipient)
		if err != nil {
			cleanup()
			return fmt.Errorf("start encryption: %w", err)
		}
		out = encWriter
	}

	if err := zipDir(out, stageDir); err != nil {
		cleanup()
		return err
	}
	if encWriter != nil {
		if err := encWriter.Close(); err != nil {
			cleanup()
			return fmt.Errorf("finish encryption: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close container: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename container into place: %w", err)
	}
	return nil
}

// zipDir writes dir as a zip archive to w, using klauspost's deflate.
func zipDir(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", rel, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(entry, f); err != nil {
			return fmt.Errorf("zip write %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("build container: %w", err)
	}
	return zw.Close()
}

// openContainer extracts a package container to destDir, decrypting when the
// file carries the age header.
func openContainer(pkgPath, destDir, passphrase string) error {
	if !utils.FileExists(pkgPath) {
		return fmt.Errorf("%w: %s", ErrPackageMissing, pkgPath)
	}

	f, err := os.Open(pkgPath)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(ageMagic))
	n, _ := io.ReadFull(f, header)
	encrypted := string(header[:n]) == ageMagic
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind package: %w", err)
	}

	zipPath := pkgPath
	if encrypted {
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return fmt.Errorf("prepare decryption: %w", err)
		}
		dec, err := age.Decrypt(f, identity)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		// The zip reader needs random access; decrypt to a temp file first.
		tmp, err := os.CreateTemp(destDir, ".decrypt-*")
		if err != nil {
			return fmt.Errorf("create decrypt temp: %w", err)
		}
		zipPath = tmp.Name()
		defer os.Remove(zipPath)
		if _, err := io.Copy(tmp, dec); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close decrypt temp: %w", err)
		}
	}

	return unzipTo(zipPath, destDir)
}

func unzipTo(zipPath, destDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("read container: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		name := filepath.ToSlash(entry.Name)
		// Reject zip-slip attempts; packages only ever contain rooted-relative
		// members. ".." counts only as a whole segment, file names like
		// "notes..txt" are legitimate.
		if escapesExtractDir(name) {
			return fmt.Errorf("%w: container member %q", vault.ErrPathEscapesRoot, entry.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if entry.FileInfo().IsDir() {
			if err := utils.EnsureDir(target); err != nil {
				return err
			}
			continue
		}
		if err := utils.EnsureParent(target); err != nil {
			return err
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open container member %s: %w", name, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			rc.Close()
			return fmt.Errorf("extract container member %s: %w", name, err)
		}
		out.Close()
		rc.Close()
	}
	return nil
}

func escapesExtractDir(name string) bool {
	if strings.HasPrefix(name, "/") {
		return true
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}
