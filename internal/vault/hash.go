package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashAlgorithm is recorded in package metadata and must match on import.
const HashAlgorithm = "SHA256"

const hashBufferSize = 256 * 1024

// HashFile streams the file through SHA-256 and returns the lowercase hex
// digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the SHA-256 digest of r using a bounded buffer.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
