package pack

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SignatureExt is appended to the container path for the detached signature.
const SignatureExt = ".sig"

// ErrBadSignature means the detached signature did not verify.
var ErrBadSignature = errors.New("package signature verification failed")

// SignPackage writes a detached ed25519 signature over the container's
// SHA-256 digest next to the container file.
func SignPackage(pkgPath string, key ed25519.PrivateKey) error {
	digest, err := fileDigest(pkgPath)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(key, digest)
	if err := os.WriteFile(pkgPath+SignatureExt, []byte(hex.EncodeToString(sig)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	return nil
}

// VerifyPackage checks the detached signature next to the container.
func VerifyPackage(pkgPath string, pub ed25519.PublicKey) error {
	raw, err := os.ReadFile(pkgPath + SignatureExt)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	digest, err := fileDigest(pkgPath)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, digest, sig) {
		return ErrBadSignature
	}
	return nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("digest %s: %w", path, err)
	}
	return h.Sum(nil), nil
}
