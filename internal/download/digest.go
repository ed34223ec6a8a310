package download

import (
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the size and the hex encoded BLAKE2b-256 of a file.
func Digest(p string) (int64, string, error) {
	f, err := os.Open(p) //nolint:gosec // path is built from the sanitized tree
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
