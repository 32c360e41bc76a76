package index

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the content address used by the sync protocol, not a security boundary.
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HashLength is the number of hex characters in a content hash.
const HashLength = 40

// HashFile computes the hex-encoded SHA-1 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec // see import
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidHash reports whether s is exactly HashLength hex characters.
func ValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// normalizeHash lowercases a hash so lookups are case-insensitive.
func normalizeHash(s string) string {
	return strings.ToLower(s)
}
