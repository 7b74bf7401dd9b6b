// Package checksum provides the digest algorithms used by the audit hash chain and
// by archive exports. Each algorithm is addressed by a short name so the chain
// algorithm can be selected from configuration, and every caller hex-encodes the
// digest the same way. SHA-256 is the default; BLAKE2b-256 is available for
// deployments that standardise on it.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"
)

const (
	// SHA256 is the default chain algorithm.
	SHA256 = "sha256"
	// BLAKE2b256 selects 256-bit BLAKE2b.
	BLAKE2b256 = "blake2b-256"
)

var algorithms = map[string]func() hash.Hash{
	SHA256: sha256.New,
	BLAKE2b256: func() hash.Hash {
		// New256 only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	},
}

// Supported returns the registered algorithm names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a fresh hash.Hash for the named algorithm.
func New(algorithm string) (hash.Hash, error) {
	if algorithm == "" {
		algorithm = SHA256
	}
	ctor, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}
	return ctor(), nil
}

// Sum hashes data with the named algorithm and returns the hex digest.
func Sum(algorithm string, data []byte) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
