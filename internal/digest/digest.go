// Package digest computes SHA-256 content digests over streamed input.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the default number of bytes read from the input per step.
const BlockSize = 4096

// Empty is the SHA-256 digest of zero bytes of input.
const Empty Digest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// ErrReadFailure wraps any error returned by the underlying reader.
var ErrReadFailure = errors.New("digest: read failure")

// Digest is a 64-character lowercase hex SHA-256 fingerprint.
type Digest string

// String implements fmt.Stringer.
func (d Digest) String() string { return string(d) }

// Compute reads r to EOF in BlockSize chunks and returns its digest.
func Compute(r io.Reader) (Digest, error) {
	return ComputeBlocks(r, BlockSize)
}

// ComputeBlocks is like Compute with an explicit block size. The result does
// not depend on blockSize; only memory use does.
func ComputeBlocks(r io.Reader, blockSize int) (Digest, error) {
	if blockSize <= 0 {
		blockSize = BlockSize
	}

	h := sha256.New()
	buf := make([]byte, blockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n]) //nolint:errcheck // hash.Hash never returns an error
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrReadFailure, err)
		}
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Valid reports whether s looks like a SHA-256 digest. The scan pipeline
// never rejects a caller-supplied hash on this basis.
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
