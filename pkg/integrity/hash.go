package integrity

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// DigestSize is the length of an integrity digest in bytes (512 bits).
const DigestSize = sha512.Size

// Digest is the SHA-512 of a canonical form.
type Digest [DigestSize]byte

// Hash digests the exact canonical bytes. Callers must pass the output of
// Encode unchanged.
func Hash(canonical []byte) Digest {
	return Digest(sha512.Sum512(canonical))
}

// Hex returns the lowercase hex encoding used on the wire and in storage.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// ParseDigest decodes a hex digest. Upper- and lowercase hex are accepted.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("integrity.ParseDigest: expected %d hex chars, got %d", DigestSize*2, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("integrity.ParseDigest: %w", err)
	}
	return d, nil
}
