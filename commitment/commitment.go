// Package commitment implements the commitment codec: a hiding, binding
// digest over a participant's secret value and salt.
//
// The encoding hashed is
//
//	u64be(len(tag)) || tag || u64be(len(value)) || value || u64be(len(salt)) || salt
//
// so no (value, salt) pair can be re-split into a different pair with the
// same preimage.
package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// DomainTag separates commitment digests from every other hash in the system.
const DomainTag = "fairdraw/commit/v1"

// DigestSize is the size of a commitment digest in bytes.
const DigestSize = 32

// ErrUnknownAlgorithm is returned for unsupported commitment algorithms.
var ErrUnknownAlgorithm = errors.New("unknown commitment algorithm")

// Digest is a commitment digest.
type Digest [DigestSize]byte

// String returns the 0x-prefixed hex encoding of the digest.
func (d Digest) String() string {
	return hexutil.Encode(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses a 0x-prefixed hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hexutil.Decode(s)
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("digest: expected %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// Algorithm names a commitment hash function.
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	Keccak256 Algorithm = "keccak256"
	Blake2b   Algorithm = "blake2b-256"
	SHA3      Algorithm = "sha3-256"

	// DefaultAlgorithm is used when a session does not name one.
	DefaultAlgorithm = SHA256
)

// Algorithms lists the supported commitment algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, Keccak256, Blake2b, SHA3}
}

// ParseAlgorithm parses an algorithm name. The empty string selects the
// default algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	a := Algorithm(strings.ToLower(s))
	if _, err := a.newHash(); err != nil {
		return "", err
	}
	return a, nil
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case Keccak256:
		return crypto.NewKeccakState(), nil
	case Blake2b:
		return blake2b.New256(nil)
	case SHA3:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAlgorithm, string(a))
	}
}

// Commit computes the commitment digest of (value, salt) under this
// algorithm.
func (a Algorithm) Commit(value, salt []byte) (Digest, error) {
	var d Digest
	h, err := a.newHash()
	if err != nil {
		return d, err
	}
	writeLengthPrefixed(h, []byte(DomainTag))
	writeLengthPrefixed(h, value)
	writeLengthPrefixed(h, salt)
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Verify reports whether (value, salt) opens the digest. Comparison is
// constant time. Unknown algorithms never verify.
func (a Algorithm) Verify(value, salt []byte, d Digest) bool {
	computed, err := a.Commit(value, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(computed[:], d[:]) == 1
}

// Commit computes the commitment digest of (value, salt) with the default
// algorithm.
func Commit(value, salt []byte) Digest {
	d, err := DefaultAlgorithm.Commit(value, salt)
	if err != nil {
		// The default algorithm is always available.
		panic(err)
	}
	return d
}

// Verify reports whether (value, salt) opens a digest produced by Commit.
func Verify(value, salt []byte, d Digest) bool {
	return DefaultAlgorithm.Verify(value, salt, d)
}

func writeLengthPrefixed(h hash.Hash, b []byte) {
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(b)))
	_, _ = h.Write(l[:])
	_, _ = h.Write(b)
}
