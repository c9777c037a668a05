// Package randomness folds revealed values into a final seed and expands
// that seed into a deterministic stream of draws.
package randomness

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	combineTag = "fairdraw/combine/v1"
	drawTag    = "fairdraw/draw/v1"
)

// SeedSize is the size of a final seed in bytes.
const SeedSize = 32

// Seed is the combined random value of a session.
type Seed [SeedSize]byte

// String returns the 0x-prefixed hex encoding of the seed.
func (s Seed) String() string {
	return hexutil.Encode(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Seed) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Seed) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if len(raw) != SeedSize {
		return fmt.Errorf("seed: expected %d bytes, got %d", SeedSize, len(raw))
	}
	copy(s[:], raw)
	return nil
}

// Contribution is one participant's verified revealed value.
type Contribution struct {
	ParticipantID string
	Value         []byte
}

// Combine folds the contributions into a single seed. Contributions are
// ordered by participant id, so the result does not depend on the order
// in which reveals arrived. Every byte of every value is hashed together
// with its length.
func Combine(contributions []Contribution) Seed {
	sorted := make([]Contribution, len(contributions))
	copy(sorted, contributions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ParticipantID < sorted[j].ParticipantID
	})

	h := sha256.New()
	writeLengthPrefixed(h, []byte(combineTag))
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(sorted)))
	_, _ = h.Write(count[:])
	for _, c := range sorted {
		writeLengthPrefixed(h, []byte(c.ParticipantID))
		writeLengthPrefixed(h, c.Value)
	}

	var seed Seed
	copy(seed[:], h.Sum(nil))
	return seed
}

// Stream is a deterministic sequence of draws derived from a seed. Draw i
// is SHA-256(tag || seed || u64be(i)). A Stream is not safe for concurrent
// use.
type Stream struct {
	seed  Seed
	index uint64
}

// NewStream returns a stream positioned at the first draw.
func NewStream(seed Seed) *Stream {
	return &Stream{seed: seed}
}

// Draws returns the number of draws consumed so far.
func (s *Stream) Draws() uint64 {
	return s.index
}

// Uint64 returns the next uniformly distributed 64-bit draw.
func (s *Stream) Uint64() uint64 {
	h := sha256.New()
	writeLengthPrefixed(h, []byte(drawTag))
	_, _ = h.Write(s.seed[:])
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], s.index)
	_, _ = h.Write(idx[:])
	s.index++

	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// Uniform returns a uniformly distributed integer in [0, n). Draws that
// would introduce modulo bias are rejected and redrawn. Panics if n is 0.
func (s *Stream) Uniform(n uint64) uint64 {
	if n == 0 {
		panic("randomness: Uniform called with n == 0")
	}
	if n == 1 {
		return 0
	}
	// Values below threshold map unevenly onto [0, n).
	threshold := (math.MaxUint64 - n + 1) % n
	for {
		v := s.Uint64()
		if v >= threshold {
			return v % n
		}
	}
}

func writeLengthPrefixed(h hash.Hash, b []byte) {
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(b)))
	_, _ = h.Write(l[:])
	_, _ = h.Write(b)
}
