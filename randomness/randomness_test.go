package randomness

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func contributions() []Contribution {
	return []Contribution{
		{ParticipantID: "carol", Value: []byte("c-secret")},
		{ParticipantID: "alice", Value: []byte("a-secret")},
		{ParticipantID: "bob", Value: []byte("b-secret")},
	}
}

func TestCombineOrderIndependent(t *testing.T) {
	cs := contributions()
	expected := Combine(cs)

	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range permutations {
		permuted := []Contribution{cs[p[0]], cs[p[1]], cs[p[2]]}
		require.Equal(t, expected, Combine(permuted))
	}
	// Input slice is left untouched.
	require.Equal(t, "carol", cs[0].ParticipantID)
}

func TestCombineSensitiveToEveryValue(t *testing.T) {
	base := Combine(contributions())

	cs := contributions()
	cs[1].Value = []byte("a-secreT")
	require.NotEqual(t, base, Combine(cs))

	// Moving bytes between participants changes the seed.
	cs = contributions()
	cs[0].Value = []byte("c-secretb")
	cs[2].Value = []byte("-secret")
	require.NotEqual(t, base, Combine(cs))

	// Dropping a contribution changes the seed.
	require.NotEqual(t, base, Combine(contributions()[:2]))
}

func TestCombineBindsParticipantToValue(t *testing.T) {
	a := Combine([]Contribution{{"alice", []byte("x")}, {"bob", []byte("y")}})
	b := Combine([]Contribution{{"alice", []byte("y")}, {"bob", []byte("x")}})
	require.NotEqual(t, a, b)
}

func TestCombineEncoding(t *testing.T) {
	prefixed := func(b []byte, part string) []byte {
		b = binary.BigEndian.AppendUint64(b, uint64(len(part)))
		return append(b, part...)
	}
	preimage := prefixed(nil, combineTag)
	preimage = binary.BigEndian.AppendUint64(preimage, 3)
	for _, c := range [][2]string{{"alice", "a-secret"}, {"bob", "b-secret"}, {"carol", "c-secret"}} {
		preimage = prefixed(preimage, c[0])
		preimage = prefixed(preimage, c[1])
	}
	require.Equal(t, Seed(sha256.Sum256(preimage)), Combine(contributions()))
}

func TestStreamDeterministic(t *testing.T) {
	seed := Combine(contributions())
	s1, s2 := NewStream(seed), NewStream(seed)
	for i := 0; i < 100; i++ {
		require.Equal(t, s1.Uint64(), s2.Uint64())
	}
	require.Equal(t, uint64(100), s1.Draws())

	other := NewStream(Combine(contributions()[:1]))
	require.NotEqual(t, NewStream(seed).Uint64(), other.Uint64())
}

func TestUniformRange(t *testing.T) {
	s := NewStream(Combine(contributions()))
	counts := make([]int, 5)
	const draws = 10000
	for i := 0; i < draws; i++ {
		v := s.Uniform(5)
		require.Less(t, v, uint64(5))
		counts[v]++
	}
	for _, c := range counts {
		require.InDelta(t, 0.2, float64(c)/draws, 0.03)
	}
	require.Equal(t, uint64(0), s.Uniform(1))
	require.Panics(t, func() { s.Uniform(0) })
}

func TestSeedText(t *testing.T) {
	seed := Combine(contributions())
	text, err := seed.MarshalText()
	require.NoError(t, err)

	var parsed Seed
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, seed, parsed)
	require.Error(t, parsed.UnmarshalText([]byte("0xabcd")))
}
