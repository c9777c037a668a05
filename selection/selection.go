// Package selection maps a final seed, a candidate list and selection
// parameters to an outcome: a set of winners, a full ordering, or tier
// assignments. The mapping is a pure function of its inputs.
package selection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd"

	"github.com/oasisprotocol/fairdraw/randomness"
)

// ErrInvalidParams is returned for selection parameters that cannot be
// applied to the candidate list.
var ErrInvalidParams = errors.New("invalid selection parameters")

// Mode is the kind of outcome to compute.
type Mode uint8

const (
	// ModeWinners draws Params.Winners distinct winners.
	ModeWinners Mode = iota
	// ModeOrdering ranks every candidate.
	ModeOrdering
	// ModeTiers draws consecutive groups of Params.Tiers sizes.
	ModeTiers
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case ModeWinners:
		return "winners"
	case ModeOrdering:
		return "ordering"
	case ModeTiers:
		return "tiers"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "winners", "":
		return ModeWinners, nil
	case "ordering":
		return ModeOrdering, nil
	case "tiers":
		return ModeTiers, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode '%s'", ErrInvalidParams, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Params are the normalized selection parameters of a session.
type Params struct {
	Mode Mode `cbor:"mode" json:"mode"`
	// Winners is the number of distinct winners in ModeWinners.
	Winners int `cbor:"winners,omitempty" json:"winners,omitempty"`
	// Tiers holds the size of each tier in ModeTiers, best tier first.
	Tiers []int `cbor:"tiers,omitempty" json:"tiers,omitempty"`
	// Weights, if set, holds one weight per candidate in candidate order.
	Weights []Weight `cbor:"weights,omitempty" json:"weights,omitempty"`
}

// Draws returns how many distinct candidates the parameters select out of n.
func (p Params) Draws(n int) int {
	switch p.Mode {
	case ModeOrdering:
		return n
	case ModeTiers:
		total := 0
		for _, t := range p.Tiers {
			total += t
		}
		return total
	default:
		return p.Winners
	}
}

// Weighted reports whether the parameters carry weights.
func (p Params) Weighted() bool {
	return len(p.Weights) > 0
}

// Validate checks the parameters against a candidate count.
func (p Params) Validate(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: no candidates", ErrInvalidParams)
	}
	switch p.Mode {
	case ModeWinners:
		if p.Winners < 1 || p.Winners > n {
			return fmt.Errorf("%w: winners %d out of range [1, %d]", ErrInvalidParams, p.Winners, n)
		}
	case ModeOrdering:
	case ModeTiers:
		if len(p.Tiers) == 0 {
			return fmt.Errorf("%w: no tiers", ErrInvalidParams)
		}
		// The running total stays within n, so the sum cannot overflow.
		total := 0
		for i, t := range p.Tiers {
			if t < 1 {
				return fmt.Errorf("%w: tier %d has size %d", ErrInvalidParams, i, t)
			}
			if t > n-total {
				return fmt.Errorf("%w: tier %d needs %d more candidates, %d left of %d", ErrInvalidParams, i, t, n-total, n)
			}
			total += t
		}
	default:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidParams, p.Mode)
	}
	if p.Weighted() {
		if len(p.Weights) != n {
			return fmt.Errorf("%w: %d weights for %d candidates", ErrInvalidParams, len(p.Weights), n)
		}
		for i, w := range p.Weights {
			if !w.Positive() {
				return fmt.Errorf("%w: weight %d is %s, must be positive", ErrInvalidParams, i, w)
			}
			if !w.inRange() {
				return fmt.Errorf("%w: weight %d is %s, out of range", ErrInvalidParams, i, w)
			}
		}
	}
	return nil
}

// Outcome is the result of a selection.
type Outcome struct {
	Mode Mode `cbor:"mode" json:"mode"`
	// Winners lists the selected candidates in draw order. In ModeOrdering
	// this is the full ranking.
	Winners []string `cbor:"winners" json:"winners"`
	// Tiers groups Winners by tier in ModeTiers.
	Tiers [][]string `cbor:"tiers,omitempty" json:"tiers,omitempty"`
}

// Select computes the outcome for the given seed. Candidates are taken in
// the given order; only the seed determines which are drawn.
func Select(seed randomness.Seed, candidates []string, p Params) (*Outcome, error) {
	n := len(candidates)
	if err := p.Validate(n); err != nil {
		return nil, err
	}

	stream := randomness.NewStream(seed)
	draws := p.Draws(n)

	var order []int
	var err error
	if p.Weighted() {
		order, err = drawWeighted(stream, p.Weights, draws)
		if err != nil {
			return nil, fmt.Errorf("weighted draw: %w", err)
		}
	} else {
		order = drawUniform(stream, n, draws)
	}

	outcome := &Outcome{
		Mode:    p.Mode,
		Winners: make([]string, len(order)),
	}
	for i, idx := range order {
		outcome.Winners[i] = candidates[idx]
	}
	if p.Mode == ModeTiers {
		offset := 0
		for _, size := range p.Tiers {
			outcome.Tiers = append(outcome.Tiers, outcome.Winners[offset:offset+size])
			offset += size
		}
	}
	return outcome, nil
}

// drawUniform runs a partial Fisher-Yates shuffle over candidate indexes
// and returns the first k positions.
func drawUniform(stream *randomness.Stream, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + int(stream.Uniform(uint64(n-i)))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// two64 is 2^64, the size of the draw space of Stream.Uint64.
var two64 = func() *apd.Decimal {
	d, _, err := apd.NewFromString("18446744073709551616")
	if err != nil {
		panic(err)
	}
	return d
}()

// drawWeighted samples k indexes without replacement, each draw picking an
// index with probability proportional to its remaining weight.
func drawWeighted(stream *randomness.Stream, weights []Weight, k int) ([]int, error) {
	tree, err := newFenwick(weights)
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, k)
	for len(order) < k {
		r, _, err := apd.NewFromString(strconv.FormatUint(stream.Uint64(), 10))
		if err != nil {
			return nil, err
		}
		// target = total * r / 2^64, in [0, total).
		target := new(apd.Decimal)
		if _, err = decimalCtx.Mul(target, &tree.total, r); err != nil {
			return nil, err
		}
		if _, err = decimalCtx.Quo(target, target, two64); err != nil {
			return nil, err
		}

		idx, err := tree.search(target)
		if err != nil {
			return nil, err
		}
		if err = tree.remove(idx); err != nil {
			return nil, err
		}
		order = append(order, idx)
	}
	return order, nil
}
