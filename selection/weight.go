package selection

import (
	"fmt"

	"github.com/cockroachdb/apd"
	"github.com/fxamacker/cbor/v2"
)

// decimalCtx is the arithmetic context for all weight computations.
var decimalCtx = apd.BaseContext.WithPrecision(34)

// Weight is a positive, finite decimal selection weight.
type Weight struct {
	d apd.Decimal
}

// ParseWeight parses a decimal string such as "2", "0.25" or "1e3".
func ParseWeight(s string) (Weight, error) {
	var w Weight
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return w, fmt.Errorf("weight '%s': %w", s, err)
	}
	w.d.Set(d)
	return w, nil
}

// NewWeight returns an integer weight.
func NewWeight(i int64) Weight {
	var w Weight
	w.d.SetInt64(i)
	return w
}

// MustParseWeight is like ParseWeight but panics on error. Intended for tests
// and constants.
func MustParseWeight(s string) Weight {
	w, err := ParseWeight(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Weights are limited in magnitude so that weight arithmetic can neither
// overflow nor lose whole weights to rounding.
const (
	maxWeightExponent  = 1000
	maxWeightCoeffBits = 112
)

// Positive reports whether the weight is finite and strictly greater than zero.
func (w Weight) Positive() bool {
	return w.d.Form == apd.Finite && w.d.Sign() > 0
}

// inRange reports whether the weight is within the supported magnitude.
func (w Weight) inRange() bool {
	return w.d.Exponent >= -maxWeightExponent &&
		w.d.Exponent <= maxWeightExponent &&
		w.d.Coeff.BitLen() <= maxWeightCoeffBits
}

func (w Weight) String() string {
	return w.d.String()
}

// Decimal returns a copy of the underlying decimal.
func (w Weight) Decimal() *apd.Decimal {
	return new(apd.Decimal).Set(&w.d)
}

// MarshalText implements encoding.TextMarshaler.
func (w Weight) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Weight) UnmarshalText(text []byte) error {
	parsed, err := ParseWeight(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MarshalCBOR encodes the weight as its canonical decimal string.
func (w Weight) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(w.String())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (w *Weight) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return w.UnmarshalText([]byte(s))
}
