package selection

import (
	"fmt"

	"github.com/cockroachdb/apd"
)

// fenwick is a binary indexed tree of decimal weights supporting prefix
// search and point removal.
type fenwick struct {
	n       int
	tree    []apd.Decimal // 1-indexed
	weights []apd.Decimal // current weight per index, 0-indexed
	total   apd.Decimal
}

func newFenwick(weights []Weight) (*fenwick, error) {
	n := len(weights)
	f := &fenwick{
		n:       n,
		tree:    make([]apd.Decimal, n+1),
		weights: make([]apd.Decimal, n),
	}
	for i, w := range weights {
		f.weights[i].Set(&w.d)
		if _, err := decimalCtx.Add(&f.tree[i+1], &f.tree[i+1], &w.d); err != nil {
			return nil, fmt.Errorf("building weight tree: %w", err)
		}
		if j := (i + 1) + ((i + 1) & -(i + 1)); j <= n {
			if _, err := decimalCtx.Add(&f.tree[j], &f.tree[j], &f.tree[i+1]); err != nil {
				return nil, fmt.Errorf("building weight tree: %w", err)
			}
		}
		if _, err := decimalCtx.Add(&f.total, &f.total, &w.d); err != nil {
			return nil, fmt.Errorf("summing weights: %w", err)
		}
	}
	return f, nil
}

// remove sets the weight at index i to zero.
func (f *fenwick) remove(i int) error {
	w := new(apd.Decimal).Set(&f.weights[i])
	for j := i + 1; j <= f.n; j += j & -j {
		if _, err := decimalCtx.Sub(&f.tree[j], &f.tree[j], w); err != nil {
			return err
		}
	}
	if _, err := decimalCtx.Sub(&f.total, &f.total, w); err != nil {
		return err
	}
	f.weights[i].SetInt64(0)
	return nil
}

// search returns the smallest index whose cumulative weight exceeds target.
// Rounding can push the walk onto an exhausted or out-of-range index; the
// nearest index that still carries weight is returned instead.
func (f *fenwick) search(target *apd.Decimal) (int, error) {
	step := 1
	for step*2 <= f.n {
		step *= 2
	}

	pos := 0
	rem := new(apd.Decimal).Set(target)
	for ; step > 0; step /= 2 {
		next := pos + step
		if next <= f.n && f.tree[next].Cmp(rem) <= 0 {
			pos = next
			if _, err := decimalCtx.Sub(rem, rem, &f.tree[next]); err != nil {
				return 0, err
			}
		}
	}

	if pos < f.n && f.weights[pos].Sign() > 0 {
		return pos, nil
	}
	for i := pos; i < f.n; i++ {
		if f.weights[i].Sign() > 0 {
			return i, nil
		}
	}
	for i := min(pos, f.n) - 1; i >= 0; i-- {
		if f.weights[i].Sign() > 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no weight left to draw from")
}
