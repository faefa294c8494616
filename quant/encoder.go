// Copyright (C) 2024 The Dysco Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package quant

import (
	"math"
	"sort"

	"golang.org/x/exp/constraints"
)

// Encoder maps floating-point values to dictionary symbols and back,
// for one (quantCount, distribution, sigma, tau, nu) configuration. An
// Encoder is immutable after New and safe for concurrent use by
// multiple goroutines, as long as they do not share an EncodeWithDithering
// caller's PRNG state (the PRNG itself is supplied by the caller).
type Encoder[T constraints.Float] struct {
	dict   *dictionary
	bounds []T
	dval   []T
	maxQ   T
}

// Config collects the parameters needed to build a dictionary. Sigma is
// required for every Kind; Tau only applies to TruncatedGaussian and Nu
// only to StudentT.
type Config struct {
	QuantCount int
	Kind       Kind
	Sigma      float64
	Tau        float64
	Nu         float64
}

// New builds an Encoder for the given configuration. It fails if
// QuantCount < 2, Sigma <= 0, or (for the relevant Kind) Tau <= 0 or
// Nu <= 0.
func New[T constraints.Float](cfg Config) (*Encoder[T], error) {
	d, err := buildDictionary(cfg.QuantCount, params{
		kind:  cfg.Kind,
		sigma: cfg.Sigma,
		tau:   cfg.Tau,
		nu:    cfg.Nu,
	})
	if err != nil {
		return nil, err
	}
	n := d.quantCount()
	bounds := make([]T, n)
	dval := make([]T, n)
	var maxQ T
	for k := 0; k < n; k++ {
		bounds[k] = T(d.rightBoundary(k))
		dval[k] = T(d.centroid(k))
		if a := abs(dval[k]); a > maxQ {
			maxQ = a
		}
	}
	return &Encoder[T]{dict: d, bounds: bounds, dval: dval, maxQ: maxQ}, nil
}

func abs[T constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// QuantCount returns the dictionary size, 2^b.
func (e *Encoder[T]) QuantCount() int {
	return len(e.dval)
}

// MaxQuantity returns max_k |d[k]|, the largest representable magnitude.
func (e *Encoder[T]) MaxQuantity() T {
	return e.maxQ
}

// RightBoundary returns r[k], the right edge of symbol k's interval.
// RightBoundary(QuantCount()-1) is +Inf for all but the truncated and
// uniform distributions.
func (e *Encoder[T]) RightBoundary(k int) T {
	return e.bounds[k]
}

// Encode returns the dictionary index for x. Non-finite x returns a
// deterministic sentinel, the largest-magnitude positive symbol.
func (e *Encoder[T]) Encode(x T) uint32 {
	if isNonFinite(x) {
		return uint32(len(e.bounds) - 1)
	}
	n := len(e.bounds)
	k := sort.Search(n, func(i int) bool { return x < e.bounds[i] })
	if k >= n {
		k = n - 1
	}
	return uint32(k)
}

// EncodeWithDithering encodes x using an external 16-bit uniform dither
// u to probabilistically round between the two centroids straddling x,
// producing an unbiased reconstruction on average.
func (e *Encoder[T]) EncodeWithDithering(x T, u uint16) uint32 {
	if isNonFinite(x) {
		return uint32(len(e.dval) - 1)
	}
	n := len(e.dval)
	// k = largest index with dval[k] <= x, clamped to a valid straddle pair.
	pos := sort.Search(n, func(i int) bool { return e.dval[i] > x })
	k := pos - 1
	if k < 0 {
		return 0
	}
	if k >= n-1 {
		return uint32(n - 1)
	}
	span := e.dval[k+1] - e.dval[k]
	p := float64(x-e.dval[k]) / float64(span)
	if float64(u)/65536.0 < p {
		return uint32(k + 1)
	}
	return uint32(k)
}

// Decode returns the reconstruction point d[symbol].
func (e *Encoder[T]) Decode(symbol uint32) T {
	return e.dval[symbol]
}

func isNonFinite[T constraints.Float](x T) bool {
	f := float64(x)
	return math.IsNaN(f) || math.IsInf(f, 0)
}
