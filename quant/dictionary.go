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

import "fmt"

// dictionary holds the reconstruction points (centroids) and interval
// boundaries of a stochastic quantiser with quantCount symbols.
//
// cuts has quantCount+1 entries: cuts[0] and cuts[quantCount] are the
// (possibly infinite) edges of the distribution's support, and cuts[j]
// for 0<j<quantCount is the boundary between symbol j-1 and symbol j.
// bounds[k] (exposed to callers as RightBoundary(k)) is simply cuts[k+1].
//
// Both cuts and centroids are built for only the lower half of the
// dictionary and then mirrored, so that the dictionary is exactly
// (bit-for-bit) symmetric about zero regardless of any rounding error
// in the underlying quantile/integration routines.
type dictionary struct {
	cuts      []float64
	centroids []float64
}

func buildDictionary(quantCount int, p params) (*dictionary, error) {
	if quantCount < 2 {
		return nil, fmt.Errorf("%w: quantCount %d must be >= 2", ErrConfiguration, quantCount)
	}
	if p.sigma <= 0 {
		return nil, fmt.Errorf("%w: sigma %g must be positive", ErrConfiguration, p.sigma)
	}
	if p.kind == TruncatedGaussian && p.tau <= 0 {
		return nil, fmt.Errorf("%w: tau %g must be positive", ErrConfiguration, p.tau)
	}
	if p.kind == StudentT && p.nu <= 0 {
		return nil, fmt.Errorf("%w: nu %g must be positive", ErrConfiguration, p.nu)
	}

	n := quantCount
	cuts := make([]float64, n+1)
	lo, hi := p.support()
	cuts[0] = lo
	cuts[n] = hi

	half := n / 2
	for j := 1; j <= half; j++ {
		if n%2 == 0 && j == half {
			cuts[j] = 0
		} else {
			cuts[j] = p.quantile(float64(j) / float64(n))
		}
		cuts[n-j] = -cuts[j]
	}
	// n odd: the middle cut (j = half, n-j = half+1) was already handled
	// by the loop bound; nothing stands exactly at zero in that case,
	// which is correct since an odd number of cuts cannot place one
	// symmetrically at the origin while keeping n intervals of equal mass.

	centroids := make([]float64, n)
	scale := p.sigma
	if p.kind == StudentT {
		// fatter tails integrate more stably against a somewhat wider scale
		scale = p.sigma * 2
	}
	for k := 0; k < (n+1)/2; k++ {
		centroids[k] = float64(n) * integrateXF(p.pdf, cuts[k], cuts[k+1], scale)
		mirror := n - 1 - k
		if mirror != k {
			centroids[mirror] = -centroids[k]
		}
	}

	return &dictionary{cuts: cuts, centroids: centroids}, nil
}

func (d *dictionary) quantCount() int {
	return len(d.centroids)
}

func (d *dictionary) rightBoundary(k int) float64 {
	return d.cuts[k+1]
}

func (d *dictionary) centroid(k int) float64 {
	return d.centroids[k]
}
