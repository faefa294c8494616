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

package blockcodec

import (
	"math"
	"math/rand"

	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

// AF is the antenna/frequency normaliser (§4.D.2). A per-baseline
// factor is modeled as the product of two per-antenna gains, one per
// (channel, polarisation) index; the gains are estimated from the
// block's per-baseline magnitudes by a fixed-point iteration (each
// sweep updates every gain from the previous sweep's values) analogous to the antenna-gain solvers used in
// interferometric self-calibration. When FitToMaximum is set, a single
// extra global scale is then applied so the block's largest
// post-normalisation component lands exactly on MaxQuantity.
type AF struct {
	nPol, nChan int
	FitToMaximum bool

	antennaFactors []float64 // [index][antenna], index = channel*nPol+pol
	globalScale    float64
	nAntennae      int
}

// NewAF returns an AF normaliser for blocks with nPol polarisations
// and nChan channels.
func NewAF(nPol, nChan int) *AF {
	return &AF{nPol: nPol, nChan: nChan, FitToMaximum: true}
}

func (e *AF) MetaDataCount(nRows, nAntennae int) int {
	return nAntennae*e.nChan*e.nPol + 1
}

func (e *AF) SymbolCount(nRows int) int {
	return 2 * nRows * e.nPol * e.nChan
}

const afFixedPointIterations = 25

// solveAntennaGains estimates one per-antenna gain vector from a
// baseline magnitude matrix, using the fixed-point update
// f[a] = mean_b (mag[a,b] / f[b]), which converges to a geometric-mean
// factorisation of the (approximately rank-1) baseline matrix.
func solveAntennaGains(mag [][]float64, present [][]bool, nAntennae int) []float64 {
	f := make([]float64, nAntennae)
	for a := range f {
		f[a] = 1
	}
	for iter := 0; iter < afFixedPointIterations; iter++ {
		next := make([]float64, nAntennae)
		maxDelta := 0.0
		for a := 0; a < nAntennae; a++ {
			sum, count := 0.0, 0
			for b := 0; b < nAntennae; b++ {
				if b == a || !present[a][b] || f[b] == 0 {
					continue
				}
				sum += mag[a][b] / f[b]
				count++
			}
			if count > 0 {
				next[a] = sum / float64(count)
			} else {
				next[a] = f[a]
			}
			if d := math.Abs(next[a] - f[a]); d > maxDelta {
				maxDelta = d
			}
		}
		f = next
		if maxDelta < 1e-9 {
			break
		}
	}
	return f
}

func (e *AF) Encode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], meta []float64, symbols []uint32, nAntennae int, rng *rand.Rand) {
	visPerRow := e.nPol * e.nChan
	rows := buf.Rows()
	data := make([][]complex128, len(rows))
	for i, r := range rows {
		data[i] = append([]complex128(nil), r.Visibilities...)
	}

	e.nAntennae = nAntennae
	e.antennaFactors = make([]float64, visPerRow*nAntennae)

	for vi := 0; vi < visPerRow; vi++ {
		mag := make([][]float64, nAntennae)
		present := make([][]bool, nAntennae)
		for a := range mag {
			mag[a] = make([]float64, nAntennae)
			present[a] = make([]bool, nAntennae)
		}
		for r, row := range rows {
			a1, a2 := row.Antenna1, row.Antenna2
			if a1 == a2 {
				continue
			}
			v := data[r][vi]
			m := math.Hypot(real(v), imag(v))
			if !isFinite(m) {
				continue
			}
			mag[a1][a2] = m
			mag[a2][a1] = m
			present[a1][a2] = true
			present[a2][a1] = true
		}
		gains := solveAntennaGains(mag, present, nAntennae)
		copy(e.antennaFactors[vi*nAntennae:(vi+1)*nAntennae], gains)
		for r, row := range rows {
			base := gains[row.Antenna1] * gains[row.Antenna2]
			if base != 0 {
				data[r][vi] /= complex(base, 0)
			}
		}
	}

	globalScale := 1.0
	if e.FitToMaximum {
		maxAbs := 0.0
		for _, row := range data {
			for _, v := range row {
				m := maxAbsComponent(v)
				if isFinite(m) && m > maxAbs {
					maxAbs = m
				}
			}
		}
		if maxAbs != 0 {
			globalScale = q.MaxQuantity() / maxAbs
		}
	}
	e.globalScale = globalScale

	copy(meta[:visPerRow*nAntennae], e.antennaFactors)
	meta[visPerRow*nAntennae] = globalScale

	si := 0
	for _, row := range data {
		for _, v := range row {
			scaled := v * complex(globalScale, 0)
			if rng != nil {
				symbols[si] = q.EncodeWithDithering(real(scaled), dither16(rng))
				symbols[si+1] = q.EncodeWithDithering(imag(scaled), dither16(rng))
			} else {
				symbols[si] = q.Encode(real(scaled))
				symbols[si+1] = q.Encode(imag(scaled))
			}
			si += 2
		}
	}
}

func (e *AF) InitializeDecode(meta []float64, nRows, nAntennae int) {
	visPerRow := e.nPol * e.nChan
	e.nAntennae = nAntennae
	e.antennaFactors = append([]float64(nil), meta[:visPerRow*nAntennae]...)
	e.globalScale = meta[visPerRow*nAntennae]
}

func (e *AF) Decode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], symbols []uint32, blockRow, a1, a2 int) {
	visPerRow := e.nPol * e.nChan
	buf.SetData(blockRow, a1, a2, make([]complex128, visPerRow))
	row := buf.Row(blockRow)
	base := blockRow * visPerRow * 2
	for vi := 0; vi < visPerRow; vi++ {
		gains := e.antennaFactors[vi*e.nAntennae : (vi+1)*e.nAntennae]
		factor := gains[a1] * gains[a2] / e.globalScale
		re := q.Decode(symbols[base+vi*2]) * factor
		im := q.Decode(symbols[base+vi*2+1]) * factor
		row.Visibilities[vi] = complex(re, im)
	}
}
