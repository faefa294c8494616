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

// RF is the row/frequency block normaliser (§4.D.1): it divides out a
// per-channel RMS, then a per-row-per-polarisation maximum, then
// iteratively trades channel- and row-factor improvements against each
// other until both are within their respective thresholds of 1.
type RF struct {
	nPol, nChan int

	channelFactors []float64
	rowFactors     []float64
}

// NewRF returns an RF normaliser for blocks with nPol polarisations
// and nChan channels.
func NewRF(nPol, nChan int) *RF {
	return &RF{nPol: nPol, nChan: nChan}
}

func (e *RF) MetaDataCount(nRows, nAntennae int) int {
	return e.nPol*e.nChan + nRows*e.nPol
}

func (e *RF) SymbolCount(nRows int) int {
	return 2 * nRows * e.nPol * e.nChan
}

type rmsAccumulator struct {
	sumSq float64
	count int
}

func (a *rmsAccumulator) include(v complex128) {
	if isFiniteComplex(v) {
		re, im := real(v), imag(v)
		a.sumSq += re*re + im*im
		a.count++
	}
}

func (a *rmsAccumulator) rms() float64 {
	if a.count == 0 {
		return 0
	}
	return math.Sqrt(a.sumSq / float64(a.count))
}

// Encode implements DataEncoder. rng may be nil for undithered encoding.
func (e *RF) Encode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], meta []float64, symbols []uint32, nAntennae int, rng *rand.Rand) {
	visPerRow := e.nPol * e.nChan
	rows := buf.Rows()
	data := make([][]complex128, len(rows))
	antenna1 := make([]int, len(rows))
	antenna2 := make([]int, len(rows))
	for i, r := range rows {
		data[i] = append([]complex128(nil), r.Visibilities...)
		antenna1[i] = r.Antenna1
		antenna2[i] = r.Antenna2
	}

	// Step 1: normalise per-channel RMS (excluding auto-correlations).
	channelRMS := make([]float64, visPerRow)
	for i := range channelRMS {
		var acc rmsAccumulator
		for r, row := range data {
			if antenna1[r] == antenna2[r] {
				continue
			}
			acc.include(row[i])
		}
		channelRMS[i] = acc.rms()
	}
	for _, row := range data {
		for i := range row {
			if channelRMS[i] != 0 {
				row[i] /= complex(channelRMS[i], 0)
			}
		}
	}
	copy(meta[:visPerRow], channelRMS)

	// Step 2: scale rows so every polarisation's max component hits
	// MaxQuantity.
	maxLevel := q.MaxQuantity()
	rowFactor := make([]float64, len(data)*e.nPol)
	for r, row := range data {
		maxPerPol := make([]float64, e.nPol)
		for i, v := range row {
			m := maxAbsComponent(v)
			if isFinite(m) && m > maxPerPol[i%e.nPol] {
				maxPerPol[i%e.nPol] = m
			}
		}
		for i := range row {
			p := i % e.nPol
			factor := 1.0
			if maxPerPol[p] != 0 {
				factor = maxLevel / maxPerPol[p]
			}
			row[i] *= complex(factor, 0)
		}
		for p := 0; p < e.nPol; p++ {
			f := 1.0
			if maxLevel != 0 {
				f = maxPerPol[p] / maxLevel
			}
			rowFactor[r*e.nPol+p] = f
			meta[visPerRow+r*e.nPol+p] = f
		}
	}

	e.fitToMaximum(data, antenna1, antenna2, meta, channelRMS, rowFactor, q.MaxQuantity())

	// Step 3: quantise.
	si := 0
	for _, row := range data {
		for _, v := range row {
			if rng != nil {
				symbols[si] = q.EncodeWithDithering(real(v), dither16(rng))
				symbols[si+1] = q.EncodeWithDithering(imag(v), dither16(rng))
			} else {
				symbols[si] = q.Encode(real(v))
				symbols[si+1] = q.Encode(imag(v))
			}
			si += 2
		}
	}
}

func dither16(rng *rand.Rand) uint16 {
	return uint16(rng.Intn(1 << 16))
}

// fitToMaximum iteratively trades off scaling a single channel versus a
// single row, whichever improves the total |Re|+|Im| the most, subject
// to never exceeding maxLevel anywhere. It terminates per polarisation
// when neither improvement clears its threshold (channel: 1.001, row:
// 1.01), mirroring the reference implementation's convergence test.
func (e *RF) fitToMaximum(data [][]complex128, antenna1, antenna2 []int, meta []float64, channelFactor, rowFactor []float64, maxLevel float64) {
	visPerRow := e.nPol * e.nChan

	for polIndex := 0; polIndex < e.nPol; polIndex++ {
		for {
			bestChannelIncrease, channelGain, bestChannel := e.bestChannelIncrease(data, antenna1, antenna2, polIndex, maxLevel)
			maxCompPerRow, increasePerRow, bestRow := e.bestRowIncrease(data, polIndex, maxLevel)
			bestRowIncrease := increasePerRow[bestRow]

			var progressing bool
			if bestRowIncrease > bestChannelIncrease {
				factor := 1.0
				if maxCompPerRow[bestRow] != 0 {
					factor = maxLevel / maxCompPerRow[bestRow]
				}
				if factor < 1.0 {
					progressing = false
				} else {
					progressing = factor > 1.01
					e.applyRowFactor(data, bestRow, polIndex, factor)
					rowFactor[bestRow*e.nPol+polIndex] /= factor
					meta[visPerRow+bestRow*e.nPol+polIndex] = rowFactor[bestRow*e.nPol+polIndex]
				}
			} else {
				if channelGain < 1.0 {
					progressing = false
				} else {
					progressing = channelGain > 1.001
					idx := bestChannel*e.nPol + polIndex
					e.applyChannelFactor(data, idx, channelGain)
					channelFactor[idx] /= channelGain
					meta[idx] = channelFactor[idx]
				}
			}
			if !progressing {
				break
			}
		}
	}
}

func (e *RF) applyChannelFactor(data [][]complex128, visIndex int, factor float64) {
	for _, row := range data {
		row[visIndex] *= complex(factor, 0)
	}
}

func (e *RF) applyRowFactor(data [][]complex128, rowIndex, polIndex int, factor float64) {
	row := data[rowIndex]
	for channel := 0; channel < e.nChan; channel++ {
		row[channel*e.nPol+polIndex] *= complex(factor, 0)
	}
}

func (e *RF) bestChannelIncrease(data [][]complex128, antenna1, antenna2 []int, polIndex int, maxLevel float64) (bestIncrease, factor float64, bestChannel int) {
	factor = 1.0
	for channel := 0; channel < e.nChan; channel++ {
		visIndex := channel*e.nPol + polIndex
		largest := 0.0
		for r, row := range data {
			if antenna1[r] == antenna2[r] {
				continue
			}
			m := maxAbsComponent(row[visIndex])
			if isFinite(m) && m > largest {
				largest = m
			}
		}
		f := 0.0
		if largest != 0 {
			f = maxLevel/largest - 1.0
		}
		increase := 0.0
		for r, row := range data {
			if antenna1[r] == antenna2[r] {
				continue
			}
			v := row[channel*e.nPol+polIndex] * complex(f, 0)
			av := math.Abs(real(v)) + math.Abs(imag(v))
			if isFinite(av) {
				increase += av
			}
		}
		if increase > bestIncrease {
			bestIncrease = increase
			bestChannel = channel
			factor = f + 1.0
		}
	}
	return
}

func (e *RF) bestRowIncrease(data [][]complex128, polIndex int, maxLevel float64) (maxCompPerRow, increasePerRow []float64, bestRow int) {
	maxCompPerRow = make([]float64, len(data))
	for r, row := range data {
		for channel := 0; channel < e.nChan; channel++ {
			m := maxAbsComponent(row[channel*e.nPol+polIndex])
			if isFinite(m) && m > maxCompPerRow[r] {
				maxCompPerRow[r] = m
			}
		}
	}
	increasePerRow = make([]float64, len(data))
	for r, row := range data {
		f := 0.0
		if maxCompPerRow[r] != 0 {
			f = maxLevel/maxCompPerRow[r] - 1.0
		}
		for channel := 0; channel < e.nChan; channel++ {
			v := row[channel*e.nPol+polIndex] * complex(f, 0)
			av := math.Abs(real(v)) + math.Abs(imag(v))
			if isFinite(av) {
				increasePerRow[r] += av
			}
		}
	}
	best := 0.0
	for r, inc := range increasePerRow {
		if inc > best {
			best = inc
			bestRow = r
		}
	}
	return
}

// InitializeDecode implements DataEncoder.
func (e *RF) InitializeDecode(meta []float64, nRows, nAntennae int) {
	visPerRow := e.nPol * e.nChan
	e.channelFactors = append([]float64(nil), meta[:visPerRow]...)
	e.rowFactors = append([]float64(nil), meta[visPerRow:visPerRow+nRows*e.nPol]...)
}

// Decode implements DataEncoder.
func (e *RF) Decode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], symbols []uint32, blockRow, a1, a2 int) {
	visPerRow := e.nPol * e.nChan
	buf.SetData(blockRow, a1, a2, make([]complex128, visPerRow))
	row := buf.Row(blockRow)
	base := blockRow * visPerRow * 2
	for i := 0; i < visPerRow; i++ {
		factor := e.channelFactors[i] * e.rowFactors[blockRow*e.nPol+i%e.nPol]
		re := q.Decode(symbols[base+i*2]) * factor
		im := q.Decode(symbols[base+i*2+1]) * factor
		row.Visibilities[i] = complex(re, im)
	}
}
