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
	"math/rand"

	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

// Row is the row normaliser (§4.D.3): one scale factor per row per
// polarisation, chosen so the largest component in that (row,
// polarisation) group lands exactly on MaxQuantity.
type Row struct {
	nPol, nChan int

	rowFactors []float64
}

// NewRow returns a Row normaliser for blocks with nPol polarisations
// and nChan channels.
func NewRow(nPol, nChan int) *Row {
	return &Row{nPol: nPol, nChan: nChan}
}

func (e *Row) MetaDataCount(nRows, nAntennae int) int {
	return nRows * e.nPol
}

func (e *Row) SymbolCount(nRows int) int {
	return 2 * nRows * e.nPol * e.nChan
}

func (e *Row) Encode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], meta []float64, symbols []uint32, nAntennae int, rng *rand.Rand) {
	visPerRow := e.nPol * e.nChan
	maxLevel := q.MaxQuantity()
	si := 0
	for r, row := range buf.Rows() {
		maxPerPol := make([]float64, e.nPol)
		for i, v := range row.Visibilities {
			m := maxAbsComponent(v)
			if isFinite(m) && m > maxPerPol[i%e.nPol] {
				maxPerPol[i%e.nPol] = m
			}
		}
		for p := 0; p < e.nPol; p++ {
			factor := 0.0
			if maxLevel != 0 {
				factor = maxPerPol[p] / maxLevel
			}
			meta[r*e.nPol+p] = factor
		}
		for i := 0; i < visPerRow; i++ {
			p := i % e.nPol
			scale := 1.0
			if maxPerPol[p] != 0 {
				scale = maxLevel / maxPerPol[p]
			}
			v := row.Visibilities[i] * complex(scale, 0)
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

func (e *Row) InitializeDecode(meta []float64, nRows, nAntennae int) {
	e.rowFactors = append([]float64(nil), meta[:nRows*e.nPol]...)
}

func (e *Row) Decode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], symbols []uint32, blockRow, a1, a2 int) {
	visPerRow := e.nPol * e.nChan
	buf.SetData(blockRow, a1, a2, make([]complex128, visPerRow))
	row := buf.Row(blockRow)
	base := blockRow * visPerRow * 2
	for i := 0; i < visPerRow; i++ {
		factor := e.rowFactors[blockRow*e.nPol+i%e.nPol]
		re := q.Decode(symbols[base+i*2]) * factor
		im := q.Decode(symbols[base+i*2+1]) * factor
		row.Visibilities[i] = complex(re, im)
	}
}
