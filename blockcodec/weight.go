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

	"github.com/dysco-project/dysco/tblock"
)

// Weight implements §4.D.4: one non-negative scalar per (row, channel)
// shared across all polarisations, so that round(weight/s) fits in
// 2^b-1.
type Weight struct {
	nPol, nChan int

	scales []float64
}

// NewWeight returns a weight encoder for blocks with nPol polarisations
// and nChan channels.
func NewWeight(nPol, nChan int) *Weight {
	return &Weight{nPol: nPol, nChan: nChan}
}

func (e *Weight) MetaDataCount(nRows int) int {
	return nRows * e.nChan
}

func (e *Weight) SymbolCount(nRows int) int {
	return nRows * e.nPol * e.nChan
}

func (e *Weight) Encode(quantCount int, buf *tblock.Buffer[float64], meta []float64, symbols []uint32) {
	quantMax := float64(quantCount - 1)
	si := 0
	for r, row := range buf.Rows() {
		for c := 0; c < e.nChan; c++ {
			maxW := 0.0
			for p := 0; p < e.nPol; p++ {
				w := row.Visibilities[c*e.nPol+p]
				if isFinite(w) && w > maxW {
					maxW = w
				}
			}
			s := 0.0
			if maxW != 0 {
				s = maxW / quantMax
			}
			meta[r*e.nChan+c] = s
			for p := 0; p < e.nPol; p++ {
				w := row.Visibilities[c*e.nPol+p]
				sym := uint32(0)
				if s != 0 && isFinite(w) {
					sym = uint32(math.Round(w / s))
				}
				symbols[si] = sym
				si++
			}
		}
	}
}

func (e *Weight) InitializeDecode(meta []float64, nRows int) {
	e.scales = append([]float64(nil), meta[:nRows*e.nChan]...)
}

func (e *Weight) Decode(quantCount int, buf *tblock.Buffer[float64], symbols []uint32, blockRow int) {
	visPerRow := e.nPol * e.nChan
	buf.SetData(blockRow, 0, 0, make([]float64, visPerRow))
	row := buf.Row(blockRow)
	base := blockRow * visPerRow
	for c := 0; c < e.nChan; c++ {
		s := e.scales[blockRow*e.nChan+c]
		for p := 0; p < e.nPol; p++ {
			row.Visibilities[c*e.nPol+p] = float64(symbols[base+c*e.nPol+p]) * s
		}
	}
}
