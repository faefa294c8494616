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

// Package blockcodec implements the three time-block normalisers (RF,
// AF, Row) and the weight encoder: they rescale a whole time-block of
// visibilities so the stochastic quantiser sees values in its usable
// range, and emit the per-block scale factors as metadata alongside
// the quantised symbols.
package blockcodec

import (
	"math"
	"math/rand"

	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

// DataEncoder is the shared contract of the three visibility block
// encoders (RF, AF, Row).
type DataEncoder interface {
	// MetaDataCount returns the exact float count the encoder will emit
	// for a block of nRows rows and nAntennae antennas.
	MetaDataCount(nRows, nAntennae int) int
	// SymbolCount returns 2*nRows*nPol*nChan, the complex symbol count.
	SymbolCount(nRows int) int
	// Encode normalises buf in place (working on a private copy) and
	// writes meta (length MetaDataCount(...)) and symbols (length
	// SymbolCount(...)). If rng is non-nil, dithered encoding is used.
	Encode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], meta []float64, symbols []uint32, nAntennae int, rng *rand.Rand)
	// InitializeDecode primes decode-time state from a block's metadata.
	InitializeDecode(meta []float64, nRows, nAntennae int)
	// Decode reconstructs one row's visibilities from symbols into buf.
	Decode(q *quant.Encoder[float64], buf *tblock.Buffer[complex128], symbols []uint32, blockRow, a1, a2 int)
}

// WeightEncoder is the weight-column equivalent of DataEncoder: real,
// non-negative samples instead of complex visibilities. Weights are
// not run through the stochastic quantiser; they're rescaled and
// rounded directly to an integer symbol, so only the dictionary's bit
// width (quantCount) is relevant, not its distribution.
type WeightEncoder interface {
	MetaDataCount(nRows int) int
	SymbolCount(nRows int) int
	Encode(quantCount int, buf *tblock.Buffer[float64], meta []float64, symbols []uint32)
	InitializeDecode(meta []float64, nRows int)
	Decode(quantCount int, buf *tblock.Buffer[float64], symbols []uint32, blockRow int)
}

func maxAbsComponent(v complex128) float64 {
	re, im := real(v), imag(v)
	m := re
	if im > m {
		m = im
	}
	if -re > m {
		m = -re
	}
	if -im > m {
		m = -im
	}
	return m
}

func isFiniteComplex(v complex128) bool {
	return isFinite(real(v)) && isFinite(imag(v))
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
