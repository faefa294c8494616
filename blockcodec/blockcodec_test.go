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
	"testing"

	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

func gaussianQuantiser(t *testing.T, bits int) *quant.Encoder[float64] {
	t.Helper()
	enc, err := quant.New[float64](quant.Config{QuantCount: 1 << bits, Kind: quant.Gaussian, Sigma: 1})
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func relError(got, want complex128) float64 {
	d := got - want
	n := math.Hypot(real(d), imag(d))
	m := math.Hypot(real(want), imag(want))
	if m == 0 {
		return n
	}
	return n / m
}

func encodeDecodeRoundTrip(t *testing.T, enc DataEncoder, nPol, nChan, nAntennae int, rows [][3]int, vis [][]complex128) *tblock.Buffer[complex128] {
	t.Helper()
	q := gaussianQuantiser(t, 8)
	buf := tblock.New[complex128](nPol, nChan)
	for i, r := range rows {
		buf.Append(r[0], r[1], vis[i])
	}
	meta := make([]float64, enc.MetaDataCount(buf.NRows(), nAntennae))
	symbols := make([]uint32, enc.SymbolCount(buf.NRows()))
	enc.Encode(q, buf, meta, symbols, nAntennae, nil)

	enc.InitializeDecode(meta, buf.NRows(), nAntennae)
	out := tblock.New[complex128](nPol, nChan)
	out.Resize(buf.NRows())
	for i, r := range rows {
		enc.Decode(q, out, symbols, i, r[0], r[1])
	}
	return out
}

// TestTinyAFExample follows spec scenario 1: a 4-antenna, P=2,C=1
// block with one NaN component that must decode to non-finite and
// cross-baseline values reconstructed to within 2% relative error.
func TestTinyAFExample(t *testing.T) {
	nPol, nChan, nAntennae := 2, 1, 4
	rows := [][3]int{
		{0, 0, 0}, {1, 1, 0}, {2, 2, 0}, {3, 3, 0},
		{0, 1, 0}, {0, 2, 0}, {0, 3, 0}, {1, 2, 0}, {1, 3, 0}, {2, 3, 0},
	}
	vis := [][]complex128{
		{99, 99}, {99, 99}, {99, 99}, {99, 99},
		{10, 9 + 1i},
		{8, 7 + 2i},
		{6, 5 + 3i},
		{4, 3 + 4i},
		{2, 1 + 5i},
		{0, complex(math.NaN(), math.NaN())},
	}
	af := NewAF(nPol, nChan)
	out := encodeDecodeRoundTrip(t, af, nPol, nChan, nAntennae, rows, vis)

	for i := 4; i < len(rows); i++ {
		row := out.Row(i)
		want := vis[i]
		for c := 0; c < nChan*nPol; c++ {
			if math.IsNaN(real(want[c])) || math.IsNaN(imag(want[c])) {
				if isFiniteComplex(row.Visibilities[c]) {
					t.Errorf("row %d component %d: got finite %v, want non-finite", i, c, row.Visibilities[c])
				}
				continue
			}
			if e := relError(row.Visibilities[c], want[c]); e > 0.02 {
				t.Errorf("row %d component %d: relative error %v (got %v want %v)", i, c, e, row.Visibilities[c], want[c])
			}
		}
	}
}

// TestRFRoundTripStress follows spec scenario 2 in miniature: random
// Gaussian input through the RF normaliser must reconstruct with an
// RMS error not appreciably amplified by block normalisation.
func TestRFRoundTripStress(t *testing.T) {
	nPol, nChan, nAntennae := 4, 8, 6
	rng := rand.New(rand.NewSource(42))
	var rows [][3]int
	var vis [][]complex128
	for a1 := 0; a1 < nAntennae; a1++ {
		for a2 := a1; a2 < nAntennae; a2++ {
			rows = append(rows, [3]int{a1, a2, 0})
			row := make([]complex128, nPol*nChan)
			for i := range row {
				row[i] = complex(rng.NormFloat64(), rng.NormFloat64())
			}
			vis = append(vis, row)
		}
	}
	rf := NewRF(nPol, nChan)
	out := encodeDecodeRoundTrip(t, rf, nPol, nChan, nAntennae, rows, vis)

	var sumSq, count float64
	for i, row := range out.Rows() {
		if rows[i][0] == rows[i][1] {
			continue
		}
		for c, got := range row.Visibilities {
			want := vis[i][c]
			d := got - want
			sumSq += real(d)*real(d) + imag(d)*imag(d)
			count++
		}
	}
	rms := math.Sqrt(sumSq / count)
	// A single Gaussian(sigma=1) symbol's own quantisation RMS at 8
	// bits is small; block normalisation must not blow this up wildly.
	if rms > 1.0 {
		t.Errorf("RF round-trip RMS error = %v, suspiciously large", rms)
	}
}

func TestRowEncoderRoundTrip(t *testing.T) {
	nPol, nChan, nAntennae := 2, 3, 3
	rows := [][3]int{{0, 1, 0}, {0, 2, 0}, {1, 2, 0}}
	vis := [][]complex128{
		{1, 2, 3, 4, 5, 6},
		{0.1, 0.2, -0.3, 0.4, -0.5, 0.6},
		{2, -2, 2, -2, 2, -2},
	}
	rowEnc := NewRow(nPol, nChan)
	out := encodeDecodeRoundTrip(t, rowEnc, nPol, nChan, nAntennae, rows, vis)
	for i, row := range out.Rows() {
		for c, got := range row.Visibilities {
			if e := relError(got, vis[i][c]); e > 0.05 {
				t.Errorf("row %d component %d: relative error %v", i, c, e)
			}
		}
	}
}

func TestWeightEncoderRoundTrip(t *testing.T) {
	nPol, nChan := 2, 4
	buf := tblock.New[float64](nPol, nChan)
	buf.Append(0, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	buf.Append(1, 2, []float64{0, 0.5, 1.5, 2.5, 0, 0, 9, 9})

	we := NewWeight(nPol, nChan)
	const quantCount = 256
	meta := make([]float64, we.MetaDataCount(buf.NRows()))
	symbols := make([]uint32, we.SymbolCount(buf.NRows()))
	we.Encode(quantCount, buf, meta, symbols)

	we.InitializeDecode(meta, buf.NRows())
	out := tblock.New[float64](nPol, nChan)
	out.Resize(buf.NRows())
	for i := 0; i < buf.NRows(); i++ {
		we.Decode(quantCount, out, symbols, i)
	}
	for i := 0; i < buf.NRows(); i++ {
		want := buf.Row(i).Visibilities
		got := out.Row(i).Visibilities
		for c := range want {
			if want[c] == 0 {
				continue
			}
			// Each weight is rounded to the nearest multiple of its
			// (row, channel) scale s, so it decodes to within s/2.
			s := meta[i*nChan+c/nPol]
			if e := math.Abs(got[c] - want[c]); e > s/2*(1+1e-9) {
				t.Errorf("row %d weight %d: got %v want %v", i, c, got[c], want[c])
			}
		}
	}
}
