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

package dyscofile

import (
	"math"
	"math/rand"
	"testing"

	"github.com/dysco-project/dysco/blockcodec"
	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

func gaussianQuant(t *testing.T, bits int) *quant.Encoder[float64] {
	t.Helper()
	q, err := quant.New[float64](quant.Config{
		QuantCount: 1 << bits,
		Kind:       quant.Gaussian,
		Sigma:      1,
	})
	if err != nil {
		t.Fatalf("quant.New: %v", err)
	}
	return q
}

func TestDataColumnRoundTrip(t *testing.T) {
	const nPol, nChan, nAntennae = 2, 3, 4
	buf := tblock.New[complex128](nPol, nChan)
	rows := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	rng := rand.New(rand.NewSource(1))
	for _, r := range rows {
		data := make([]complex128, nPol*nChan)
		for i := range data {
			data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
		}
		buf.Append(r[0], r[1], data)
	}

	col := &DataColumn{
		Encoder:   blockcodec.NewRow(nPol, nChan),
		Quant:     gaussianQuant(t, 8),
		DataBits:  8,
		NAntennae: nAntennae,
		NPol:      nPol,
		NChan:     nChan,
	}
	frame := col.EncodeBlock(buf, nil)
	if len(frame) != col.FrameSize(len(rows)) {
		t.Fatalf("frame size = %d, want %d", len(frame), col.FrameSize(len(rows)))
	}

	out := tblock.New[complex128](nPol, nChan)
	out.Resize(len(rows))
	for i, r := range rows {
		out.SetData(i, r[0], r[1], make([]complex128, nPol*nChan))
	}
	if err := col.DecodeBlock(frame, out); err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	for i := range rows {
		orig := buf.Row(i)
		got := out.Row(i)
		for j := range orig.Visibilities {
			if math.Abs(real(got.Visibilities[j])-real(orig.Visibilities[j])) > 0.5 {
				t.Errorf("row %d sample %d: real part %v too far from %v", i, j, got.Visibilities[j], orig.Visibilities[j])
			}
		}
	}
}

func TestDataColumnChecksumDetectsCorruption(t *testing.T) {
	const nPol, nChan, nAntennae = 1, 2, 2
	buf := tblock.New[complex128](nPol, nChan)
	buf.Append(0, 1, []complex128{1 + 1i, 2 + 2i})

	col := &DataColumn{
		Encoder:   blockcodec.NewRow(nPol, nChan),
		Quant:     gaussianQuant(t, 8),
		DataBits:  8,
		NAntennae: nAntennae,
	}
	frame := col.EncodeBlock(buf, nil)
	frame[0] ^= 0xFF

	out := tblock.New[complex128](nPol, nChan)
	out.Resize(1)
	out.SetData(0, 0, 1, make([]complex128, nPol*nChan))
	if err := col.DecodeBlock(frame, out); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func TestWeightColumnRoundTrip(t *testing.T) {
	const nPol, nChan = 2, 3
	buf := tblock.New[float64](nPol, nChan)
	buf.Append(0, 1, []float64{1, 2, 3, 4, 5, 6})
	buf.Append(0, 2, []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5})

	col := &WeightColumn{
		Encoder:    blockcodec.NewWeight(nPol, nChan),
		QuantCount: 1 << 8,
		WeightBits: 8,
	}
	frame := col.EncodeBlock(buf)

	out := tblock.New[float64](nPol, nChan)
	out.Resize(2)
	out.SetData(0, 0, 1, make([]float64, nPol*nChan))
	out.SetData(1, 0, 2, make([]float64, nPol*nChan))
	if err := col.DecodeBlock(frame, out); err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	for i := 0; i < 2; i++ {
		orig := buf.Row(i).Visibilities
		got := out.Row(i).Visibilities
		for j := range orig {
			if math.Abs(got[j]-orig[j]) > 0.1 {
				t.Errorf("row %d weight %d: got %v, want ~%v", i, j, got[j], orig[j])
			}
		}
	}
}
