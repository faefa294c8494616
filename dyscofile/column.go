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
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/crypto/blake2b"

	"github.com/dysco-project/dysco"
	"github.com/dysco-project/dysco/bitpack"
	"github.com/dysco-project/dysco/blockcodec"
	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

// checksumSize is the BLAKE2b-64 (first 8 bytes of a 256-bit digest)
// trailer appended to every block frame: cheap enough to compute per
// block, and enough to catch truncation or bit-rot that the format's
// blockSize check alone would miss.
const checksumSize = 8

func blockChecksum(data []byte) [checksumSize]byte {
	full := blake2b.Sum256(data)
	var out [checksumSize]byte
	copy(out[:], full[:checksumSize])
	return out
}

// DataColumn assembles and parses the on-disk frame for one
// complex-valued (visibility) column within a time-block: metadata
// floats, packed data symbols, and a trailing checksum.
type DataColumn struct {
	Encoder    blockcodec.DataEncoder
	Quant      *quant.Encoder[float64]
	DataBits   int
	NAntennae  int
	NPol       int
	NChan      int
}

// FrameSize returns the exact byte length of one block's frame for
// nRows rows, matching the blockSize computed at file creation.
func (c *DataColumn) FrameSize(nRows int) int {
	meta := c.Encoder.MetaDataCount(nRows, c.NAntennae)
	symbols := c.Encoder.SymbolCount(nRows)
	return meta*4 + bitpack.BufferSize(symbols, c.DataBits) + checksumSize
}

// EncodeBlock normalises, quantises, and packs one time-block of
// visibilities, returning a frame of exactly FrameSize(buf.NRows())
// bytes. rng is nil for non-dithered encoding.
func (c *DataColumn) EncodeBlock(buf *tblock.Buffer[complex128], rng *rand.Rand) []byte {
	nRows := buf.NRows()
	meta := make([]float64, c.Encoder.MetaDataCount(nRows, c.NAntennae))
	symbolCount := c.Encoder.SymbolCount(nRows)
	symbols := make([]uint32, symbolCount)
	c.Encoder.Encode(c.Quant, buf, meta, symbols, c.NAntennae, rng)

	packed := bitpack.BufferSize(symbolCount, c.DataBits)
	frame := make([]byte, meta4Bytes(len(meta))+packed+checksumSize)
	writeFloats(frame, meta)
	bitpack.Pack(c.DataBits, frame[meta4Bytes(len(meta)):meta4Bytes(len(meta))+packed], symbols)
	sum := blockChecksum(frame[:meta4Bytes(len(meta))+packed])
	copy(frame[meta4Bytes(len(meta))+packed:], sum[:])
	return frame
}

// DecodeBlock parses a frame produced by EncodeBlock into buf, which
// must already be shaped for nRows rows (see tblock.Buffer.Resize).
func (c *DataColumn) DecodeBlock(frame []byte, buf *tblock.Buffer[complex128]) error {
	nRows := buf.NRows()
	metaCount := c.Encoder.MetaDataCount(nRows, c.NAntennae)
	symbolCount := c.Encoder.SymbolCount(nRows)
	metaBytes := meta4Bytes(metaCount)
	packed := bitpack.BufferSize(symbolCount, c.DataBits)
	want := metaBytes + packed + checksumSize
	if len(frame) != want {
		return fmt.Errorf("%w: data column frame is %d bytes, want %d", dysco.ErrFormat, len(frame), want)
	}
	got := blockChecksum(frame[:metaBytes+packed])
	if string(got[:]) != string(frame[metaBytes+packed:]) {
		return fmt.Errorf("%w: data column block checksum mismatch", dysco.ErrFormat)
	}
	meta := make([]float64, metaCount)
	readFloats(frame[:metaBytes], meta)
	symbols := make([]uint32, symbolCount)
	bitpack.Unpack(c.DataBits, symbols, frame[metaBytes:metaBytes+packed])

	c.Encoder.InitializeDecode(meta, nRows, c.NAntennae)
	for row := 0; row < nRows; row++ {
		r := buf.Row(row)
		c.Encoder.Decode(c.Quant, buf, symbols, row, r.Antenna1, r.Antenna2)
	}
	return nil
}

// WeightColumn is the real-valued weight-column equivalent of
// DataColumn: no stochastic quantiser, just a per-(row,channel) scale
// and a rounded integer symbol.
type WeightColumn struct {
	Encoder    blockcodec.WeightEncoder
	QuantCount int
	WeightBits int
	NPol       int
	NChan      int
}

func (c *WeightColumn) FrameSize(nRows int) int {
	meta := c.Encoder.MetaDataCount(nRows)
	symbols := c.Encoder.SymbolCount(nRows)
	return meta*4 + bitpack.BufferSize(symbols, c.WeightBits) + checksumSize
}

func (c *WeightColumn) EncodeBlock(buf *tblock.Buffer[float64]) []byte {
	nRows := buf.NRows()
	meta := make([]float64, c.Encoder.MetaDataCount(nRows))
	symbolCount := c.Encoder.SymbolCount(nRows)
	symbols := make([]uint32, symbolCount)
	c.Encoder.Encode(c.QuantCount, buf, meta, symbols)

	metaBytes := meta4Bytes(len(meta))
	packed := bitpack.BufferSize(symbolCount, c.WeightBits)
	frame := make([]byte, metaBytes+packed+checksumSize)
	writeFloats(frame, meta)
	bitpack.Pack(c.WeightBits, frame[metaBytes:metaBytes+packed], symbols)
	sum := blockChecksum(frame[:metaBytes+packed])
	copy(frame[metaBytes+packed:], sum[:])
	return frame
}

func (c *WeightColumn) DecodeBlock(frame []byte, buf *tblock.Buffer[float64]) error {
	nRows := buf.NRows()
	metaCount := c.Encoder.MetaDataCount(nRows)
	symbolCount := c.Encoder.SymbolCount(nRows)
	metaBytes := meta4Bytes(metaCount)
	packed := bitpack.BufferSize(symbolCount, c.WeightBits)
	want := metaBytes + packed + checksumSize
	if len(frame) != want {
		return fmt.Errorf("%w: weight column frame is %d bytes, want %d", dysco.ErrFormat, len(frame), want)
	}
	got := blockChecksum(frame[:metaBytes+packed])
	if string(got[:]) != string(frame[metaBytes+packed:]) {
		return fmt.Errorf("%w: weight column block checksum mismatch", dysco.ErrFormat)
	}
	meta := make([]float64, metaCount)
	readFloats(frame[:metaBytes], meta)
	symbols := make([]uint32, symbolCount)
	bitpack.Unpack(c.WeightBits, symbols, frame[metaBytes:metaBytes+packed])

	c.Encoder.InitializeDecode(meta, nRows)
	for row := 0; row < nRows; row++ {
		c.Encoder.Decode(c.QuantCount, buf, symbols, row)
	}
	return nil
}

func meta4Bytes(n int) int { return n * 4 }

func writeFloats(dst []byte, floats []float64) {
	for i, f := range floats {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(f)))
	}
}

func readFloats(src []byte, dst []float64) {
	for i := range dst {
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
	}
}
