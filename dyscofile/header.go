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

// Package dyscofile implements the block-framed on-disk codec (§4.E,
// §4.F): the fixed global header, per-column sub-headers, and the
// threaded block cache whose worker goroutines write finished blocks
// to the file. Blocks are encoded by the goroutine that completes them
// (File.PutRow), not by the cache workers; File.GetBlock reads and
// decodes straight from the file.
package dyscofile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dysco-project/dysco"
)

// magic identifies a Dysco file; chosen, like tnproto's headerMagic, so
// it can never be mistaken for the start of another format this codec
// might be embedded next to.
const magic = "DYSCO1\x00\x00"

const magicSize = 8

// fixedHeaderSize is the byte length of the fixed portion of the
// header, before any per-column sub-headers: magic, six u32, two u16,
// five u8, 7 padding bytes, two f64.
const fixedHeaderSize = magicSize + 4*6 + 2*2 + 1*5 + 7 + 8*2

// Header is the fixed global header of a Dysco file (§4.F), excluding
// the per-column sub-headers which are tracked alongside it by File.
type Header struct {
	HeaderSize         uint32
	ColumnHeaderOffset uint32
	ColumnCount        uint32
	RowsPerBlock       uint32
	AntennaCount       uint32
	BlockSize          uint32

	VersionMajor uint16
	VersionMinor uint16

	DataBitCount   uint8
	WeightBitCount uint8
	FitToMaximum   uint8
	Distribution   uint8
	Normalization  uint8

	StudentTNu             float64
	DistributionTruncation float64
}

// ColumnHeader is the per-column sub-header following the fixed
// header: a data or weight column's own block size and antenna count
// (both are redundant with the global header today, but are kept
// per-column since a future column kind could legitimately differ).
type ColumnHeader struct {
	BlockSize    uint32
	AntennaCount uint32
}

const columnHeaderSize = 4 + 4 + 4 // columnHeaderSize field + the two uint32 payload fields

// Write serializes h and its column headers to w.
func (h *Header) Write(w io.Writer, columns []ColumnHeader) error {
	buf := make([]byte, fixedHeaderSize)
	copy(buf[0:magicSize], magic)
	o := magicSize
	binary.LittleEndian.PutUint32(buf[o:], h.HeaderSize)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], h.ColumnHeaderOffset)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], h.ColumnCount)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], h.RowsPerBlock)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], h.AntennaCount)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], h.BlockSize)
	o += 4
	binary.LittleEndian.PutUint16(buf[o:], h.VersionMajor)
	o += 2
	binary.LittleEndian.PutUint16(buf[o:], h.VersionMinor)
	o += 2
	buf[o] = h.DataBitCount
	o++
	buf[o] = h.WeightBitCount
	o++
	buf[o] = h.FitToMaximum
	o++
	buf[o] = h.Distribution
	o++
	buf[o] = h.Normalization
	o++
	// pad to the f64 fields' natural alignment, mirroring the C
	// struct layout this header is modeled on
	o += 7
	binary.LittleEndian.PutUint64(buf[o:], mathFloatBits(h.StudentTNu))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], mathFloatBits(h.DistributionTruncation))
	o += 8
	if o != fixedHeaderSize {
		panic(fmt.Sprintf("dyscofile: fixed header layout miscalculated: wrote %d, want %d", o, fixedHeaderSize))
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	for _, c := range columns {
		cbuf := make([]byte, columnHeaderSize)
		binary.LittleEndian.PutUint32(cbuf[0:], columnHeaderSize)
		binary.LittleEndian.PutUint32(cbuf[4:], c.BlockSize)
		binary.LittleEndian.PutUint32(cbuf[8:], c.AntennaCount)
		if _, err := w.Write(cbuf); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and validates a Header and its column sub-headers
// from r, wrapping ErrFormat on any mismatch.
func ReadHeader(r io.Reader) (*Header, []ColumnHeader, error) {
	buf := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, fmt.Errorf("%w: short header read: %v", dysco.ErrFormat, err)
	}
	if string(buf[0:magicSize]) != magic {
		return nil, nil, fmt.Errorf("%w: bad magic %q", dysco.ErrFormat, buf[0:magicSize])
	}
	h := &Header{}
	o := magicSize
	h.HeaderSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.ColumnHeaderOffset = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.ColumnCount = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.RowsPerBlock = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.AntennaCount = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.BlockSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.VersionMajor = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.VersionMinor = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	h.DataBitCount = buf[o]
	o++
	h.WeightBitCount = buf[o]
	o++
	h.FitToMaximum = buf[o]
	o++
	h.Distribution = buf[o]
	o++
	h.Normalization = buf[o]
	o++
	o += 7
	h.StudentTNu = mathFloatFromBits(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	h.DistributionTruncation = mathFloatFromBits(binary.LittleEndian.Uint64(buf[o:]))
	o += 8

	if h.VersionMajor > dysco.VersionMajor {
		return nil, nil, fmt.Errorf("%w: file version %d.%d newer than supported %d.%d", dysco.ErrFormat, h.VersionMajor, h.VersionMinor, dysco.VersionMajor, dysco.VersionMinor)
	}

	columns := make([]ColumnHeader, h.ColumnCount)
	for i := range columns {
		cbuf := make([]byte, columnHeaderSize)
		if _, err := io.ReadFull(r, cbuf); err != nil {
			return nil, nil, fmt.Errorf("%w: short column header read: %v", dysco.ErrFormat, err)
		}
		size := binary.LittleEndian.Uint32(cbuf[0:])
		if size != columnHeaderSize {
			return nil, nil, fmt.Errorf("%w: column header size %d, want %d", dysco.ErrFormat, size, columnHeaderSize)
		}
		columns[i].BlockSize = binary.LittleEndian.Uint32(cbuf[4:])
		columns[i].AntennaCount = binary.LittleEndian.Uint32(cbuf[8:])
	}
	return h, columns, nil
}
