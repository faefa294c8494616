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
	"bytes"
	"errors"
	"testing"

	"github.com/dysco-project/dysco"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		HeaderSize:             123,
		ColumnHeaderOffset:     64,
		ColumnCount:            2,
		RowsPerBlock:           10,
		AntennaCount:           4,
		BlockSize:              9000,
		VersionMajor:           dysco.VersionMajor,
		VersionMinor:           dysco.VersionMinor,
		DataBitCount:           8,
		WeightBitCount:         8,
		FitToMaximum:           1,
		Distribution:           1,
		Normalization:          2,
		StudentTNu:             3.5,
		DistributionTruncation: 2.0,
	}
	cols := []ColumnHeader{
		{BlockSize: 4000, AntennaCount: 4},
		{BlockSize: 5000, AntennaCount: 4},
	}
	var buf bytes.Buffer
	if err := h.Write(&buf, cols); err != nil {
		t.Fatal(err)
	}
	got, gotCols, err := ReadHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *h {
		t.Fatalf("header round-trip mismatch:\ngot  %+v\nwant %+v", *got, *h)
	}
	if len(gotCols) != len(cols) {
		t.Fatalf("column count = %d, want %d", len(gotCols), len(cols))
	}
	for i := range cols {
		if gotCols[i] != cols[i] {
			t.Errorf("column %d = %+v, want %+v", i, gotCols[i], cols[i])
		}
	}
}

func TestReadHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, fixedHeaderSize))
	_, _, err := ReadHeader(&buf)
	if !errors.Is(err, dysco.ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestReadHeaderFutureVersion(t *testing.T) {
	h := &Header{VersionMajor: dysco.VersionMajor + 1}
	var buf bytes.Buffer
	if err := h.Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	_, _, err := ReadHeader(&buf)
	if !errors.Is(err, dysco.ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}

func TestReadHeaderShort(t *testing.T) {
	_, _, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	if !errors.Is(err, dysco.ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
}
