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

// Package tblock holds the in-memory representation of one time-block:
// a resizable sequence of rows, each carrying a baseline's antenna
// indices and its nPol*nChan samples.
package tblock

// Row is one baseline's worth of data within a time-block: its antenna
// indices and nPol*nChan samples, channel-major with the polarisation
// varying fastest (index channel*nPol+pol, matching the block encoders'
// indexing).
type Row[T any] struct {
	Antenna1, Antenna2 int
	Visibilities       []T
}

// Buffer is a time-block buffer: NRows() rows of nPol*nChan samples
// each. It performs no validation beyond size consistency; the caller
// is responsible for antenna indices and row counts matching the
// regular-grid invariant enforced elsewhere.
type Buffer[T any] struct {
	nPol, nChan int
	rows        []Row[T]
}

// New returns an empty buffer sized for nPol polarisations and nChan
// channels per row.
func New[T any](nPol, nChan int) *Buffer[T] {
	return &Buffer[T]{nPol: nPol, nChan: nChan}
}

// Empty reports whether the buffer holds no rows.
func (b *Buffer[T]) Empty() bool {
	return len(b.rows) == 0
}

// NRows returns the number of rows currently held.
func (b *Buffer[T]) NRows() int {
	return len(b.rows)
}

// PerRowCount returns nPol*nChan, the sample count of a single row.
func (b *Buffer[T]) PerRowCount() int {
	return b.nPol * b.nChan
}

// Resize grows or shrinks the row slice to hold exactly nRows rows.
func (b *Buffer[T]) Resize(nRows int) {
	if nRows <= len(b.rows) {
		b.rows = b.rows[:nRows]
		return
	}
	grown := make([]Row[T], nRows)
	copy(grown, b.rows)
	b.rows = grown
}

// Clear empties the buffer, retaining its backing storage.
func (b *Buffer[T]) Clear() {
	b.rows = b.rows[:0]
}

// Row returns a pointer to the row at blockRow, for in-place reads or
// writes.
func (b *Buffer[T]) Row(blockRow int) *Row[T] {
	return &b.rows[blockRow]
}

// Append adds a new row at the end of the buffer, copying data into a
// freshly allocated slice of length PerRowCount().
func (b *Buffer[T]) Append(antenna1, antenna2 int, data []T) {
	vis := make([]T, b.nPol*b.nChan)
	copy(vis, data)
	b.rows = append(b.rows, Row[T]{Antenna1: antenna1, Antenna2: antenna2, Visibilities: vis})
}

// SetData writes a row at blockRow, growing the buffer if needed, as
// the C++ TimeBlockBuffer::SetData does for out-of-order block
// population.
func (b *Buffer[T]) SetData(blockRow, antenna1, antenna2 int, data []T) {
	if blockRow >= len(b.rows) {
		b.Resize(blockRow + 1)
	}
	vis := b.rows[blockRow].Visibilities
	if len(vis) != b.nPol*b.nChan {
		vis = make([]T, b.nPol*b.nChan)
	}
	copy(vis, data)
	b.rows[blockRow] = Row[T]{Antenna1: antenna1, Antenna2: antenna2, Visibilities: vis}
}

// GetData bulk-copies row blockRow's samples into dst, which must have
// length >= PerRowCount().
func (b *Buffer[T]) GetData(blockRow int, dst []T) {
	copy(dst, b.rows[blockRow].Visibilities)
}

// MaxAntennaIndex returns the largest antenna index seen across all
// rows, or 0 for an empty buffer.
func (b *Buffer[T]) MaxAntennaIndex() int {
	max := 0
	for _, r := range b.rows {
		if r.Antenna1 > max {
			max = r.Antenna1
		}
		if r.Antenna2 > max {
			max = r.Antenna2
		}
	}
	return max
}

// Rows exposes the underlying row slice for read-only iteration.
func (b *Buffer[T]) Rows() []Row[T] {
	return b.rows
}
