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

package dysco

import "errors"

// Sentinels for three of the five error kinds of §7: callers should
// use errors.Is against these rather than matching on message text.
// I/O errors are returned as the underlying error, and numeric
// anomalies are never errors, so neither has a sentinel.
var (
	// ErrConfiguration covers invalid construction parameters: unknown
	// distribution/normalization name, bit count outside [1,16],
	// negative truncation or non-positive Student's t nu.
	ErrConfiguration = errors.New("dysco: configuration error")

	// ErrFormat covers header magic/version mismatch, short reads, or
	// a blockSize mismatch against the computed size. A file that
	// fails with ErrFormat is marked read-only by its caller.
	ErrFormat = errors.New("dysco: file format error")

	// ErrRegularity covers a baseline sequence that differs from the
	// first time-step's, or an attempt to close with a final partial
	// block.
	ErrRegularity = errors.New("dysco: regular-grid invariant violated")
)
