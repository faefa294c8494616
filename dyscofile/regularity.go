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

	"github.com/dchest/siphash"

	"github.com/dysco-project/dysco"
)

// Baseline is an (antenna1, antenna2) pair identifying a row within a
// time-block.
type Baseline struct {
	Antenna1, Antenna2 int
}

// regularityKey0/1 are fixed SipHash keys for the baseline-sequence
// fast-path digest; they need not be secret, only stable across a
// process (and, for static-seed determinism, across processes).
const (
	regularityKey0 = 0x44797363_6f526567
	regularityKey1 = 0x756c6172_69747921
)

func baselineDigest(seq []Baseline) uint64 {
	buf := make([]byte, 8*len(seq))
	for i, b := range seq {
		binary.LittleEndian.PutUint32(buf[i*8:], uint32(b.Antenna1))
		binary.LittleEndian.PutUint32(buf[i*8+4:], uint32(b.Antenna2))
	}
	return siphash.Hash(regularityKey0, regularityKey1, buf)
}

// RegularityChecker enforces the "regular MS" precondition of §6: the
// first time-step's baseline sequence fixes rowsPerBlock and the
// baseline order; every later time-step must repeat it exactly. A
// SipHash digest of the established pattern lets most subsequent
// blocks be confirmed with a single O(rowsPerBlock) hash comparison;
// only a digest mismatch pays for the row-by-row scan that pinpoints
// the offending row.
type RegularityChecker struct {
	pattern       []Baseline
	patternDigest uint64

	current       []Baseline
	globalRowBase int64
}

// NewRegularityChecker returns a checker with no pattern fixed yet;
// the first rowsPerBlock rows observed become the pattern.
func NewRegularityChecker() *RegularityChecker {
	return &RegularityChecker{}
}

// RowsPerBlock returns the block size fixed by the first time-step, or
// 0 if no block has completed yet.
func (r *RegularityChecker) RowsPerBlock() int {
	return len(r.pattern)
}

// Observe records one row's baseline. endOfBlock must be true on the
// last row of each time-step. It returns an error wrapping
// dysco.ErrRegularity, naming the offending global row index, when a
// completed block's baseline sequence departs from the established
// pattern.
func (r *RegularityChecker) Observe(a1, a2 int, endOfBlock bool) error {
	r.current = append(r.current, Baseline{a1, a2})
	if !endOfBlock {
		return nil
	}

	if r.pattern == nil {
		r.pattern = append([]Baseline(nil), r.current...)
		r.patternDigest = baselineDigest(r.pattern)
		r.globalRowBase += int64(len(r.current))
		r.current = r.current[:0]
		return nil
	}

	base := r.globalRowBase
	n := len(r.current)
	r.globalRowBase += int64(n)
	block := r.current
	r.current = r.current[:0]

	if n != len(r.pattern) {
		return fmt.Errorf("%w: row %d: time-block has %d rows, want %d",
			dysco.ErrRegularity, base+int64(n)-1, n, len(r.pattern))
	}
	if baselineDigest(block) == r.patternDigest {
		return nil
	}
	for i, b := range block {
		if b != r.pattern[i] {
			return fmt.Errorf("%w: row %d: baseline (%d,%d) does not match established baseline (%d,%d) at block position %d",
				dysco.ErrRegularity, base+int64(i), b.Antenna1, b.Antenna2, r.pattern[i].Antenna1, r.pattern[i].Antenna2, i)
		}
	}
	// SipHash collision with no literal element mismatch: vanishingly
	// unlikely, but report the block rather than claim success.
	return fmt.Errorf("%w: row %d: time-block's baseline sequence differs from the established pattern",
		dysco.ErrRegularity, base)
}
