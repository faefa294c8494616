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
	"errors"
	"strings"
	"testing"

	"github.com/dysco-project/dysco"
)

func TestRegularityAcceptsRepeatedPattern(t *testing.T) {
	r := NewRegularityChecker()
	rows := [][3]int{
		{0, 1, 0}, {0, 2, 1}, // first block, end at second row
		{0, 1, 0}, {0, 2, 1},
		{0, 1, 0}, {0, 2, 1},
	}
	for i, row := range rows {
		end := row[2] == 1
		if err := r.Observe(row[0], row[1], end); err != nil {
			t.Fatalf("row %d: unexpected error: %v", i, err)
		}
	}
	if r.RowsPerBlock() != 2 {
		t.Fatalf("RowsPerBlock() = %d, want 2", r.RowsPerBlock())
	}
}

func TestRegularityRejectsRowIndexThree(t *testing.T) {
	r := NewRegularityChecker()
	must := func(a1, a2 int, end bool) error { return r.Observe(a1, a2, end) }
	if err := must(0, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := must(0, 2, true); err != nil {
		t.Fatal(err)
	}
	if err := must(0, 1, false); err != nil {
		t.Fatal(err)
	}
	err := must(0, 3, true)
	if !errors.Is(err, dysco.ErrRegularity) {
		t.Fatalf("got %v, want ErrRegularity", err)
	}
	if !strings.Contains(err.Error(), "row 3") {
		t.Fatalf("error %q does not name row 3", err.Error())
	}
}
