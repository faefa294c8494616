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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/dysco-project/dysco"
)

func testSpec() dysco.Spec {
	return dysco.Spec{
		DataBitCount:   8,
		WeightBitCount: 8,
		Distribution:   "Gaussian",
		Normalization:  "Row",
		FitToMaximum:   true,
	}
}

func TestFileWriteCloseReopenSurvivesSpecRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")

	opts := Options{
		Spec:         testSpec(),
		NPol:         2,
		NChan:        2,
		AntennaCount: 3,
		DataColumns:  []string{"DATA"},
	}
	f, err := Create(path, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows := [][3]int{{0, 1, 0}, {0, 2, 0}, {1, 2, 1}} // one 3-row time-step; the third field marks the block's last row
	writeBlock := func() {
		for _, r := range rows {
			data := map[string][]complex128{
				"DATA": {complex(1, 2), complex(3, 4), complex(5, 6), complex(7, 8)},
			}
			if err := f.PutRow(r[0], r[1], r[2] == 1, data, nil); err != nil {
				t.Fatalf("PutRow: %v", err)
			}
		}
	}
	// 10 rows total: 3 full blocks of 3 plus a final partial block of 1
	// would violate regularity; write 3 full blocks of 3 instead (9
	// rows), matching the format's complete-blocks-only invariant.
	writeBlock()
	writeBlock()
	writeBlock()

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Schema{NPol: 2, NChan: 2, AntennaCount: 3, DataColumns: []string{"DATA"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	info := reopened.HeaderInfo()
	if info.DataBitCount != opts.Spec.DataBitCount {
		t.Errorf("DataBitCount = %d, want %d", info.DataBitCount, opts.Spec.DataBitCount)
	}
	if info.WeightBitCount != opts.Spec.WeightBitCount {
		t.Errorf("WeightBitCount = %d, want %d", info.WeightBitCount, opts.Spec.WeightBitCount)
	}
	if info.RowsPerBlock != 3 {
		t.Errorf("RowsPerBlock = %d, want 3", info.RowsPerBlock)
	}

	baselines := []Baseline{{0, 1}, {0, 2}, {1, 2}}
	data, _, err := reopened.GetBlock(0, baselines)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	buf := data["DATA"]
	want := []complex128{complex(1, 2), complex(3, 4), complex(5, 6), complex(7, 8)}
	for i := 0; i < buf.NRows(); i++ {
		got := buf.Row(i).Visibilities
		for j := range want {
			if math.Abs(real(got[j])-real(want[j])) > 1 || math.Abs(imag(got[j])-imag(want[j])) > 1 {
				t.Errorf("row %d sample %d = %v, want ~%v", i, j, got[j], want[j])
			}
		}
	}
}

func TestFileRejectsRegularityViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")
	f, err := Create(path, Options{Spec: testSpec(), NPol: 1, NChan: 1, AntennaCount: 4, DataColumns: []string{"DATA"}})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data := map[string][]complex128{"DATA": {1 + 1i}}
	if err := f.PutRow(0, 1, false, data, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.PutRow(0, 2, true, data, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.PutRow(0, 1, false, data, nil); err != nil {
		t.Fatal(err)
	}
	err = f.PutRow(0, 3, true, data, nil)
	if !errors.Is(err, dysco.ErrRegularity) {
		t.Fatalf("got %v, want ErrRegularity", err)
	}
}

func TestFileStaticSeedDeterministic(t *testing.T) {
	dir := t.TempDir()
	rows := [][2]int{{0, 1}, {0, 2}}
	vis := map[string][]complex128{"DATA": {1 + 1i, 2 + 2i}}

	write := func(name string) []byte {
		path := filepath.Join(dir, name)
		opts := Options{Spec: testSpec(), NPol: 1, NChan: 2, AntennaCount: 3, DataColumns: []string{"DATA"}}
		opts.Spec.StaticSeed = true
		f, err := Create(path, opts)
		if err != nil {
			t.Fatal(err)
		}
		for i, r := range rows {
			if err := f.PutRow(r[0], r[1], i == len(rows)-1, vis, nil); err != nil {
				t.Fatal(err)
			}
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	a := write("a.dysco")
	b := write("b.dysco")
	if !bytes.Equal(a, b) {
		t.Fatal("static-seed writes of identical input produced different bytes")
	}
}
