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

package stman

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/dysco-project/dysco"
)

func testConfig(path string) Config {
	return Config{
		Path:          path,
		NPol:          2,
		NChan:         2,
		AntennaCount:  3,
		DataColumns:   []string{"DATA"},
		WeightColumns: []string{"WEIGHT_SPECTRUM"},
		Spec: dysco.Spec{
			DataBitCount:   8,
			WeightBitCount: 8,
			Distribution:   "Gaussian",
			Normalization:  "Row",
			FitToMaximum:   true,
		},
	}
}

func TestManagerRoundTripThroughTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")

	table := &MemTable{}
	baselines := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	for step := 0; step < 3; step++ {
		table.AddTimeStep(float64(step), baselines)
	}

	mgr, err := Create(testConfig(path), table)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.AddRow(len(table.Rows)); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	vis := []complex128{1 + 2i, 3 + 4i, 5 + 6i, 7 + 8i}
	wts := []float64{1, 1, 1, 1}
	for row := range table.Rows {
		if err := mgr.PutArrayComplex(row, "DATA", vis); err != nil {
			t.Fatalf("PutArrayComplex(%d): %v", row, err)
		}
		if err := mgr.PutArrayFloat(row, "WEIGHT_SPECTRUM", wts); err != nil {
			t.Fatalf("PutArrayFloat(%d): %v", row, err)
		}
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(testConfig(path), table, len(table.Rows))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if got := reopened.RowsPerBlock(); got != 3 {
		t.Fatalf("RowsPerBlock = %d, want 3", got)
	}
	blk, err := reopened.BlockIndex(4)
	if err != nil || blk != 1 {
		t.Fatalf("BlockIndex(4) = %d, %v, want 1, nil", blk, err)
	}
	within, err := reopened.RowWithinBlock(4)
	if err != nil || within != 1 {
		t.Fatalf("RowWithinBlock(4) = %d, %v, want 1, nil", within, err)
	}

	got, err := reopened.GetArrayComplex(4, "DATA")
	if err != nil {
		t.Fatalf("GetArrayComplex: %v", err)
	}
	for i := range vis {
		if math.Abs(real(got[i])-real(vis[i])) > 1 || math.Abs(imag(got[i])-imag(vis[i])) > 1 {
			t.Errorf("sample %d = %v, want ~%v", i, got[i], vis[i])
		}
	}

	gotW, err := reopened.GetArrayFloat(4, "WEIGHT_SPECTRUM")
	if err != nil {
		t.Fatalf("GetArrayFloat: %v", err)
	}
	for i := range wts {
		if math.Abs(gotW[i]-wts[i]) > 0.2 {
			t.Errorf("weight %d = %v, want ~%v", i, gotW[i], wts[i])
		}
	}
}

func TestManagerRejectsColumnChangesAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")
	table := &MemTable{}
	table.AddTimeStep(0, [][2]int{{0, 1}, {0, 2}})

	mgr, err := Create(testConfig(path), table)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	if err := mgr.AddRow(2); err != nil {
		t.Fatal(err)
	}

	if !mgr.CanAddColumn() {
		t.Fatal("CanAddColumn should be true before any row is written")
	}

	vis := []complex128{1, 2, 3, 4}
	wts := []float64{1, 1, 1, 1}
	if err := mgr.PutArrayComplex(0, "DATA", vis); err != nil {
		t.Fatal(err)
	}
	if err := mgr.PutArrayFloat(0, "WEIGHT_SPECTRUM", wts); err != nil {
		t.Fatal(err)
	}

	if mgr.CanAddColumn() {
		t.Fatal("CanAddColumn should be false once a row has been written")
	}
	if err := mgr.AddColumn("EXTRA", false); err == nil {
		t.Fatal("AddColumn after a write should fail")
	}
}

func TestManagerRejectsRowRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")
	table := &MemTable{}
	mgr, err := Create(testConfig(path), table)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	if mgr.CanRemoveRow() {
		t.Fatal("CanRemoveRow should be false")
	}
	if err := mgr.RemoveRow(0); err == nil {
		t.Fatal("RemoveRow should fail")
	}
}

func TestManagerPropagatesRegularityViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dysco")
	table := &MemTable{}
	table.AddTimeStep(0, [][2]int{{0, 1}, {0, 2}})
	table.AddTimeStep(1, [][2]int{{0, 1}, {0, 3}})

	mgr, err := Create(testConfig(path), table)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	if err := mgr.AddRow(len(table.Rows)); err != nil {
		t.Fatal(err)
	}

	vis := []complex128{1, 2, 3, 4}
	wts := []float64{1, 1, 1, 1}
	var lastErr error
	for row := range table.Rows {
		if err := mgr.PutArrayComplex(row, "DATA", vis); err != nil {
			lastErr = err
			break
		}
		if err := mgr.PutArrayFloat(row, "WEIGHT_SPECTRUM", wts); err != nil {
			lastErr = err
			break
		}
	}
	if !errors.Is(lastErr, dysco.ErrRegularity) {
		t.Fatalf("got %v, want ErrRegularity", lastErr)
	}
}
