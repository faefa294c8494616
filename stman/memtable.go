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

// MemRow is one row of a MemTable's companion scalar columns.
type MemRow struct {
	Antenna1, Antenna2 int
	Time               float64
	FieldID            int
	DataDescID         int
}

// MemTable is an in-memory ScalarSource, standing in for a host
// measurement-set table in tests: it holds exactly the companion
// scalar columns (§6) a Manager consults, nothing else.
type MemTable struct {
	Rows []MemRow
}

func (t *MemTable) Antenna1(row int) int   { return t.Rows[row].Antenna1 }
func (t *MemTable) Antenna2(row int) int   { return t.Rows[row].Antenna2 }
func (t *MemTable) Time(row int) float64   { return t.Rows[row].Time }
func (t *MemTable) FieldID(row int) int    { return t.Rows[row].FieldID }
func (t *MemTable) DataDescID(row int) int { return t.Rows[row].DataDescID }

// AddTimeStep appends one time-step's worth of rows, all sharing time,
// one row per baseline, in order.
func (t *MemTable) AddTimeStep(time float64, baselines [][2]int) {
	for _, b := range baselines {
		t.Rows = append(t.Rows, MemRow{Antenna1: b[0], Antenna2: b[1], Time: time})
	}
}
