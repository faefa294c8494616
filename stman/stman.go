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

// Package stman is the glue between a Dysco file and a host table
// runtime (§6): it plays the role casacore's DyscoStMan/DyscoStManColumn
// pair plays for a measurement set, translating row-at-a-time
// putArray/getArray calls (keyed by the table's own row numbers) into
// the block-at-a-time Create/PutRow/GetBlock calls dyscofile.File
// expects, using the table's companion scalar columns (ANTENNA1,
// ANTENNA2, TIME) to find each row's baseline and each block's
// boundary.
//
// Dysco itself never reads or writes these scalar columns; Manager
// only consults them, through ScalarSource, to know where to route a
// row's compressed array data. Ownership of ANTENNA1/ANTENNA2/TIME
// remains with the host table, exactly as in the original DataManager
// contract.
package stman

import (
	"fmt"
	"sync"

	"github.com/dysco-project/dysco"
	"github.com/dysco-project/dysco/dyscofile"
	"github.com/dysco-project/dysco/tblock"
)

// ScalarSource supplies the companion scalar columns a Manager needs
// to route a row's data to the right block and baseline slot (§6,
// "Host table runtime contract"). FieldID and DataDescID are exposed
// for diagnostics only; Dysco's block framing does not depend on them.
type ScalarSource interface {
	Antenna1(row int) int
	Antenna2(row int) int
	Time(row int) float64
	FieldID(row int) int
	DataDescID(row int) int
}

// Config describes the geometry and codec parameters of a Dysco-backed
// table column family: one Manager per pair of {data, weight} columns
// sharing a file, mirroring one DyscoStMan instance per storage
// manager group in the original.
type Config struct {
	Path          string
	NPol, NChan   int
	AntennaCount  int
	DataColumns   []string
	WeightColumns []string
	Spec          dysco.Spec
}

type pendingRow struct {
	idx     int
	data    map[string][]complex128
	weights map[string][]float64
}

// Manager is the Go analogue of DyscoStMan: it owns one dyscofile.File
// and exposes the lifecycle and row/column operations a host table
// runtime drives. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	scalars ScalarSource
	file    *dyscofile.File

	nRow       int
	rowWritten bool

	pending pendingRow

	cachedBlock   int64
	cachedValid   bool
	cachedData    map[string]*tblock.Buffer[complex128]
	cachedWeights map[string]*tblock.Buffer[float64]
}

func emptyPendingRow(idx int) pendingRow {
	return pendingRow{idx: idx, data: map[string][]complex128{}, weights: map[string][]float64{}}
}

// Create makes a new Dysco file at cfg.Path and returns a Manager
// ready to accept rows (DyscoStMan::create in the original).
func Create(cfg Config, scalars ScalarSource) (*Manager, error) {
	file, err := dyscofile.Create(cfg.Path, dyscofile.Options{
		Spec:          cfg.Spec,
		NPol:          cfg.NPol,
		NChan:         cfg.NChan,
		AntennaCount:  cfg.AntennaCount,
		DataColumns:   append([]string(nil), cfg.DataColumns...),
		WeightColumns: append([]string(nil), cfg.WeightColumns...),
	})
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, scalars: scalars, file: file, pending: emptyPendingRow(0)}, nil
}

// Open reopens an existing Dysco file for an existing table of nRow
// rows (DyscoStMan::open in the original, which returns the row count
// it read from the file; here the caller already knows it from the
// table).
func Open(cfg Config, scalars ScalarSource, nRow int) (*Manager, error) {
	file, err := dyscofile.Open(cfg.Path, dyscofile.Schema{
		NPol:          cfg.NPol,
		NChan:         cfg.NChan,
		AntennaCount:  cfg.AntennaCount,
		DataColumns:   cfg.DataColumns,
		WeightColumns: cfg.WeightColumns,
	})
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg: cfg, scalars: scalars, file: file,
		nRow: nRow, rowWritten: nRow > 0,
		pending: emptyPendingRow(nRow),
	}, nil
}

// Resync re-reads the row count after the table may have changed
// outside this process (DataManager::resync). It invalidates the
// single-block read cache; it does not touch anything already
// written.
func (m *Manager) Resync(nRow int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nRow = nRow
	m.cachedValid = false
	return nil
}

// Prepare is a no-op hook matching DataManager::prepare, called by the
// host once all columns of a table have been created/opened. Dysco
// needs no cross-column step here: each column's codec is already
// fixed by the header (write path) or by reading it back (read path).
func (m *Manager) Prepare() error { return nil }

// Flush is the DataManager::flush hook. It writes nothing and ignores
// doFsync: completed blocks reach the file through dyscofile.File's
// write cache, and the file is synced only by Close. Rows of a block
// that is still being assembled stay in memory until that block
// completes.
func (m *Manager) Flush(doFsync bool) error {
	return nil // dyscofile.File has no separate flush step short of Close; see Close.
}

// Close flushes and closes the underlying file. It is an error to
// close with a partial final block still pending (dysco.ErrRegularity),
// matching §7's "only complete blocks may be persisted".
func (m *Manager) Close() error {
	return m.file.Close()
}

// CanAddRow reports whether rows may be appended. Always true: Dysco
// files are block-append-only, and a new row just becomes part of the
// block currently being assembled.
func (m *Manager) CanAddRow() bool { return true }

// CanRemoveRow reports whether rows may be removed. Always false: once
// a block has been flushed its frame is immutable, and dyscofile.File
// has no way to punch a hole in it (a deliberate simplification of the
// original's canRemoveRow==true, which in practice only supported
// removing the never-written tail of a table).
func (m *Manager) CanRemoveRow() bool { return false }

// AddRow registers n new table rows (DataManager::addRow). The actual
// compressed data for those rows arrives later through PutArrayComplex
// / PutArrayFloat, one column at a time, exactly as in the original
// where addRow precedes the per-column initial fill.
func (m *Manager) AddRow(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nRow += n
	return nil
}

// RemoveRow reports the unsupported-removal error described by
// CanRemoveRow.
func (m *Manager) RemoveRow(rowNr int) error {
	return fmt.Errorf("stman: row %d cannot be removed: a flushed block's frame is immutable", rowNr)
}

// CanAddColumn reports whether a new column may be added: only before
// any row has been written, matching the original's documented
// restriction ("columns can only be added as long as no writes have
// been performed").
func (m *Manager) CanAddColumn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.rowWritten
}

// CanRemoveColumn mirrors CanAddColumn's restriction.
func (m *Manager) CanRemoveColumn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.rowWritten
}

// AddColumn adds a data or weight column before any row has been
// written. Because a Dysco file's column set is fixed at header
// finalisation, this recreates the (still-empty) underlying file with
// the enlarged schema.
func (m *Manager) AddColumn(name string, isWeight bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rowWritten {
		return fmt.Errorf("stman: cannot add column %q: rows have already been written", name)
	}
	if isWeight {
		m.cfg.WeightColumns = append(m.cfg.WeightColumns, name)
	} else {
		m.cfg.DataColumns = append(m.cfg.DataColumns, name)
	}
	return m.reopenForSchemaChangeLocked()
}

// RemoveColumn removes a data or weight column before any row has been
// written.
func (m *Manager) RemoveColumn(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rowWritten {
		return fmt.Errorf("stman: cannot remove column %q: rows have already been written", name)
	}
	if !removeString(&m.cfg.DataColumns, name) && !removeString(&m.cfg.WeightColumns, name) {
		return fmt.Errorf("stman: unknown column %q", name)
	}
	return m.reopenForSchemaChangeLocked()
}

func removeString(s *[]string, name string) bool {
	for i, v := range *s {
		if v == name {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) reopenForSchemaChangeLocked() error {
	if err := m.file.Close(); err != nil {
		return err
	}
	file, err := dyscofile.Create(m.cfg.Path, dyscofile.Options{
		Spec:          m.cfg.Spec,
		NPol:          m.cfg.NPol,
		NChan:         m.cfg.NChan,
		AntennaCount:  m.cfg.AntennaCount,
		DataColumns:   append([]string(nil), m.cfg.DataColumns...),
		WeightColumns: append([]string(nil), m.cfg.WeightColumns...),
	})
	if err != nil {
		return err
	}
	m.file = file
	return nil
}

// RowsPerBlock returns the block size fixed by the first complete
// time-step, or 0 before that (getBlockIndex/getRowWithinBlock in the
// original rely on this being fixed; see BlockIndex/RowWithinBlock).
func (m *Manager) RowsPerBlock() int {
	return m.file.RowsPerBlock()
}

// BlockIndex returns the block a row number falls in
// (DyscoStMan::getBlockIndex).
func (m *Manager) BlockIndex(row int) (int64, error) {
	rpb := m.RowsPerBlock()
	if rpb == 0 {
		return 0, fmt.Errorf("stman: rowsPerBlock not yet established")
	}
	return int64(row / rpb), nil
}

// RowWithinBlock returns a row's position within its block
// (DyscoStMan::getRowWithinBlock).
func (m *Manager) RowWithinBlock(row int) (int, error) {
	rpb := m.RowsPerBlock()
	if rpb == 0 {
		return 0, fmt.Errorf("stman: rowsPerBlock not yet established")
	}
	return row % rpb, nil
}

// RowIndex returns the first row of the given block
// (DyscoStMan::getRowIndex).
func (m *Manager) RowIndex(block int64) (int, error) {
	rpb := m.RowsPerBlock()
	if rpb == 0 {
		return 0, fmt.Errorf("stman: rowsPerBlock not yet established")
	}
	return int(block) * rpb, nil
}

// AreOffsetsInitialized reports whether rowsPerBlock has been fixed
// yet (DyscoStMan::areOffsetsInitialized).
func (m *Manager) AreOffsetsInitialized() bool {
	return m.RowsPerBlock() != 0
}

// endOfBlockLocked reports whether row is the last row of its
// time-step: either the table's last row, or the next row carries a
// different TIME value. This is the Go stand-in for the original's
// reliance on casacore's own row-to-block bookkeeping, since Dysco
// itself does not store TIME.
func (m *Manager) endOfBlockLocked(row int) bool {
	if row+1 >= m.nRow {
		return true
	}
	return m.scalars.Time(row) != m.scalars.Time(row+1)
}

// PutArrayComplex writes one row's worth of a data column
// (ThreadedDyscoColumn::putArrayComplexV). Rows must be filled in
// order; a row is handed to the underlying file once every configured
// data and weight column has supplied a value for it.
func (m *Manager) PutArrayComplex(row int, name string, data []complex128) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stageRowLocked(row); err != nil {
		return err
	}
	m.pending.data[name] = data
	return m.maybeFlushRowLocked(row)
}

// PutArrayFloat writes one row's worth of a weight column
// (ThreadedDyscoColumn::putArrayfloatV).
func (m *Manager) PutArrayFloat(row int, name string, data []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stageRowLocked(row); err != nil {
		return err
	}
	m.pending.weights[name] = data
	return m.maybeFlushRowLocked(row)
}

func (m *Manager) stageRowLocked(row int) error {
	if m.pending.idx != row {
		return fmt.Errorf("stman: row %d: row %d's column data is still incomplete", row, m.pending.idx)
	}
	return nil
}

func (m *Manager) maybeFlushRowLocked(row int) error {
	p := m.pending
	if len(p.data) < len(m.cfg.DataColumns) || len(p.weights) < len(m.cfg.WeightColumns) {
		return nil
	}
	a1 := m.scalars.Antenna1(row)
	a2 := m.scalars.Antenna2(row)
	eob := m.endOfBlockLocked(row)
	if err := m.file.PutRow(a1, a2, eob, p.data, p.weights); err != nil {
		return err
	}
	m.rowWritten = true
	m.pending = emptyPendingRow(row + 1)
	return nil
}

// GetArrayComplex reads one row's worth of a data column
// (ThreadedDyscoColumn::getArrayComplexV), decoding and caching the
// whole enclosing block on the first row read from it, as the original
// does to amortise decode cost across a block's rows.
func (m *Manager) GetArrayComplex(row int, name string) ([]complex128, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	within, buf, err := m.loadDataBlockLocked(row, name)
	if err != nil {
		return nil, err
	}
	return buf.Row(within).Visibilities, nil
}

// GetArrayFloat reads one row's worth of a weight column
// (ThreadedDyscoColumn::getArrayfloatV).
func (m *Manager) GetArrayFloat(row int, name string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	within, buf, err := m.loadWeightBlockLocked(row, name)
	if err != nil {
		return nil, err
	}
	return buf.Row(within).Visibilities, nil
}

func (m *Manager) ensureBlockCachedLocked(row int) (int64, int, error) {
	rpb := m.RowsPerBlock()
	if rpb == 0 {
		return 0, 0, fmt.Errorf("stman: no complete block contains row %d yet", row)
	}
	block := int64(row / rpb)
	within := row % rpb
	if m.cachedValid && m.cachedBlock == block {
		return block, within, nil
	}
	baseRow := int(block) * rpb
	baselines := make([]dyscofile.Baseline, rpb)
	for i := 0; i < rpb; i++ {
		baselines[i] = dyscofile.Baseline{
			Antenna1: m.scalars.Antenna1(baseRow + i),
			Antenna2: m.scalars.Antenna2(baseRow + i),
		}
	}
	data, weights, err := m.file.GetBlock(block, baselines)
	if err != nil {
		return 0, 0, err
	}
	m.cachedBlock = block
	m.cachedData = data
	m.cachedWeights = weights
	m.cachedValid = true
	return block, within, nil
}

func (m *Manager) loadDataBlockLocked(row int, name string) (int, *tblock.Buffer[complex128], error) {
	_, within, err := m.ensureBlockCachedLocked(row)
	if err != nil {
		return 0, nil, err
	}
	buf, ok := m.cachedData[name]
	if !ok {
		return 0, nil, fmt.Errorf("stman: unknown data column %q", name)
	}
	return within, buf, nil
}

func (m *Manager) loadWeightBlockLocked(row int, name string) (int, *tblock.Buffer[float64], error) {
	_, within, err := m.ensureBlockCachedLocked(row)
	if err != nil {
		return 0, nil, err
	}
	buf, ok := m.cachedWeights[name]
	if !ok {
		return 0, nil, fmt.Errorf("stman: unknown weight column %q", name)
	}
	return within, buf, nil
}
