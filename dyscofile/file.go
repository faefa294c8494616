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
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"

	"github.com/dysco-project/dysco"
	"github.com/dysco-project/dysco/blockcodec"
	"github.com/dysco-project/dysco/quant"
	"github.com/dysco-project/dysco/tblock"
)

// staticSeedValue is the fixed PRNG seed used when a File is opened
// with StaticSeed=true, so two independent writes of the same input
// produce byte-identical files (§8, "Determinism with static seed").
const staticSeedValue = 0x44797363 // "Dysc"

// Options configures a new File at creation time.
type Options struct {
	Spec         dysco.Spec
	NPol, NChan  int
	AntennaCount int
	DataColumns  []string
	WeightColumns []string
}

type dataColState struct {
	name    string
	codec   *DataColumn
	pending *tblock.Buffer[complex128]
}

type weightColState struct {
	name    string
	codec   *WeightColumn
	pending *tblock.Buffer[float64]
}

// File is an open Dysco file: the header, its column codecs, the
// threaded write cache, and the accumulating row buffers for the
// block currently being filled.
type File struct {
	mu sync.Mutex

	f      *os.File
	header Header
	cols   []ColumnHeader

	opts Options

	dataCols   []*dataColState
	weightCols []*weightColState

	checker      *RegularityChecker
	rowsPerBlock int
	blockIndex   int64
	headerSize   int64
	blockSize    int64

	cache   *Cache
	workers int
	rng     *rand.Rand // process-wide seed generator; guarded by mu

	headerWritten bool
	closed        bool
}

// Create opens path for writing, deferring header finalisation until
// the first time-block's row count (rowsPerBlock) is discovered (§4.E,
// "Row-to-block mapping").
func Create(path string, opts Options) (*File, error) {
	if err := opts.Spec.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	file := &File{
		f:       f,
		opts:    opts,
		checker: NewRegularityChecker(),
		rng:     rand.New(rand.NewSource(1)),
	}
	if opts.Spec.StaticSeed {
		file.rng = rand.New(rand.NewSource(staticSeedValue))
	}
	for _, name := range opts.DataColumns {
		file.dataCols = append(file.dataCols, &dataColState{
			name:    name,
			pending: tblock.New[complex128](opts.NPol, opts.NChan),
		})
	}
	for _, name := range opts.WeightColumns {
		file.weightCols = append(file.weightCols, &weightColState{
			name:    name,
			pending: tblock.New[float64](opts.NPol, opts.NChan),
		})
	}
	return file, nil
}

// workerCount returns the worker-pool size: 1 under StaticSeed to
// preserve determinism, otherwise hardware concurrency (§4.E).
func (f *File) workerCount() int {
	if f.opts.Spec.StaticSeed {
		return 1
	}
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

func distributionCode(s string) (uint8, error) {
	d, err := dysco.ParseDistribution(s)
	return uint8(d), err
}

func normalizationCode(s string) (uint8, error) {
	n, err := dysco.ParseNormalization(s)
	return uint8(n), err
}

func newDataEncoder(norm dysco.Normalization, nPol, nChan int) blockcodec.DataEncoder {
	switch norm {
	case dysco.NormAF:
		return blockcodec.NewAF(nPol, nChan)
	case dysco.NormRF:
		return blockcodec.NewRF(nPol, nChan)
	default:
		return blockcodec.NewRow(nPol, nChan)
	}
}

// buildCodecs constructs the quantiser and per-column codecs for
// nRows rows per block, returning the total block size. It is shared
// by write-side header finalisation and read-side Open, which must
// agree byte-for-byte on frame layout.
func (f *File) buildCodecs(nRows int) (int64, error) {
	dist, err := dysco.ParseDistribution(f.opts.Spec.Distribution)
	if err != nil {
		return 0, err
	}
	norm, err := dysco.ParseNormalization(f.opts.Spec.Normalization)
	if err != nil {
		return 0, err
	}

	dataQuant, err := quant.New[float64](quant.Config{
		QuantCount: 1 << f.opts.Spec.DataBitCount,
		Kind:       quant.Kind(dist),
		Sigma:      1,
		Tau:        f.opts.Spec.DistributionTruncation,
		Nu:         f.opts.Spec.StudentTNu,
	})
	if err != nil {
		return 0, err
	}

	var blockSize int64
	f.cols = f.cols[:0]
	for _, dc := range f.dataCols {
		enc := newDataEncoder(norm, f.opts.NPol, f.opts.NChan)
		if af, ok := enc.(*blockcodec.AF); ok {
			af.FitToMaximum = f.opts.Spec.FitToMaximum
		}
		dc.codec = &DataColumn{
			Encoder:   enc,
			Quant:     dataQuant,
			DataBits:  f.opts.Spec.DataBitCount,
			NAntennae: f.opts.AntennaCount,
			NPol:      f.opts.NPol,
			NChan:     f.opts.NChan,
		}
		size := dc.codec.FrameSize(nRows)
		blockSize += int64(size)
		f.cols = append(f.cols, ColumnHeader{BlockSize: uint32(size), AntennaCount: uint32(f.opts.AntennaCount)})
	}
	for _, wc := range f.weightCols {
		wc.codec = &WeightColumn{
			Encoder:    blockcodec.NewWeight(f.opts.NPol, f.opts.NChan),
			QuantCount: 1 << f.opts.Spec.WeightBitCount,
			WeightBits: f.opts.Spec.WeightBitCount,
			NPol:       f.opts.NPol,
			NChan:      f.opts.NChan,
		}
		size := wc.codec.FrameSize(nRows)
		blockSize += int64(size)
		f.cols = append(f.cols, ColumnHeader{BlockSize: uint32(size), AntennaCount: uint32(f.opts.AntennaCount)})
	}
	return blockSize, nil
}

// finalizeHeader is called once, after the first full time-block has
// been observed, fixing rowsPerBlock and computing blockSize.
func (f *File) finalizeHeader() error {
	f.rowsPerBlock = f.checker.RowsPerBlock()
	nRows := f.rowsPerBlock

	distCode, err := distributionCode(f.opts.Spec.Distribution)
	if err != nil {
		return err
	}
	normCode, err := normalizationCode(f.opts.Spec.Normalization)
	if err != nil {
		return err
	}

	blockSize, err := f.buildCodecs(nRows)
	if err != nil {
		return err
	}
	f.blockSize = blockSize

	fitToMax := uint8(0)
	if f.opts.Spec.FitToMaximum {
		fitToMax = 1
	}
	f.header = Header{
		ColumnCount:            uint32(len(f.cols)),
		RowsPerBlock:           uint32(nRows),
		AntennaCount:           uint32(f.opts.AntennaCount),
		BlockSize:              uint32(blockSize),
		VersionMajor:           dysco.VersionMajor,
		VersionMinor:           dysco.VersionMinor,
		DataBitCount:           uint8(f.opts.Spec.DataBitCount),
		WeightBitCount:         uint8(f.opts.Spec.WeightBitCount),
		FitToMaximum:           fitToMax,
		Distribution:           distCode,
		Normalization:          normCode,
		StudentTNu:             f.opts.Spec.StudentTNu,
		DistributionTruncation: f.opts.Spec.DistributionTruncation,
	}
	f.header.HeaderSize = uint32(fixedHeaderSize + len(f.cols)*columnHeaderSize)
	f.header.ColumnHeaderOffset = uint32(fixedHeaderSize)
	f.headerSize = int64(f.header.HeaderSize)

	if err := f.header.Write(f.f, f.cols); err != nil {
		return err
	}
	f.workers = f.workerCount()
	f.cache = NewCache(f.workers, f.writeBlock)
	if err := preallocate(f.f, f.headerSize+f.blockSize); err != nil {
		return err
	}
	f.headerWritten = true
	return nil
}

func (f *File) writeBlock(blockIndex int64, buf []byte) error {
	off := f.headerSize + blockIndex*f.blockSize
	_, err := f.f.WriteAt(buf, off)
	return err
}

// workerRNGLocked returns a PRNG seeded off the file's process-wide
// seed generator. The caller must already hold f.mu (§5, "The PRNG
// used to seed workers is guarded by the cache mutex") — it is not
// acquired here since the sole caller, flushBlockLocked, is itself
// only ever reached with f.mu held by PutRow, and sync.Mutex is not
// reentrant.
func (f *File) workerRNGLocked() *rand.Rand {
	seed := f.rng.Int63()
	return rand.New(rand.NewSource(seed))
}

// PutRow appends one row's data to the block currently being
// accumulated. endOfBlock must be true on the last row of each
// time-step. data/weights are keyed by column name; columns absent
// from a call are left as zero for that row.
func (f *File) PutRow(a1, a2 int, endOfBlock bool, data map[string][]complex128, weights map[string][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("dyscofile: PutRow on closed file")
	}
	if err := f.cache.Err(); err != nil {
		return err
	}
	if err := f.checker.Observe(a1, a2, endOfBlock); err != nil {
		return err
	}
	for _, dc := range f.dataCols {
		v := data[dc.name]
		if v == nil {
			v = make([]complex128, f.opts.NPol*f.opts.NChan)
		}
		dc.pending.Append(a1, a2, v)
	}
	for _, wc := range f.weightCols {
		v := weights[wc.name]
		if v == nil {
			v = make([]float64, f.opts.NPol*f.opts.NChan)
		}
		wc.pending.Append(a1, a2, v)
	}
	if !endOfBlock {
		return nil
	}
	if !f.headerWritten {
		if err := f.finalizeHeader(); err != nil {
			return err
		}
	}
	return f.flushBlockLocked()
}

// flushBlockLocked encodes the just-completed block for every column
// and hands the concatenated frame to the cache for asynchronous
// writing, then resets the pending buffers for the next block.
func (f *File) flushBlockLocked() error {
	frame := make([]byte, 0, f.blockSize)
	for _, dc := range f.dataCols {
		var rng *rand.Rand
		if !f.opts.Spec.StaticSeed {
			rng = f.workerRNGLocked()
		} else {
			rng = rand.New(rand.NewSource(staticSeedValue))
		}
		frame = append(frame, dc.codec.EncodeBlock(dc.pending, rng)...)
	}
	for _, wc := range f.weightCols {
		frame = append(frame, wc.codec.EncodeBlock(wc.pending)...)
	}
	idx := f.blockIndex
	f.blockIndex++
	if err := f.cache.Put(idx, frame); err != nil {
		return err
	}
	for _, dc := range f.dataCols {
		dc.pending = tblock.New[complex128](f.opts.NPol, f.opts.NChan)
	}
	for _, wc := range f.weightCols {
		wc.pending = tblock.New[float64](f.opts.NPol, f.opts.NChan)
	}
	return nil
}

// Close drains the cache and syncs the file to stable storage. A final
// partial block is never written: its rows are discarded and Close
// reports them as a regularity violation (§7), since only complete
// blocks may be persisted.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	pendingRows := 0
	for _, dc := range f.dataCols {
		if dc.pending.NRows() > pendingRows {
			pendingRows = dc.pending.NRows()
		}
	}
	f.mu.Unlock()

	var cacheErr error
	if f.cache != nil {
		cacheErr = f.cache.Close()
	}
	if err := syncData(f.f); err != nil && cacheErr == nil {
		cacheErr = err
	}
	if err := f.f.Close(); err != nil && cacheErr == nil {
		cacheErr = err
	}
	if pendingRows != 0 && cacheErr == nil {
		return fmt.Errorf("%w: file closed with a partial final block of %d rows", dysco.ErrRegularity, pendingRows)
	}
	return cacheErr
}

// HeaderInfo returns the exposed subset of the on-disk header, for the
// spec record / -dump-header CLI flag.
func (f *File) HeaderInfo() dysco.HeaderInfo {
	dist, _ := dysco.ParseDistribution(f.opts.Spec.Distribution)
	norm, _ := dysco.ParseNormalization(f.opts.Spec.Normalization)
	return dysco.HeaderInfo{
		VersionMajor:   int(f.header.VersionMajor),
		VersionMinor:   int(f.header.VersionMinor),
		RowsPerBlock:   int(f.header.RowsPerBlock),
		AntennaCount:   int(f.header.AntennaCount),
		BlockSize:      int(f.header.BlockSize),
		DataBitCount:   int(f.header.DataBitCount),
		WeightBitCount: int(f.header.WeightBitCount),
		FitToMaximum:   f.header.FitToMaximum != 0,
		Distribution:   dist.String(),
		Normalization:  norm.String(),
		StudentTNu:     f.header.StudentTNu,
		Truncation:     f.header.DistributionTruncation,
		ColumnCount:    int(f.header.ColumnCount),
	}
}

// RowsPerBlock returns the block size fixed at creation, or 0 if no
// block has been completed yet (a freshly created, still-empty File).
func (f *File) RowsPerBlock() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowsPerBlock
}

// Schema supplies the column names and geometry Open needs to
// reconstruct per-column codecs; the on-disk header carries only the
// codec parameters (bit depths, distribution, normalisation), not
// column identity, which is the host table runtime's responsibility
// to track (§6).
type Schema struct {
	NPol, NChan   int
	AntennaCount  int
	DataColumns   []string
	WeightColumns []string
}

// Open reopens an existing Dysco file for reading (and further
// appending), rebuilding its codecs from the stored header so that
// GetBlock reproduces exactly what Create/PutRow wrote.
func Open(path string, schema Schema) (*File, error) {
	osf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	h, cols, err := ReadHeader(osf)
	if err != nil {
		osf.Close()
		return nil, err
	}
	spec := dysco.Spec{
		DataBitCount:           int(h.DataBitCount),
		WeightBitCount:         int(h.WeightBitCount),
		Distribution:           dysco.Distribution(h.Distribution).String(),
		Normalization:          dysco.Normalization(h.Normalization).String(),
		DistributionTruncation: h.DistributionTruncation,
		StudentTNu:             h.StudentTNu,
		FitToMaximum:           h.FitToMaximum != 0,
	}
	if err := spec.Validate(); err != nil {
		osf.Close()
		return nil, err
	}
	f := &File{
		f:    osf,
		header: *h,
		cols: cols,
		opts: Options{
			Spec:          spec,
			NPol:          schema.NPol,
			NChan:         schema.NChan,
			AntennaCount:  schema.AntennaCount,
			DataColumns:   schema.DataColumns,
			WeightColumns: schema.WeightColumns,
		},
		checker:       NewRegularityChecker(),
		rowsPerBlock:  int(h.RowsPerBlock),
		headerSize:    int64(h.HeaderSize),
		blockSize:     int64(h.BlockSize),
		headerWritten: true,
		rng:           rand.New(rand.NewSource(staticSeedValue)),
	}
	for _, name := range schema.DataColumns {
		f.dataCols = append(f.dataCols, &dataColState{name: name, pending: tblock.New[complex128](schema.NPol, schema.NChan)})
	}
	for _, name := range schema.WeightColumns {
		f.weightCols = append(f.weightCols, &weightColState{name: name, pending: tblock.New[float64](schema.NPol, schema.NChan)})
	}
	blockSize, err := f.buildCodecs(f.rowsPerBlock)
	if err != nil {
		osf.Close()
		return nil, err
	}
	if blockSize != f.blockSize {
		osf.Close()
		return nil, fmt.Errorf("%w: header blockSize %d, computed %d", dysco.ErrFormat, f.blockSize, blockSize)
	}
	if f.blockSize > 0 {
		fi, err := osf.Stat()
		if err != nil {
			osf.Close()
			return nil, err
		}
		f.blockIndex = (fi.Size() - f.headerSize) / f.blockSize
	}
	f.workers = f.workerCount()
	f.cache = NewCache(f.workers, f.writeBlock)
	return f, nil
}

// GetBlock reads and decodes block blockIndex, returning the decoded
// visibilities and weights keyed by column name. baselines must list
// the block's (a1,a2) pairs in row order; the host table runtime
// supplies these from the companion ANTENNA1/ANTENNA2 columns (§6) —
// the Dysco file itself stores only rowsPerBlock, not the baselines.
func (f *File) GetBlock(blockIndex int64, baselines []Baseline) (map[string]*tblock.Buffer[complex128], map[string]*tblock.Buffer[float64], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(baselines) != f.rowsPerBlock {
		return nil, nil, fmt.Errorf("dyscofile: GetBlock given %d baselines, want %d", len(baselines), f.rowsPerBlock)
	}
	raw := make([]byte, f.blockSize)
	off := f.headerSize + blockIndex*f.blockSize
	if _, err := f.f.ReadAt(raw, off); err != nil {
		return nil, nil, fmt.Errorf("dyscofile: reading block %d: %w", blockIndex, err)
	}
	data := make(map[string]*tblock.Buffer[complex128], len(f.dataCols))
	weights := make(map[string]*tblock.Buffer[float64], len(f.weightCols))
	o := 0
	for _, dc := range f.dataCols {
		size := dc.codec.FrameSize(f.rowsPerBlock)
		buf := tblock.New[complex128](f.opts.NPol, f.opts.NChan)
		buf.Resize(f.rowsPerBlock)
		for i, b := range baselines {
			buf.SetData(i, b.Antenna1, b.Antenna2, make([]complex128, f.opts.NPol*f.opts.NChan))
		}
		if err := dc.codec.DecodeBlock(raw[o:o+size], buf); err != nil {
			return nil, nil, err
		}
		data[dc.name] = buf
		o += size
	}
	for _, wc := range f.weightCols {
		size := wc.codec.FrameSize(f.rowsPerBlock)
		buf := tblock.New[float64](f.opts.NPol, f.opts.NChan)
		buf.Resize(f.rowsPerBlock)
		if err := wc.codec.DecodeBlock(raw[o:o+size], buf); err != nil {
			return nil, nil, err
		}
		weights[wc.name] = buf
		o += size
	}
	return data, weights, nil
}
