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

// dysco-decompress reads the companion scalar columns (ANTENNA1,
// ANTENNA2, TIME, one JSON object per line; see cmd/internal/record)
// from standard input, decodes the matching rows out of a Dysco file,
// and writes the completed rows to standard output. The original
// decompress.cpp instead replaced a measurement set's DyscoStMan
// columns with the table's default storage manager in place; lacking
// a measurement-set library, this driver decodes to a stream instead
// of rewriting a table.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dysco-project/dysco"
	"github.com/dysco-project/dysco/cmd/internal/record"
	"github.com/dysco-project/dysco/dyscofile"
)

var (
	columns      stringList
	weightCols   stringList
	verbose      bool
	dumpHeader   bool
	npol, nchan, antennaCount int
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.Var(&columns, "column", "data column to decompress (repeatable; default DATA)")
	flag.Var(&weightCols, "weight-column", "weight column to decompress (repeatable; default WEIGHT_SPECTRUM)")
	flag.BoolVar(&verbose, "v", false, "verbose progress output")
	flag.BoolVar(&verbose, "verbose", false, "verbose progress output")
	flag.BoolVar(&dumpHeader, "dump-header", false, "print the file's header as YAML and exit, without decoding rows")
	flag.IntVar(&npol, "npol", 1, "polarisation count (matches the value used to compress)")
	flag.IntVar(&nchan, "nchan", 1, "channel count (matches the value used to compress)")
	flag.IntVar(&antennaCount, "antennae", 0, "antenna count (matches the value used to compress)")
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	if len(columns) == 0 {
		columns = stringList{"DATA"}
	}
	if len(weightCols) == 0 {
		weightCols = stringList{"WEIGHT_SPECTRUM"}
	}

	if dumpHeader {
		printHeader(path)
		return
	}

	if antennaCount <= 0 {
		log.Fatal("dysco-decompress: -antennae must be given and positive")
	}
	f, err := dyscofile.Open(path, dyscofile.Schema{
		NPol: npol, NChan: nchan, AntennaCount: antennaCount,
		DataColumns: columns, WeightColumns: weightCols,
	})
	if err != nil {
		log.Fatalf("dysco-decompress: %v", err)
	}
	defer f.Close()

	n, err := decompress(f, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("dysco-decompress: %v", err)
	}
	if verbose {
		log.Printf("dysco-decompress: decoded %d rows from %s", n, path)
	}
}

// decompress reads scalar-column rows from r, decodes the Dysco block
// each completed group of rows falls in (blocks are read in order, one
// at a time, each exactly once), and writes the completed rows to w.
func decompress(f *dyscofile.File, r io.Reader, w io.Writer) (int, error) {
	reader := record.NewReader(bufio.NewReader(r))
	writer := record.NewWriter(w)

	rpb := f.RowsPerBlock()
	if rpb == 0 {
		return 0, fmt.Errorf("file has no complete blocks")
	}

	var blockRows []record.Row
	var cachedBlock int64 = -1

	n := 0
	for {
		row, err := reader.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		blockRows = append(blockRows, row)
		if !row.EndOfBlock {
			continue
		}
		if len(blockRows) != rpb {
			return n, fmt.Errorf("block has %d rows, want %d", len(blockRows), rpb)
		}
		baselines := make([]dyscofile.Baseline, rpb)
		for i, br := range blockRows {
			baselines[i] = dyscofile.Baseline{Antenna1: br.Antenna1, Antenna2: br.Antenna2}
		}
		block := cachedBlock + 1
		data, weights, err := f.GetBlock(block, baselines)
		if err != nil {
			return n, err
		}
		cachedBlock = block
		for i, br := range blockRows {
			for name, buf := range data {
				br.SetVisibilities(name, buf.Row(i).Visibilities)
			}
			for name, buf := range weights {
				if br.Weight == nil {
					br.Weight = map[string][]float64{}
				}
				br.Weight[name] = buf.Row(i).Visibilities
			}
			if err := writer.Write(br); err != nil {
				return n, err
			}
			n++
		}
		blockRows = blockRows[:0]
	}
}

func printHeader(path string) {
	f, err := dyscofile.Open(path, dyscofile.Schema{
		NPol: npol, NChan: nchan, AntennaCount: antennaCount,
		DataColumns: columns, WeightColumns: weightCols,
	})
	if err != nil {
		log.Fatalf("dysco-decompress: -dump-header: %v", err)
	}
	defer f.Close()
	out, err := dysco.DumpHeader(f.HeaderInfo())
	if err != nil {
		log.Fatalf("dysco-decompress: -dump-header: %v", err)
	}
	os.Stdout.Write(out)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: dysco-decompress [flags] <dysco-file>\n\nreads scalar-column rows as JSON lines from stdin; writes decoded rows as JSON lines to stdout.\n\n")
	flag.PrintDefaults()
}
