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

// dysco-compress reads rows from standard input (one JSON object per
// line; see cmd/internal/record) and writes them into a Dysco file,
// reproducing the flag surface of the original compress driver
// (dscompress.cpp). The original operated directly on a measurement
// set's DATA/WEIGHT_SPECTRUM columns in place; this driver has no
// measurement-set library to bind to, so it takes the same rows
// through a stream instead.
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
	dataBitRate   int
	weightBitRate int
	columns       stringList
	truncation    float64
	fitToMaximum  bool
	reorder       bool
	staticSeed    bool
	verbose       bool
	dumpHeader    bool

	dashUniform, dashGaussian, dashStudentT bool
	dashRFNorm, dashAFNorm, dashRowNorm     bool

	npol, nchan, antennaCount int
)

// stringList implements flag.Value to support a repeatable -column
// flag, matching dscompress.cpp's repeatable "-column NAME".
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.IntVar(&dataBitRate, "data-bit-rate", 8, "bits per data sample")
	flag.IntVar(&weightBitRate, "weight-bit-rate", 12, "bits per weight sample")
	flag.Var(&columns, "column", "column to compress (repeatable; default DATA)")
	flag.BoolVar(&fitToMaximum, "fit-to-maximum", false, "rescale AF-normalised blocks so the maximum component is exact")
	flag.Float64Var(&truncation, "truncgaus", 0, "use a truncated Gaussian distribution with this truncation sigma")
	flag.BoolVar(&reorder, "reorder", false, "reorder the underlying table's storage after compressing (no-op: no physical table to reorder)")
	flag.BoolVar(&staticSeed, "static-seed", false, "use a fixed PRNG seed, for byte-identical repeated output")
	flag.BoolVar(&verbose, "v", false, "verbose progress output")
	flag.BoolVar(&verbose, "verbose", false, "verbose progress output")
	flag.BoolVar(&dumpHeader, "dump-header", false, "print the written file's header as YAML and exit")

	flag.IntVar(&npol, "npol", 1, "polarisation count (no real measurement-set table to read it from)")
	flag.IntVar(&nchan, "nchan", 1, "channel count (no real measurement-set table to read it from)")
	flag.IntVar(&antennaCount, "antennae", 0, "antenna count (no real measurement-set table to read it from)")

	flag.BoolVar(&dashUniform, "uniform", false, "use the uniform distribution")
	flag.BoolVar(&dashGaussian, "gaussian", false, "use the Gaussian distribution (default)")
	flag.BoolVar(&dashStudentT, "studentt", false, "use the Student's t distribution")
	flag.BoolVar(&dashRFNorm, "rfnormalization", false, "normalise by per-channel RMS (default)")
	flag.BoolVar(&dashAFNorm, "afnormalization", false, "normalise by antenna gain")
	flag.BoolVar(&dashRowNorm, "rownormalization", false, "normalise by per-row maximum")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	distribution := "Gaussian"
	switch {
	case truncation > 0:
		distribution = "TruncatedGaussian"
	case dashUniform:
		distribution = "Uniform"
	case dashStudentT:
		distribution = "StudentT"
	case dashGaussian:
		distribution = "Gaussian"
	}
	normalization := "RF"
	switch {
	case dashAFNorm:
		normalization = "AF"
	case dashRowNorm:
		normalization = "Row"
	case dashRFNorm:
		normalization = "RF"
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	if len(columns) == 0 {
		columns = stringList{"DATA"}
	}
	if antennaCount <= 0 {
		log.Fatal("dysco-compress: -antennae must be given and positive (no measurement-set table to read it from)")
	}

	spec := dysco.Spec{
		DataBitCount:           dataBitRate,
		WeightBitCount:         weightBitRate,
		Distribution:           distribution,
		Normalization:          normalization,
		DistributionTruncation: truncation,
		StudentTNu:             1.0,
		StaticSeed:             staticSeed,
		FitToMaximum:           fitToMaximum,
	}

	var dataColumns, weightColumns []string
	for _, c := range columns {
		if c == "WEIGHT_SPECTRUM" {
			weightColumns = append(weightColumns, c)
		} else {
			dataColumns = append(dataColumns, c)
		}
	}

	f, err := dyscofile.Create(path, dyscofile.Options{
		Spec:          spec,
		NPol:          npol,
		NChan:         nchan,
		AntennaCount:  antennaCount,
		DataColumns:   dataColumns,
		WeightColumns: weightColumns,
	})
	if err != nil {
		log.Fatalf("dysco-compress: %v", err)
	}

	if reorder && verbose {
		log.Print("dysco-compress: -reorder has no effect; this driver has no physical measurement-set table to reorder")
	}

	n, err := compress(f, os.Stdin, dataColumns, weightColumns)
	if err != nil {
		f.Close()
		log.Fatalf("dysco-compress: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("dysco-compress: %v", err)
	}
	if verbose {
		log.Printf("dysco-compress: wrote %d rows to %s", n, path)
	}

	if dumpHeader {
		printHeader(path, dataColumns, weightColumns, npol, nchan, antennaCount)
	}
}

func compress(f *dyscofile.File, r io.Reader, dataColumns, weightColumns []string) (int, error) {
	reader := record.NewReader(bufio.NewReader(r))
	n := 0
	for {
		row, err := reader.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		data := make(map[string][]complex128, len(dataColumns))
		for _, c := range dataColumns {
			data[c] = row.Visibilities(c)
		}
		weights := make(map[string][]float64, len(weightColumns))
		for _, c := range weightColumns {
			weights[c] = row.Weight[c]
		}
		if err := f.PutRow(row.Antenna1, row.Antenna2, row.EndOfBlock, data, weights); err != nil {
			return n, err
		}
		n++
	}
}

func printHeader(path string, dataColumns, weightColumns []string, npol, nchan, antennaCount int) {
	f, err := dyscofile.Open(path, dyscofile.Schema{
		NPol: npol, NChan: nchan, AntennaCount: antennaCount,
		DataColumns: dataColumns, WeightColumns: weightColumns,
	})
	if err != nil {
		log.Fatalf("dysco-compress: -dump-header: %v", err)
	}
	defer f.Close()
	out, err := dysco.DumpHeader(f.HeaderInfo())
	if err != nil {
		log.Fatalf("dysco-compress: -dump-header: %v", err)
	}
	os.Stdout.Write(out)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: dysco-compress [flags] <dysco-file>\n\nreads rows as JSON lines from stdin; writes them into <dysco-file>.\n\n")
	flag.PrintDefaults()
}
