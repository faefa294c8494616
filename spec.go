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

// Package dysco is the top-level package of the Dysco lossy
// visibility-compression codec: it holds the construction parameters
// (Spec), version constants, and the name<->enum mappings shared by
// the file format, the CLI drivers and the host table-runtime glue.
package dysco

import "fmt"

// VersionMajor and VersionMinor identify the on-disk format this
// package writes. Readers must refuse files with a greater
// VersionMajor than their own.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// Distribution names the amplitude distribution the quantiser
// dictionary is built for.
type Distribution uint8

const (
	DistUniform Distribution = iota
	DistGaussian
	DistTruncatedGaussian
	DistStudentT
)

func (d Distribution) String() string {
	switch d {
	case DistUniform:
		return "Uniform"
	case DistGaussian:
		return "Gaussian"
	case DistTruncatedGaussian:
		return "TruncatedGaussian"
	case DistStudentT:
		return "StudentT"
	default:
		return fmt.Sprintf("Distribution(%d)", uint8(d))
	}
}

// ParseDistribution maps a spec-record distribution name to its enum.
func ParseDistribution(name string) (Distribution, error) {
	switch name {
	case "Uniform":
		return DistUniform, nil
	case "Gaussian":
		return DistGaussian, nil
	case "TruncatedGaussian":
		return DistTruncatedGaussian, nil
	case "StudentT":
		return DistStudentT, nil
	default:
		return 0, fmt.Errorf("%w: unknown distribution %q", ErrConfiguration, name)
	}
}

// Normalization names which block encoder normalises a data column.
type Normalization uint8

const (
	NormRow Normalization = iota
	NormAF
	NormRF
)

func (n Normalization) String() string {
	switch n {
	case NormRow:
		return "Row"
	case NormAF:
		return "AF"
	case NormRF:
		return "RF"
	default:
		return fmt.Sprintf("Normalization(%d)", uint8(n))
	}
}

// ParseNormalization maps a spec-record normalization name to its enum.
func ParseNormalization(name string) (Normalization, error) {
	switch name {
	case "Row":
		return NormRow, nil
	case "AF":
		return NormAF, nil
	case "RF":
		return NormRF, nil
	default:
		return 0, fmt.Errorf("%w: unknown normalization %q", ErrConfiguration, name)
	}
}

// Spec collects the construction parameters of a Dysco column (§6
// spec record). It is immutable once passed to Create/Open.
type Spec struct {
	DataBitCount   int    `yaml:"dataBitCount"`
	WeightBitCount int    `yaml:"weightBitCount"`
	Distribution   string `yaml:"distribution"`
	Normalization  string `yaml:"normalization"`

	DistributionTruncation float64 `yaml:"distributionTruncation"`
	StudentTNu             float64 `yaml:"studentTNu"`

	StaticSeed bool `yaml:"staticSeed"`

	// FitToMaximum applies to the AF normalizer only: after
	// normalisation, rescale so the maximum absolute component equals
	// MaxQuantity exactly.
	FitToMaximum bool `yaml:"fitToMaximum"`
}

// Validate checks that a Spec's fields describe a constructible
// codec, returning a wrapped ErrConfiguration on failure.
func (s Spec) Validate() error {
	if s.DataBitCount < 1 || s.DataBitCount > 16 {
		return fmt.Errorf("%w: dataBitCount %d out of range [1,16]", ErrConfiguration, s.DataBitCount)
	}
	if s.WeightBitCount < 1 || s.WeightBitCount > 16 {
		return fmt.Errorf("%w: weightBitCount %d out of range [1,16]", ErrConfiguration, s.WeightBitCount)
	}
	dist, err := ParseDistribution(s.Distribution)
	if err != nil {
		return err
	}
	if _, err := ParseNormalization(s.Normalization); err != nil {
		return err
	}
	if dist == DistTruncatedGaussian && s.DistributionTruncation <= 0 {
		return fmt.Errorf("%w: distributionTruncation must be positive for TruncatedGaussian", ErrConfiguration)
	}
	if dist == DistStudentT && s.StudentTNu <= 0 {
		return fmt.Errorf("%w: studentTNu must be positive for StudentT", ErrConfiguration)
	}
	return nil
}
