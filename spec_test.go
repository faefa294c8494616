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

package dysco

import (
	"errors"
	"testing"
)

func validSpec() Spec {
	return Spec{
		DataBitCount:   8,
		WeightBitCount: 8,
		Distribution:   "Gaussian",
		Normalization:  "RF",
	}
}

func TestSpecValidateOK(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

func TestSpecValidateBitCount(t *testing.T) {
	s := validSpec()
	s.DataBitCount = 0
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("DataBitCount=0: got %v, want ErrConfiguration", err)
	}
	s = validSpec()
	s.DataBitCount = 17
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("DataBitCount=17: got %v, want ErrConfiguration", err)
	}
}

func TestSpecValidateUnknownNames(t *testing.T) {
	s := validSpec()
	s.Distribution = "Weibull"
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown distribution: got %v, want ErrConfiguration", err)
	}
	s = validSpec()
	s.Normalization = "Column"
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown normalization: got %v, want ErrConfiguration", err)
	}
}

func TestSpecValidateTruncatedGaussianNeedsTau(t *testing.T) {
	s := validSpec()
	s.Distribution = "TruncatedGaussian"
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing truncation: got %v, want ErrConfiguration", err)
	}
	s.DistributionTruncation = 2
	if err := s.Validate(); err != nil {
		t.Fatalf("valid truncated spec rejected: %v", err)
	}
}

func TestSpecValidateStudentTNeedsNu(t *testing.T) {
	s := validSpec()
	s.Distribution = "StudentT"
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing nu: got %v, want ErrConfiguration", err)
	}
	s.StudentTNu = 3
	if err := s.Validate(); err != nil {
		t.Fatalf("valid student-t spec rejected: %v", err)
	}
}

func TestDistributionRoundTrip(t *testing.T) {
	for _, d := range []Distribution{DistUniform, DistGaussian, DistTruncatedGaussian, DistStudentT} {
		got, err := ParseDistribution(d.String())
		if err != nil || got != d {
			t.Errorf("Distribution %v round-trip failed: %v, %v", d, got, err)
		}
	}
}

func TestNormalizationRoundTrip(t *testing.T) {
	for _, n := range []Normalization{NormRow, NormAF, NormRF} {
		got, err := ParseNormalization(n.String())
		if err != nil || got != n {
			t.Errorf("Normalization %v round-trip failed: %v, %v", n, got, err)
		}
	}
}
