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

import "sigs.k8s.io/yaml"

// DumpHeader renders a HeaderInfo (the subset of an on-disk header
// worth showing a human) as YAML, for the -dump-header CLI flag.
type HeaderInfo struct {
	VersionMajor   int    `json:"versionMajor"`
	VersionMinor   int    `json:"versionMinor"`
	RowsPerBlock   int    `json:"rowsPerBlock"`
	AntennaCount   int    `json:"antennaCount"`
	BlockSize      int    `json:"blockSize"`
	DataBitCount   int    `json:"dataBitCount"`
	WeightBitCount int    `json:"weightBitCount"`
	FitToMaximum   bool   `json:"fitToMaximum"`
	Distribution   string `json:"distribution"`
	Normalization  string `json:"normalization"`
	StudentTNu     float64 `json:"studentTNu"`
	Truncation     float64 `json:"distributionTruncation"`
	ColumnCount    int    `json:"columnCount"`
}

// DumpHeader marshals info as YAML.
func DumpHeader(info HeaderInfo) ([]byte, error) {
	return yaml.Marshal(info)
}

// LoadSpec unmarshals a Spec from YAML, e.g. a config file passed to
// a CLI driver.
func LoadSpec(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, err
	}
	return s, s.Validate()
}
