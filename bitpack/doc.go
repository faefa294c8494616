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

// Package bitpack packs and unpacks fixed-width unsigned symbols into a
// densely-concatenated byte stream: each symbol occupies exactly its bit
// width, MSB-first, with no padding between symbols. Only the final byte
// of a packed stream may contain unused low-order bits.
package bitpack
