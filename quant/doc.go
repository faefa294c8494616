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

// Package quant implements the stochastic quantiser: a dictionary of
// 2^b reconstruction points, chosen as the probabilistic centroids of
// 2^b equal-probability-mass intervals under an assumed amplitude
// distribution, plus encode/decode between floats and dictionary
// indices (with optional dithering to remove quantisation bias).
package quant
