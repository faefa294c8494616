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

//go:build linux
// +build linux

package dyscofile

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for f starting at offset 0, so that
// block writes from multiple workers never race on filesystem extent
// allocation.
func preallocate(f *os.File, size int64) error {
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

// syncData flushes f's data (not necessarily its metadata) to stable
// storage; used after a clean close so a crash immediately afterward
// cannot lose a finished file.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
