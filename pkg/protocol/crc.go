// Zaparoo Lens
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Lens.
//
// Zaparoo Lens is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Lens is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Lens.  If not, see <http://www.gnu.org/licenses/>.

package protocol

const crcPoly = 0x04C11DB7

// The firmware uses the MSB-first CRC-32 (the BZIP2 parameter set). hash/crc32
// only implements reflected tables, so the table is built here.
var crcTable = makeCRCTable(crcPoly)

func makeCRCTable(poly uint32) *[256]uint32 {
	t := new([256]uint32)
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// CRC32 computes the non-reflected CRC-32 with initial and final value
// 0xFFFFFFFF.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc ^ 0xFFFFFFFF
}

// BitmapChecksum is the value the device expects after a bitmap transfer:
// the CRC over the write address followed by the frame bytes.
func BitmapChecksum(frame []byte) uint32 {
	buf := make([]byte, 0, len(bitmapAddress)+len(frame))
	buf = append(buf, bitmapAddress...)
	buf = append(buf, frame...)
	return CRC32(buf)
}
