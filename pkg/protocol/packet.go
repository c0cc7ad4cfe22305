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

// ChunkSize is the payload carried by each bitmap packet.
const ChunkSize = 194

// BitmapPackets splits a frame into the packets written during a transfer.
// The first packet carries the write address in its prefix. Sequence numbers
// wrap at one byte.
func BitmapPackets(frame []byte) [][]byte {
	count := (len(frame) + ChunkSize - 1) / ChunkSize
	packets := make([][]byte, 0, count)
	for i := range count {
		start := i * ChunkSize
		end := min(start+ChunkSize, len(frame))
		seq := byte(i & 0xFF)

		var pkt []byte
		if i == 0 {
			pkt = make([]byte, 0, 2+len(bitmapAddress)+end-start)
			pkt = append(pkt, CmdBitmapPacket, seq)
			pkt = append(pkt, bitmapAddress...)
		} else {
			pkt = make([]byte, 0, 2+end-start)
			pkt = append(pkt, CmdBitmapPacket, seq)
		}
		pkt = append(pkt, frame[start:end]...)
		packets = append(packets, pkt)
	}
	return packets
}
