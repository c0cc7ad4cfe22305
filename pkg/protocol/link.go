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

// Package protocol holds the wire format shared by both arms of the display:
// command codes, frame builders, response decoding and the bitmap checksum.
package protocol

// Link identifies one half of a paired device.
type Link int

const (
	Left Link = iota
	Right
)

// Links lists both sides in the order commands are normally issued.
var Links = [2]Link{Left, Right}

func (l Link) String() string {
	switch l {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// Other returns the opposite side.
func (l Link) Other() Link {
	if l == Left {
		return Right
	}
	return Left
}
