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

import (
	"fmt"
	"regexp"

	"golang.org/x/text/encoding/charmap"
)

var serialRe = regexp.MustCompile(`S\d{3}L[A-Z]{2}[A-Z]\d{6}`)

// SerialNumber is the structured serial found in advertisements and in the
// serial number command response, e.g. S110LABC123456.
type SerialNumber struct {
	FrameCode string `json:"frameCode"`
	ColorCode string `json:"colorCode"`
	UnitID    string `json:"unitId"`
}

func (s SerialNumber) String() string {
	return s.FrameCode + s.ColorCode + s.UnitID
}

// ParseSerial finds the serial number in raw bytes. Bytes outside ASCII are
// decoded as latin-1 so stray values never abort the search.
func ParseSerial(raw []byte) (SerialNumber, error) {
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return SerialNumber{}, fmt.Errorf("decode serial bytes: %w", err)
	}
	m := serialRe.Find(text)
	if m == nil {
		return SerialNumber{}, fmt.Errorf("%w: no serial number in %q", ErrMalformed, text)
	}
	return SerialNumber{
		FrameCode: string(m[0:4]),
		ColorCode: string(m[4:7]),
		UnitID:    string(m[7:]),
	}, nil
}
