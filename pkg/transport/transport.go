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

// Package transport defines what the protocol engine needs from a radio
// stack. The engine never manages radio power, it only reacts to events.
package transport

import "context"

// Advertisement is one scan result.
type Advertisement struct {
	Address          string `json:"address"`
	Name             string `json:"name"`
	ManufacturerData []byte `json:"-"`
	RSSI             int16  `json:"rssi"`
}

type EventKind int

const (
	// LinkLost is reported when an open connection drops.
	LinkLost EventKind = iota
	PowerOff
	PowerOn
)

func (k EventKind) String() string {
	switch k {
	case LinkLost:
		return "link_lost"
	case PowerOff:
		return "power_off"
	case PowerOn:
		return "power_on"
	default:
		return "unknown"
	}
}

// Event is an asynchronous notification from the radio stack. Address is
// only set for LinkLost.
type Event struct {
	Address string
	Kind    EventKind
}

// Conn is one open link with its write and notify characteristics resolved.
type Conn interface {
	Address() string
	// Write sends without waiting for a link-layer response.
	Write(p []byte) error
	Disconnect() error
}

// Transport is the radio stack collaborator.
type Transport interface {
	// Scan reports advertisements until ctx is cancelled.
	Scan(ctx context.Context, found func(Advertisement)) error
	// Connect opens a link, discovers the write/notify characteristic pair
	// and subscribes onNotify to inbound frames.
	Connect(ctx context.Context, adv Advertisement, onNotify func([]byte)) (Conn, error)
	Events() <-chan Event
	Close() error
}
