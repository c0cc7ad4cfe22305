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

// Package pairing groups left and right advertisements into devices.
package pairing

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/rs/zerolog/log"
)

const (
	leftMarker  = "_L_"
	rightMarker = "_R_"
)

// Pair is a device with both halves discovered.
type Pair struct {
	Channel string                  `json:"channel"`
	Left    transport.Advertisement `json:"left"`
	Right   transport.Advertisement `json:"right"`
	Serial  protocol.SerialNumber   `json:"serial"`
}

type candidate struct {
	left  *transport.Advertisement
	right *transport.Advertisement
}

// Discovery consumes advertisements for one scan session.
type Discovery struct {
	candidates map[string]*candidate
	emitted    map[string]Pair
	claimed    map[string]struct{}
	mu         syncutil.Mutex
}

func New() *Discovery {
	d := &Discovery{}
	d.Reset()
	return d
}

// Reset forgets everything seen so far.
func (d *Discovery) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates = make(map[string]*candidate)
	d.emitted = make(map[string]Pair)
	d.claimed = make(map[string]struct{})
}

// ParseName extracts the channel and side from an advertised name such as
// "G1_07_L_1A2B".
func ParseName(name string) (channel string, link protocol.Link, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 || parts[1] == "" {
		return "", 0, false
	}
	switch {
	case strings.Contains(name, leftMarker):
		return parts[1], protocol.Left, true
	case strings.Contains(name, rightMarker):
		return parts[1], protocol.Right, true
	default:
		return "", 0, false
	}
}

// Observe records adv and returns a pair the first time both halves of a
// channel are present with a readable serial number. A serial that fails to
// parse leaves the channel open for a later advertisement.
func (d *Discovery) Observe(adv transport.Advertisement) (Pair, bool) {
	channel, link, ok := ParseName(adv.Name)
	if !ok {
		return Pair{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, done := d.emitted[channel]; done {
		return Pair{}, false
	}
	if _, taken := d.claimed[channel]; taken {
		return Pair{}, false
	}

	c := d.candidates[channel]
	if c == nil {
		c = &candidate{}
		d.candidates[channel] = c
	}
	a := adv
	if link == protocol.Left {
		c.left = &a
	} else {
		c.right = &a
	}

	if c.left == nil || c.right == nil {
		return Pair{}, false
	}

	serial, err := protocol.ParseSerial(adv.ManufacturerData)
	if err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("pair found without readable serial")
		return Pair{}, false
	}

	p := Pair{Channel: channel, Left: *c.left, Right: *c.right, Serial: serial}
	d.emitted[channel] = p
	delete(d.candidates, channel)

	log.Info().Str("channel", channel).Stringer("serial", serial).Msg("found paired device")
	return p, true
}

// Claim removes a channel from consideration once a connection starts.
func (d *Discovery) Claim(channel string) (Pair, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimed[channel] = struct{}{}
	delete(d.candidates, channel)
	p, ok := d.emitted[channel]
	return p, ok
}

// Pairs lists emitted pairs that have not been claimed, ordered by channel.
func (d *Discovery) Pairs() []Pair {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Pair, 0, len(d.emitted))
	for ch, p := range d.emitted {
		if _, taken := d.claimed[ch]; !taken {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Pair) int {
		return cmp.Compare(a.Channel, b.Channel)
	})
	return out
}

// Lookup returns an emitted pair by channel.
func (d *Discovery) Lookup(channel string) (Pair, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.emitted[channel]
	return p, ok
}
