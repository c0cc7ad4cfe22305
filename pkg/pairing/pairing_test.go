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

package pairing

import (
	"testing"

	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serialPayload = append([]byte{0x0B, 0x0A}, []byte("S110LABC123456")...)

func adv(name string, payload []byte) transport.Advertisement {
	return transport.Advertisement{Address: "addr-" + name, Name: name, ManufacturerData: payload}
}

func TestParseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		wantChannel string
		wantLink    protocol.Link
		wantOK      bool
	}{
		{name: "G1_07_L_XYZ", wantChannel: "07", wantLink: protocol.Left, wantOK: true},
		{name: "G1_07_R_XYZ", wantChannel: "07", wantLink: protocol.Right, wantOK: true},
		{name: "G1_12_R_", wantChannel: "12", wantLink: protocol.Right, wantOK: true},
		{name: "G1", wantOK: false},
		{name: "G1_07_X_XYZ", wantOK: false},
		{name: "G1__L_XYZ", wantOK: false},
		{name: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			channel, link, ok := ParseName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantChannel, channel)
				assert.Equal(t, tt.wantLink, link)
			}
		})
	}
}

func TestObserve_EmitsOncePerChannel(t *testing.T) {
	t.Parallel()

	d := New()

	_, ok := d.Observe(adv("G1_07_L_XYZ", serialPayload))
	assert.False(t, ok)

	p, ok := d.Observe(adv("G1_07_R_XYZ", serialPayload))
	require.True(t, ok)
	assert.Equal(t, "07", p.Channel)
	assert.Equal(t, "G1_07_L_XYZ", p.Left.Name)
	assert.Equal(t, "G1_07_R_XYZ", p.Right.Name)
	assert.Equal(t, protocol.SerialNumber{FrameCode: "S110", ColorCode: "LAB", UnitID: "C123456"}, p.Serial)

	_, ok = d.Observe(adv("G1_07_L_XYZ", serialPayload))
	assert.False(t, ok, "duplicate advertisement must not emit a second pair")
	assert.Len(t, d.Pairs(), 1)
}

func TestObserve_BadSerialNotEmitted(t *testing.T) {
	t.Parallel()

	d := New()
	d.Observe(adv("G1_09_L_A", nil))
	_, ok := d.Observe(adv("G1_09_R_A", []byte{0x01, 0x02}))
	assert.False(t, ok)
	assert.Empty(t, d.Pairs())

	// a later advertisement with a readable serial completes the pair
	p, ok := d.Observe(adv("G1_09_R_A", serialPayload))
	require.True(t, ok)
	assert.Equal(t, "09", p.Channel)
}

func TestObserve_ChannelsIndependent(t *testing.T) {
	t.Parallel()

	d := New()
	d.Observe(adv("G1_01_L_A", serialPayload))
	d.Observe(adv("G1_02_R_B", serialPayload))
	_, ok := d.Observe(adv("G1_02_L_B", serialPayload))
	assert.True(t, ok)
	_, ok = d.Observe(adv("G1_01_R_A", serialPayload))
	assert.True(t, ok)

	// 02 completed first but listing is by channel
	for range 5 {
		pairs := d.Pairs()
		require.Len(t, pairs, 2)
		assert.Equal(t, "01", pairs[0].Channel)
		assert.Equal(t, "02", pairs[1].Channel)
	}
}

func TestClaim_RemovesChannel(t *testing.T) {
	t.Parallel()

	d := New()
	d.Observe(adv("G1_07_L_XYZ", serialPayload))
	d.Observe(adv("G1_07_R_XYZ", serialPayload))

	p, ok := d.Claim("07")
	require.True(t, ok)
	assert.Equal(t, "07", p.Channel)
	assert.Empty(t, d.Pairs())

	d.Observe(adv("G1_08_L_XYZ", serialPayload))
	d.Claim("08")
	_, ok = d.Observe(adv("G1_08_R_XYZ", serialPayload))
	assert.False(t, ok, "claimed channel is out of consideration")

	d.Reset()
	d.Observe(adv("G1_08_L_XYZ", serialPayload))
	_, ok = d.Observe(adv("G1_08_R_XYZ", serialPayload))
	assert.True(t, ok)
}
