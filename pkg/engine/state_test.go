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

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateIdle, StateScanning, true},
		{StateScanning, StatePairFound, true},
		{StatePairFound, StateConnecting, true},
		{StateConnecting, StateAwaitingBothLinksReady, true},
		{StateAwaitingBothLinksReady, StateAwaitingHeartbeat, true},
		{StateAwaitingHeartbeat, StateConnected, true},
		{StateConnecting, StateConnected, false},
		{StateAwaitingBothLinksReady, StateConnected, false},
		{StateConnected, StateScanning, false},
		{StateDisconnected, StateScanning, true},
		{StateIdle, StateConnected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	for s := StateIdle; s <= StateDisconnected; s++ {
		assert.True(t, IsValidTransition(s, StateDisconnected), "%s -> disconnected", s)
	}
}

func TestStateMachine(t *testing.T) {
	t.Parallel()

	var sm stateMachine
	assert.Equal(t, StateIdle, sm.Get())
	assert.False(t, sm.Set(StateConnected))
	assert.True(t, sm.Set(StateScanning))
	assert.False(t, sm.Advance(StateIdle, StateScanning), "stale from state")
	assert.True(t, sm.Advance(StateScanning, StatePairFound))
	assert.Equal(t, StatePairFound, sm.Get())
}

func TestStateText(t *testing.T) {
	t.Parallel()

	b, err := StateAwaitingHeartbeat.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "awaiting_heartbeat", string(b))
	assert.Equal(t, "unknown", State(42).String())
}
