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
	"errors"
	"sync/atomic"
)

var ErrInvalidTransition = errors.New("invalid connection state transition")

// State is the connection handshake state of the engine.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StatePairFound
	StateConnecting
	StateAwaitingBothLinksReady
	StateAwaitingHeartbeat
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StatePairFound:
		return "pair_found"
	case StateConnecting:
		return "connecting"
	case StateAwaitingBothLinksReady:
		return "awaiting_both_links_ready"
	case StateAwaitingHeartbeat:
		return "awaiting_heartbeat"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsValidTransition reports whether the handshake may move from one state
// to another. Disconnected is reachable from every state.
func IsValidTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateScanning || to == StateConnecting
	case StateScanning:
		// back to idle when the scan is stopped
		return to == StatePairFound || to == StateConnecting || to == StateIdle
	case StatePairFound:
		return to == StateConnecting || to == StateScanning || to == StateIdle
	case StateConnecting:
		return to == StateAwaitingBothLinksReady
	case StateAwaitingBothLinksReady:
		return to == StateAwaitingHeartbeat
	case StateAwaitingHeartbeat:
		return to == StateConnected
	case StateConnected:
		return false
	case StateDisconnected:
		return to == StateScanning || to == StateConnecting || to == StateIdle
	default:
		return false
	}
}

type stateMachine struct {
	state atomic.Int32
}

func (sm *stateMachine) Get() State {
	return State(sm.state.Load())
}

// Set moves to next if the transition is valid from the current state.
func (sm *stateMachine) Set(next State) bool {
	for {
		current := State(sm.state.Load())
		if !IsValidTransition(current, next) {
			return false
		}
		if sm.state.CompareAndSwap(int32(current), int32(next)) {
			return true
		}
	}
}

// Advance moves from one specific state to next, failing if the state has
// changed underneath the caller.
func (sm *stateMachine) Advance(from, next State) bool {
	if !IsValidTransition(from, next) {
		return false
	}
	return sm.state.CompareAndSwap(int32(from), int32(next))
}
