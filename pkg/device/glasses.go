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

// Package device tracks a paired device's live state and issues its
// settings commands.
package device

import (
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/pairing"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// Device event sub-codes, byte 1 of an 0xF5 frame.
const (
	EventDoubleTap         byte = 0x00
	EventSingleTap         byte = 0x01
	EventHeadUp            byte = 0x02
	EventHeadDown          byte = 0x03
	EventTripleTap         byte = 0x04
	EventTripleTapAlt      byte = 0x05
	EventWorn              byte = 0x06
	EventNotWorn           byte = 0x07
	EventInCaseLidOpen     byte = 0x08
	EventGlassesCharging   byte = 0x09
	EventInCaseLidClosed   byte = 0x0B
	EventCaseCharging      byte = 0x0E
	EventCaseBattery       byte = 0x0F
	EventBLEPaired         byte = 0x11
	EventRightTouchpadHeld byte = 0x12
	EventLeftHeld          byte = 0x17
	EventLeftReleased      byte = 0x18
	EventDashboardOpen     byte = 0x1E
	EventDashboardClose    byte = 0x1F
	EventTranslate         byte = 0x20
	EventAssistantStart    byte = 0x23
	EventAssistantStop     byte = 0x24
)

var eventNames = map[byte]string{
	EventDoubleTap:         "double_tap",
	EventSingleTap:         "single_tap",
	EventHeadUp:            "head_up",
	EventHeadDown:          "head_down",
	EventTripleTap:         "triple_tap",
	EventTripleTapAlt:      "triple_tap",
	EventWorn:              "worn",
	EventNotWorn:           "not_worn",
	EventInCaseLidOpen:     "in_case_lid_open",
	EventGlassesCharging:   "glasses_charging",
	0x0A:                   "reserved",
	EventInCaseLidClosed:   "in_case_lid_closed",
	0x0C:                   "reserved",
	0x0D:                   "reserved",
	EventCaseCharging:      "case_charging",
	EventCaseBattery:       "case_battery",
	0x10:                   "reserved",
	EventBLEPaired:         "ble_paired",
	EventRightTouchpadHeld: "right_touchpad_held",
	EventLeftHeld:          "left_held",
	EventLeftReleased:      "left_released",
	EventDashboardOpen:     "dashboard_open",
	EventDashboardClose:    "dashboard_close",
	EventTranslate:         "translate",
	EventAssistantStart:    "assistant_start",
	EventAssistantStop:     "assistant_stop",
}

// EventName returns a stable name for a sub-code, or "" when unknown.
func EventName(code byte) string {
	return eventNames[code]
}

// Arm is the state reported by one side.
type Arm struct {
	Battery  int  `json:"battery"`
	Charging bool `json:"charging"`
}

// Status is a point-in-time copy of a device's state.
type Status struct {
	Serial          protocol.SerialNumber `json:"serial"`
	Channel         string                `json:"channel"`
	Left            Arm                   `json:"left"`
	Right           Arm                   `json:"right"`
	CaseBattery     int                   `json:"caseBattery"`
	Connected       bool                  `json:"connected"`
	GlassesCharging bool                  `json:"glassesCharging"`
	CaseCharging    bool                  `json:"caseCharging"`
	Worn            bool                  `json:"worn"`
	InCase          bool                  `json:"inCase"`
	CaseLidOpen     bool                  `json:"caseLidOpen"`
	DashboardOpen   bool                  `json:"dashboardOpen"`
}

// Glasses is the paired device. Identity is fixed at creation; telemetry
// is updated by device events and queries and cleared by Reset.
type Glasses struct {
	onChange func(Status)
	status   Status
	mu       syncutil.RWMutex
}

// NewGlasses creates the device for a discovered pair. onChange, if set,
// receives a snapshot after every telemetry change.
func NewGlasses(p pairing.Pair, onChange func(Status)) *Glasses {
	g := &Glasses{onChange: onChange}
	g.status.Channel = p.Channel
	g.status.Serial = p.Serial
	g.resetLocked()
	return g
}

func (g *Glasses) Channel() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status.Channel
}

func (g *Glasses) Snapshot() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Glasses) update(fn func(*Status)) {
	g.mu.Lock()
	fn(&g.status)
	snap := g.status
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(snap)
	}
}

func (g *Glasses) SetConnected(connected bool) {
	g.update(func(s *Status) { s.Connected = connected })
}

func (g *Glasses) SetSerial(serial protocol.SerialNumber) {
	g.update(func(s *Status) { s.Serial = serial })
}

// SetArm records the battery report from one side.
func (g *Glasses) SetArm(link protocol.Link, info protocol.BatteryInfo) {
	arm := Arm{Battery: int(info.Level), Charging: info.Charging}
	g.update(func(s *Status) {
		if link == protocol.Left {
			s.Left = arm
		} else {
			s.Right = arm
		}
	})
}

// Reset clears telemetry, keeping the channel and serial.
func (g *Glasses) Reset() {
	g.mu.Lock()
	g.resetLocked()
	snap := g.status
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(snap)
	}
}

func (g *Glasses) resetLocked() {
	g.status = Status{
		Channel:     g.status.Channel,
		Serial:      g.status.Serial,
		Left:        Arm{Battery: -1},
		Right:       Arm{Battery: -1},
		CaseBattery: -1,
	}
}

// HandleEvent applies a device event to telemetry. It reports whether the
// code is known; informational codes are known but change nothing.
func (g *Glasses) HandleEvent(link protocol.Link, ev protocol.DeviceEvent) bool {
	logger := log.With().Stringer("link", link).Hex("code", []byte{ev.Code}).Logger()

	switch ev.Code {
	case EventGlassesCharging, EventCaseCharging, EventCaseBattery:
		if !ev.HasValue {
			logger.Warn().Msg("unknown device event: missing value")
			return false
		}
	}

	switch ev.Code {
	case EventWorn:
		g.update(func(s *Status) { s.Worn, s.InCase = true, false })
	case EventNotWorn:
		g.update(func(s *Status) { s.Worn = false })
	case EventInCaseLidOpen:
		g.update(func(s *Status) { s.Worn, s.InCase, s.CaseLidOpen = false, true, true })
	case EventInCaseLidClosed:
		g.update(func(s *Status) { s.Worn, s.InCase, s.CaseLidOpen = false, true, false })
	case EventGlassesCharging:
		g.update(func(s *Status) { s.GlassesCharging = ev.Value == 1 })
	case EventCaseCharging:
		g.update(func(s *Status) { s.CaseCharging = ev.Value == 1 })
	case EventCaseBattery:
		g.update(func(s *Status) { s.CaseBattery = int(ev.Value) })
	case EventDashboardOpen:
		g.update(func(s *Status) { s.DashboardOpen = true })
	case EventDashboardClose:
		g.update(func(s *Status) { s.DashboardOpen = false })
	default:
		name := EventName(ev.Code)
		if name == "" {
			logger.Warn().Msg("unknown device event")
			return false
		}
		logger.Debug().Str("event", name).Msg("device event")
		return true
	}

	logger.Debug().Str("event", EventName(ev.Code)).Uint8("value", ev.Value).Msg("device state changed")
	return true
}
