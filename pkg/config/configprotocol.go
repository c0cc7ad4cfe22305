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

package config

import "time"

// Protocol timings are stored in milliseconds so the file stays readable
// without a duration syntax.
type Protocol struct {
	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms" validate:"gte=1000,lte=60000"`
	HeartbeatTimeoutMs  int `toml:"heartbeat_timeout_ms" validate:"gte=100,lte=10000"`
	ProbeTimeoutMs      int `toml:"probe_timeout_ms" validate:"gte=100,lte=30000"`
	PacketDelayMs       int `toml:"packet_delay_ms" validate:"gte=1,lte=200"`
	FinalizeTimeoutMs   int `toml:"finalize_timeout_ms" validate:"gte=100,lte=30000"`
	FinalizeBackoffMs   int `toml:"finalize_backoff_ms" validate:"gte=0,lte=30000"`
	FinalizeAttempts    int `toml:"finalize_attempts" validate:"gte=1,lte=50"`
	ChecksumTimeoutMs   int `toml:"checksum_timeout_ms" validate:"gte=100,lte=30000"`
	PreviewDelayMs      int `toml:"preview_delay_ms" validate:"gte=0,lte=30000"`
}

var DefaultProtocol = Protocol{
	HeartbeatIntervalMs: 8000,
	HeartbeatTimeoutMs:  1500,
	ProbeTimeoutMs:      2000,
	PacketDelayMs:       8,
	FinalizeTimeoutMs:   5000,
	FinalizeBackoffMs:   1000,
	FinalizeAttempts:    10,
	ChecksumTimeoutMs:   5000,
	PreviewDelayMs:      3000,
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (p Protocol) HeartbeatInterval() time.Duration { return ms(p.HeartbeatIntervalMs) }
func (p Protocol) HeartbeatTimeout() time.Duration  { return ms(p.HeartbeatTimeoutMs) }
func (p Protocol) ProbeTimeout() time.Duration      { return ms(p.ProbeTimeoutMs) }
func (p Protocol) PacketDelay() time.Duration       { return ms(p.PacketDelayMs) }
func (p Protocol) FinalizeTimeout() time.Duration   { return ms(p.FinalizeTimeoutMs) }
func (p Protocol) FinalizeBackoff() time.Duration   { return ms(p.FinalizeBackoffMs) }
func (p Protocol) ChecksumTimeout() time.Duration   { return ms(p.ChecksumTimeoutMs) }
func (p Protocol) PreviewDelay() time.Duration      { return ms(p.PreviewDelayMs) }

type Display struct {
	Align     string `toml:"align" validate:"oneof=left center right"`
	Width     int    `toml:"width" validate:"gte=1,lte=576"`
	Height    int    `toml:"height" validate:"gte=1,lte=136"`
	FontScale int    `toml:"font_scale" validate:"gte=1,lte=8"`
	// Height and depth of the projected image, applied on connect.
	PositionHeight int `toml:"position_height" validate:"gte=0,lte=8"`
	PositionDepth  int `toml:"position_depth" validate:"gte=1,lte=9"`
}

var DefaultDisplay = Display{
	Width:          576,
	Height:         136,
	FontScale:      2,
	Align:          "left",
	PositionHeight: 4,
	PositionDepth:  5,
}

func (c *Instance) Protocol() Protocol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Protocol
}

func (c *Instance) Display() Display {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Display
}

func (c *Instance) SetDisplayPosition(height, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Display.PositionHeight = height
	c.vals.Display.PositionDepth = depth
}
