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
	"errors"
	"fmt"
)

// ErrMalformed is returned when a frame is too short or carries an
// unexpected marker for its command family.
var ErrMalformed = errors.New("malformed response")

// Response is a decoded inbound frame. Each command family has its own type;
// anything not recognised decodes to Raw.
type Response interface {
	Command() byte
}

// Ack is the plain status reply shared by most setter commands.
type Ack struct {
	Cmd    byte
	Status byte
}

func (a Ack) Command() byte { return a.Cmd }

// OK reports whether the status byte is a success value for this command.
// Silent mode and wear detection also answer with the alternate status.
func (a Ack) OK() bool {
	switch a.Cmd {
	case CmdSilentMode, CmdWearDetection:
		return a.Status == StatusOK || a.Status == StatusAlternate
	default:
		return a.Status == StatusOK
	}
}

type HeartbeatAck struct {
	Seq byte
}

func (HeartbeatAck) Command() byte { return CmdHeartbeat }

type ProbeAck struct{}

func (ProbeAck) Command() byte { return CmdProbe }

// ChecksumAck answers the CRC frame; only the confirmed status is success.
type ChecksumAck struct {
	Status byte
}

func (ChecksumAck) Command() byte { return CmdBitmapChecksum }

func (c ChecksumAck) OK() bool { return c.Status == StatusConfirmed }

type Brightness struct {
	Level byte
	Auto  bool
}

func (Brightness) Command() byte { return CmdGetBrightness }

type SilentMode struct {
	Enabled bool
}

func (SilentMode) Command() byte { return CmdGetSilentMode }

type WearDetection struct {
	Enabled bool
}

func (WearDetection) Command() byte { return CmdGetWearDetection }

// DisplaySettings is the current image position. Valid reports whether the
// device answered with success and in-range values.
type DisplaySettings struct {
	Status byte
	Height byte
	Depth  byte
}

func (DisplaySettings) Command() byte { return CmdGetDisplaySettings }

func (d DisplaySettings) Valid() bool {
	return d.Status == StatusOK &&
		d.Height <= MaxDisplayHeight &&
		d.Depth >= MinDisplayDepth && d.Depth <= MaxDisplayDepth
}

// DisplaySettingsAck answers a display settings write.
type DisplaySettingsAck struct {
	Seq    byte
	Status byte
}

func (DisplaySettingsAck) Command() byte { return CmdDisplaySettings }

func (d DisplaySettingsAck) OK() bool {
	return d.Status == StatusOK || d.Status == StatusConfirmed
}

type BatteryInfo struct {
	Level    byte
	Charging bool
}

func (BatteryInfo) Command() byte { return CmdArmInfo }

type SerialReport struct {
	Serial SerialNumber
}

func (SerialReport) Command() byte { return CmdSerialNumber }

// DeviceEvent is an unsolicited 0xF5 frame.
type DeviceEvent struct {
	Code     byte
	Value    byte
	// HasValue is false when the frame ended after the event code.
	HasValue bool
}

func (DeviceEvent) Command() byte { return CmdDeviceEvent }

// Raw is a frame with no dedicated decoder.
type Raw struct {
	Data []byte
}

func (r Raw) Command() byte { return r.Data[0] }

func malformed(frame []byte, want int) error {
	return fmt.Errorf("%w: command 0x%02X length %d, want at least %d",
		ErrMalformed, frame[0], len(frame), want)
}

// Decode turns an inbound frame into its typed response.
func Decode(frame []byte) (Response, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	switch frame[0] {
	case CmdHeartbeat:
		if len(frame) <= 5 || frame[4] != heartbeatMarker {
			return nil, malformed(frame, 6)
		}
		return HeartbeatAck{Seq: frame[3]}, nil
	case CmdProbe:
		if len(frame) < 2 {
			return nil, malformed(frame, 2)
		}
		return ProbeAck{}, nil
	case CmdBitmapChecksum:
		if len(frame) < 6 {
			return nil, malformed(frame, 6)
		}
		return ChecksumAck{Status: frame[5]}, nil
	case CmdGetBrightness:
		if len(frame) < 4 {
			return nil, malformed(frame, 4)
		}
		return Brightness{Level: frame[2], Auto: frame[3] == 1}, nil
	case CmdGetSilentMode:
		if len(frame) < 3 {
			return nil, malformed(frame, 3)
		}
		switch frame[2] {
		case silentOn:
			return SilentMode{Enabled: true}, nil
		case silentOff:
			return SilentMode{Enabled: false}, nil
		default:
			return nil, fmt.Errorf("%w: silent mode value 0x%02X", ErrMalformed, frame[2])
		}
	case CmdGetWearDetection:
		if len(frame) < 3 {
			return nil, malformed(frame, 3)
		}
		return WearDetection{Enabled: frame[2] == 1}, nil
	case CmdGetDisplaySettings:
		if len(frame) < 4 {
			return nil, malformed(frame, 4)
		}
		return DisplaySettings{Status: frame[1], Height: frame[2], Depth: frame[3]}, nil
	case CmdDisplaySettings:
		if len(frame) < 6 || frame[1] != settingsAckLen || frame[4] != settingsMarker {
			return nil, malformed(frame, 6)
		}
		return DisplaySettingsAck{Seq: frame[3], Status: frame[5]}, nil
	case CmdArmInfo:
		if len(frame) < 4 {
			return nil, malformed(frame, 4)
		}
		return BatteryInfo{Level: frame[2], Charging: frame[3]&0x01 == 1}, nil
	case CmdSerialNumber:
		serial, err := ParseSerial(frame[1:])
		if err != nil {
			return nil, err
		}
		return SerialReport{Serial: serial}, nil
	case CmdDeviceEvent:
		if len(frame) < 2 {
			return nil, malformed(frame, 2)
		}
		ev := DeviceEvent{Code: frame[1]}
		if len(frame) > 2 {
			ev.Value, ev.HasValue = frame[2], true
		}
		return ev, nil
	case CmdBrightness, CmdSilentMode, CmdWearDetection, CmdClear,
		CmdBitmapFinalize, CmdDisplayPower, CmdDashboardPower:
		if len(frame) < 2 {
			return nil, malformed(frame, 2)
		}
		return Ack{Cmd: frame[0], Status: frame[1]}, nil
	default:
		data := make([]byte, len(frame))
		copy(data, frame)
		return Raw{Data: data}, nil
	}
}
