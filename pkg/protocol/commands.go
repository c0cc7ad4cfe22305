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

import "encoding/binary"

// Command codes. Byte 0 of every frame in either direction.
const (
	CmdBrightness         byte = 0x01
	CmdSilentMode         byte = 0x03
	CmdBitmapPacket       byte = 0x15
	CmdBitmapChecksum     byte = 0x16
	CmdClear              byte = 0x18
	CmdBitmapFinalize     byte = 0x20
	CmdReboot             byte = 0x23
	CmdHeartbeat          byte = 0x25
	CmdDisplaySettings    byte = 0x26
	CmdWearDetection      byte = 0x27
	CmdGetBrightness      byte = 0x29
	CmdGetSilentMode      byte = 0x2B
	CmdArmInfo            byte = 0x2C
	CmdSerialNumber       byte = 0x34
	CmdDisplayPower       byte = 0x39
	CmdGetWearDetection   byte = 0x3A
	CmdGetDisplaySettings byte = 0x3B
	CmdProbe              byte = 0x4D
	CmdDashboardPower     byte = 0x50
	CmdDeviceEvent        byte = 0xF5
)

// Status bytes reported by the firmware.
const (
	StatusOK        byte = 0xC9
	StatusConfirmed byte = 0xCA
	StatusAlternate byte = 0xCB
)

const (
	silentOn  byte = 0x0C
	silentOff byte = 0x0A

	// MaxBrightness is the highest manual brightness level.
	MaxBrightness = 42
	// MaxDisplayHeight and the depth bounds are the firmware's accepted ranges.
	MaxDisplayHeight = 8
	MinDisplayDepth  = 1
	MaxDisplayDepth  = 9

	heartbeatLength  = 0x06
	heartbeatMarker  = 0x04
	settingsLength   = 0x08
	settingsMarker   = 0x02
	settingsAckLen   = 0x06
	displayPowerSeq  = 0x08
	displayPowerTag  = 0x69
	dashboardPowerSz = 0x06
	rebootMagic      = 0x72
)

// bitmapAddress is the device memory address bitmaps are written to. It
// appears in the first packet prefix and is folded into the checksum.
var bitmapAddress = []byte{0x00, 0x1C, 0x00, 0x00}

func HeartbeatFrame(seq byte) []byte {
	return []byte{CmdHeartbeat, heartbeatLength, 0x00, seq, heartbeatMarker, seq}
}

func ProbeFrame() []byte {
	return []byte{CmdProbe, 0x01}
}

func ClearFrame() []byte {
	return []byte{CmdClear}
}

func FinalizeFrame() []byte {
	return []byte{CmdBitmapFinalize, 0x0D, 0x0E}
}

// ChecksumFrame carries the bitmap CRC big-endian after the command byte.
func ChecksumFrame(crc uint32) []byte {
	frame := make([]byte, 5)
	frame[0] = CmdBitmapChecksum
	binary.BigEndian.PutUint32(frame[1:], crc)
	return frame
}

func RebootFrame() []byte {
	return []byte{CmdReboot, rebootMagic}
}

func SetBrightnessFrame(level byte, auto bool) []byte {
	return []byte{CmdBrightness, level, boolByte(auto)}
}

func GetBrightnessFrame() []byte {
	return []byte{CmdGetBrightness}
}

func SetSilentModeFrame(on bool) []byte {
	if on {
		return []byte{CmdSilentMode, silentOn}
	}
	return []byte{CmdSilentMode, silentOff}
}

func GetSilentModeFrame() []byte {
	return []byte{CmdGetSilentMode}
}

func SetWearDetectionFrame(on bool) []byte {
	return []byte{CmdWearDetection, boolByte(on)}
}

func GetWearDetectionFrame() []byte {
	return []byte{CmdGetWearDetection}
}

func GetDisplaySettingsFrame() []byte {
	return []byte{CmdGetDisplaySettings}
}

// SetDisplaySettingsFrame positions the image. With preview set the device
// shows a placement guide instead of committing the values.
func SetDisplaySettingsFrame(seq byte, preview bool, height, depth byte) []byte {
	return []byte{
		CmdDisplaySettings, settingsLength, 0x00, seq, settingsMarker,
		boolByte(preview), height, depth,
	}
}

// DisplayPowerFrames returns the three frames that switch the display on or
// off: the first and last go to both sides, the dashboard frame to Right only.
func DisplayPowerFrames(on bool, height, depth byte) (power, dashboard, settings []byte) {
	power = []byte{CmdDisplayPower, 0x05, 0x00, displayPowerTag, boolByte(on)}
	dashboard = []byte{CmdDashboardPower, dashboardPowerSz, 0x00, 0x00, 0x01, boolByte(on)}
	settings = []byte{
		CmdDisplaySettings, settingsLength, 0x00, displayPowerSeq, settingsMarker,
		boolByte(on), height, depth,
	}
	return power, dashboard, settings
}

func ArmInfoFrame() []byte {
	return []byte{CmdArmInfo, 0x01}
}

func SerialNumberFrame() []byte {
	return []byte{CmdSerialNumber}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
