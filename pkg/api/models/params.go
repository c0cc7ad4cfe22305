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

package models

type ConnectParams struct {
	Channel string `json:"channel" validate:"required,channel"`
}

type DisplayTextParams struct {
	Text  string `json:"text" validate:"required,max=4000,displaytext"`
	Align string `json:"align,omitempty" validate:"omitempty,oneof=left center right"`
}

// SettingsParams applies every field that is set.
type SettingsParams struct {
	Brightness     *int  `json:"brightness,omitempty" validate:"omitnil,gte=0,lte=42"`
	AutoBrightness *bool `json:"autoBrightness,omitempty"`
	SilentMode     *bool `json:"silentMode,omitempty"`
	WearDetection  *bool `json:"wearDetection,omitempty"`
	DisplayHeight  *int  `json:"displayHeight,omitempty" validate:"omitnil,gte=0,lte=8"`
	DisplayDepth   *int  `json:"displayDepth,omitempty" validate:"omitnil,gte=1,lte=9"`
	DisplayOn      *bool `json:"displayOn,omitempty"`
}

type ConnectionStateParams struct {
	State   string `json:"state"`
	Channel string `json:"channel,omitempty"`
}

type DeviceEventParams struct {
	Link  string `json:"link"`
	Name  string `json:"name"`
	Code  byte   `json:"code"`
	Value byte   `json:"value"`
}

type DisplayTransferParams struct {
	Bytes int  `json:"bytes"`
	OK    bool `json:"ok"`
}

type VersionResponse struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

type SettingsResponse struct {
	Brightness     int  `json:"brightness"`
	AutoBrightness bool `json:"autoBrightness"`
	SilentMode     bool `json:"silentMode"`
	WearDetection  bool `json:"wearDetection"`
	DisplayHeight  int  `json:"displayHeight"`
	DisplayDepth   int  `json:"displayDepth"`
}

type SendResponse struct {
	OK     bool `json:"ok"`
	Queued bool `json:"queued,omitempty"`
}
