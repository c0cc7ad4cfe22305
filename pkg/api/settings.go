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

package api

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
)

// deviceSettings is the part of device.Controller the settings endpoints
// drive.
type deviceSettings interface {
	SetBrightness(ctx context.Context, level int, auto bool) error
	Brightness(ctx context.Context) (protocol.Brightness, error)
	SetSilentMode(ctx context.Context, on bool) error
	SilentMode(ctx context.Context) (bool, error)
	SetWearDetection(ctx context.Context, on bool) error
	WearDetection(ctx context.Context) (bool, error)
	DisplaySettings(ctx context.Context) (protocol.DisplaySettings, error)
	SetDisplaySettings(ctx context.Context, height, depth int) error
	SetDisplayEnabled(ctx context.Context, on bool, height, depth int) error
	Reboot(ctx context.Context) error
}

func readSettings(ctx context.Context, dev deviceSettings) (models.SettingsResponse, error) {
	var resp models.SettingsResponse

	b, err := dev.Brightness(ctx)
	if err != nil {
		return resp, err
	}
	resp.Brightness = int(b.Level)
	resp.AutoBrightness = b.Auto

	if resp.SilentMode, err = dev.SilentMode(ctx); err != nil {
		return resp, err
	}
	if resp.WearDetection, err = dev.WearDetection(ctx); err != nil {
		return resp, err
	}

	ds, err := dev.DisplaySettings(ctx)
	if err != nil {
		return resp, err
	}
	resp.DisplayHeight = int(ds.Height)
	resp.DisplayDepth = int(ds.Depth)
	return resp, nil
}

// applySettings sends each field that is set, in a fixed order, and stops
// at the first failure. Height and depth fall back to current when only one
// of them is given.
func applySettings(
	ctx context.Context,
	dev deviceSettings,
	p models.SettingsParams,
	height, depth int,
) error {
	if p.Brightness != nil || p.AutoBrightness != nil {
		level := 0
		if p.Brightness != nil {
			level = *p.Brightness
		} else if b, err := dev.Brightness(ctx); err == nil {
			level = int(b.Level)
		}
		auto := p.AutoBrightness != nil && *p.AutoBrightness
		if err := dev.SetBrightness(ctx, level, auto); err != nil {
			return err
		}
	}

	if p.SilentMode != nil {
		if err := dev.SetSilentMode(ctx, *p.SilentMode); err != nil {
			return err
		}
	}

	if p.WearDetection != nil {
		if err := dev.SetWearDetection(ctx, *p.WearDetection); err != nil {
			return err
		}
	}

	if p.DisplayHeight != nil {
		height = *p.DisplayHeight
	}
	if p.DisplayDepth != nil {
		depth = *p.DisplayDepth
	}

	switch {
	case p.DisplayOn != nil:
		if err := dev.SetDisplayEnabled(ctx, *p.DisplayOn, height, depth); err != nil {
			return fmt.Errorf("display power: %w", err)
		}
	case p.DisplayHeight != nil || p.DisplayDepth != nil:
		if err := dev.SetDisplaySettings(ctx, height, depth); err != nil {
			return err
		}
	}
	return nil
}
