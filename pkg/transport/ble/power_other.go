//go:build !linux

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

package ble

import "github.com/ZaparooProject/zaparoo-lens/pkg/transport"

// powerWatcher is only implemented for BlueZ. Elsewhere the adapter's own
// connect handler is the only source of events.
type powerWatcher struct{}

func startPowerWatcher(func(transport.Event)) (*powerWatcher, error) {
	return nil, nil
}

func (*powerWatcher) stop() {}
