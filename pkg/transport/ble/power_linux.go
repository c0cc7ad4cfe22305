//go:build linux

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

import (
	"fmt"

	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezAdapterPath  = "/org/bluez/hci0"
	bluezAdapterIface = "org.bluez.Adapter1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
)

// powerWatcher follows the BlueZ adapter's Powered property.
type powerWatcher struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}
}

func startPowerWatcher(emit func(transport.Event)) (*powerWatcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(bluezAdapterPath),
		dbus.WithMatchInterface(dbusProperties),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to add match for PropertiesChanged: %w", err)
	}

	w := &powerWatcher{
		conn:    conn,
		signals: make(chan *dbus.Signal, 10),
		done:    make(chan struct{}),
	}
	conn.Signal(w.signals)

	go w.listen(emit)
	return w, nil
}

func (w *powerWatcher) listen(emit func(transport.Event)) {
	for {
		select {
		case <-w.done:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			if kind, changed := poweredChange(sig); changed {
				log.Info().Stringer("kind", kind).Msg("bluetooth adapter power changed")
				emit(transport.Event{Kind: kind})
			}
		}
	}
}

// poweredChange extracts a Powered transition from a PropertiesChanged
// signal body: interface name, changed properties, invalidated names.
func poweredChange(sig *dbus.Signal) (transport.EventKind, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return 0, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != bluezAdapterIface {
		return 0, false
	}
	props, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, false
	}
	v, ok := props["Powered"]
	if !ok {
		return 0, false
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return 0, false
	}
	if powered {
		return transport.PowerOn, true
	}
	return transport.PowerOff, true
}

func (w *powerWatcher) stop() {
	close(w.done)
	w.conn.RemoveSignal(w.signals)
	_ = w.conn.Close()
}
