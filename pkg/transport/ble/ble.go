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

// Package ble implements transport.Transport on top of the host Bluetooth
// stack.
package ble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// UART-style service exposed by each arm.
const (
	ServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	WriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	eventBufferSize = 16
)

var (
	ErrUnknownAddress   = errors.New("address was not seen during scan")
	ErrNoService        = errors.New("display service not found")
	ErrNoCharacteristic = errors.New("write/notify characteristic pair not found")
)

// Transport drives the default adapter.
type Transport struct {
	adapter *bluetooth.Adapter
	events  chan transport.Event
	seen    map[string]bluetooth.Address
	open    map[string]*conn
	power   *powerWatcher
	mu      syncutil.Mutex
}

// New enables the default adapter and starts watching for link loss and
// radio power changes.
func New() (*Transport, error) {
	t := &Transport{
		adapter: bluetooth.DefaultAdapter,
		events:  make(chan transport.Event, eventBufferSize),
		seen:    make(map[string]bluetooth.Address),
		open:    make(map[string]*conn),
	}

	if err := t.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	t.adapter.SetConnectHandler(t.onConnectChange)

	pw, err := startPowerWatcher(t.emit)
	if err != nil {
		log.Warn().Err(err).Msg("bluetooth power state will not be tracked")
	}
	t.power = pw

	return t, nil
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		log.Warn().Stringer("kind", ev.Kind).Msg("transport event channel full, dropping event")
	}
}

func (t *Transport) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	t.mu.Lock()
	_, known := t.open[addr]
	delete(t.open, addr)
	t.mu.Unlock()

	if known {
		log.Info().Str("address", addr).Msg("link lost")
		t.emit(transport.Event{Kind: transport.LinkLost, Address: addr})
	}
}

func (t *Transport) Scan(ctx context.Context, found func(transport.Advertisement)) error {
	stop := context.AfterFunc(ctx, func() {
		if err := t.adapter.StopScan(); err != nil {
			log.Debug().Err(err).Msg("stop scan")
		}
	})
	defer stop()

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		addr := result.Address.String()

		t.mu.Lock()
		t.seen[addr] = result.Address
		t.mu.Unlock()

		found(transport.Advertisement{
			Address:          addr,
			Name:             name,
			ManufacturerData: manufacturerBytes(result.ManufacturerData()),
			RSSI:             result.RSSI,
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("bluetooth scan: %w", err)
	}
	return nil
}

// manufacturerBytes flattens manufacturer elements as they appear on air:
// little-endian company id followed by the payload.
func manufacturerBytes(elems []bluetooth.ManufacturerDataElement) []byte {
	var out []byte
	for _, e := range elems {
		out = binary.LittleEndian.AppendUint16(out, e.CompanyID)
		out = append(out, e.Data...)
	}
	return out
}

type connectResult struct {
	conn *conn
	err  error
}

func (t *Transport) Connect(
	ctx context.Context,
	adv transport.Advertisement,
	onNotify func([]byte),
) (transport.Conn, error) {
	t.mu.Lock()
	addr, ok := t.seen[adv.Address]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, adv.Address)
	}

	done := make(chan connectResult, 1)
	go func() {
		c, err := t.dial(addr, onNotify)
		done <- connectResult{conn: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		t.mu.Lock()
		t.open[res.conn.addr] = res.conn
		t.mu.Unlock()
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				_ = res.conn.disconnect()
			}
		}()
		return nil, fmt.Errorf("connect %s: %w", adv.Address, ctx.Err())
	}
}

func (t *Transport) dial(addr bluetooth.Address, onNotify func([]byte)) (*conn, error) {
	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr.String(), err)
	}

	write, notify, err := characteristics(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	if err := notify.EnableNotifications(onNotify); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}

	log.Debug().Str("address", addr.String()).Msg("link ready")
	return &conn{t: t, device: device, write: write, addr: addr.String()}, nil
}

func characteristics(device bluetooth.Device) (write, notify bluetooth.DeviceCharacteristic, err error) {
	svcUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return write, notify, fmt.Errorf("parse service uuid: %w", err)
	}
	writeUUID, err := bluetooth.ParseUUID(WriteCharUUID)
	if err != nil {
		return write, notify, fmt.Errorf("parse write uuid: %w", err)
	}
	notifyUUID, err := bluetooth.ParseUUID(NotifyCharUUID)
	if err != nil {
		return write, notify, fmt.Errorf("parse notify uuid: %w", err)
	}

	svcs, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return write, notify, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return write, notify, ErrNoService
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		return write, notify, fmt.Errorf("discover characteristics: %w", err)
	}

	var haveWrite, haveNotify bool
	for _, c := range chars {
		switch c.UUID() {
		case writeUUID:
			write, haveWrite = c, true
		case notifyUUID:
			notify, haveNotify = c, true
		}
	}
	if !haveWrite || !haveNotify {
		return write, notify, ErrNoCharacteristic
	}
	return write, notify, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.open))
	for _, c := range t.open {
		conns = append(conns, c)
	}
	t.open = make(map[string]*conn)
	t.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.disconnect())
	}
	if t.power != nil {
		t.power.stop()
	}
	return errors.Join(errs...)
}

type conn struct {
	t      *Transport
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic
	addr   string
}

func (c *conn) Address() string { return c.addr }

func (c *conn) Write(p []byte) error {
	if _, err := c.write.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("write %s: %w", c.addr, err)
	}
	return nil
}

// Disconnect closes the link without reporting it as lost.
func (c *conn) Disconnect() error {
	c.t.mu.Lock()
	delete(c.t.open, c.addr)
	c.t.mu.Unlock()
	return c.disconnect()
}

func (c *conn) disconnect() error {
	if err := c.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.addr, err)
	}
	return nil
}
