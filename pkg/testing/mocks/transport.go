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

package mocks

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
)

// FakeTransport advertises a fixed set of devices and hands out FakeLinks
// keyed by address.
type FakeTransport struct {
	links   map[string]*FakeLink
	events  chan transport.Event
	adverts []transport.Advertisement
	scans   int
	mu      syncutil.Mutex
}

func NewFakeTransport(adverts ...transport.Advertisement) *FakeTransport {
	return &FakeTransport{
		adverts: adverts,
		links:   make(map[string]*FakeLink),
		events:  make(chan transport.Event, 8),
	}
}

// AddLink registers the link returned when adv with the same address is
// connected.
func (f *FakeTransport) AddLink(l *FakeLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[l.Address()] = l
}

func (f *FakeTransport) Scan(ctx context.Context, found func(transport.Advertisement)) error {
	f.mu.Lock()
	f.scans++
	adverts := append([]transport.Advertisement(nil), f.adverts...)
	f.mu.Unlock()

	for _, adv := range adverts {
		if ctx.Err() != nil {
			return nil
		}
		found(adv)
	}
	<-ctx.Done()
	return nil
}

// Scans counts how many times Scan was started.
func (f *FakeTransport) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *FakeTransport) Connect(
	_ context.Context,
	adv transport.Advertisement,
	onNotify func([]byte),
) (transport.Conn, error) {
	f.mu.Lock()
	l, ok := f.links[adv.Address]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fake link for %s", adv.Address)
	}
	l.SetDeliver(onNotify)
	return l, nil
}

// Emit injects a transport event.
func (f *FakeTransport) Emit(ev transport.Event) {
	f.events <- ev
}

func (f *FakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (*FakeTransport) Close() error { return nil }
