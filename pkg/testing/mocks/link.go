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
	"errors"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
)

var ErrMockWrite = errors.New("mock write failed")

// Responder returns the frames a fake device sends back for an outbound
// frame. Returning nil means the device stays silent.
type Responder func(frame []byte) [][]byte

// FakeLink records writes and replays scripted responses. Responses are
// delivered from a separate goroutine in order, as a radio stack would.
type FakeLink struct {
	respond  Responder
	deliver  func([]byte)
	writeErr error
	addr     string
	writes   [][]byte
	closed   bool
	mu       syncutil.Mutex
}

func NewFakeLink(addr string, respond Responder) *FakeLink {
	return &FakeLink{addr: addr, respond: respond}
}

// SetDeliver sets where scripted responses go, usually a correlator's
// Dispatch for the link.
func (f *FakeLink) SetDeliver(fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver = fn
}

func (f *FakeLink) SetResponder(r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = r
}

func (f *FakeLink) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *FakeLink) Address() string { return f.addr }

func (f *FakeLink) Write(p []byte) error {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	f.writes = append(f.writes, frame)
	respond, deliver := f.respond, f.deliver
	f.mu.Unlock()

	if respond == nil || deliver == nil {
		return nil
	}
	if out := respond(frame); len(out) > 0 {
		go func() {
			for _, r := range out {
				deliver(r)
			}
		}()
	}
	return nil
}

func (f *FakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Writes returns a copy of every frame written so far.
func (f *FakeLink) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesWith returns written frames whose first byte is cmd.
func (f *FakeLink) WritesWith(cmd byte) [][]byte {
	var out [][]byte
	for _, w := range f.Writes() {
		if len(w) > 0 && w[0] == cmd {
			out = append(out, w)
		}
	}
	return out
}

func (f *FakeLink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Notify pushes an unsolicited frame as if the device had sent it.
func (f *FakeLink) Notify(frame []byte) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(frame)
	}
}
