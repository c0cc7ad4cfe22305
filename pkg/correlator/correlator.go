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

// Package correlator matches inbound frames to outstanding requests. All
// table mutation, link writes, timer expiry and inbound dispatch run on a
// single goroutine so the pending table needs no locking.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout = errors.New("request timed out")
	// ErrSuperseded is returned to a waiter displaced by a newer request on
	// the same link and command. It matches ErrTimeout.
	ErrSuperseded        = fmt.Errorf("%w: superseded by newer request", ErrTimeout)
	ErrLinkLost          = errors.New("link lost")
	ErrMalformedResponse = errors.New("malformed response")
	ErrClosed            = errors.New("correlator closed")
	ErrEmptyFrame        = errors.New("empty frame")
)

// Writer is the outbound half of a link.
type Writer interface {
	Write(p []byte) error
}

// EventHandler receives unsolicited device events. It runs on the
// correlator goroutine and must not call back into the Correlator.
type EventHandler func(link protocol.Link, ev protocol.DeviceEvent)

type key struct {
	link protocol.Link
	cmd  byte
}

type result struct {
	err   error
	frame []byte
}

type waiter struct {
	ch    chan result
	timer clockwork.Timer
}

func (w *waiter) resolve(r result) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.ch <- r
}

// Correlator owns the pending request table for both links.
type Correlator struct {
	clock   clockwork.Clock
	onEvent EventHandler
	ops     chan func()
	quit    chan struct{}
	done    chan struct{}
	pending map[key]*waiter
	next    [2]*waiter
	writers [2]Writer
	up      [2]atomic.Bool
	once    sync.Once
}

// New starts the correlator goroutine. A nil clock uses the real clock.
func New(clock clockwork.Clock, onEvent EventHandler) *Correlator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Correlator{
		clock:   clock,
		onEvent: onEvent,
		ops:     make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[key]*waiter),
	}
	go c.run()
	return c
}

func (c *Correlator) run() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			c.failAll(ErrClosed)
			return
		}
	}
}

func (c *Correlator) submit(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.quit:
		return false
	}
}

// Close stops the goroutine. Outstanding requests fail with ErrClosed.
func (c *Correlator) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}

// Attach makes a link available for writes.
func (c *Correlator) Attach(link protocol.Link, w Writer) {
	c.submit(func() {
		c.writers[link] = w
		c.up[link].Store(true)
	})
}

// Detach marks a link down. Requests waiting on it fail with ErrLinkLost.
func (c *Correlator) Detach(link protocol.Link) {
	c.submit(func() {
		c.writers[link] = nil
		c.up[link].Store(false)
		for k, w := range c.pending {
			if k.link == link {
				delete(c.pending, k)
				w.resolve(result{err: ErrLinkLost})
			}
		}
		if w := c.next[link]; w != nil {
			c.next[link] = nil
			w.resolve(result{err: ErrLinkLost})
		}
	})
}

// LinkUp reports whether link is attached.
func (c *Correlator) LinkUp(link protocol.Link) bool {
	return c.up[link].Load()
}

// CancelAll resolves every outstanding request as timed out.
func (c *Correlator) CancelAll() {
	c.submit(func() { c.failAll(ErrTimeout) })
}

func (c *Correlator) failAll(err error) {
	for k, w := range c.pending {
		delete(c.pending, k)
		w.resolve(result{err: err})
	}
	for i, w := range c.next {
		if w != nil {
			c.next[i] = nil
			w.resolve(result{err: err})
		}
	}
}

// Send writes frame to link and waits for the next inbound frame carrying
// the same command byte. A request already waiting on the same link and
// command is resolved with ErrSuperseded first.
func (c *Correlator) Send(
	ctx context.Context,
	link protocol.Link,
	frame []byte,
	timeout time.Duration,
) (protocol.Response, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	k := key{link: link, cmd: frame[0]}

	return c.await(ctx, frame, link, timeout,
		func(w *waiter) {
			if old := c.pending[k]; old != nil {
				log.Debug().Stringer("link", link).Hex("cmd", frame[:1]).Msg("superseding pending request")
				old.resolve(result{err: ErrSuperseded})
			}
			c.pending[k] = w
		},
		func(w *waiter) bool {
			if c.pending[k] == w {
				delete(c.pending, k)
				return true
			}
			return false
		},
	)
}

// SendNext writes frame and waits for the next inbound frame on link that
// no keyed request claims, whatever its command byte.
func (c *Correlator) SendNext(
	ctx context.Context,
	link protocol.Link,
	frame []byte,
	timeout time.Duration,
) (protocol.Response, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	return c.await(ctx, frame, link, timeout,
		func(w *waiter) {
			if old := c.next[link]; old != nil {
				old.resolve(result{err: ErrSuperseded})
			}
			c.next[link] = w
		},
		func(w *waiter) bool {
			if c.next[link] == w {
				c.next[link] = nil
				return true
			}
			return false
		},
	)
}

// await installs a waiter via install, writes the frame and blocks. remove
// detaches the waiter if it is still installed.
func (c *Correlator) await(
	ctx context.Context,
	frame []byte,
	link protocol.Link,
	timeout time.Duration,
	install func(*waiter),
	remove func(*waiter) bool,
) (protocol.Response, error) {
	w := &waiter{ch: make(chan result, 1)}

	ok := c.submit(func() {
		writer := c.writers[link]
		if !c.up[link].Load() || writer == nil {
			w.ch <- result{err: ErrLinkLost}
			return
		}

		install(w)
		w.timer = c.clock.AfterFunc(timeout, func() {
			c.submit(func() {
				if remove(w) {
					w.ch <- result{err: ErrTimeout}
				}
			})
		})

		if err := writer.Write(frame); err != nil {
			if remove(w) {
				w.resolve(result{err: fmt.Errorf("%w: %w", ErrLinkLost, err)})
			}
		}
	})
	if !ok {
		return nil, ErrClosed
	}

	select {
	case r := <-w.ch:
		if r.err != nil {
			return nil, r.err
		}
		resp, err := protocol.Decode(r.frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return resp, nil
	case <-ctx.Done():
		c.submit(func() {
			if remove(w) {
				w.resolve(result{err: ctx.Err()})
			}
		})
		return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
	}
}

// SendWithRetry makes up to retries+1 attempts, retrying only on timeout
// and only while the link stays up.
func (c *Correlator) SendWithRetry(
	ctx context.Context,
	link protocol.Link,
	frame []byte,
	timeout time.Duration,
	retries int,
) (protocol.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if !c.LinkUp(link) {
			return nil, ErrLinkLost
		}
		resp, err := c.Send(ctx, link, frame, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		log.Debug().
			Stringer("link", link).
			Hex("cmd", frame[:1]).
			Int("attempt", attempt+1).
			Msg("request timed out")
	}
	return nil, lastErr
}

// Write sends a frame without waiting for a response.
func (c *Correlator) Write(ctx context.Context, link protocol.Link, frame []byte) error {
	errCh := make(chan error, 1)
	ok := c.submit(func() {
		writer := c.writers[link]
		if !c.up[link].Load() || writer == nil {
			errCh <- ErrLinkLost
			return
		}
		if err := writer.Write(frame); err != nil {
			errCh <- fmt.Errorf("%w: %w", ErrLinkLost, err)
			return
		}
		errCh <- nil
	})
	if !ok {
		return ErrClosed
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write cancelled: %w", ctx.Err())
	}
}

// Dispatch routes an inbound frame. It copies frame, so transports may
// reuse their buffers.
func (c *Correlator) Dispatch(link protocol.Link, frame []byte) {
	if len(frame) == 0 {
		return
	}
	data := make([]byte, len(frame))
	copy(data, frame)

	c.submit(func() { c.dispatch(link, data) })
}

func (c *Correlator) dispatch(link protocol.Link, frame []byte) {
	if frame[0] == protocol.CmdDeviceEvent {
		resp, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Stringer("link", link).Hex("frame", frame).Msg("bad device event")
			return
		}
		if ev, ok := resp.(protocol.DeviceEvent); ok && c.onEvent != nil {
			c.onEvent(link, ev)
		}
		return
	}

	k := key{link: link, cmd: frame[0]}
	if w := c.pending[k]; w != nil {
		delete(c.pending, k)
		w.resolve(result{frame: frame})
		return
	}
	if w := c.next[link]; w != nil {
		c.next[link] = nil
		w.resolve(result{frame: frame})
		return
	}

	log.Debug().Stringer("link", link).Hex("frame", frame).Msg("dropping unmatched frame")
}
