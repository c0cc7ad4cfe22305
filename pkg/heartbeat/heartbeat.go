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

// Package heartbeat keeps both links of a connected device alive.
package heartbeat

import (
	"context"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 8 * time.Second
	DefaultTimeout  = 1500 * time.Millisecond
)

// Sender is the request half of the correlator.
type Sender interface {
	Send(ctx context.Context, link protocol.Link, frame []byte, timeout time.Duration) (protocol.Response, error)
}

// Scheduler sends the heartbeat pair, Left first and Right only once Left
// has answered, on a fixed interval.
type Scheduler struct {
	sender   Sender
	clock    clockwork.Clock
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	timeout  time.Duration
	counter  uint32
	mu       syncutil.Mutex
}

// New returns a stopped scheduler. Zero durations use the defaults and a nil
// clock uses the real clock.
func New(sender Sender, clock clockwork.Clock, interval, timeout time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scheduler{
		sender:   sender,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
	}
}

func (s *Scheduler) nextSeq() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := byte(s.counter % 0xFF)
	s.counter++
	return seq
}

// Beat sends one heartbeat pair and reports whether both sides answered.
func (s *Scheduler) Beat(ctx context.Context) bool {
	frame := protocol.HeartbeatFrame(s.nextSeq())
	if !s.beatLink(ctx, protocol.Left, frame) {
		return false
	}
	return s.beatLink(ctx, protocol.Right, frame)
}

func (s *Scheduler) beatLink(ctx context.Context, link protocol.Link, frame []byte) bool {
	resp, err := s.sender.Send(ctx, link, frame, s.timeout)
	if err != nil {
		log.Debug().Err(err).Stringer("link", link).Msg("heartbeat not acknowledged")
		return false
	}
	if _, ok := resp.(protocol.HeartbeatAck); !ok {
		log.Debug().Stringer("link", link).Msgf("unexpected heartbeat response: %T", resp)
		return false
	}
	return true
}

// BeatWithRetry allows one immediate second attempt. A persistent failure
// is only logged; link loss is detected by the transport.
func (s *Scheduler) BeatWithRetry(ctx context.Context) bool {
	if s.Beat(ctx) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if s.Beat(ctx) {
		return true
	}
	log.Warn().Msg("heartbeat failed after retry")
	return false
}

// Start runs the periodic heartbeat until Stop or ctx is done. Any loop
// already running is stopped first.
func (s *Scheduler) Start(ctx context.Context, immediate bool) {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(ctx, immediate, done)
}

func (s *Scheduler) loop(ctx context.Context, immediate bool, done chan struct{}) {
	defer close(done)

	if immediate {
		s.BeatWithRetry(ctx)
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.BeatWithRetry(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
