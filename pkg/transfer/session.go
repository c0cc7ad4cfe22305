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

// Package transfer pushes bitmap frames to both arms: bulk packets first,
// then a finalize and checksum handshake per arm.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/correlator"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrEmptyFrame = errors.New("frame has no data")

// Requester is the part of the correlator a transfer uses.
type Requester interface {
	Send(ctx context.Context, link protocol.Link, frame []byte, timeout time.Duration) (protocol.Response, error)
	Write(ctx context.Context, link protocol.Link, frame []byte) error
}

// Config controls pacing and the finalize retry policy.
type Config struct {
	PacketDelay      time.Duration
	FinalizeTimeout  time.Duration
	FinalizeBackoff  time.Duration
	ChecksumTimeout  time.Duration
	FinalizeAttempts int
}

func DefaultConfig() Config {
	return Config{
		PacketDelay:      8 * time.Millisecond,
		FinalizeTimeout:  5 * time.Second,
		FinalizeBackoff:  time.Second,
		ChecksumTimeout:  5 * time.Second,
		FinalizeAttempts: 10,
	}
}

// Session is a single bitmap push. It is not reusable after Send.
type Session struct {
	req    Requester
	clock  clockwork.Clock
	logger zerolog.Logger
	cfg    Config
}

func NewSession(req Requester, cfg Config, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.FinalizeAttempts <= 0 {
		cfg.FinalizeAttempts = 1
	}
	return &Session{
		req:    req,
		cfg:    cfg,
		clock:  clock,
		logger: log.With().Str("transfer", uuid.New().String()[:8]).Logger(),
	}
}

// Send reports true only when both arms confirmed the finalize and the
// checksum. There is no partial resume; callers resend the whole frame.
func (s *Session) Send(ctx context.Context, frame []byte) bool {
	err := s.send(ctx, frame)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bitmap transfer failed")
		return false
	}
	s.logger.Info().Int("bytes", len(frame)).Msg("bitmap transfer complete")
	return true
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	packets := protocol.BitmapPackets(frame)
	if len(packets) == 0 {
		return ErrEmptyFrame
	}
	s.logger.Debug().Int("bytes", len(frame)).Int("packets", len(packets)).Msg("starting bitmap transfer")

	bulk, bulkCtx := errgroup.WithContext(ctx)
	for _, link := range protocol.Links {
		bulk.Go(func() error { return s.bulk(bulkCtx, link, packets) })
	}
	if err := bulk.Wait(); err != nil {
		return fmt.Errorf("bulk transfer: %w", err)
	}

	crc := protocol.BitmapChecksum(frame)

	// each arm completes independently so a slow side cannot cancel the other
	var confirm errgroup.Group
	var errs [2]error
	for _, link := range protocol.Links {
		confirm.Go(func() error {
			errs[link] = s.confirm(ctx, link, crc)
			return nil
		})
	}
	_ = confirm.Wait()

	return errors.Join(errs[:]...)
}

func (s *Session) bulk(ctx context.Context, link protocol.Link, packets [][]byte) error {
	limit := rate.Inf
	if s.cfg.PacketDelay > 0 {
		limit = rate.Every(s.cfg.PacketDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, pkt := range packets {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s packet %d: %w", link, i, err)
		}
		if err := s.req.Write(ctx, link, pkt); err != nil {
			return fmt.Errorf("%s packet %d: %w", link, i, err)
		}
	}
	s.logger.Debug().Stringer("link", link).Int("packets", len(packets)).Msg("bulk packets written")
	return nil
}

func (s *Session) confirm(ctx context.Context, link protocol.Link, crc uint32) error {
	if err := s.finalize(ctx, link); err != nil {
		return err
	}

	resp, err := s.req.Send(ctx, link, protocol.ChecksumFrame(crc), s.cfg.ChecksumTimeout)
	if err != nil {
		return fmt.Errorf("%s checksum: %w", link, err)
	}
	ack, ok := resp.(protocol.ChecksumAck)
	if !ok || !ack.OK() {
		return fmt.Errorf("%s checksum rejected: %+v", link, resp)
	}
	s.logger.Debug().Stringer("link", link).Msg("checksum confirmed")
	return nil
}

// finalize retries only on timeout, sleeping the backoff between attempts.
func (s *Session) finalize(ctx context.Context, link protocol.Link) error {
	for attempt := 1; ; attempt++ {
		resp, err := s.req.Send(ctx, link, protocol.FinalizeFrame(), s.cfg.FinalizeTimeout)
		if err == nil {
			if ack, ok := resp.(protocol.Ack); ok && ack.OK() {
				return nil
			}
			return fmt.Errorf("%s finalize rejected: %+v", link, resp)
		}
		if !errors.Is(err, correlator.ErrTimeout) {
			return fmt.Errorf("%s finalize: %w", link, err)
		}
		if attempt >= s.cfg.FinalizeAttempts {
			return fmt.Errorf("%s finalize: %d attempts: %w", link, attempt, err)
		}

		s.logger.Debug().Stringer("link", link).Int("attempt", attempt).Msg("finalize timed out, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s finalize: %w", link, ctx.Err())
		case <-s.clock.After(s.cfg.FinalizeBackoff):
		}
	}
}
