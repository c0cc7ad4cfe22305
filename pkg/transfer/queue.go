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

package transfer

import (
	"context"
	"errors"

	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// ErrQueued is returned when a frame was parked behind the transfer in
// flight. The in-flight caller sends it next and reports the combined
// result.
var ErrQueued = errors.New("frame queued behind transfer in progress")

// SendFunc performs one full transfer.
type SendFunc func(ctx context.Context, frame []byte) bool

// Queue allows one transfer at a time with a single replaceable slot for
// the next frame.
type Queue struct {
	send SendFunc
	next []byte
	busy bool
	mu   syncutil.Mutex
}

func NewQueue(send SendFunc) *Queue {
	return &Queue{send: send}
}

// Submit sends frame, or parks it when a transfer is already running. A
// parked frame replaces any frame parked before it.
func (q *Queue) Submit(ctx context.Context, frame []byte) (bool, error) {
	q.mu.Lock()
	if q.busy {
		if q.next != nil {
			log.Debug().Msg("replacing queued frame")
		}
		q.next = frame
		q.mu.Unlock()
		return false, ErrQueued
	}
	q.busy = true
	q.mu.Unlock()

	ok := true
	for {
		ok = q.send(ctx, frame) && ok

		q.mu.Lock()
		if q.next == nil || ctx.Err() != nil {
			q.next = nil
			q.busy = false
			q.mu.Unlock()
			return ok, nil
		}
		frame, q.next = q.next, nil
		q.mu.Unlock()
	}
}

// Drop discards the parked frame.
func (q *Queue) Drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next = nil
}

func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}
