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

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func notif(method, params string) models.Notification {
	return models.Notification{Method: method, Params: []byte(params)}
}

func receive(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for notification")
	}
	return models.Notification{}
}

func startBroker(t *testing.T, source chan models.Notification) *Broker {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(ctx, source)
	b.Start()
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b
}

func TestSubscribe_IDsIncrement(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	_, id1 := b.Subscribe(1)
	_, id2 := b.Subscribe(1)
	assert.Equal(t, 0, id1)
	assert.Equal(t, 1, id2)
	assert.Len(t, b.subscribers, 2)
}

func TestUnsubscribe_ClosesOnce(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	ch, id := b.Subscribe(1)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Unsubscribe(id) })
}

func TestBroadcast_AllSubscribers(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification, 1)
	b := startBroker(t, source)

	sub1, _ := b.Subscribe(4)
	sub2, _ := b.Subscribe(4)

	source <- notif(models.NotificationDeviceEvent, `{"name":"worn"}`)

	assert.Equal(t, models.NotificationDeviceEvent, receive(t, sub1).Method)
	assert.Equal(t, models.NotificationDeviceEvent, receive(t, sub2).Method)
}

func TestBroadcast_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := startBroker(t, source)

	slow, _ := b.Subscribe(1)
	fast, _ := b.Subscribe(8)

	for range 4 {
		source <- notif(models.NotificationDisplayTransfer, `{"ok":true}`)
	}

	for range 4 {
		receive(t, fast)
	}
	// wait for the last broadcast to release the lock
	b.mu.RLock()
	b.mu.RUnlock() //nolint:staticcheck // empty critical section is a barrier
	receive(t, slow)
	select {
	case <-slow:
		assert.Fail(t, "slow subscriber should have dropped extra notifications")
	default:
	}
}

func TestSubscribe_ReplaysRetained(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := startBroker(t, source)

	first, _ := b.Subscribe(8)
	source <- notif(models.NotificationConnectionState, `{"state":"scanning"}`)
	source <- notif(models.NotificationDeviceEvent, `{"name":"worn"}`)
	source <- notif(models.NotificationConnectionState, `{"state":"connected"}`)
	for range 3 {
		receive(t, first)
	}

	late, _ := b.Subscribe(8)
	got := receive(t, late)
	assert.Equal(t, models.NotificationConnectionState, got.Method)
	assert.JSONEq(t, `{"state":"connected"}`, string(got.Params))

	select {
	case n := <-late:
		assert.Fail(t, "unexpected replay", n.Method)
	default:
	}
}

func TestSourceClosed_ClosesSubscribers(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := NewBroker(context.Background(), source)
	sub, _ := b.Subscribe(1)
	b.Start()

	close(source)
	<-b.Done()

	_, ok := <-sub
	assert.False(t, ok)
}

func TestContextCancel_ClosesSubscribers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(ctx, make(chan models.Notification))
	sub, _ := b.Subscribe(1)
	b.Start()

	cancel()
	<-b.Done()

	_, ok := <-sub
	assert.False(t, ok)
}
