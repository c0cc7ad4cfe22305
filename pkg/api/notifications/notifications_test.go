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

package notifications

import (
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendNotification_NonBlocking(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification)

	done := make(chan struct{})
	go func() {
		ConnectionState(ns, models.ConnectionStateParams{State: "connected"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("notification send blocked on unbuffered channel")
	}
}

func TestSendNotification_Payload(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	DeviceEvent(ns, models.DeviceEventParams{Link: "left", Name: "worn", Code: 0x06})

	n := <-ns
	assert.Equal(t, models.NotificationDeviceEvent, n.Method)
	assert.JSONEq(t, `{"link":"left","name":"worn","code":6,"value":0}`, string(n.Params))
}

func TestSendNotification_NilPayload(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	DeviceStatus(ns, nil)

	n := <-ns
	assert.Equal(t, models.NotificationDeviceStatus, n.Method)
	assert.Nil(t, n.Params)
}

func TestSendNotification_DropsWhenFull(t *testing.T) {
	t.Parallel()

	ns := make(chan models.Notification, 1)
	ns <- models.Notification{Method: "prefill"}

	for range 10 {
		DisplayTransfer(ns, models.DisplayTransferParams{Bytes: 10, OK: true})
	}

	msg := <-ns
	assert.Equal(t, "prefill", msg.Method)
	require.Empty(t, ns)
}

func TestSendNotification_NilChannel(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		PairsFound(nil, []string{"07"})
	})
}
