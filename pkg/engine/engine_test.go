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

package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/ZaparooProject/zaparoo-lens/pkg/testing/mocks"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	leftAddr  = "AA:BB:CC:00:00:01"
	rightAddr = "AA:BB:CC:00:00:02"
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

// deviceResponder answers like a healthy arm. With heartbeats false it
// ignores heartbeat frames.
func deviceResponder(heartbeats bool) mocks.Responder {
	return func(frame []byte) [][]byte {
		switch frame[0] {
		case protocol.CmdProbe:
			return [][]byte{{protocol.CmdProbe, protocol.StatusOK}}
		case protocol.CmdHeartbeat:
			if !heartbeats {
				return nil
			}
			return [][]byte{{protocol.CmdHeartbeat, 0x06, 0x00, frame[3], 0x04, frame[3]}}
		case protocol.CmdClear:
			return [][]byte{{protocol.CmdClear, protocol.StatusOK}}
		case protocol.CmdBitmapFinalize:
			return [][]byte{{protocol.CmdBitmapFinalize, protocol.StatusOK}}
		case protocol.CmdBitmapChecksum:
			return [][]byte{{protocol.CmdBitmapChecksum, 0, 0, 0, 0, protocol.StatusConfirmed}}
		case protocol.CmdArmInfo:
			return [][]byte{{protocol.CmdArmInfo, 0x66, 77, 0x01}}
		default:
			return nil
		}
	}
}

type harness struct {
	engine *Engine
	ft     *mocks.FakeTransport
	left   *mocks.FakeLink
	right  *mocks.FakeLink
	store  *mocks.MockStore
	ns     chan models.Notification
}

func newHarness(t *testing.T, left, right mocks.Responder, tweaks ...func(*Options)) *harness {
	t.Helper()
	h := buildHarness(left, right, tweaks...)
	h.start(t)
	return h
}

// buildHarness wires an engine without starting it, so store expectations
// can be set before Start runs.
func buildHarness(left, right mocks.Responder, tweaks ...func(*Options)) *harness {

	serial := []byte("S110LABC123456")
	h := &harness{
		left:  mocks.NewFakeLink(leftAddr, left),
		right: mocks.NewFakeLink(rightAddr, right),
		store: &mocks.MockStore{},
		ns:    make(chan models.Notification, 256),
	}
	h.ft = mocks.NewFakeTransport(
		transport.Advertisement{Address: leftAddr, Name: "G1_07_L_XYZ", ManufacturerData: serial},
		transport.Advertisement{Address: rightAddr, Name: "G1_07_R_XYZ", ManufacturerData: serial},
	)
	h.ft.AddLink(h.left)
	h.ft.AddLink(h.right)

	opts := DefaultOptions()
	opts.HeartbeatInterval = time.Hour
	opts.HeartbeatTimeout = 50 * time.Millisecond
	opts.ProbeTimeout = time.Second
	opts.PreviewDelay = 0
	opts.Transfer.PacketDelay = time.Millisecond
	opts.Transfer.FinalizeTimeout = time.Second
	opts.Transfer.FinalizeBackoff = time.Millisecond
	opts.Transfer.ChecksumTimeout = time.Second
	opts.ScanOnStart = false
	for _, tweak := range tweaks {
		tweak(&opts)
	}

	h.engine = New(h.ft, h.store, h.ns, opts)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.engine.Start()
	t.Cleanup(h.engine.Stop)
}

func (h *harness) scanUntilFound(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.StartScan())
	require.Eventually(t, func() bool {
		return len(h.engine.Pairs()) == 1
	}, waitFor, tick)
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.store.On("LastConnected").Return("", false, nil).Maybe()
	h.store.On("SaveLastConnected", "07").Return(nil).Once()
	h.scanUntilFound(t)
	require.NoError(t, h.engine.Connect(context.Background(), "07"))
}

// hasNotification drains ns looking for method with params containing
// fragment.
func hasNotification(ns chan models.Notification, method, fragment string) bool {
	for {
		select {
		case n := <-ns:
			if n.Method == method && strings.Contains(string(n.Params), fragment) {
				return true
			}
		default:
			return false
		}
	}
}

func TestConnect_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	st := h.engine.Status()
	assert.Equal(t, StateConnected, st.State)
	require.NotNil(t, st.Device)
	assert.True(t, st.Device.Connected)
	assert.Equal(t, "07", st.Device.Channel)
	assert.Equal(t, "S110", st.Device.Serial.FrameCode)

	assert.Len(t, h.left.WritesWith(protocol.CmdProbe), 1)
	assert.Len(t, h.right.WritesWith(protocol.CmdProbe), 1)
	assert.Len(t, h.left.WritesWith(protocol.CmdHeartbeat), 1)
	assert.Len(t, h.right.WritesWith(protocol.CmdHeartbeat), 1)
	assert.Empty(t, h.engine.Pairs(), "connected pair is claimed")
	h.store.AssertExpectations(t)
	assert.True(t, hasNotification(h.ns, models.NotificationConnectionState, `"connected"`))
}

func TestConnect_StateSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	var states []string
	for {
		select {
		case n := <-h.ns:
			if n.Method != models.NotificationConnectionState {
				continue
			}
			var p models.ConnectionStateParams
			require.NoError(t, json.Unmarshal(n.Params, &p))
			if p.Channel == "07" {
				states = append(states, p.State)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, []string{
		"connecting",
		"awaiting_both_links_ready",
		"awaiting_heartbeat",
		"connected",
	}, states)
}

func TestConnect_HeartbeatTimeoutStaysAwaitingHeartbeat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(false), deviceResponder(true))
	h.store.On("LastConnected").Return("", false, nil).Maybe()
	h.scanUntilFound(t)

	err := h.engine.Connect(context.Background(), "07")
	require.ErrorIs(t, err, ErrHandshake)

	assert.Equal(t, StateAwaitingHeartbeat, h.engine.State())
	assert.Len(t, h.left.WritesWith(protocol.CmdHeartbeat), 2, "one attempt plus one retry")
	assert.Empty(t, h.right.WritesWith(protocol.CmdHeartbeat), "right is only tried after left acks")
	require.NotNil(t, h.engine.Status().Device)
	assert.False(t, h.engine.Status().Device.Connected)
	h.store.AssertNotCalled(t, "SaveLastConnected", mock.Anything)

	// retrying the same channel reruns only the handshake
	h.left.SetResponder(deviceResponder(true))
	h.store.On("SaveLastConnected", "07").Return(nil).Once()
	require.NoError(t, h.engine.Connect(context.Background(), "07"))
	assert.Equal(t, StateConnected, h.engine.State())
	assert.Len(t, h.left.WritesWith(protocol.CmdProbe), 2)
}

func TestConnect_ProbeFailure(t *testing.T) {
	t.Parallel()

	right := func(frame []byte) [][]byte {
		if frame[0] == protocol.CmdProbe {
			return nil
		}
		return deviceResponder(true)(frame)
	}
	h := newHarness(t, deviceResponder(true), right, func(o *Options) {
		o.ProbeTimeout = 30 * time.Millisecond
	})
	h.store.On("LastConnected").Return("", false, nil).Maybe()
	h.scanUntilFound(t)

	require.ErrorIs(t, h.engine.Connect(context.Background(), "07"), ErrHandshake)
	assert.Equal(t, StateAwaitingHeartbeat, h.engine.State())
	assert.Empty(t, h.left.WritesWith(protocol.CmdHeartbeat))
}

func TestConnect_UnknownPair(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	require.ErrorIs(t, h.engine.Connect(context.Background(), "99"), ErrUnknownPair)
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestConnect_AlreadyConnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)
	require.ErrorIs(t, h.engine.Connect(context.Background(), "07"), ErrAlreadyConnected)
}

func TestAutoReconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.store.On("LastConnected").Return("07", true, nil)
	h.store.On("SaveLastConnected", "07").Return(nil)

	require.NoError(t, h.engine.StartScan())
	require.Eventually(t, func() bool {
		return h.engine.State() == StateConnected
	}, waitFor, tick)
}

func TestStart_ReconnectsSavedDeviceWithoutScanRequest(t *testing.T) {
	t.Parallel()

	h := buildHarness(deviceResponder(true), deviceResponder(true), func(o *Options) {
		o.ScanOnStart = true
	})
	h.store.On("LastConnected").Return("07", true, nil)
	h.store.On("SaveLastConnected", "07").Return(nil)
	h.start(t)

	require.Eventually(t, func() bool {
		return h.engine.State() == StateConnected
	}, waitFor, tick)
	assert.Equal(t, 1, h.ft.Scans())
}

func TestStart_WithoutScanOnStartStaysIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	assert.Never(t, func() bool {
		return h.ft.Scans() > 0
	}, 50*time.Millisecond, tick)
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestNoAutoReconnectWithoutStoredChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.store.On("LastConnected").Return("", false, nil)

	h.scanUntilFound(t)
	assert.Never(t, func() bool {
		return h.engine.State() == StateConnected
	}, 100*time.Millisecond, tick)
	assert.Equal(t, StatePairFound, h.engine.State())
}

func TestStopScan(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.store.On("LastConnected").Return("", false, nil).Maybe()
	h.scanUntilFound(t)

	h.engine.StopScan()
	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, 1, h.ft.Scans())
}

func TestLinkLost_TearsDownAndRescans(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	h.ft.Emit(transport.Event{Address: rightAddr, Kind: transport.LinkLost})

	require.Eventually(t, func() bool {
		return h.ft.Scans() == 2
	}, waitFor, tick)
	assert.True(t, h.left.Closed())
	assert.True(t, h.right.Closed())
	assert.Nil(t, h.engine.Status().Device)

	_, err := h.engine.SendFrame(context.Background(), []byte{0x42})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestLinkLost_UnknownAddressIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	h.ft.Emit(transport.Event{Address: "11:22:33:44:55:66", Kind: transport.LinkLost})
	assert.Never(t, func() bool {
		return h.engine.State() != StateConnected
	}, 100*time.Millisecond, tick)
}

func TestPowerCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	h.ft.Emit(transport.Event{Kind: transport.PowerOff})
	require.Eventually(t, func() bool {
		return h.engine.State() == StateDisconnected
	}, waitFor, tick)
	assert.True(t, h.left.Closed())

	h.ft.Emit(transport.Event{Kind: transport.PowerOn})
	require.Eventually(t, func() bool {
		return h.ft.Scans() == 2
	}, waitFor, tick)
}

func TestUnpair(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)
	h.store.On("SetUserDisconnected", true).Return(nil).Once()

	require.NoError(t, h.engine.Unpair())
	assert.Equal(t, StateDisconnected, h.engine.State())
	assert.True(t, h.left.Closed())
	assert.True(t, h.right.Closed())
	h.store.AssertExpectations(t)

	ok, err := h.engine.Clear(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, ok)
}

func TestSendText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	ok, err := h.engine.SendText(context.Background(), "hello world", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	leftPackets := h.left.WritesWith(protocol.CmdBitmapPacket)
	require.NotEmpty(t, leftPackets)
	assert.Len(t, h.right.WritesWith(protocol.CmdBitmapPacket), len(leftPackets))
	assert.Len(t, h.left.WritesWith(protocol.CmdBitmapFinalize), 1)
	assert.Len(t, h.right.WritesWith(protocol.CmdBitmapChecksum), 1)
	assert.True(t, hasNotification(h.ns, models.NotificationDisplayTransfer, `"ok":true`))
}

func TestSendText_RestartsHeartbeatPeriod(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	h := newHarness(t, deviceResponder(true), deviceResponder(true), func(o *Options) {
		o.Clock = clock
		o.HeartbeatInterval = 8 * time.Second
	})
	h.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	ok, err := h.engine.SendText(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// 10s after connect but only 5s after the transfer started
	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool {
		return len(h.left.WritesWith(protocol.CmdHeartbeat)) > 1
	}, 100*time.Millisecond, tick)

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return len(h.left.WritesWith(protocol.CmdHeartbeat)) == 2
	}, waitFor, tick)
}

func TestClear(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	ok, err := h.engine.Clear(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{{protocol.CmdClear}}, h.left.WritesWith(protocol.CmdClear))
	assert.Equal(t, [][]byte{{protocol.CmdClear}}, h.right.WritesWith(protocol.CmdClear))
}

func TestDeviceEventUpdatesTelemetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	h.left.Notify([]byte{protocol.CmdDeviceEvent, 0x06})
	h.right.Notify([]byte{protocol.CmdDeviceEvent, 0x0F, 55})

	require.Eventually(t, func() bool {
		d := h.engine.Status().Device
		return d != nil && d.Worn && d.CaseBattery == 55
	}, waitFor, tick)
}

func TestRefreshTelemetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, deviceResponder(true), deviceResponder(true))
	h.connect(t)

	require.NoError(t, h.engine.RefreshTelemetry(context.Background()))
	d := h.engine.Status().Device
	require.NotNil(t, d)
	assert.Equal(t, 77, d.Left.Battery)
	assert.True(t, d.Right.Charging)
}
