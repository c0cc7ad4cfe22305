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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/bitmap"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/correlator"
	"github.com/ZaparooProject/zaparoo-lens/pkg/device"
	"github.com/ZaparooProject/zaparoo-lens/pkg/engine"
	"github.com/ZaparooProject/zaparoo-lens/pkg/pairing"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transfer"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Status() engine.Status {
	args := m.Called()
	return args.Get(0).(engine.Status) //nolint:forcetypeassert // test mock
}

func (m *mockEngine) Pairs() []pairing.Pair {
	args := m.Called()
	pairs, _ := args.Get(0).([]pairing.Pair)
	return pairs
}

func (m *mockEngine) StartScan() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockEngine) StopScan() {
	m.Called()
}

func (m *mockEngine) Connect(ctx context.Context, channel string) error {
	args := m.Called(ctx, channel)
	return args.Error(0)
}

func (m *mockEngine) Unpair() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockEngine) SendText(ctx context.Context, text string, align *bitmap.Align) (bool, error) {
	args := m.Called(ctx, text, align)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngine) Clear(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngine) RefreshTelemetry(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (*mockEngine) Render(text string, align *bitmap.Align) *image.RGBA {
	r := bitmap.NewRenderer(0, 0, 1, bitmap.AlignLeft)
	if align != nil {
		r.Align = *align
	}
	return r.Render(text)
}

func (m *mockEngine) Controller() (*device.Controller, error) {
	args := m.Called()
	ctrl, _ := args.Get(0).(*device.Controller)
	return ctrl, args.Error(1)
}

type testServer struct {
	eng    *mockEngine
	cfg    *config.Instance
	fs     afero.Fs
	broker *broker.Broker
	server *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	fs := afero.NewMemMapFs()
	cfg, err := config.NewConfig(fs, "/cfg", config.BaseDefaults)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan models.Notification, 8)
	b := broker.NewBroker(ctx, source)
	b.Start()
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})

	eng := &mockEngine{}
	eng.On("Status").Return(engine.Status{State: engine.StateIdle}).Maybe()

	return &testServer{
		eng:    eng,
		cfg:    cfg,
		fs:     fs,
		broker: b,
		server: NewServer(cfg, eng, b, clockwork.NewFakeClock()),
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle","busy":false}`, rec.Body.String())
}

func TestPairs_EmptyIsArray(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("Pairs").Return(nil)
	rec := ts.do(t, http.MethodGet, "/pairs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestVersion(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var v models.VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, config.AppVersion, v.Version)
	assert.NotEmpty(t, v.Platform)
}

func TestScan(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("StartScan").Return(nil).Once()
	ts.eng.On("StopScan").Once()

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/scan", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/scan/stop", "").Code)
	ts.eng.AssertExpectations(t)
}

func TestConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		name   string
		body   string
		status int
		call   bool
	}{
		{name: "ok", body: `{"channel":"07"}`, call: true, status: http.StatusOK},
		{name: "unknown pair", body: `{"channel":"07"}`, call: true, err: engine.ErrUnknownPair, status: http.StatusNotFound},
		{name: "already connected", body: `{"channel":"07"}`, call: true, err: engine.ErrAlreadyConnected, status: http.StatusConflict},
		{name: "handshake", body: `{"channel":"07"}`, call: true, err: engine.ErrHandshake, status: http.StatusBadGateway},
		{name: "invalid channel", body: `{"channel":"07_L"}`, status: http.StatusBadRequest},
		{name: "missing body", status: http.StatusBadRequest},
		{name: "bad json", body: `{"channel":`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t)
			if tt.call {
				ts.eng.On("Connect", mock.Anything, "07").Return(tt.err).Once()
			}
			rec := ts.do(t, http.MethodPost, "/connect", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			ts.eng.AssertExpectations(t)
		})
	}
}

func TestConnect_ValidationDetails(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/connect", `{"channel":"07_L"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var obj struct {
		Message string `json:"message"`
		Data    []struct {
			Field string `json:"field"`
			Tag   string `json:"tag"`
		} `json:"data"`
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &obj))
	assert.Equal(t, http.StatusBadRequest, obj.Code)
	require.Len(t, obj.Data, 1)
	assert.Equal(t, "channel", obj.Data[0].Field)
	assert.Equal(t, "channel", obj.Data[0].Tag)
}

func TestUnpair(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("Unpair").Return(nil).Once()
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/unpair", "").Code)
	ts.eng.AssertExpectations(t)
}

func TestDisplayText(t *testing.T) {
	t.Parallel()

	center := bitmap.AlignCenter
	tests := []struct {
		err    error
		align  *bitmap.Align
		name   string
		body   string
		want   string
		status int
		ok     bool
	}{
		{name: "sent", body: `{"text":"hello"}`, ok: true, status: http.StatusOK, want: `{"ok":true}`},
		{name: "aligned", body: `{"text":"hello","align":"center"}`, align: &center, ok: true, status: http.StatusOK, want: `{"ok":true}`},
		{name: "queued", body: `{"text":"hello"}`, err: transfer.ErrQueued, status: http.StatusAccepted, want: `{"ok":false,"queued":true}`},
		{name: "failed", body: `{"text":"hello"}`, status: http.StatusBadGateway, want: `{"ok":false}`},
		{name: "not connected", body: `{"text":"hello"}`, err: engine.ErrNotConnected, status: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t)
			ts.eng.On("SendText", mock.Anything, "hello", tt.align).Return(tt.ok, tt.err).Once()

			rec := ts.do(t, http.MethodPost, "/display/text", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, rec.Body.String())
			}
			ts.eng.AssertExpectations(t)
		})
	}
}

func TestDisplayText_ControlCharactersRejected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/display/text", `{"text":"bad\u0007"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.eng.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisplayClear(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("Clear", mock.Anything).Return(true, nil).Once()
	rec := ts.do(t, http.MethodPost, "/display/clear", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestPreview(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/preview?text=hello&align=right", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, bitmap.DisplayWidth, bitmap.DisplayHeight), img.Bounds())

	rec = ts.do(t, http.MethodGet, "/preview?text=hello&format=bmp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/bmp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "BM", rec.Body.String()[:2])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/preview?text=hello&format=gif", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/preview", "").Code)
}

func TestSettings_NotConnected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("Controller").Return(nil, engine.ErrNotConnected)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodGet, "/settings", "").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/settings", `{"silentMode":true}`).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/device/reboot", "").Code)
}

func TestSettings_ApplyPersistsDisplayPosition(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	dev := &fakeDevice{}
	ts.server.device = func() (deviceSettings, error) { return dev, nil }

	rec := ts.do(t, http.MethodPost, "/settings", `{"displayHeight":2,"silentMode":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"silent:true", "display:2,5"}, dev.Calls())

	reloaded, err := config.NewConfig(ts.fs, "/cfg", config.BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Display().PositionHeight)
	assert.Equal(t, 5, reloaded.Display().PositionDepth)
}

func TestSettings_Read(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	dev := &fakeDevice{}
	ts.server.device = func() (deviceSettings, error) { return dev, nil }

	rec := ts.do(t, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"brightness": 20, "autoBrightness": true, "silentMode": false,
		"wearDetection": true, "displayHeight": 3, "displayDepth": 6
	}`, rec.Body.String())
}

func TestSettings_OutOfRange(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/settings", `{"brightness":50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReboot(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	dev := &fakeDevice{}
	ts.server.device = func() (deviceSettings, error) { return dev, nil }

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/device/reboot", "").Code)
	assert.Equal(t, []string{"reboot"}, dev.Calls())
}

func TestRefreshTelemetry_Timeout(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("RefreshTelemetry", mock.Anything).Return(correlator.ErrTimeout).Once()
	assert.Equal(t, http.StatusGatewayTimeout, ts.do(t, http.MethodPost, "/telemetry/refresh", "").Code)
}

func TestRateLimitOnControlEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.eng.On("StopScan")
	router := ts.server.Router()

	codes := make(map[int]int)
	for range middleware.BurstSize + 1 {
		req := httptest.NewRequest(http.MethodPost, "/scan/stop", http.NoBody)
		req.RemoteAddr = "192.168.1.20:1000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	assert.Equal(t, middleware.BurstSize, codes[http.StatusOK])
	assert.Equal(t, 1, codes[http.StatusTooManyRequests])

	// reads are not limited
	for range middleware.BurstSize + 1 {
		req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
		req.RemoteAddr = "192.168.1.20:1000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.server.StartBroadcast(ctx)

	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var wire models.WireNotification
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, models.NotificationConnectionState, wire.Method)
	assert.JSONEq(t, `{"state":"idle"}`, string(wire.Params))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, statusFor(device.ErrInvalidArgument))
	assert.Equal(t, http.StatusConflict, statusFor(engine.ErrInvalidTransition))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(correlator.ErrSuperseded))
	assert.Equal(t, http.StatusBadGateway, statusFor(correlator.ErrLinkLost))
	assert.Equal(t, http.StatusBadGateway, statusFor(device.ErrRejected))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
