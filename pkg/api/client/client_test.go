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

package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/olahol/melody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return New(u.Hostname(), port)
}

func unusedPort(t *testing.T) int {
	t.Helper()
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
	require.NoError(t, listener.Close())
	return port
}

func notification(t *testing.T, method, params string) []byte {
	t.Helper()
	data, err := json.Marshal(models.WireNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  json.RawMessage(params),
	})
	require.NoError(t, err)
	return data
}

// wsServer pushes frames to every client right after it connects.
func wsServer(t *testing.T, frames ...[]byte) *httptest.Server {
	t.Helper()
	m := melody.New()
	m.HandleConnect(func(s *melody.Session) {
		for _, f := range frames {
			_ = s.Write(f)
		}
	})
	mux := http.NewServeMux()
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		_ = m.HandleRequest(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = m.Close()
		server.Close()
	})
	return server
}

func TestPost_DecodesResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/display/text", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p models.DisplayTextParams
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "hello", p.Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var resp models.SendResponse
	err := clientFor(t, server).Post(context.Background(), "/display/text",
		models.DisplayTextParams{Text: "hello"}, &resp)
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestPost_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":409,"message":"device not connected"}`))
	}))
	defer server.Close()

	err := clientFor(t, server).Post(context.Background(), "/display/clear", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "device not connected", apiErr.Message)
}

func TestPost_APIErrorWithoutBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := clientFor(t, server).Post(context.Background(), "/scan", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Too Many Requests", apiErr.Message)
}

func TestPost_NoContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var resp models.SendResponse
	require.NoError(t, clientFor(t, server).Post(context.Background(), "/device/reboot", nil, &resp))
}

func TestRunning(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"1.0.0","platform":"linux/amd64"}`))
	}))
	defer server.Close()

	assert.True(t, clientFor(t, server).Running(context.Background()))
	assert.False(t, New("127.0.0.1", unusedPort(t)).Running(context.Background()))
}

func TestWaitForAPI_GivesUp(t *testing.T) {
	t.Parallel()

	c := New("127.0.0.1", unusedPort(t))
	start := time.Now()
	assert.False(t, c.WaitForAPI(context.Background(), 150*time.Millisecond, 20*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitNotification(t *testing.T) {
	t.Parallel()

	server := wsServer(t,
		[]byte("not json"),
		[]byte(`{"jsonrpc":"1.0","method":"device.status"}`),
		notification(t, models.NotificationConnectionState, `{"state":"scanning"}`),
		notification(t, models.NotificationDeviceStatus, `{"channel":"07"}`),
	)

	params, err := clientFor(t, server).WaitNotification(
		context.Background(), time.Second, models.NotificationDeviceStatus)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"07"}`, string(params))
}

func TestWaitNotification_Timeout(t *testing.T) {
	t.Parallel()

	server := wsServer(t, notification(t, models.NotificationConnectionState, `{"state":"idle"}`))

	_, err := clientFor(t, server).WaitNotification(
		context.Background(), 100*time.Millisecond, models.NotificationDeviceStatus)
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestWaitNotification_Cancelled(t *testing.T) {
	t.Parallel()

	server := wsServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := clientFor(t, server).WaitNotification(ctx, -1, models.NotificationDeviceStatus)
	require.ErrorIs(t, err, ErrRequestCancelled)
}

func TestWatch_NoServer(t *testing.T) {
	t.Parallel()

	err := New("127.0.0.1", unusedPort(t)).Watch(context.Background(), func(models.WireNotification) bool {
		return true
	})
	require.Error(t, err)
}
