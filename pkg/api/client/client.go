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

// Package client talks to a running lens service over its local API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const APIPath = "/api"

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrRequestCancelled = errors.New("request cancelled")
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Client struct {
	http *http.Client
	host string
}

// New returns a client for the service at host:port.
func New(host string, port int) *Client {
	return &Client{
		host: net.JoinHostPort(host, strconv.Itoa(port)),
		http: &http.Client{Timeout: config.APIRequestTimeout},
	}
}

// Local returns a client for the service on this machine.
func Local(cfg *config.Instance) *Client {
	return New("localhost", cfg.APIPort())
}

func (c *Client) url(scheme, path string) string {
	u := url.URL{Scheme: scheme, Host: c.host, Path: path}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url("http", path), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrRequestCancelled
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("closing response body")
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		var obj models.ErrorObject
		if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil || obj.Message == "" {
			obj.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: obj.Message}
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get decodes the JSON answer of a GET into dest.
func (c *Client) Get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

// Post sends body as JSON and decodes the answer into dest. Either may be
// nil.
func (c *Client) Post(ctx context.Context, path string, body, dest any) error {
	return c.do(ctx, http.MethodPost, path, body, dest)
}

// Running reports whether a service answers on the API port.
func (c *Client) Running(ctx context.Context) bool {
	var v models.VersionResponse
	return c.Get(ctx, "/version", &v) == nil
}

// WaitForAPI polls until the service answers or maxWait passes.
func (c *Client) WaitForAPI(ctx context.Context, maxWait, checkInterval time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if c.Running(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url("ws", APIPath), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	return conn, nil
}

// Watch calls fn with every notification until ctx is cancelled or the
// connection drops. Returning false from fn stops watching.
func (c *Client) Watch(ctx context.Context, fn func(models.WireNotification) bool) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("closing websocket")
		}
	})
	defer func() {
		if stop() {
			if closeErr := conn.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("closing websocket")
			}
		}
	}()

	for {
		_, message, readErr := conn.ReadMessage()
		if readErr != nil {
			if ctx.Err() != nil {
				return ErrRequestCancelled
			}
			return fmt.Errorf("reading notification: %w", readErr)
		}

		var n models.WireNotification
		if err := json.Unmarshal(message, &n); err != nil {
			continue
		}
		if n.JSONRPC != "2.0" {
			log.Error().Msg("invalid jsonrpc version")
			continue
		}
		if !fn(n) {
			return nil
		}
	}
}

// WaitNotification returns the params of the next notification with the
// given method. A zero timeout uses the API request timeout and a negative
// one waits until ctx is done.
func (c *Client) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	method string,
) (json.RawMessage, error) {
	switch {
	case timeout == 0:
		timeout = config.APIRequestTimeout
		fallthrough
	case timeout > 0:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var params json.RawMessage
	found := false
	err := c.Watch(ctx, func(n models.WireNotification) bool {
		if n.Method != method {
			return true
		}
		params, found = n.Params, true
		return false
	})
	switch {
	case found:
		return params, nil
	case errors.Is(err, ErrRequestCancelled) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, ErrRequestTimeout
	case err != nil:
		return nil, err
	default:
		return nil, ErrRequestTimeout
	}
}
