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

// Package api is the local HTTP and WebSocket control surface. REST
// endpoints drive the engine; the WebSocket at /api streams notifications
// as JSON-RPC 2.0 notification frames.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-lens/pkg/bitmap"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/correlator"
	"github.com/ZaparooProject/zaparoo-lens/pkg/device"
	"github.com/ZaparooProject/zaparoo-lens/pkg/engine"
	"github.com/ZaparooProject/zaparoo-lens/pkg/pairing"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transfer"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	maxBodySize        = 64 << 10
	notificationBuffer = 64
	shutdownTimeout    = 5 * time.Second
)

var defaultOrigins = []string{"https://*", "http://*", "capacitor://*"}

// Engine is what the API needs from the protocol engine.
type Engine interface {
	Status() engine.Status
	Pairs() []pairing.Pair
	StartScan() error
	StopScan()
	Connect(ctx context.Context, channel string) error
	Unpair() error
	SendText(ctx context.Context, text string, align *bitmap.Align) (bool, error)
	Clear(ctx context.Context) (bool, error)
	RefreshTelemetry(ctx context.Context) error
	Render(text string, align *bitmap.Align) *image.RGBA
	Controller() (*device.Controller, error)
}

type Server struct {
	cfg     *config.Instance
	engine  Engine
	broker  *broker.Broker
	ws      *melody.Melody
	limiter *middleware.IPRateLimiter
	device  func() (deviceSettings, error)
}

func NewServer(cfg *config.Instance, eng Engine, b *broker.Broker, clock clockwork.Clock) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		broker:  b,
		ws:      melody.New(),
		limiter: middleware.NewIPRateLimiter(clock),
	}
	s.device = func() (deviceSettings, error) {
		ctrl, err := s.engine.Controller()
		if err != nil {
			return nil, err //nolint:wrapcheck // sentinel is mapped to a status
		}
		return ctrl, nil
	}

	s.ws.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.ws.HandleConnect(s.handleWSConnect)
	s.ws.HandleMessage(middleware.WebSocketRateLimitHandler(s.limiter, handleWSMessage))
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	origins := s.cfg.AllowedOrigins()
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(requestLogger)
	r.Use(middleware.HTTPIPFilterMiddleware(middleware.NewIPFilter(s.cfg.AllowedIPs())))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.APIRequestTimeout))

		r.Get("/version", handleVersion)
		r.Get("/status", s.handleStatus)
		r.Get("/pairs", s.handlePairs)
		r.Get("/preview", s.handlePreview)
		r.Get("/settings", s.handleGetSettings)

		r.Group(func(r chi.Router) {
			r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))

			r.Post("/scan", s.handleScan)
			r.Post("/scan/stop", s.handleStopScan)
			r.Post("/connect", s.handleConnect)
			r.Post("/unpair", s.handleUnpair)
			r.Post("/display/text", s.handleDisplayText)
			r.Post("/display/clear", s.handleDisplayClear)
			r.Post("/settings", s.handleSetSettings)
			r.Post("/telemetry/refresh", s.handleRefreshTelemetry)
			r.Post("/device/reboot", s.handleReboot)
		})
	})

	return r
}

// StartBroadcast forwards broker notifications to WebSocket clients until
// ctx is cancelled or the broker shuts down.
func (s *Server) StartBroadcast(ctx context.Context) {
	s.limiter.StartCleanup(ctx)

	notifs, id := s.broker.Subscribe(notificationBuffer)
	go func() {
		defer s.broker.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifs:
				if !ok {
					return
				}
				data, err := json.Marshal(models.WireNotification{
					JSONRPC: "2.0",
					Method:  n.Method,
					Params:  n.Params,
				})
				if err != nil {
					log.Error().Err(err).Msg("marshalling notification")
					continue
				}
				if err := s.ws.Broadcast(data); err != nil {
					log.Error().Err(err).Msg("broadcasting notification")
				}
			}
		}
	}()
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.StartBroadcast(ctx)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
	})
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http server: %w", err)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("api request")
	})
}

func (s *Server) handleWSConnect(session *melody.Session) {
	st := s.engine.Status()
	params := models.ConnectionStateParams{State: st.State.String()}
	if st.Device != nil {
		params.Channel = st.Device.Channel
	}
	raw, err := json.Marshal(params)
	if err != nil {
		log.Error().Err(err).Msg("marshalling connection state")
		return
	}
	data, err := json.Marshal(models.WireNotification{
		JSONRPC: "2.0",
		Method:  models.NotificationConnectionState,
		Params:  raw,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshalling connection state")
		return
	}
	if err := session.Write(data); err != nil {
		log.Debug().Err(err).Msg("writing initial state")
	}
}

func handleWSMessage(session *melody.Session, msg []byte) {
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring websocket message")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}

func statusFor(err error) int {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, validation.ErrMissingParams),
		errors.Is(err, validation.ErrInvalidParams),
		errors.Is(err, device.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotConnected),
		errors.Is(err, engine.ErrAlreadyConnected),
		errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, correlator.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrHandshake),
		errors.Is(err, correlator.ErrLinkLost),
		errors.Is(err, device.ErrRejected),
		errors.Is(err, device.ErrUnexpected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	obj := models.ErrorObject{Code: status, Message: err.Error()}
	var verr *validation.Error
	if errors.As(err, &verr) {
		obj.Data = verr.Fields
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
	}
	writeJSON(w, status, obj)
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, dest *T) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return validation.ErrInvalidParams
	}
	return validation.ValidateAndUnmarshal(body, dest)
}

func handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.VersionResponse{
		Version:  config.AppVersion,
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePairs(w http.ResponseWriter, _ *http.Request) {
	pairs := s.engine.Pairs()
	if pairs == nil {
		pairs = []pairing.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.StartScan(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Status())
}

func (s *Server) handleStopScan(w http.ResponseWriter, _ *http.Request) {
	s.engine.StopScan()
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var p models.ConnectParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.Connect(r.Context(), p.Channel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleUnpair(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Unpair(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func parseAlign(s string) *bitmap.Align {
	if s == "" {
		return nil
	}
	a := bitmap.ParseAlign(s)
	return &a
}

func writeSend(w http.ResponseWriter, ok bool, err error) {
	switch {
	case errors.Is(err, transfer.ErrQueued):
		writeJSON(w, http.StatusAccepted, models.SendResponse{Queued: true})
	case err != nil:
		writeError(w, err)
	case !ok:
		writeJSON(w, http.StatusBadGateway, models.SendResponse{OK: false})
	default:
		writeJSON(w, http.StatusOK, models.SendResponse{OK: true})
	}
}

func (s *Server) handleDisplayText(w http.ResponseWriter, r *http.Request) {
	var p models.DisplayTextParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	ok, err := s.engine.SendText(r.Context(), p.Text, parseAlign(p.Align))
	writeSend(w, ok, err)
}

func (s *Server) handleDisplayClear(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.Clear(r.Context())
	writeSend(w, ok, err)
}

// handlePreview renders text the way it would be sent, round-tripped
// through the device bitmap format.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := models.DisplayTextParams{Text: q.Get("text"), Align: q.Get("align")}
	if err := validation.DefaultValidator.Validate(&p); err != nil {
		writeError(w, err)
		return
	}

	format := q.Get("format")
	contentType := "image/png"
	switch format {
	case "", "png":
	case "bmp":
		contentType = "image/bmp"
	default:
		writeError(w, fmt.Errorf("%w: format %q", validation.ErrInvalidParams, format))
		return
	}

	frame, err := bitmap.Encode(s.engine.Render(p.Text, parseAlign(p.Align)))
	if err != nil {
		writeError(w, err)
		return
	}
	img := bitmap.Decode(frame)
	if img == nil {
		writeError(w, errors.New("preview frame did not decode"))
		return
	}

	w.Header().Set("Content-Type", contentType)
	if err := bitmap.WritePreview(w, img, format); err != nil {
		log.Error().Err(err).Msg("writing preview")
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	dev, err := s.device()
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := readSettings(r.Context(), dev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var p models.SettingsParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	dev, err := s.device()
	if err != nil {
		writeError(w, err)
		return
	}

	display := s.cfg.Display()
	if err := applySettings(r.Context(), dev, p, display.PositionHeight, display.PositionDepth); err != nil {
		writeError(w, err)
		return
	}

	if p.DisplayHeight != nil || p.DisplayDepth != nil {
		height, depth := display.PositionHeight, display.PositionDepth
		if p.DisplayHeight != nil {
			height = *p.DisplayHeight
		}
		if p.DisplayDepth != nil {
			depth = *p.DisplayDepth
		}
		s.cfg.SetDisplayPosition(height, depth)
		if err := s.cfg.Save(); err != nil {
			log.Error().Err(err).Msg("saving display position")
		}
	}

	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleRefreshTelemetry(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RefreshTelemetry(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	dev, err := s.device()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := dev.Reboot(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
