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

// Package engine owns a device connection end to end: scanning, the
// connection handshake, liveness, display transfers and teardown. A host
// creates one Engine and passes it to its collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/notifications"
	"github.com/ZaparooProject/zaparoo-lens/pkg/bitmap"
	"github.com/ZaparooProject/zaparoo-lens/pkg/correlator"
	"github.com/ZaparooProject/zaparoo-lens/pkg/device"
	"github.com/ZaparooProject/zaparoo-lens/pkg/heartbeat"
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/pairing"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transfer"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultProbeTimeout = 2 * time.Second

var (
	ErrNotConnected     = errors.New("device not connected")
	ErrAlreadyConnected = errors.New("device already connected")
	ErrUnknownPair      = errors.New("no discovered pair for channel")
	ErrHandshake        = errors.New("connection handshake failed")
)

// Store persists what auto-reconnect needs between runs.
type Store interface {
	// LastConnected returns the channel to reconnect to; ok is false when
	// there is none or the user unpaired it.
	LastConnected() (channel string, ok bool, err error)
	SaveLastConnected(channel string) error
	SetUserDisconnected(disconnected bool) error
}

type Options struct {
	Clock             clockwork.Clock
	Renderer          *bitmap.Renderer
	Transfer          transfer.Config
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ProbeTimeout      time.Duration
	PreviewDelay      time.Duration
	AutoReconnect     bool
	// ScanOnStart makes Start begin discovery at once, so a saved device
	// reconnects without any client asking for a scan.
	ScanOnStart       bool
}

func DefaultOptions() Options {
	return Options{
		Transfer:          transfer.DefaultConfig(),
		HeartbeatInterval: heartbeat.DefaultInterval,
		HeartbeatTimeout:  heartbeat.DefaultTimeout,
		ProbeTimeout:      DefaultProbeTimeout,
		PreviewDelay:      device.DefaultPreviewDelay,
		AutoReconnect:     true,
		ScanOnStart:       true,
	}
}

// Status is a snapshot for API consumers. Device is nil when no device is
// attached.
type Status struct {
	Device *device.Status `json:"device,omitempty"`
	State  State          `json:"state"`
	Busy   bool           `json:"busy"`
}

type Engine struct {
	ctx        context.Context
	transport  transport.Transport
	store      Store
	clock      clockwork.Clock
	corr       *correlator.Correlator
	hb         *heartbeat.Scheduler
	queue      *transfer.Queue
	discovery  *pairing.Discovery
	ns         chan<- models.Notification
	cancel     context.CancelFunc
	connCtx    context.Context
	connCancel context.CancelFunc
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	glasses    *device.Glasses
	ctrl       *device.Controller
	conns      [2]transport.Conn
	opts       Options
	wg         sync.WaitGroup
	state      stateMachine
	connectMu  syncutil.Mutex
	mu         syncutil.Mutex
}

// New creates an idle engine. store and ns may be nil.
func New(t transport.Transport, store Store, ns chan<- models.Notification, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Renderer == nil {
		opts.Renderer = bitmap.NewRenderer(bitmap.DisplayWidth, bitmap.DisplayHeight, 1, bitmap.AlignLeft)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	e := &Engine{
		transport: t,
		store:     store,
		clock:     opts.Clock,
		discovery: pairing.New(),
		ns:        ns,
		opts:      opts,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.corr = correlator.New(opts.Clock, e.onDeviceEvent)
	e.hb = heartbeat.New(e.corr, opts.Clock, opts.HeartbeatInterval, opts.HeartbeatTimeout)
	e.queue = transfer.NewQueue(e.transferFrame)
	return e
}

// Start begins watching transport events. With ScanOnStart it also starts
// a scan; if the radio is still off the scan fails and the next power-on
// event starts it again.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.watch()
	if e.opts.ScanOnStart {
		e.restartScan()
	}
}

// Stop tears down any connection and stops all engine goroutines.
func (e *Engine) Stop() {
	e.cancel()
	e.stopScan()
	e.wg.Wait()
	e.teardown()
	e.corr.Close()
}

func (e *Engine) notifyState(channel string) {
	notifications.ConnectionState(e.ns, models.ConnectionStateParams{
		State:   e.state.Get().String(),
		Channel: channel,
	})
}

func (e *Engine) onDeviceEvent(link protocol.Link, ev protocol.DeviceEvent) {
	e.mu.Lock()
	g := e.glasses
	e.mu.Unlock()
	if g == nil {
		return
	}
	if !g.HandleEvent(link, ev) {
		return
	}
	notifications.DeviceEvent(e.ns, models.DeviceEventParams{
		Link:  link.String(),
		Name:  device.EventName(ev.Code),
		Code:  ev.Code,
		Value: ev.Value,
	})
}

// StartScan begins pair discovery. Found pairs are announced, and the last
// connected device is reconnected unless the user unpaired it.
func (e *Engine) StartScan() error {
	e.mu.Lock()
	if e.scanCancel != nil {
		select {
		case <-e.scanDone:
			e.scanCancel()
			e.scanCancel, e.scanDone = nil, nil
		default:
			e.mu.Unlock()
			return nil
		}
	}

	if cur := e.state.Get(); cur != StateScanning && !e.state.Set(StateScanning) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur, StateScanning)
	}

	e.discovery.Reset()
	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	e.scanCancel, e.scanDone = cancel, done
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(done)
		log.Info().Msg("scanning for devices")
		if err := e.transport.Scan(ctx, e.onAdvertisement); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scan failed")
		}
	}()

	e.notifyState("")
	return nil
}

func (e *Engine) stopScan() {
	e.mu.Lock()
	cancel, done := e.scanCancel, e.scanDone
	e.scanCancel, e.scanDone = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// StopScan ends discovery. A scanning engine returns to idle.
func (e *Engine) StopScan() {
	e.stopScan()
	if e.state.Advance(StateScanning, StateIdle) || e.state.Advance(StatePairFound, StateIdle) {
		e.notifyState("")
	}
}

func (e *Engine) onAdvertisement(adv transport.Advertisement) {
	p, ok := e.discovery.Observe(adv)
	if !ok {
		return
	}

	if e.state.Advance(StateScanning, StatePairFound) {
		e.notifyState("")
	}
	notifications.PairsFound(e.ns, e.discovery.Pairs())

	if !e.shouldReconnect(p.Channel) {
		return
	}
	log.Info().Str("channel", p.Channel).Msg("rediscovered last device, reconnecting")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Connect(e.ctx, p.Channel); err != nil {
			log.Warn().Err(err).Str("channel", p.Channel).Msg("auto reconnect failed")
		}
	}()
}

func (e *Engine) shouldReconnect(channel string) bool {
	if !e.opts.AutoReconnect || e.store == nil {
		return false
	}
	last, ok, err := e.store.LastConnected()
	if err != nil {
		log.Warn().Err(err).Msg("error reading last connected device")
		return false
	}
	return ok && last == channel
}

func (e *Engine) currentChannel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.glasses == nil {
		return ""
	}
	return e.glasses.Channel()
}

// Connect opens both links of a discovered pair and runs the handshake.
// When the handshake fails the engine stays in AwaitingHeartbeat with the
// links open; calling Connect again for the same channel retries only the
// handshake.
func (e *Engine) Connect(ctx context.Context, channel string) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	switch e.state.Get() {
	case StateConnected:
		return ErrAlreadyConnected
	case StateAwaitingHeartbeat:
		if e.currentChannel() == channel {
			return e.handshake(ctx, channel)
		}
		e.teardown()
	}

	p, ok := e.discovery.Lookup(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPair, channel)
	}
	e.stopScan()
	e.discovery.Claim(channel)

	if cur := e.state.Get(); !e.state.Set(StateConnecting) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur, StateConnecting)
	}
	e.notifyState(channel)
	log.Info().Str("channel", channel).Stringer("serial", p.Serial).Msg("connecting to device")

	connCtx, cancel := context.WithCancel(e.ctx)
	g := device.NewGlasses(p, func(s device.Status) {
		notifications.DeviceStatus(e.ns, s)
	})
	e.mu.Lock()
	e.glasses = g
	e.connCtx, e.connCancel = connCtx, cancel
	e.mu.Unlock()

	conns, err := e.openLinks(ctx, p)
	if err != nil {
		e.teardown()
		return fmt.Errorf("open links: %w", err)
	}

	e.mu.Lock()
	if connCtx.Err() != nil {
		e.mu.Unlock()
		closeConns(conns)
		return fmt.Errorf("%w: torn down while opening links", ErrNotConnected)
	}
	e.conns = conns
	e.ctrl = device.NewController(e.corr, g, e.clock, e.opts.PreviewDelay)
	e.mu.Unlock()

	for _, link := range protocol.Links {
		e.corr.Attach(link, conns[link])
	}
	if !e.state.Advance(StateAwaitingBothLinksReady, StateAwaitingHeartbeat) {
		cur := e.state.Get()
		e.teardown()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur, StateAwaitingHeartbeat)
	}
	e.notifyState(channel)

	return e.handshake(ctx, channel)
}

// openLinks connects both sides concurrently and moves to
// AwaitingBothLinksReady once the first side is up. If either fails, any
// side that did open is closed again.
func (e *Engine) openLinks(ctx context.Context, p pairing.Pair) ([2]transport.Conn, error) {
	var conns [2]transport.Conn
	adverts := [2]transport.Advertisement{p.Left, p.Right}

	g, gctx := errgroup.WithContext(ctx)
	for _, link := range protocol.Links {
		g.Go(func() error {
			conn, err := e.transport.Connect(gctx, adverts[link], func(frame []byte) {
				e.corr.Dispatch(link, frame)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", link, err)
			}
			conns[link] = conn
			log.Debug().Stringer("link", link).Str("address", conn.Address()).Msg("link ready")
			// the first side to finish waits here for the other
			if e.state.Advance(StateConnecting, StateAwaitingBothLinksReady) {
				e.notifyState(p.Channel)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeConns(conns)
		return [2]transport.Conn{}, err
	}
	return conns, nil
}

func closeConns(conns [2]transport.Conn) {
	for link, c := range conns {
		if c == nil {
			continue
		}
		if err := c.Disconnect(); err != nil {
			log.Warn().Err(err).Stringer("link", protocol.Link(link)).Msg("error closing link")
		}
	}
}

// handshake probes both sides, then requires the initial heartbeat to be
// acknowledged before declaring the device connected.
func (e *Engine) handshake(ctx context.Context, channel string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, link := range protocol.Links {
		g.Go(func() error {
			resp, err := e.corr.Send(gctx, link, protocol.ProbeFrame(), e.opts.ProbeTimeout)
			if err != nil {
				return fmt.Errorf("%s probe: %w", link, err)
			}
			if _, ok := resp.(protocol.ProbeAck); !ok {
				return fmt.Errorf("%s probe: unexpected %T", link, resp)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("probe not acknowledged")
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if !e.hb.BeatWithRetry(ctx) {
		return fmt.Errorf("%w: initial heartbeat not acknowledged", ErrHandshake)
	}

	if !e.state.Advance(StateAwaitingHeartbeat, StateConnected) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.state.Get(), StateConnected)
	}

	e.mu.Lock()
	glasses, connCtx := e.glasses, e.connCtx
	e.mu.Unlock()
	if glasses == nil || connCtx == nil {
		return ErrNotConnected
	}

	glasses.SetConnected(true)
	e.hb.Start(connCtx, false)
	if e.store != nil {
		if err := e.store.SaveLastConnected(channel); err != nil {
			log.Warn().Err(err).Msg("error saving last connected device")
		}
	}

	log.Info().Str("channel", channel).Msg("device connected")
	e.notifyState(channel)
	return nil
}

// teardown stops the heartbeat, times out pending requests, abandons any
// transfer, closes both links and resets telemetry.
func (e *Engine) teardown() {
	e.hb.Stop()
	e.corr.CancelAll()
	for _, link := range protocol.Links {
		e.corr.Detach(link)
	}
	e.queue.Drop()

	e.mu.Lock()
	if e.connCancel != nil {
		e.connCancel()
	}
	conns, g := e.conns, e.glasses
	e.conns = [2]transport.Conn{}
	e.glasses, e.ctrl = nil, nil
	e.connCtx, e.connCancel = nil, nil
	e.mu.Unlock()

	closeConns(conns)

	channel := ""
	if g != nil {
		channel = g.Channel()
		g.Reset()
	}

	switch e.state.Get() {
	case StateIdle, StateScanning, StatePairFound, StateDisconnected:
	default:
		if e.state.Set(StateDisconnected) {
			log.Info().Str("channel", channel).Msg("device disconnected")
			e.notifyState(channel)
		}
	}
}

// Unpair disconnects and stops the device being reconnected automatically.
func (e *Engine) Unpair() error {
	e.teardown()
	if e.store == nil {
		return nil
	}
	if err := e.store.SetUserDisconnected(true); err != nil {
		return fmt.Errorf("failed to save unpair: %w", err)
	}
	return nil
}

func (e *Engine) watch() {
	defer e.wg.Done()
	events := e.transport.Events()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleTransportEvent(ev)
		}
	}
}

func (e *Engine) ownsAddress(addr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		if c != nil && c.Address() == addr {
			return true
		}
	}
	return false
}

func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.LinkLost:
		if !e.ownsAddress(ev.Address) {
			log.Debug().Str("address", ev.Address).Msg("ignoring link loss for unknown address")
			return
		}
		log.Warn().Str("address", ev.Address).Msg("link lost")
		e.teardown()
		e.restartScan()
	case transport.PowerOff:
		log.Warn().Msg("radio powered off")
		e.StopScan()
		e.teardown()
	case transport.PowerOn:
		log.Info().Msg("radio powered on")
		e.restartScan()
	}
}

func (e *Engine) restartScan() {
	if e.ctx.Err() != nil {
		return
	}
	if err := e.StartScan(); err != nil {
		log.Warn().Err(err).Msg("could not restart scan")
	}
}

func (e *Engine) connected() (context.Context, *device.Controller, error) {
	if e.state.Get() != StateConnected {
		return nil, nil, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connCtx == nil || e.ctrl == nil {
		return nil, nil, ErrNotConnected
	}
	return e.connCtx, e.ctrl, nil
}

// Controller returns the settings controller of the connected device.
func (e *Engine) Controller() (*device.Controller, error) {
	_, ctrl, err := e.connected()
	return ctrl, err
}

// transferFrame restarts the heartbeat period before sending so no beat
// lands at the start of the bulk phase.
func (e *Engine) transferFrame(ctx context.Context, frame []byte) bool {
	e.mu.Lock()
	connCtx := e.connCtx
	e.mu.Unlock()
	if connCtx != nil && connCtx.Err() == nil {
		e.hb.Start(connCtx, false)
	}

	ok := transfer.NewSession(e.corr, e.opts.Transfer, e.clock).Send(ctx, frame)
	notifications.DisplayTransfer(e.ns, models.DisplayTransferParams{Bytes: len(frame), OK: ok})
	return ok
}

// SendFrame pushes an encoded frame to both sides. If a transfer is already
// running the frame replaces any queued one and transfer.ErrQueued is
// returned. A disconnect abandons the transfer.
func (e *Engine) SendFrame(ctx context.Context, frame bitmap.Frame) (bool, error) {
	connCtx, _, err := e.connected()
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, cancel)
	defer stop()

	ok, err := e.queue.Submit(ctx, frame)
	if err != nil {
		return false, fmt.Errorf("submit frame: %w", err)
	}
	return ok, nil
}

// Render rasterizes text with the configured renderer. A non-nil align
// overrides the renderer's alignment.
func (e *Engine) Render(text string, align *bitmap.Align) *image.RGBA {
	r := *e.opts.Renderer
	if align != nil {
		r.Align = *align
	}
	return r.Render(text)
}

// SendText renders, encodes and sends text.
func (e *Engine) SendText(ctx context.Context, text string, align *bitmap.Align) (bool, error) {
	frame, err := bitmap.Encode(e.Render(text, align))
	if err != nil {
		return false, fmt.Errorf("encode text: %w", err)
	}
	return e.SendFrame(ctx, frame)
}

// Clear blanks the display.
func (e *Engine) Clear(ctx context.Context) (bool, error) {
	_, ctrl, err := e.connected()
	if err != nil {
		return false, err
	}
	return ctrl.Clear(ctx), nil
}

// RefreshTelemetry reads battery state from both sides.
func (e *Engine) RefreshTelemetry(ctx context.Context) error {
	_, ctrl, err := e.connected()
	if err != nil {
		return err
	}
	if _, err := ctrl.ArmsInfo(ctx); err != nil {
		return fmt.Errorf("refresh telemetry: %w", err)
	}
	return nil
}

func (e *Engine) State() State {
	return e.state.Get()
}

func (e *Engine) Status() Status {
	st := Status{State: e.state.Get(), Busy: e.queue.Busy()}
	e.mu.Lock()
	g := e.glasses
	e.mu.Unlock()
	if g != nil {
		s := g.Snapshot()
		st.Device = &s
	}
	return st
}

// Pairs lists discovered pairs not yet connected to.
func (e *Engine) Pairs() []pairing.Pair {
	return e.discovery.Pairs()
}
