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

// Package service assembles the lens daemon: the protocol engine, its
// notification broker and every consumer hanging off it.
package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ZaparooProject/zaparoo-lens/pkg/api"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/bitmap"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/engine"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service/discovery"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service/publishers"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transfer"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	notificationQueueSize = 100
	subscriberBuffer      = 100
)

var ErrNoTransport = errors.New("no transport given")

// Deps are the collaborators a host opens before starting the service.
// Store may be nil, which disables auto-reconnect persistence.
type Deps struct {
	Transport transport.Transport
	Store     engine.Store
	Clock     clockwork.Clock
}

// EngineOptions builds engine options from the protocol and display
// sections of the config.
func EngineOptions(cfg *config.Instance, clock clockwork.Clock) engine.Options {
	proto := cfg.Protocol()
	display := cfg.Display()

	opts := engine.DefaultOptions()
	opts.Clock = clock
	opts.Renderer = bitmap.NewRenderer(
		display.Width,
		display.Height,
		display.FontScale,
		bitmap.ParseAlign(display.Align),
	)
	opts.Transfer = transfer.Config{
		PacketDelay:      proto.PacketDelay(),
		FinalizeTimeout:  proto.FinalizeTimeout(),
		FinalizeBackoff:  proto.FinalizeBackoff(),
		FinalizeAttempts: proto.FinalizeAttempts,
		ChecksumTimeout:  proto.ChecksumTimeout(),
	}
	opts.HeartbeatInterval = proto.HeartbeatInterval()
	opts.HeartbeatTimeout = proto.HeartbeatTimeout()
	opts.ProbeTimeout = proto.ProbeTimeout()
	opts.PreviewDelay = proto.PreviewDelay()
	opts.AutoReconnect = cfg.AutoReconnect()
	return opts
}

// Start brings the service up and returns a stop function plus a channel
// closed once everything has shut down.
func Start(
	cfg *config.Instance,
	deps Deps,
) (stop func() error, done <-chan struct{}, err error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	if deps.Transport == nil {
		return nil, nil, ErrNoTransport
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	ns := make(chan models.Notification, notificationQueueSize)
	notifBroker := broker.NewBroker(ctx, ns)
	notifBroker.Start()

	log.Info().Msg("starting protocol engine")
	eng := engine.New(deps.Transport, deps.Store, ns, EngineOptions(cfg, deps.Clock))
	eng.Start()

	log.Info().Msg("starting mDNS discovery service")
	discoveryService := discovery.New(cfg, deps.Clock)
	if discoveryErr := discoveryService.Start(); discoveryErr != nil {
		log.Error().Err(discoveryErr).Msg("mDNS discovery failed to start (continuing without discovery)")
	}
	followConnectionState(ctx, notifBroker, discoveryService)

	log.Info().Msg("starting API service")
	server := api.NewServer(cfg, eng, notifBroker, deps.Clock)
	apiDone := make(chan struct{})
	go func() {
		defer close(apiDone)
		if serveErr := server.Serve(ctx, cfg.APIListen()); serveErr != nil {
			log.Error().Err(serveErr).Msg("api server stopped")
		}
	}()

	log.Info().Msg("starting publishers")
	activePublishers := startPublishers(cfg, notifBroker)

	log.Info().Msg("starting config watcher")
	watcher, watchErr := watchConfig(cfg)
	if watchErr != nil {
		log.Warn().Err(watchErr).Msg("config changes will not be picked up until restart")
	}

	doneCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info().Msg("service context cancelled, running cleanup")

		if watcher != nil {
			watcher.Close()
		}
		<-apiDone
		discoveryService.Stop()
		for _, publisher := range activePublishers {
			publisher.Stop()
		}
		eng.Stop()
		notifBroker.Stop()
		<-notifBroker.Done()

		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return nil
	}
	return stop, doneCh, nil
}

// followConnectionState keeps the mDNS TXT record in step with the
// engine's connection state.
func followConnectionState(ctx context.Context, b *broker.Broker, disc *discovery.Service) {
	notifs, id := b.Subscribe(subscriberBuffer)
	go func() {
		defer b.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifs:
				if !ok {
					return
				}
				if n.Method != models.NotificationConnectionState {
					continue
				}
				var p models.ConnectionStateParams
				if err := json.Unmarshal(n.Params, &p); err != nil {
					log.Warn().Err(err).Msg("decoding connection state")
					continue
				}
				disc.SetConnection(p.State, p.Channel)
			}
		}
	}()
}

func startPublishers(cfg *config.Instance, b *broker.Broker) []*publishers.MQTTPublisher {
	activePublishers := make([]*publishers.MQTTPublisher, 0)

	for _, mqttCfg := range cfg.GetMQTTPublishers() {
		if !mqttCfg.IsEnabled() {
			continue
		}

		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, mqttCfg.Topic)

		notifs, id := b.Subscribe(subscriberBuffer)
		publisher := publishers.NewMQTTPublisher(mqttCfg.Broker, mqttCfg.Topic, mqttCfg.Filter)
		if err := publisher.Start(notifs); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
			b.Unsubscribe(id)
			continue
		}

		activePublishers = append(activePublishers, publisher)
	}

	if len(activePublishers) > 0 {
		log.Info().Msgf("started %d MQTT publisher(s)", len(activePublishers))
	}
	return activePublishers
}
