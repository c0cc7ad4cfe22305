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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/client"
	"github.com/ZaparooProject/zaparoo-lens/pkg/cli"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-lens/pkg/service"
	"github.com/ZaparooProject/zaparoo-lens/pkg/store"
	"github.com/ZaparooProject/zaparoo-lens/pkg/transport/ble"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()

	daemonMode := flag.Bool(
		"daemon",
		false,
		"run the service in the foreground",
	)
	configDir := flag.String(
		"config",
		helpers.ConfigDir(),
		"directory holding config.toml",
	)

	flags.Pre()

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg := cli.Setup(*configDir, config.BaseDefaults, logWriters)
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	flags.Post(cfg)

	if !*daemonMode {
		flag.Usage()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	running := client.Local(cfg).Running(ctx)
	cancel()
	if running {
		return errors.New("a lens service is already running")
	}

	if err := os.MkdirAll(helpers.DataDir(), 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(helpers.DataDir())
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error closing store")
		}
	}()

	radio, err := ble.New()
	if err != nil {
		return fmt.Errorf("error starting bluetooth: %w", err)
	}
	defer func() {
		if closeErr := radio.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("error closing bluetooth")
		}
	}()

	stopSvc, done, err := service.Start(cfg, service.Deps{Transport: radio, Store: st})
	if err != nil {
		log.Error().Msgf("error starting service: %s", err)
		return fmt.Errorf("error starting service: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	log.Info().Msg("started in daemon mode")
	select {
	case <-sigs:
	case <-done:
		log.Info().Msg("service shut down internally")
	}

	if err := stopSvc(); err != nil {
		log.Error().Msgf("error stopping service: %s", err)
		return fmt.Errorf("error stopping service: %w", err)
	}
	return nil
}
