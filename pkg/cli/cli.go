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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-lens/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/client"
	"github.com/ZaparooProject/zaparoo-lens/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrMissingValue = errors.New("flag requires a value")

type Flags struct {
	Version *bool
	Status  *bool
	Scan    *bool
	Connect *string
	Unpair  *bool
	Text    *string
	Clear   *bool
	Watch   *bool
	Render  *string
	Out     *string
	Align   *string
	Format  *string
	passed  map[string]bool
}

// SetupFlags defines the flags shared by every lens command.
func SetupFlags() *Flags {
	return &Flags{
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
		Status: flag.Bool(
			"status",
			false,
			"print the connection status of the running service",
		),
		Scan: flag.Bool(
			"scan",
			false,
			"scan for glasses and print the first pairs found",
		),
		Connect: flag.String(
			"connect",
			"",
			"connect to the discovered pair with this channel",
		),
		Unpair: flag.Bool(
			"unpair",
			false,
			"disconnect and forget the current glasses",
		),
		Text: flag.String(
			"text",
			"",
			"show text on the connected glasses",
		),
		Clear: flag.Bool(
			"clear",
			false,
			"blank the display",
		),
		Watch: flag.Bool(
			"watch",
			false,
			"print service notifications until interrupted",
		),
		Render: flag.String(
			"render",
			"",
			"render text to an image file without a device",
		),
		Out: flag.String(
			"out",
			"preview.png",
			"output file for -render",
		),
		Align: flag.String(
			"align",
			"",
			"text alignment: left, center or right",
		),
		Format: flag.String(
			"format",
			"",
			"image format for -render: png or bmp (default from -out)",
		),
	}
}

// Pre parses flags and handles the ones that need no environment.
func (f *Flags) Pre() {
	flag.Parse()

	f.passed = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) {
		f.passed[fl.Name] = true
	})

	if *f.Version {
		_, _ = fmt.Printf("Zaparoo Lens v%s\n", config.AppVersion)
		os.Exit(0)
	}
}

// Post handles every remaining flag that acts on its own, then exits. It
// returns when no such flag was given.
func (f *Flags) Post(cfg *config.Instance) {
	if f.passed["render"] {
		if err := f.render(cfg); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error rendering: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	handled, err := f.dispatch(ctx, client.Local(cfg), os.Stdout)
	stop()
	if !handled {
		return
	}
	if err != nil && !errors.Is(err, client.ErrRequestCancelled) {
		log.Error().Err(err).Msg("error calling API")
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func (f *Flags) render(cfg *config.Instance) error {
	if *f.Render == "" {
		return fmt.Errorf("render: %w", ErrMissingValue)
	}
	format := *f.Format
	if format == "" {
		format = formatFromPath(*f.Out)
	}

	//nolint:gosec // path comes from the user's own command line
	out, err := os.Create(*f.Out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *f.Out, err)
	}
	if err := RenderPreview(out, cfg.Display(), *f.Render, *f.Align, format); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", *f.Out, err)
	}
	_, _ = fmt.Fprintf(os.Stderr, "Preview written to %s\n", *f.Out)
	return nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// dispatch runs the first client flag that was given against the service.
func (f *Flags) dispatch(ctx context.Context, c *client.Client, out io.Writer) (bool, error) {
	switch {
	case *f.Status:
		var st json.RawMessage
		if err := c.Get(ctx, "/status", &st); err != nil {
			return true, err
		}
		return true, printJSON(out, st)
	case *f.Scan:
		if err := c.Post(ctx, "/scan", nil, nil); err != nil {
			return true, err
		}
		pairs, err := c.WaitNotification(ctx, -1, models.NotificationPairsFound)
		if err != nil {
			return true, err
		}
		return true, printJSON(out, pairs)
	case f.passed["connect"]:
		if *f.Connect == "" {
			return true, fmt.Errorf("connect: %w", ErrMissingValue)
		}
		var st json.RawMessage
		if err := c.Post(ctx, "/connect", models.ConnectParams{Channel: *f.Connect}, &st); err != nil {
			return true, err
		}
		return true, printJSON(out, st)
	case *f.Unpair:
		return true, c.Post(ctx, "/unpair", nil, nil)
	case f.passed["text"]:
		if *f.Text == "" {
			return true, fmt.Errorf("text: %w", ErrMissingValue)
		}
		var resp models.SendResponse
		err := c.Post(ctx, "/display/text", models.DisplayTextParams{Text: *f.Text, Align: *f.Align}, &resp)
		if err != nil {
			return true, err
		}
		return true, printJSON(out, resp)
	case *f.Clear:
		var resp models.SendResponse
		if err := c.Post(ctx, "/display/clear", nil, &resp); err != nil {
			return true, err
		}
		return true, printJSON(out, resp)
	case *f.Watch:
		return true, c.Watch(ctx, func(n models.WireNotification) bool {
			_, _ = fmt.Fprintf(out, "%s %s\n", n.Method, n.Params)
			return true
		})
	}
	return false, nil
}

// Setup initializes logging, the user config and error reporting.
func Setup(configDir string, defaultConfig config.Values, writers []io.Writer) *config.Instance {
	err := helpers.InitLogging(helpers.LogDir(), false, writers...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), configDir, defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())

	reporting := cfg.ErrorReporting()
	if err := telemetry.Init(telemetry.Options{
		DSN:        reporting.DSN,
		InstallID:  cfg.InstallID(),
		AppVersion: config.AppVersion,
		Enabled:    reporting.Enabled,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg
}
