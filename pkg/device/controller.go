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

package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-lens/pkg/correlator"
	"github.com/ZaparooProject/zaparoo-lens/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-lens/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	settingsTimeout        = 500 * time.Millisecond
	settingsRetries        = 2
	brightnessTimeout      = time.Second
	displaySettingsTimeout = time.Second
	displaySettingsRetries = 2
	displayPowerRetries    = 3
	clearTimeout           = 1500 * time.Millisecond

	// DefaultPreviewDelay is how long the placement guide stays up before
	// display settings are committed.
	DefaultPreviewDelay = 3 * time.Second
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRejected        = errors.New("device rejected command")
	ErrUnexpected      = errors.New("unexpected response")

	validate = validator.New()
)

// Requester is the part of the correlator the controller uses.
type Requester interface {
	SendWithRetry(
		ctx context.Context, link protocol.Link, frame []byte, timeout time.Duration, retries int,
	) (protocol.Response, error)
	Write(ctx context.Context, link protocol.Link, frame []byte) error
}

// Controller issues commands to a connected device and records what it
// learns in the Glasses telemetry.
type Controller struct {
	req          Requester
	glasses      *Glasses
	clock        clockwork.Clock
	previewDelay time.Duration
	seq          byte
	mu           syncutil.Mutex
}

func NewController(req Requester, glasses *Glasses, clock clockwork.Clock, previewDelay time.Duration) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if previewDelay < 0 {
		previewDelay = 0
	}
	return &Controller{
		req:          req,
		glasses:      glasses,
		clock:        clock,
		previewDelay: previewDelay,
	}
}

func checkRange(field string, value int, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return fmt.Errorf("%w: %s %d", ErrInvalidArgument, field, value)
	}
	return nil
}

// sendBoth sends frame Left then Right, stopping at the first side that
// fails or answers with something ok rejects.
func (c *Controller) sendBoth(
	ctx context.Context,
	frame []byte,
	timeout time.Duration,
	retries int,
	ok func(protocol.Response) bool,
) error {
	for _, link := range protocol.Links {
		resp, err := c.req.SendWithRetry(ctx, link, frame, timeout, retries)
		if err != nil {
			return fmt.Errorf("%s: %w", link, err)
		}
		if !ok(resp) {
			return fmt.Errorf("%w: %s answered %+v", ErrRejected, link, resp)
		}
	}
	return nil
}

func ackOK(resp protocol.Response) bool {
	ack, ok := resp.(protocol.Ack)
	return ok && ack.OK()
}

// Clear blanks the display. Right is only attempted once Left succeeds.
func (c *Controller) Clear(ctx context.Context) bool {
	if err := c.sendBoth(ctx, protocol.ClearFrame(), clearTimeout, 0, ackOK); err != nil {
		log.Warn().Err(err).Msg("clear failed")
		return false
	}
	return true
}

// Reboot asks the device to restart. No answer is expected.
func (c *Controller) Reboot(ctx context.Context) error {
	return c.req.Write(ctx, protocol.Right, protocol.RebootFrame())
}

// SetBrightness sets a manual level in [0, 42] or enables automatic mode.
func (c *Controller) SetBrightness(ctx context.Context, level int, auto bool) error {
	if err := checkRange("brightness", level, "gte=0,lte=42"); err != nil {
		return err
	}
	_, err := c.req.SendWithRetry(ctx, protocol.Right,
		protocol.SetBrightnessFrame(byte(level), auto), brightnessTimeout, 0)
	if err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}
	return nil
}

func (c *Controller) Brightness(ctx context.Context) (protocol.Brightness, error) {
	resp, err := c.req.SendWithRetry(ctx, protocol.Right,
		protocol.GetBrightnessFrame(), settingsTimeout, settingsRetries)
	if err != nil {
		return protocol.Brightness{}, fmt.Errorf("get brightness: %w", err)
	}
	b, ok := resp.(protocol.Brightness)
	if !ok {
		return protocol.Brightness{}, fmt.Errorf("%w: %T", ErrUnexpected, resp)
	}
	return b, nil
}

func (c *Controller) SetSilentMode(ctx context.Context, on bool) error {
	err := c.sendBoth(ctx, protocol.SetSilentModeFrame(on), settingsTimeout, settingsRetries, ackOK)
	if err != nil {
		return fmt.Errorf("set silent mode: %w", err)
	}
	return nil
}

// SilentMode asks both sides and prefers Right's answer.
func (c *Controller) SilentMode(ctx context.Context) (bool, error) {
	var (
		value   bool
		found   bool
		lastErr error
	)
	for _, link := range protocol.Links {
		resp, err := c.req.SendWithRetry(ctx, link, protocol.GetSilentModeFrame(), settingsTimeout, settingsRetries)
		if err != nil {
			lastErr = err
			continue
		}
		if sm, ok := resp.(protocol.SilentMode); ok {
			value, found = sm.Enabled, true
		}
	}
	if !found {
		return false, fmt.Errorf("get silent mode: %w", errors.Join(ErrUnexpected, lastErr))
	}
	return value, nil
}

func (c *Controller) SetWearDetection(ctx context.Context, on bool) error {
	err := c.sendBoth(ctx, protocol.SetWearDetectionFrame(on), settingsTimeout, settingsRetries, ackOK)
	if err != nil {
		return fmt.Errorf("set wear detection: %w", err)
	}
	return nil
}

func (c *Controller) WearDetection(ctx context.Context) (bool, error) {
	resp, err := c.req.SendWithRetry(ctx, protocol.Right,
		protocol.GetWearDetectionFrame(), settingsTimeout, settingsRetries)
	if err != nil {
		return false, fmt.Errorf("get wear detection: %w", err)
	}
	wd, ok := resp.(protocol.WearDetection)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrUnexpected, resp)
	}
	return wd.Enabled, nil
}

func (c *Controller) DisplaySettings(ctx context.Context) (protocol.DisplaySettings, error) {
	resp, err := c.req.SendWithRetry(ctx, protocol.Right,
		protocol.GetDisplaySettingsFrame(), settingsTimeout, settingsRetries)
	if err != nil {
		return protocol.DisplaySettings{}, fmt.Errorf("get display settings: %w", err)
	}
	ds, ok := resp.(protocol.DisplaySettings)
	if !ok || !ds.Valid() {
		return protocol.DisplaySettings{}, fmt.Errorf("%w: %+v", ErrUnexpected, resp)
	}
	return ds, nil
}

func (c *Controller) nextSeq() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// SetDisplaySettings shows a placement preview on both sides, waits for the
// preview delay, then commits height in [0, 8] and depth in [1, 9].
func (c *Controller) SetDisplaySettings(ctx context.Context, height, depth int) error {
	if err := checkRange("height", height, "gte=0,lte=8"); err != nil {
		return err
	}
	if err := checkRange("depth", depth, "gte=1,lte=9"); err != nil {
		return err
	}

	seq := c.nextSeq()
	for _, preview := range []bool{true, false} {
		frame := protocol.SetDisplaySettingsFrame(seq, preview, byte(height), byte(depth))
		err := c.sendBoth(ctx, frame, displaySettingsTimeout, displaySettingsRetries, func(resp protocol.Response) bool {
			ack, ok := resp.(protocol.DisplaySettingsAck)
			return ok && ack.Seq == seq && ack.OK()
		})
		if err != nil {
			return fmt.Errorf("set display settings (preview=%t): %w", preview, err)
		}

		if preview {
			select {
			case <-ctx.Done():
				return fmt.Errorf("set display settings: %w", ctx.Err())
			case <-c.clock.After(c.previewDelay):
			}
		}
	}
	return nil
}

// SetDisplayEnabled switches the display on or off, restoring the given
// position when turning on. Every frame goes out even if an earlier one
// failed, and any answer counts: only a missing reply is an error.
func (c *Controller) SetDisplayEnabled(ctx context.Context, on bool, height, depth int) error {
	if err := checkRange("height", height, "gte=0,lte=8"); err != nil {
		return err
	}
	if err := checkRange("depth", depth, "gte=1,lte=9"); err != nil {
		return err
	}

	power, dashboard, settings := protocol.DisplayPowerFrames(on, byte(height), byte(depth))
	steps := []struct {
		name  string
		frame []byte
		links []protocol.Link
	}{
		{name: "display power", frame: power, links: protocol.Links[:]},
		{name: "dashboard power", frame: dashboard, links: []protocol.Link{protocol.Right}},
		{name: "display position", frame: settings, links: protocol.Links[:]},
	}

	var errs []error
	for _, step := range steps {
		for _, link := range step.links {
			_, err := c.req.SendWithRetry(ctx, link, step.frame, settingsTimeout, displayPowerRetries)
			if err != nil && !errors.Is(err, correlator.ErrMalformedResponse) {
				errs = append(errs, fmt.Errorf("%s %s: %w", step.name, link, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("set display enabled: %w", err)
	}
	return nil
}

// ArmsInfo reads battery and charging state from both sides. A side that
// does not answer keeps its previous telemetry.
func (c *Controller) ArmsInfo(ctx context.Context) ([2]protocol.BatteryInfo, error) {
	var (
		out  [2]protocol.BatteryInfo
		errs []error
	)
	for _, link := range protocol.Links {
		resp, err := c.req.SendWithRetry(ctx, link, protocol.ArmInfoFrame(), settingsTimeout, settingsRetries)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", link, err))
			continue
		}
		info, ok := resp.(protocol.BatteryInfo)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w: %T", link, ErrUnexpected, resp))
			continue
		}
		out[link] = info
		if c.glasses != nil {
			c.glasses.SetArm(link, info)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return out, fmt.Errorf("arm info: %w", err)
	}
	return out, nil
}

// SerialNumber asks both sides and prefers Right's answer.
func (c *Controller) SerialNumber(ctx context.Context) (protocol.SerialNumber, error) {
	var (
		serial  protocol.SerialNumber
		found   bool
		lastErr error
	)
	for _, link := range protocol.Links {
		resp, err := c.req.SendWithRetry(ctx, link, protocol.SerialNumberFrame(), settingsTimeout, settingsRetries)
		if err != nil {
			lastErr = err
			continue
		}
		if sr, ok := resp.(protocol.SerialReport); ok {
			serial, found = sr.Serial, true
		}
	}
	if !found {
		return protocol.SerialNumber{}, fmt.Errorf("get serial number: %w", errors.Join(ErrUnexpected, lastErr))
	}
	if c.glasses != nil {
		c.glasses.SetSerial(serial)
	}
	return serial, nil
}
