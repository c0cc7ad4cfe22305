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
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-lens/pkg/bitmap"
	"github.com/ZaparooProject/zaparoo-lens/pkg/config"
)

var errNoFrame = errors.New("encoded frame did not decode")

func formatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".bmp") {
		return "bmp"
	}
	return "png"
}

// RenderPreview writes text the way the glasses would show it. The image
// goes through the device frame encoding and back, so anything the codec
// loses is lost here too.
//
//nolint:gocritic // display settings are a small value copy
func RenderPreview(w io.Writer, display config.Display, text, align, format string) error {
	if align == "" {
		align = display.Align
	}
	r := bitmap.NewRenderer(display.Width, display.Height, display.FontScale, bitmap.ParseAlign(align))

	frame, err := bitmap.Encode(r.Render(text))
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	img := bitmap.Decode(frame)
	if img == nil {
		return errNoFrame
	}
	if err := bitmap.WritePreview(w, img, format); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}
