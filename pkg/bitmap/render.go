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

package bitmap

import (
	"image"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Display dimensions of one arm.
const (
	DisplayWidth  = 576
	DisplayHeight = 136
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// ParseAlign maps a config value to an Align, defaulting to left.
func ParseAlign(s string) Align {
	switch strings.ToLower(s) {
	case "center", "centre":
		return AlignCenter
	case "right":
		return AlignRight
	default:
		return AlignLeft
	}
}

// Renderer rasterizes text onto a display-sized surface in the display
// colours. The font is drawn at 1x and scaled up by Scale with nearest
// neighbour sampling so pixels stay crisp.
type Renderer struct {
	Face        font.Face
	Width       int
	Height      int
	Scale       int
	LineSpacing int
	Align       Align
}

// NewRenderer returns a renderer for the display using the built-in font.
func NewRenderer(width, height, scale int, align Align) *Renderer {
	if width <= 0 {
		width = DisplayWidth
	}
	if height <= 0 {
		height = DisplayHeight
	}
	if scale <= 0 {
		scale = 1
	}
	return &Renderer{
		Face:        basicfont.Face7x13,
		Width:       width,
		Height:      height,
		Scale:       scale,
		LineSpacing: 2,
		Align:       align,
	}
}

// Render draws text, wrapping on word boundaries. Lines that do not fit
// vertically are dropped.
func (r *Renderer) Render(text string) *image.RGBA {
	canvasW := max(r.Width/r.Scale, 1)
	canvasH := max(r.Height/r.Scale, 1)

	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(Background), image.Point{}, xdraw.Src)

	metrics := r.Face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil() + r.LineSpacing

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(Foreground),
		Face: r.Face,
	}

	y := ascent
	for _, line := range r.wrap(text, canvasW) {
		if y-ascent+metrics.Height.Ceil() > canvasH {
			break
		}
		lineW := d.MeasureString(line).Ceil()
		x := 0
		switch r.Align {
		case AlignCenter:
			x = (canvasW - lineW) / 2
		case AlignRight:
			x = canvasW - lineW
		case AlignLeft:
		}
		d.Dot = fixed.P(max(x, 0), y)
		d.DrawString(line)
		y += lineHeight
	}

	if r.Scale == 1 && canvasW == r.Width && canvasH == r.Height {
		return canvas
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	xdraw.Draw(out, out.Bounds(), image.NewUniform(Background), image.Point{}, xdraw.Src)
	dst := image.Rect(0, 0, canvasW*r.Scale, canvasH*r.Scale)
	xdraw.NearestNeighbor.Scale(out, dst, canvas, canvas.Bounds(), xdraw.Src, nil)
	return out
}

func (r *Renderer) wrap(text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := words[0]
		for _, w := range words[1:] {
			candidate := current + " " + w
			if font.MeasureString(r.Face, candidate).Ceil() > width {
				lines = append(lines, current)
				current = w
				continue
			}
			current = candidate
		}
		lines = append(lines, current)
	}
	return lines
}
