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

// Package bitmap converts rendered images to and from the 1-bit BMP layout
// the display accepts.
package bitmap

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
)

const (
	fileHeaderSize = 14
	infoHeaderSize = 40
	paletteSize    = 8
	// HeaderSize is the offset of the pixel data in every encoded frame.
	HeaderSize = fileHeaderSize + infoHeaderSize + paletteSize

	pixelsPerMeter = 2835

	offPixelOffset = 10
	offWidth       = 18
	offHeight      = 22
	offBitCount    = 28
	offPalette     = fileHeaderSize + infoHeaderSize
)

var (
	ErrEmptyImage = errors.New("image has no pixels")

	// Foreground is the colour lit pixels decode to.
	Foreground = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	// Background is the colour unlit pixels decode to.
	Background = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Frame is an encoded 1-bpp bitmap as sent to the device.
type Frame []byte

// Stride is the padded byte width of one pixel row.
func Stride(width int) int {
	return ((width + 31) / 32) * 4
}

// EncodedSize is the total frame length for the given dimensions.
func EncodedSize(width, height int) int {
	return HeaderSize + Stride(width)*height
}

// IsForeground classifies a pixel by its closeness to the display colour.
func IsForeground(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return g>>8 > 150 && r>>8 < 100 && b>>8 < 100
}

// Encode packs img into a frame. A set bit is background: the device lights
// pixels whose bit is clear. Rows are written bottom-up.
func Encode(img image.Image) (Frame, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyImage
	}

	stride := Stride(width)
	imageSize := stride * height
	frame := make(Frame, HeaderSize+imageSize)

	frame[0], frame[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(frame[2:], uint32(len(frame)))
	binary.LittleEndian.PutUint32(frame[offPixelOffset:], HeaderSize)

	info := frame[fileHeaderSize:]
	binary.LittleEndian.PutUint32(info[0:], infoHeaderSize)
	binary.LittleEndian.PutUint32(info[4:], uint32(int32(width)))
	binary.LittleEndian.PutUint32(info[8:], uint32(int32(height)))
	binary.LittleEndian.PutUint16(info[12:], 1)
	binary.LittleEndian.PutUint16(info[14:], 1)
	binary.LittleEndian.PutUint32(info[20:], uint32(imageSize))
	binary.LittleEndian.PutUint32(info[24:], pixelsPerMeter)
	binary.LittleEndian.PutUint32(info[28:], pixelsPerMeter)
	binary.LittleEndian.PutUint32(info[32:], 2)

	// palette entries are B, G, R, reserved: background then foreground
	palette := frame[offPalette:]
	palette[5] = 0xFF

	pixels := frame[HeaderSize:]
	for y := range height {
		row := pixels[(height-1-y)*stride:]
		for x := range width {
			if !IsForeground(img.At(bounds.Min.X+x, bounds.Min.Y+y)) {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
	}

	return frame, nil
}

// Decode expands a frame back into an RGBA image. It returns nil for any
// frame that is truncated, not a BMP or not 1 bpp.
func Decode(frame Frame) *image.RGBA {
	if len(frame) <= HeaderSize || frame[0] != 'B' || frame[1] != 'M' {
		return nil
	}
	if binary.LittleEndian.Uint16(frame[offBitCount:]) != 1 {
		return nil
	}

	width := int(int32(binary.LittleEndian.Uint32(frame[offWidth:])))
	height := int(int32(binary.LittleEndian.Uint32(frame[offHeight:])))
	offset := int(binary.LittleEndian.Uint32(frame[offPixelOffset:]))
	if width <= 0 || height <= 0 || offset < HeaderSize {
		return nil
	}

	stride := Stride(width)
	if offset > len(frame) || stride*height > len(frame)-offset {
		return nil
	}

	// a clear bit selects the foreground entry at palette index 1
	colors := [2]color.RGBA{paletteEntry(frame, 1), paletteEntry(frame, 0)}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pixels := frame[offset:]
	for y := range height {
		row := pixels[(height-1-y)*stride:]
		for x := range width {
			bit := (row[x/8] >> (7 - x%8)) & 1
			img.SetRGBA(x, y, colors[bit])
		}
	}

	return img
}

func paletteEntry(frame Frame, index int) color.RGBA {
	p := frame[offPalette+index*4:]
	return color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
}
