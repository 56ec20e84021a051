// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gfx

import "fmt"

// Format is a pixel format tag.
type Format string

const (
	FormatRGBA8888 Format = "rgba8888"
	FormatRGBX8888 Format = "rgbx8888"
	FormatRGB565   Format = "rgb565"
	FormatNV12     Format = "nv12"
	FormatNV21     Format = "nv21"
	FormatNV12Tile Format = "nv12_tile"
	FormatYV12     Format = "yv12"
)

// IsYUV reports whether buffers of this format are video content and need a
// video-capable pipe.
func (f Format) IsYUV() bool {
	switch f {
	case FormatNV12, FormatNV21, FormatNV12Tile, FormatYV12:
		return true
	}
	return false
}

// HasAlpha reports whether the format carries a per-pixel alpha plane.
func (f Format) HasAlpha() bool {
	return f == FormatRGBA8888
}

// Whf is the width/height/format/size tuple describing a source buffer.
type Whf struct {
	W      int
	H      int
	Format Format
	Size   uint32
}

func (w Whf) String() string {
	return fmt.Sprintf("%dx%d %s (%d bytes)", w.W, w.H, w.Format, w.Size)
}

// Swapped returns the tuple with width and height exchanged, which is what a
// quarter-turn rotation produces.
func (w Whf) Swapped() Whf {
	w.W, w.H = w.H, w.W
	return w
}

// BufferRef locates buffer memory: a shared memory fd plus byte offset.
type BufferRef struct {
	FD     int
	Offset uint32
}

func (b BufferRef) String() string {
	return fmt.Sprintf("fd=%d+%d", b.FD, b.Offset)
}
