// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gfx holds the geometry and buffer vocabulary shared by the pipe
// allocator, the rotator and the composition paths.
package gfx

import "fmt"

// Rect is an edge-addressed rectangle: Right and Bottom are exclusive.
type Rect struct {
	Left   int `yaml:"left"`
	Top    int `yaml:"top"`
	Right  int `yaml:"right"`
	Bottom int `yaml:"bottom"`
}

// R is shorthand for Rect{l, t, r, b}.
func R(l, t, r, b int) Rect {
	return Rect{Left: l, Top: t, Right: r, Bottom: b}
}

// W returns the width of the rectangle.
func (r Rect) W() int { return r.Right - r.Left }

// H returns the height of the rectangle.
func (r Rect) H() int { return r.Bottom - r.Top }

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.W() <= 0 || r.H() <= 0 }

// Within reports whether r lies entirely inside bounds.
func (r Rect) Within(bounds Rect) bool {
	return r.Left >= bounds.Left && r.Top >= bounds.Top &&
		r.Right <= bounds.Right && r.Bottom <= bounds.Bottom
}

// Translate shifts the rectangle by dx, dy.
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{Left: r.Left + dx, Top: r.Top + dy, Right: r.Right + dx, Bottom: r.Bottom + dy}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d](%dx%d)", r.Left, r.Top, r.Right, r.Bottom, r.W(), r.H())
}

// cut is the fraction of a destination edge that falls outside the scissor,
// kept as an integer ratio so the crop adjustment is exact.
type cut struct {
	num, den int
}

func (c cut) of(extent int) int {
	if c.num == 0 || c.den == 0 {
		return 0
	}
	return int(int64(extent) * int64(c.num) / int64(c.den))
}

// ClipToBounds clips dst to scissor and shrinks crop by the same proportion
// on the matching source edge. The transform decides which source edge a
// destination edge maps to: flips swap opposite edges and a 90 degree
// rotation turns the cuts anti-clockwise.
//
// When dst lies inside scissor both rectangles are returned unchanged.
func ClipToBounds(crop, dst, scissor Rect, t Transform) (Rect, Rect) {
	if dst.Within(scissor) {
		return crop, dst
	}
	cropW, cropH := crop.W(), crop.H()
	dstW, dstH := abs(dst.W()), abs(dst.H())

	var left, top, right, bottom cut
	if dst.Left < scissor.Left {
		left = cut{scissor.Left - dst.Left, dstW}
		dst.Left = scissor.Left
	}
	if dst.Right > scissor.Right {
		right = cut{dst.Right - scissor.Right, dstW}
		dst.Right = scissor.Right
	}
	if dst.Top < scissor.Top {
		top = cut{scissor.Top - dst.Top, dstH}
		dst.Top = scissor.Top
	}
	if dst.Bottom > scissor.Bottom {
		bottom = cut{dst.Bottom - scissor.Bottom, dstH}
		dst.Bottom = scissor.Bottom
	}

	if t&FlipH != 0 {
		left, right = right, left
	}
	if t&FlipV != 0 {
		top, bottom = bottom, top
	}
	if t&Rot90 != 0 {
		left, top, right, bottom = top, right, bottom, left
	}

	crop.Left += left.of(cropW)
	crop.Top += top.of(cropH)
	crop.Right -= right.of(cropW)
	crop.Bottom -= bottom.of(cropH)
	return crop, dst
}

// Half identifies one side of a split display.
type Half int

const (
	HalfLeft Half = iota
	HalfRight
)

func (h Half) String() string {
	if h == HalfRight {
		return "right"
	}
	return "left"
}

// Halves reports which halves of a display of the given width dst overlaps.
// A rectangle starting at or after the midpoint belongs to the right half
// only; one ending at or before it belongs to the left half only.
func Halves(dst Rect, width int) (left, right bool) {
	mid := width / 2
	switch {
	case dst.Left >= mid:
		return false, true
	case dst.Right <= mid:
		return true, false
	default:
		return true, true
	}
}

// HalfBounds returns the scissor for one half of a display and the x offset
// that converts display coordinates into that mixer's coordinates.
func HalfBounds(h Half, width, height int) (Rect, int) {
	mid := width / 2
	if h == HalfRight {
		return R(mid, 0, width, height), -mid
	}
	return R(0, 0, mid, height), 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
