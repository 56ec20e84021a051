// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gfx

import (
	"fmt"
	"strings"
)

// Transform is a layer orientation bit set.
type Transform uint32

const (
	FlipH  Transform = 1 << 0
	FlipV  Transform = 1 << 1
	Rot90  Transform = 1 << 2
	Rot180           = FlipH | FlipV
	Rot270           = Rot180 | Rot90
)

// Needs90 reports whether the transform includes a quarter turn, which the
// composition engine cannot perform without a dedicated rotation pass.
func (t Transform) Needs90() bool { return t&Rot90 != 0 }

func (t Transform) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	if t&FlipH != 0 {
		parts = append(parts, "flip_h")
	}
	if t&FlipV != 0 {
		parts = append(parts, "flip_v")
	}
	if t&Rot90 != 0 {
		parts = append(parts, "rot_90")
	}
	return strings.Join(parts, "|")
}

// Orient maps r, given in the coordinates of a w x h source, into the
// coordinates of the buffer produced by applying t to that source. Flips
// are applied first, then the quarter turn clockwise.
func Orient(r Rect, w, h int, t Transform) Rect {
	if t&FlipH != 0 {
		r.Left, r.Right = w-r.Right, w-r.Left
	}
	if t&FlipV != 0 {
		r.Top, r.Bottom = h-r.Bottom, h-r.Top
	}
	if t&Rot90 != 0 {
		r = Rect{Left: h - r.Bottom, Top: r.Left, Right: h - r.Top, Bottom: r.Right}
	}
	return r
}

// ParseTransform reads the names produced by String, joined by "|". The
// shorthands rot_180 and rot_270 are accepted as well.
func ParseTransform(s string) (Transform, error) {
	var t Transform
	for _, part := range strings.Split(s, "|") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "", "none":
		case "flip_h":
			t |= FlipH
		case "flip_v":
			t |= FlipV
		case "rot_90":
			t |= Rot90
		case "rot_180":
			t |= Rot180
		case "rot_270":
			t |= Rot270
		default:
			return 0, fmt.Errorf("unknown transform %q", part)
		}
	}
	return t, nil
}
