// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gfx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClipToBounds(t *testing.T) {
	panel := R(0, 0, 1080, 1920)

	tests := []struct {
		name      string
		crop      Rect
		dst       Rect
		transform Transform
		wantCrop  Rect
		wantDst   Rect
	}{
		{
			name:     "inside bounds is untouched",
			crop:     R(0, 0, 600, 500),
			dst:      R(10, 10, 610, 510),
			wantCrop: R(0, 0, 600, 500),
			wantDst:  R(10, 10, 610, 510),
		},
		{
			name:     "left overhang at 1:1",
			crop:     R(0, 0, 600, 500),
			dst:      R(-100, 0, 500, 500),
			wantCrop: R(100, 0, 600, 500),
			wantDst:  R(0, 0, 500, 500),
		},
		{
			name:     "left overhang at 2:1 downscale",
			crop:     R(0, 0, 1200, 1000),
			dst:      R(-100, 0, 500, 500),
			wantCrop: R(200, 0, 1200, 1000),
			wantDst:  R(0, 0, 500, 500),
		},
		{
			name:     "right and bottom overhang",
			crop:     R(0, 0, 400, 400),
			dst:      R(880, 1720, 1280, 2120),
			wantCrop: R(0, 0, 200, 200),
			wantDst:  R(880, 1720, 1080, 1920),
		},
		{
			name:      "horizontal flip moves the cut to the right source edge",
			crop:      R(0, 0, 600, 500),
			dst:       R(-100, 0, 500, 500),
			transform: FlipH,
			wantCrop:  R(0, 0, 500, 500),
			wantDst:   R(0, 0, 500, 500),
		},
		{
			name:      "quarter turn maps a left cut onto the bottom source edge",
			crop:      R(0, 0, 500, 600),
			dst:       R(-100, 0, 500, 500),
			transform: Rot90,
			wantCrop:  R(0, 0, 500, 500),
			wantDst:   R(0, 0, 500, 500),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop, dst := ClipToBounds(tt.crop, tt.dst, panel, tt.transform)
			assert.Equal(t, tt.wantCrop, crop)
			assert.Equal(t, tt.wantDst, dst)
			assert.True(t, dst.Within(panel), "position %s escapes panel", dst)
		})
	}
}

func TestClipToBounds_ProportionalShrink(t *testing.T) {
	panel := R(0, 0, 1080, 1920)
	crop, dst := ClipToBounds(R(0, 0, 600, 500), R(-100, 0, 500, 500), panel, 0)

	// 100 of 600 destination pixels are cut, so a sixth of the crop goes.
	assert.Equal(t, 500, dst.W())
	assert.Equal(t, 500, crop.W())
	assert.Equal(t, float64(dst.W())/600, float64(crop.W())/600)
}

func TestHalves(t *testing.T) {
	const width = 2160

	left, right := Halves(R(0, 0, 1000, 500), width)
	assert.True(t, left)
	assert.False(t, right)

	left, right = Halves(R(1000, 0, 1200, 500), width)
	assert.True(t, left)
	assert.True(t, right)

	left, right = Halves(R(1080, 0, 2160, 500), width)
	assert.False(t, left)
	assert.True(t, right)

	left, right = Halves(R(0, 0, 1080, 500), width)
	assert.True(t, left)
	assert.False(t, right)
}

func TestHalfBounds(t *testing.T) {
	b, dx := HalfBounds(HalfLeft, 2160, 1440)
	assert.Equal(t, R(0, 0, 1080, 1440), b)
	assert.Equal(t, 0, dx)

	b, dx = HalfBounds(HalfRight, 2160, 1440)
	assert.Equal(t, R(1080, 0, 2160, 1440), b)
	assert.Equal(t, -1080, dx)
}

func TestTransform(t *testing.T) {
	assert.False(t, Rot180.Needs90())
	assert.True(t, Rot270.Needs90())
	assert.True(t, Rot90.Needs90())
	assert.Equal(t, "flip_h|flip_v", Rot180.String())
	assert.Equal(t, "none", Transform(0).String())
}

func TestOrient(t *testing.T) {
	crop := R(0, 0, 10, 20)
	assert.Equal(t, crop, Orient(crop, 100, 50, 0))
	assert.Equal(t, R(90, 0, 100, 20), Orient(crop, 100, 50, FlipH))
	assert.Equal(t, R(0, 30, 10, 50), Orient(crop, 100, 50, FlipV))
	assert.Equal(t, R(30, 0, 50, 10), Orient(crop, 100, 50, Rot90))
	assert.Equal(t, R(0, 90, 20, 100), Orient(crop, 100, 50, Rot270))

	wide := R(0, 0, 100, 50)
	assert.Equal(t, R(100, 0, 200, 50), Orient(wide, 200, 100, FlipH))
	assert.Equal(t, R(50, 0, 100, 100), Orient(wide, 200, 100, Rot90))
}
