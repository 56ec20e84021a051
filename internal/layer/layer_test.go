// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package layer

import (
	"testing"

	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rgba(w, h int) *Buffer {
	return &Buffer{FD: 3, Width: w, Height: h, Format: gfx.FormatRGBA8888, Size: uint32(w * h * 4)}
}

func nv12(w, h int) *Buffer {
	return &Buffer{FD: 4, Width: w, Height: h, Format: gfx.FormatNV12, Size: uint32(w * h * 3 / 2)}
}

func TestMarkHW_EncodesPlanIndex(t *testing.T) {
	l := &Layer{Flags: FlagSkip}
	for i := 0; i <= MaxPlanIndex; i++ {
		l.MarkHW(i)
		idx, ok := l.PlanIndex()
		require.True(t, ok)
		assert.Equal(t, i, idx)
		assert.Equal(t, Overlay, l.Composition)
		assert.True(t, l.IsSkip(), "host flags preserved")
	}

	l.ClearHW()
	_, ok := l.PlanIndex()
	assert.False(t, ok)
	assert.Equal(t, Framebuffer, l.Composition)
	assert.Equal(t, FlagSkip, l.Flags)
}

func TestNeedsScaling(t *testing.T) {
	l := &Layer{Crop: gfx.R(0, 0, 100, 50), Frame: gfx.R(0, 0, 100, 50)}
	assert.False(t, l.NeedsScaling())

	l.Transform = gfx.Rot90
	assert.True(t, l.NeedsScaling())
	l.Frame = gfx.R(0, 0, 50, 100)
	assert.False(t, l.NeedsScaling())
}

func TestNeedsAlphaDownscale(t *testing.T) {
	l := &Layer{Crop: gfx.R(0, 0, 200, 200), Frame: gfx.R(0, 0, 100, 100), Buffer: rgba(200, 200)}
	assert.True(t, l.NeedsAlphaDownscale())

	l.Frame = gfx.R(0, 0, 400, 400)
	assert.False(t, l.NeedsAlphaDownscale(), "upscale is fine")

	l.Frame = gfx.R(0, 0, 100, 100)
	l.Buffer.Format = gfx.FormatRGBX8888
	assert.False(t, l.NeedsAlphaDownscale(), "no alpha plane")
}

func TestCompute(t *testing.T) {
	list := &List{Layers: []*Layer{
		{Buffer: rgba(10, 10), Crop: gfx.R(0, 0, 10, 10), Frame: gfx.R(0, 0, 10, 10)},
		{Buffer: nv12(64, 32), Transform: gfx.Rot90},
		{Buffer: rgba(10, 10), Flags: FlagSkip | FlagClosedCaption},
		{Buffer: &Buffer{Format: gfx.FormatRGB565, NonContiguous: true}},
	}}
	st := Compute(list)
	assert.Equal(t, 4, st.AppLayers)
	assert.Equal(t, []int{1}, st.VideoIndices)
	assert.Equal(t, 1, st.VideoCount())
	assert.True(t, st.NeedsRotator)
	assert.Equal(t, 1, st.SkipCount)
	assert.Equal(t, 2, st.ClosedCaption)
	assert.Equal(t, 1, st.NonContiguous)
	assert.False(t, st.NeedsAlphaScale)

	empty := Compute(nil)
	assert.Equal(t, -1, empty.ClosedCaption)
	assert.Zero(t, empty.AppLayers)
}
