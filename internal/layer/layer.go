// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package layer models the layer lists handed to the composer each frame.
// The composer only writes two things back: the composition path of a
// layer and the plan index bits in its flags.
package layer

import (
	"fmt"

	"github.com/ManuGH/ovcomp/internal/gfx"
)

// Composition is the path that renders a layer.
type Composition int

const (
	// Framebuffer layers are rendered by the GPU into the framebuffer target.
	Framebuffer Composition = iota
	// Overlay layers are scanned out by a hardware pipe.
	Overlay
)

func (c Composition) String() string {
	if c == Overlay {
		return "overlay"
	}
	return "framebuffer"
}

// Blending is the layer blend mode.
type Blending int

const (
	BlendNone Blending = iota
	BlendPremultiplied
	BlendCoverage
)

// Flags carries host hints and the composer's plan marking.
type Flags uint32

const (
	// FlagSkip asks for GPU composition of the layer.
	FlagSkip Flags = 1 << 0
	// FlagClosedCaption marks a caption layer that accompanies video on the
	// secondary display.
	FlagClosedCaption Flags = 1 << 1
	// FlagHWComposed is set on layers that a hardware plan scans out.
	FlagHWComposed Flags = 1 << 2

	indexOffset       = 4
	indexMask   Flags = 0x7 << indexOffset

	// MaxPlanIndex is the largest plan index the flag bits can carry.
	MaxPlanIndex = int(indexMask >> indexOffset)
)

// Buffer is the handle of a layer's current content.
type Buffer struct {
	FD            int        `yaml:"fd"`
	Offset        uint32     `yaml:"offset"`
	Width         int        `yaml:"width"`
	Height        int        `yaml:"height"`
	Format        gfx.Format `yaml:"format"`
	Size          uint32     `yaml:"size"`
	Secure        bool       `yaml:"secure"`
	NonContiguous bool       `yaml:"non_contiguous"`
	Interlaced    bool       `yaml:"interlaced"`
}

// Whf returns the buffer geometry.
func (b *Buffer) Whf() gfx.Whf {
	return gfx.Whf{W: b.Width, H: b.Height, Format: b.Format, Size: b.Size}
}

// Ref returns the buffer memory location.
func (b *Buffer) Ref() gfx.BufferRef {
	return gfx.BufferRef{FD: b.FD, Offset: b.Offset}
}

// Layer is one visual layer of a display's list.
type Layer struct {
	Crop      gfx.Rect
	Frame     gfx.Rect
	Transform gfx.Transform
	Blending  Blending
	Flags     Flags
	Buffer    *Buffer

	// Composition is written by the composer during prepare.
	Composition Composition
}

func (l *Layer) String() string {
	format := gfx.Format("none")
	if l.Buffer != nil {
		format = l.Buffer.Format
	}
	return fmt.Sprintf("crop=%s frame=%s tr=%s fmt=%s comp=%s", l.Crop, l.Frame, l.Transform, format, l.Composition)
}

// IsVideo reports whether the layer carries YUV content.
func (l *Layer) IsVideo() bool {
	return l.Buffer != nil && l.Buffer.Format.IsYUV()
}

// IsSkip reports whether the host asked for GPU composition.
func (l *Layer) IsSkip() bool { return l.Flags&FlagSkip != 0 }

// IsClosedCaption reports whether the layer is a caption companion.
func (l *Layer) IsClosedCaption() bool { return l.Flags&FlagClosedCaption != 0 }

// IsSecure reports whether the buffer is protected content.
func (l *Layer) IsSecure() bool { return l.Buffer != nil && l.Buffer.Secure }

// NeedsScaling reports whether the crop and frame sizes differ, taking a
// quarter turn into account.
func (l *Layer) NeedsScaling() bool {
	cw, ch := l.Crop.W(), l.Crop.H()
	if l.Transform.Needs90() {
		cw, ch = ch, cw
	}
	return cw != l.Frame.W() || ch != l.Frame.H()
}

// NeedsAlphaDownscale reports whether the layer shrinks a format with an
// alpha plane.
func (l *Layer) NeedsAlphaDownscale() bool {
	if l.Buffer == nil || !l.Buffer.Format.HasAlpha() {
		return false
	}
	cw, ch := l.Crop.W(), l.Crop.H()
	if l.Transform.Needs90() {
		cw, ch = ch, cw
	}
	return l.Frame.W() < cw || l.Frame.H() < ch
}

// MarkHW tags the layer for hardware composition with its plan index.
func (l *Layer) MarkHW(index int) {
	l.Composition = Overlay
	l.Flags = (l.Flags &^ indexMask) | FlagHWComposed | (Flags(index)<<indexOffset)&indexMask
}

// MarkOverlay tags the layer for hardware composition without a plan index.
func (l *Layer) MarkOverlay() {
	l.Composition = Overlay
}

// ClearHW removes any hardware marking.
func (l *Layer) ClearHW() {
	l.Composition = Framebuffer
	l.Flags &^= FlagHWComposed | indexMask
}

// PlanIndex returns the plan index carried in the flags.
func (l *Layer) PlanIndex() (int, bool) {
	if l.Flags&FlagHWComposed == 0 {
		return 0, false
	}
	return int((l.Flags & indexMask) >> indexOffset), true
}

// List is a display's layer list for one frame.
type List struct {
	Layers []*Layer
	// Target is the framebuffer target the GPU composes into.
	Target *Layer
}

// Len returns the number of app layers.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Layers)
}

// ResetComposition returns every layer to GPU composition.
func (l *List) ResetComposition() {
	if l == nil {
		return
	}
	for _, ly := range l.Layers {
		ly.ClearHW()
	}
}
