// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package overlay

import (
	"context"
	"fmt"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/gfx"
)

// Mixer selects the layer mixer a pipe feeds on a split display.
type Mixer int

const (
	MixerLeft Mixer = iota
	MixerRight
)

// Program is the configuration committed to one pipe.
type Program struct {
	Display   display.ID
	Mixer     Mixer
	Source    gfx.Whf
	Crop      gfx.Rect
	Position  gfx.Rect
	Transform gfx.Transform
	ZOrder    int
	// IsFG makes the pipe replace the stage below it instead of blending.
	IsFG       bool
	Blending   bool
	Secure     bool
	Interlaced bool
}

func (p Program) String() string {
	return fmt.Sprintf("dpy=%s z=%d crop=%s pos=%s tr=%s fg=%t",
		p.Display, p.ZOrder, p.Crop, p.Position, p.Transform, p.IsFG)
}

// Engine programs the display engine. Commit and Queue are synchronous
// kernel submissions.
type Engine interface {
	// Commit validates and applies a pipe configuration.
	Commit(ctx context.Context, pipe Pipe, p Program) error
	// Queue submits a buffer to a committed pipe.
	Queue(ctx context.Context, pipe Pipe, buf gfx.BufferRef) error
	// Unset detaches a pipe that is no longer in use.
	Unset(ctx context.Context, pipe Pipe) error
	// DisplayCommit kicks off the frame and returns its release fence,
	// which signals once the engine stops reading every queued buffer.
	DisplayCommit(ctx context.Context, dpy display.ID) (fence.Fence, error)
	// Blank stops scanout of dpy; the release fence of its last frame
	// signals.
	Blank(ctx context.Context, dpy display.ID) error
}
