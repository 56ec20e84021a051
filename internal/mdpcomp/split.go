// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mdpcomp

import (
	"context"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/layer"
	"github.com/ManuGH/ovcomp/internal/overlay"
)

// PipesForFrame returns how many pipes a destination rectangle needs on a
// split display of the given width.
func PipesForFrame(frame gfx.Rect, width int) int {
	left, right := gfx.Halves(frame, width)
	n := 0
	if left {
		n++
	}
	if right {
		n++
	}
	return n
}

func splitPipesNeeded(list *layer.List, width int) int {
	n := 0
	for _, l := range list.Layers {
		n += PipesForFrame(l.Frame, width)
	}
	return n
}

func (s *Scheduler) splitAcquire(e *Entry, l *layer.Layer, pref overlay.Preference) bool {
	left, right := gfx.Halves(l.Frame, s.width)
	if left {
		id, ok := s.request(e.LayerIndex, pref)
		if !ok {
			return false
		}
		e.Pipes[gfx.HalfLeft] = id
	}
	if right {
		id, ok := s.request(e.LayerIndex, pref)
		if !ok {
			return false
		}
		e.Pipes[gfx.HalfRight] = id
	}
	return true
}

// splitConfigure programs one pipe per half. Each half is clipped to its
// mixer and shifted into that mixer's coordinates.
func (s *Scheduler) splitConfigure(ctx context.Context, e *Entry, p overlay.Program, attrs display.Attributes) error {
	for _, h := range []gfx.Half{gfx.HalfLeft, gfx.HalfRight} {
		id := e.Pipes[h]
		if !id.Valid() {
			continue
		}
		scissor, dx := gfx.HalfBounds(h, attrs.Width, attrs.Height)
		hp := p
		hp.Crop, hp.Position = gfx.ClipToBounds(p.Crop, p.Position, scissor, p.Transform)
		hp.Position = hp.Position.Translate(dx, 0)
		hp.Mixer = overlay.Mixer(h)
		if err := s.commit(ctx, id, hp); err != nil {
			return err
		}
	}
	return nil
}
