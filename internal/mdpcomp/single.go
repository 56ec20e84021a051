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

func singlePipesNeeded(list *layer.List) int {
	return list.Len()
}

func (s *Scheduler) singleAcquire(e *Entry, pref overlay.Preference) bool {
	id, ok := s.request(e.LayerIndex, pref)
	if !ok {
		return false
	}
	e.Pipes[0] = id
	return true
}

func (s *Scheduler) singleConfigure(ctx context.Context, e *Entry, p overlay.Program, attrs display.Attributes) error {
	p.Crop, p.Position = gfx.ClipToBounds(p.Crop, p.Position, attrs.Bounds(), p.Transform)
	p.Mixer = overlay.MixerLeft
	return s.commit(ctx, e.Pipes[0], p)
}
