// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mdpcomp

import (
	"fmt"
	"strings"

	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
)

// Entry assigns hardware to one layer.
type Entry struct {
	LayerIndex int
	// Pipes holds the pipe of a single-region layer in slot 0, or the left
	// and right mixer pipes of a split-region layer.
	Pipes        [2]overlay.PipeID
	ZOrder       int
	IsForeground bool
	Session      *rotator.Session
}

// PipeIDs returns the valid pipes of the entry.
func (e *Entry) PipeIDs() []overlay.PipeID {
	out := make([]overlay.PipeID, 0, 2)
	for _, id := range e.Pipes {
		if id.Valid() {
			out = append(out, id)
		}
	}
	return out
}

// Plan is the layer to hardware assignment of one frame. The entry slice is
// an arena indexed by layer position and reused across frames.
type Plan struct {
	entries []Entry
}

// Reset empties the plan without releasing its storage.
func (p *Plan) Reset() {
	p.entries = p.entries[:0]
}

// size prepares one blank entry per layer.
func (p *Plan) size(n int) {
	if cap(p.entries) < n {
		p.entries = make([]Entry, n)
	}
	p.entries = p.entries[:n]
	for i := range p.entries {
		p.entries[i] = Entry{LayerIndex: i, Pipes: [2]overlay.PipeID{overlay.NoPipe, overlay.NoPipe}}
	}
}

// Count returns the number of entries.
func (p *Plan) Count() int { return len(p.entries) }

// Entries returns the entries in ascending layer order. The slice is only
// valid until the next prepare.
func (p *Plan) Entries() []Entry { return p.entries }

// Entry returns the entry of a layer.
func (p *Plan) Entry(layer int) *Entry {
	if layer < 0 || layer >= len(p.entries) {
		return nil
	}
	return &p.entries[layer]
}

// PipeIDs returns every pipe referenced by the plan.
func (p *Plan) PipeIDs() []overlay.PipeID {
	var out []overlay.PipeID
	for i := range p.entries {
		out = append(out, p.entries[i].PipeIDs()...)
	}
	return out
}

// Sessions returns the rotation sessions referenced by the plan.
func (p *Plan) Sessions() []*rotator.Session {
	var out []*rotator.Session
	for i := range p.entries {
		if s := p.entries[i].Session; s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (p *Plan) dump(sb *strings.Builder, book *overlay.PipeBook) {
	fmt.Fprintf(sb, "plan: count=%d\n", len(p.entries))
	for _, e := range p.entries {
		var names []string
		for _, id := range e.Pipes {
			if pipe, ok := book.Pipe(id); ok {
				names = append(names, pipe.String())
			} else {
				names = append(names, "-")
			}
		}
		rot := "-"
		if e.Session != nil {
			rot = fmt.Sprintf("%d", e.Session.Slot())
		}
		fmt.Fprintf(sb, "  layer=%d pipes=%s z=%d fg=%t rot=%s\n", e.LayerIndex, strings.Join(names, "/"), e.ZOrder, e.IsForeground, rot)
	}
}
