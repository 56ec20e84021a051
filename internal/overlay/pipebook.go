// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/rs/zerolog"
)

// PipeState is a snapshot of one pipe.
type PipeState struct {
	Pipe    Pipe
	Status  Status
	Display display.ID
}

// PipeBook tracks which pipes are in use within one config window.
//
// A window is bracketed by ConfigBegin and ConfigDone. Pipes are handed out
// by Request and BindFramebuffer and returned by Release when a plan is
// abandoned. PipeBook is not safe for concurrent use; the composer
// serializes every window.
type PipeBook struct {
	engine Engine
	logger zerolog.Logger

	pipes   []Pipe
	status  []Status
	owner   []display.ID
	lastUse []bool
}

// NewPipeBook builds the inventory. Pipes are numbered VG first, then RGB,
// then DMA, each category from index 0.
func NewPipeBook(inv Inventory, engine Engine, logger zerolog.Logger) *PipeBook {
	b := &PipeBook{engine: engine, logger: logger}
	add := func(c Category, n int) {
		for i := 0; i < n; i++ {
			b.pipes = append(b.pipes, Pipe{ID: PipeID(len(b.pipes)), Category: c, Index: i})
		}
	}
	add(VG, inv.VG)
	add(RGB, inv.RGB)
	add(DMA, inv.DMA)
	b.status = make([]Status, len(b.pipes))
	b.owner = make([]display.ID, len(b.pipes))
	b.lastUse = make([]bool, len(b.pipes))
	return b
}

// ConfigBegin opens a window: every pipe becomes free and the previous
// window's usage is remembered for ConfigDone.
func (b *PipeBook) ConfigBegin() {
	for i := range b.pipes {
		b.lastUse[i] = b.status[i] != Free
		b.status[i] = Free
	}
}

// Request reserves a pipe for dpy. The second result is false when no pipe
// of an acceptable category is free.
func (b *PipeBook) Request(dpy display.ID, pref Preference) (Pipe, bool) {
	for _, c := range pref.order() {
		if p, ok := b.claim(c, dpy, ReservedForFrame); ok {
			b.logger.Debug().
				Str("event", "pipe.reserve").
				Stringer("display", dpy).
				Stringer("pipe", p).
				Stringer("preference", pref).
				Msg("pipe reserved")
			return p, true
		}
	}
	return Pipe{ID: NoPipe}, false
}

// BindFramebuffer reserves the pipe that scans out the GPU-composed target
// of dpy. RGB is preferred, VG is the fallback.
func (b *PipeBook) BindFramebuffer(dpy display.ID) (Pipe, bool) {
	for _, c := range PreferAny.order() {
		if p, ok := b.claim(c, dpy, BoundToFramebuffer); ok {
			return p, true
		}
	}
	return Pipe{ID: NoPipe}, false
}

func (b *PipeBook) claim(c Category, dpy display.ID, st Status) (Pipe, bool) {
	for i, p := range b.pipes {
		if p.Category == c && b.status[i] == Free {
			b.status[i] = st
			b.owner[i] = dpy
			return p, true
		}
	}
	return Pipe{}, false
}

// Release returns reservations made by an abandoned attempt. Invalid ids
// are ignored.
func (b *PipeBook) Release(ids ...PipeID) {
	for _, id := range ids {
		if id.Valid() && int(id) < len(b.pipes) {
			b.status[id] = Free
		}
	}
}

// ReleaseDisplay frees every pipe held by dpy and unsets it on the engine.
func (b *PipeBook) ReleaseDisplay(ctx context.Context, dpy display.ID) error {
	var errs []error
	for i, p := range b.pipes {
		if b.owner[i] != dpy || (b.status[i] == Free && !b.lastUse[i]) {
			continue
		}
		b.status[i] = Free
		b.lastUse[i] = false
		if err := b.engine.Unset(ctx, p); err != nil {
			metrics.RecordProgramFailure("unset")
			errs = append(errs, fmt.Errorf("unset pipe %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// ConfigDone closes the window. Pipes used in the previous window that
// nobody reserved in this one are unset on the engine.
func (b *PipeBook) ConfigDone(ctx context.Context) error {
	var errs []error
	for i, p := range b.pipes {
		if b.lastUse[i] && b.status[i] == Free {
			if err := b.engine.Unset(ctx, p); err != nil {
				metrics.RecordProgramFailure("unset")
				errs = append(errs, fmt.Errorf("unset pipe %s: %w", p, err))
				continue
			}
			b.logger.Debug().Str("event", "pipe.unset").Stringer("pipe", p).Msg("pipe unset")
		}
		b.lastUse[i] = false
	}
	b.publish()
	return errors.Join(errs...)
}

func (b *PipeBook) publish() {
	var counts [numCategories][3]int
	for i, p := range b.pipes {
		counts[p.Category][b.status[i]]++
	}
	for c := Category(0); c < numCategories; c++ {
		for s := Free; s <= BoundToFramebuffer; s++ {
			metrics.SetPipes(c.String(), s.String(), counts[c][s])
		}
	}
}

// Free returns the number of free pipes in the given categories, or in all
// categories when none are given.
func (b *PipeBook) Free(cats ...Category) int {
	n := 0
	for i, p := range b.pipes {
		if b.status[i] != Free {
			continue
		}
		if len(cats) == 0 {
			n++
			continue
		}
		for _, c := range cats {
			if p.Category == c {
				n++
				break
			}
		}
	}
	return n
}

// Available returns the number of free pipes.
func (b *PipeBook) Available() int { return b.Free() }

// Reserved returns the number of pipes reserved for the current frame.
func (b *PipeBook) Reserved() int {
	n := 0
	for _, st := range b.status {
		if st == ReservedForFrame {
			n++
		}
	}
	return n
}

// DMAInUse reports whether any DMA pipe is taken in this window.
func (b *PipeBook) DMAInUse() bool {
	for i, p := range b.pipes {
		if p.Category == DMA && b.status[i] != Free {
			return true
		}
	}
	return false
}

// Pipe returns the pipe with the given id.
func (b *PipeBook) Pipe(id PipeID) (Pipe, bool) {
	if !id.Valid() || int(id) >= len(b.pipes) {
		return Pipe{ID: NoPipe}, false
	}
	return b.pipes[id], true
}

// Status returns the status of a pipe.
func (b *PipeBook) Status(id PipeID) Status {
	if !id.Valid() || int(id) >= len(b.pipes) {
		return Free
	}
	return b.status[id]
}

// Len returns the inventory size.
func (b *PipeBook) Len() int { return len(b.pipes) }

// Snapshot returns the state of every pipe.
func (b *PipeBook) Snapshot() []PipeState {
	out := make([]PipeState, len(b.pipes))
	for i, p := range b.pipes {
		out[i] = PipeState{Pipe: p, Status: b.status[i], Display: b.owner[i]}
	}
	return out
}

// Dump writes a human-readable pipe table.
func (b *PipeBook) Dump(sb *strings.Builder) {
	fmt.Fprintf(sb, "pipes: total=%d free=%d dma_in_use=%t\n", len(b.pipes), b.Free(), b.DMAInUse())
	for i, p := range b.pipes {
		if b.status[i] == Free {
			fmt.Fprintf(sb, "  %-5s free\n", p)
			continue
		}
		fmt.Fprintf(sb, "  %-5s %-11s dpy=%s\n", p, b.status[i], b.owner[i])
	}
}
