// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rotator

import (
	"context"
	"fmt"

	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/metrics"
)

// Session is one pool slot: a device rotation session plus its current
// scratch ring. Sessions are keyed by acquisition order within a frame, not
// by layer.
type Session struct {
	pool *Pool
	slot int

	id      int
	started bool
	setup   Setup

	cur        *ring
	lastQueued int
	remaps     int
}

func newSession(p *Pool, slot int) *Session {
	return &Session{pool: p, slot: slot, lastQueued: -1}
}

// Slot returns the pool slot of the session.
func (s *Session) Slot() int { return s.slot }

// Remaps returns how often the scratch ring was replaced because the source
// size changed.
func (s *Session) Remaps() int { return s.remaps }

// Output describes the buffer the session produces: the source with width
// and height exchanged for a quarter turn.
func (s *Session) Output() gfx.Whf {
	if s.setup.Transform.Needs90() {
		return s.setup.Source.Swapped()
	}
	return s.setup.Source
}

// Configure starts a device session for the given source. An unchanged
// setup keeps the running session.
func (s *Session) Configure(ctx context.Context, src gfx.Whf, t gfx.Transform, secure bool) error {
	setup := Setup{Source: src, Transform: t, Secure: secure}
	if s.started && s.setup == setup {
		return nil
	}
	s.end(ctx)
	id, err := s.pool.dev.Start(ctx, setup)
	if err != nil {
		metrics.RecordProgramFailure("rotate")
		return fmt.Errorf("start rotator session %d: %w: %v", s.slot, fault.ErrHardwareProgram, err)
	}
	s.id, s.started, s.setup = id, true, setup
	return nil
}

// Queue rotates src into the next scratch slot and returns where the result
// lives. A source size change remaps the ring first; the previous ring is
// retired and closed only once every fence recorded on it has signaled.
// Before a slot is overwritten, the fence recorded on it is waited on; an
// expired wait is logged and the slot is reused anyway.
func (s *Session) Queue(ctx context.Context, src gfx.BufferRef) (gfx.BufferRef, error) {
	if !s.started {
		return gfx.BufferRef{}, fmt.Errorf("queue on unconfigured rotator session %d: %w", s.slot, fault.ErrConfiguration)
	}
	if size := s.setup.Source.Size; s.cur == nil || s.cur.bufSize != size {
		if err := s.remap(ctx, size); err != nil {
			return gfx.BufferRef{}, err
		}
	}

	r := s.cur
	slot := r.next
	if f := r.fences[slot]; f != nil {
		s.waitFence(ctx, f, "slot", slot)
		_ = f.Close()
		r.fences[slot] = nil
	}

	dst := r.ref(slot)
	r.next = (slot + 1) % ringSlots
	if err := s.pool.dev.Rotate(ctx, s.id, src, dst); err != nil {
		metrics.RecordProgramFailure("rotate")
		return gfx.BufferRef{}, fmt.Errorf("rotate into session %d slot %d: %w: %v", s.slot, slot, fault.ErrHardwareProgram, err)
	}
	s.lastQueued = slot
	s.pool.reapReady()
	return dst, nil
}

// SetReleaseFence records the release fence of the frame that scanned out
// the slot queued last. The session takes ownership of f. A fence still
// recorded on that slot is waited on first.
func (s *Session) SetReleaseFence(ctx context.Context, f fence.Fence) {
	if s.cur == nil || s.lastQueued < 0 {
		if f != nil {
			_ = f.Close()
		}
		return
	}
	slot := s.lastQueued
	if old := s.cur.fences[slot]; old != nil {
		s.waitFence(ctx, old, "release", slot)
		_ = old.Close()
	}
	s.cur.fences[slot] = f
	s.pool.reapReady()
}

func (s *Session) waitFence(ctx context.Context, f fence.Fence, site string, slot int) {
	if err := fence.WaitTimeout(ctx, f, s.pool.timeout); err != nil {
		metrics.RecordFenceTimeout(site)
		s.pool.logger.Warn().
			Err(err).
			Str("event", "rotator.fence_timeout").
			Int("session", s.slot).
			Int("slot", slot).
			Str("site", site).
			Msg("release fence wait expired, reusing buffer")
	}
}

func (s *Session) remap(ctx context.Context, size uint32) error {
	if size == 0 {
		return fmt.Errorf("rotator session %d: zero-sized source: %w", s.slot, fault.ErrUnsupportedLayer)
	}
	mem, err := s.pool.dev.Alloc(ctx, size, ringSlots, s.setup.Secure)
	if err != nil {
		return fmt.Errorf("alloc %d x %d bytes for session %d: %w: %v", ringSlots, size, s.slot, fault.ErrResourceExhausted, err)
	}
	if s.cur != nil {
		s.remaps++
		metrics.RecordRemap()
		s.pool.logger.Debug().
			Str("event", "rotator.remap").
			Int("session", s.slot).
			Uint32("old_size", s.cur.bufSize).
			Uint32("new_size", size).
			Msg("source size changed, remapping scratch ring")
		s.pool.retire(ctx, s.slot, s.cur)
	}
	s.cur = &ring{mem: mem, bufSize: size}
	s.lastQueued = -1
	return nil
}

func (s *Session) end(ctx context.Context) {
	if !s.started {
		return
	}
	if err := s.pool.dev.End(ctx, s.id); err != nil {
		metrics.RecordProgramFailure("rotate")
		s.pool.logger.Error().Err(err).
			Str("event", "rotator.end_failed").
			Int("session", s.slot).
			Msg("failed to end rotator session")
	}
	s.started = false
	s.id = 0
}

// destroy ends the device session and retires the scratch ring.
func (s *Session) destroy(ctx context.Context) {
	s.end(ctx)
	if s.cur != nil {
		s.pool.retire(ctx, s.slot, s.cur)
		s.cur = nil
	}
	s.lastQueued = -1
}
