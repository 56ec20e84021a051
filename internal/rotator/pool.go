// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rotator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions is the number of rotation sessions held at most.
const DefaultMaxSessions = 4

// Options configures a Pool.
type Options struct {
	MaxSessions  int
	FenceTimeout time.Duration
}

type retiredRing struct {
	slot int
	ring *ring
}

// Pool hands out rotation sessions in acquisition order within a config
// window and drops the ones a window did not use.
//
// Scratch rings that are replaced or whose session is dropped move to a
// retired list and are closed once their release fences have signaled.
// Pool is not safe for concurrent use.
type Pool struct {
	dev     Device
	logger  zerolog.Logger
	timeout time.Duration

	sessions []*Session
	useCount int
	retired  []retiredRing
}

// NewPool returns an empty pool.
func NewPool(dev Device, opts Options, logger zerolog.Logger) *Pool {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = fence.DefaultWaitTimeout
	}
	return &Pool{
		dev:      dev,
		logger:   logger,
		timeout:  opts.FenceTimeout,
		sessions: make([]*Session, opts.MaxSessions),
	}
}

// ConfigBegin opens a config window: no session is in use.
func (p *Pool) ConfigBegin() {
	p.useCount = 0
	p.reapReady()
}

// Acquire returns the next session slot, creating it on first use.
func (p *Pool) Acquire() (*Session, error) {
	if p.useCount >= len(p.sessions) {
		return nil, fmt.Errorf("all %d rotator sessions in use: %w", len(p.sessions), fault.ErrResourceExhausted)
	}
	s := p.sessions[p.useCount]
	if s == nil {
		s = newSession(p, p.useCount)
		p.sessions[p.useCount] = s
	}
	p.useCount++
	return s, nil
}

// Unwind gives back s if it is the most recently acquired session. It
// reports whether the session was returned.
func (p *Pool) Unwind(s *Session) bool {
	if s == nil || p.useCount == 0 || p.sessions[p.useCount-1] != s {
		return false
	}
	p.useCount--
	return true
}

// InUse returns the number of sessions acquired in this window.
func (p *Pool) InUse() int { return p.useCount }

// Held returns the number of live sessions.
func (p *Pool) Held() int {
	n := 0
	for _, s := range p.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// Retired returns the number of scratch rings waiting on fences.
func (p *Pool) Retired() int { return len(p.retired) }

// ReleaseUnused destroys every session at a slot the window did not reach.
func (p *Pool) ReleaseUnused(ctx context.Context) {
	for i := p.useCount; i < len(p.sessions); i++ {
		if s := p.sessions[i]; s != nil {
			s.destroy(ctx)
			p.sessions[i] = nil
			p.logger.Debug().Str("event", "rotator.release").Int("session", i).Msg("released unused rotator session")
		}
	}
}

// ConfigDone closes the window.
func (p *Pool) ConfigDone(ctx context.Context) {
	p.ReleaseUnused(ctx)
	metrics.SetRotatorSessions(p.Held())
}

// Clear destroys every session and closes every retired ring, waiting on
// outstanding fences with the bounded timeout.
func (p *Pool) Clear(ctx context.Context) error {
	for i, s := range p.sessions {
		if s != nil {
			s.destroy(ctx)
			p.sessions[i] = nil
		}
	}
	p.useCount = 0
	var errs []error
	for _, r := range p.retired {
		if n := r.ring.wait(ctx, p.timeout); n > 0 {
			metrics.RecordFenceTimeout("remap")
			p.logger.Warn().Str("event", "rotator.fence_timeout").Int("session", r.slot).Int("timeouts", n).
				Msg("closing scratch ring with unsignaled fences")
		}
		if err := r.ring.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.retired = nil
	metrics.SetRotatorSessions(0)
	return errors.Join(errs...)
}

func (p *Pool) retire(ctx context.Context, slot int, r *ring) {
	p.retired = append(p.retired, retiredRing{slot: slot, ring: r})
	p.reapReady()
	// Two generations per session bound the retired list; past that the
	// oldest ring is waited for.
	for len(p.retired) > 2*len(p.sessions) {
		old := p.retired[0]
		p.retired = p.retired[1:]
		if n := old.ring.wait(ctx, p.timeout); n > 0 {
			metrics.RecordFenceTimeout("remap")
		}
		p.closeRing(old)
	}
}

// reapReady closes retired rings whose fences have all signaled.
func (p *Pool) reapReady() {
	kept := p.retired[:0]
	for _, r := range p.retired {
		if r.ring.ready() {
			p.closeRing(r)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(p.retired); i++ {
		p.retired[i] = retiredRing{}
	}
	p.retired = kept
}

func (p *Pool) closeRing(r retiredRing) {
	if err := r.ring.close(); err != nil {
		p.logger.Error().Err(err).Str("event", "rotator.close_failed").Int("session", r.slot).Msg("failed to close scratch ring")
		return
	}
	p.logger.Debug().Str("event", "rotator.ring_closed").Int("session", r.slot).Msg("retired scratch ring closed")
}

// Dump writes a human-readable session table.
func (p *Pool) Dump(sb *strings.Builder) {
	fmt.Fprintf(sb, "rotator: max=%d in_use=%d held=%d retired=%d\n", len(p.sessions), p.useCount, p.Held(), len(p.retired))
	for _, s := range p.sessions {
		if s == nil {
			continue
		}
		size := uint32(0)
		if s.cur != nil {
			size = s.cur.bufSize
		}
		fmt.Fprintf(sb, "  session %d: src=%s tr=%s buf=%d remaps=%d\n", s.slot, s.setup.Source, s.setup.Transform, size, s.remaps)
	}
}
