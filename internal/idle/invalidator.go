// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package idle forces one GPU-composed frame after the display has been
// quiet for a while, so the hardware pipes can power down.
package idle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Invalidator is a one-shot timer re-armed after every hardware-composed
// frame. The handler runs on the timer goroutine and must not touch pipe
// state.
type Invalidator struct {
	timeout time.Duration
	handler func()
	logger  zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumped per arm; an expiry from an older arm is dropped
	stopped bool
	fired   atomic.Uint64
}

// New returns an invalidator calling handler after timeout of quiet. A
// non-positive timeout disables it.
func New(timeout time.Duration, handler func(), logger zerolog.Logger) *Invalidator {
	return &Invalidator{timeout: timeout, handler: handler, logger: logger}
}

// Enabled reports whether the timer can ever fire.
func (i *Invalidator) Enabled() bool { return i.timeout > 0 && i.handler != nil }

// Timeout returns the quiet period.
func (i *Invalidator) Timeout() time.Duration { return i.timeout }

// MarkForSleep (re)starts the quiet period.
func (i *Invalidator) MarkForSleep() {
	if !i.Enabled() {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	if i.timer != nil {
		i.timer.Stop()
	}
	i.gen++
	gen := i.gen
	i.timer = time.AfterFunc(i.timeout, func() { i.fire(gen) })
}

func (i *Invalidator) fire(gen uint64) {
	i.mu.Lock()
	if i.stopped || gen != i.gen {
		i.mu.Unlock()
		return
	}
	i.timer = nil
	i.mu.Unlock()

	n := i.fired.Add(1)
	i.logger.Debug().
		Str("event", "idle.fire").
		Dur("timeout", i.timeout).
		Uint64("count", n).
		Msg("display idle, forcing gpu composition")
	i.handler()
}

// Fired returns how often the handler ran.
func (i *Invalidator) Fired() uint64 { return i.fired.Load() }

// Stop cancels a pending expiry. The invalidator cannot be re-armed.
func (i *Invalidator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}
