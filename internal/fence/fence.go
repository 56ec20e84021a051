// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fence models release fences: one-shot signals that tell the
// producer when the display engine has finished reading a buffer.
package fence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWaitTimeout bounds a wait on a release fence before buffer reuse.
const DefaultWaitTimeout = time.Second

// ErrTimeout is returned when a bounded wait expires before the fence signals.
var ErrTimeout = errors.New("fence wait timed out")

// Fence is a release fence. Wait blocks until the fence signals or ctx ends;
// a fence that has already signaled returns nil even for a done ctx. Dup
// returns an independently closable handle on the same fence.
type Fence interface {
	Wait(ctx context.Context) error
	Dup() (Fence, error)
	Close() error
}

// WaitTimeout waits on f for at most timeout. A nil fence counts as signaled.
// Expiry is reported as ErrTimeout; callers treat it as a stall to log, not
// as a failure.
func WaitTimeout(ctx context.Context, f Fence, timeout time.Duration) error {
	if f == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return err
	}
	return nil
}

// Ready reports without blocking whether f has signaled. A nil fence is
// ready.
func Ready(f Fence) bool {
	if f == nil {
		return true
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return f.Wait(ctx) == nil
}

// Manual is an in-process fence signaled by calling Signal. Dups share the
// signal; the underlying fence counts how many handles are still open.
type Manual struct {
	core *manualCore
	shut atomic.Bool
}

type manualCore struct {
	done     chan struct{}
	once     sync.Once
	open     atomic.Int64
	signaled atomic.Int64 // unix nanos of the signal, zero until signaled
}

// NewManual returns an unsignaled fence.
func NewManual() *Manual {
	c := &manualCore{done: make(chan struct{})}
	c.open.Add(1)
	return &Manual{core: c}
}

// Signaled returns a fence that is already signaled.
func Signaled() *Manual {
	m := NewManual()
	m.Signal()
	return m
}

// Signal releases every waiter. Repeated calls are no-ops.
func (m *Manual) Signal() {
	m.core.once.Do(func() {
		m.core.signaled.Store(time.Now().UnixNano())
		close(m.core.done)
	})
}

// IsSignaled reports whether Signal has been called.
func (m *Manual) IsSignaled() bool {
	select {
	case <-m.core.done:
		return true
	default:
		return false
	}
}

// SignaledAt returns when the fence was signaled.
func (m *Manual) SignaledAt() (time.Time, bool) {
	ns := m.core.signaled.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// OpenHandles returns the number of handles on this fence not yet closed.
func (m *Manual) OpenHandles() int64 { return m.core.open.Load() }

func (m *Manual) Wait(ctx context.Context) error {
	if m.IsSignaled() {
		return nil
	}
	select {
	case <-m.core.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manual) Dup() (Fence, error) {
	if m.shut.Load() {
		return nil, errors.New("dup of closed fence")
	}
	m.core.open.Add(1)
	return &Manual{core: m.core}, nil
}

func (m *Manual) Close() error {
	if m.shut.CompareAndSwap(false, true) {
		m.core.open.Add(-1)
	}
	return nil
}
