// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/overlay"
)

// ErrInjected is returned by calls that were told to fail.
var ErrInjected = errors.New("injected fault")

// Faults selects engine calls that fail. Pipe keys use the pipe name, e.g.
// "vg0".
type Faults struct {
	Commit        map[string]bool `yaml:"commit"`
	Queue         map[string]bool `yaml:"queue"`
	DisplayCommit bool            `yaml:"display_commit"`
	Blank         bool            `yaml:"blank"`
}

// FenceKind selects what backs the release fences of an engine.
type FenceKind string

const (
	// FenceManual hands out in-process fences.
	FenceManual FenceKind = "manual"
	// FenceFD hands out pipe descriptors waited with poll(2), like kernel
	// sync fences.
	FenceFD FenceKind = "fd"
)

type release struct {
	f      fence.Fence
	signal func()
}

// Engine is a simulated display engine. The release fence returned by a
// display commit signals when the next commit of the same display replaces
// the frame, which is when the previous buffers stop being scanned.
type Engine struct {
	mu       sync.Mutex
	log      *Log
	faults   Faults
	programs map[overlay.PipeID]overlay.Program
	queued   map[overlay.PipeID]gfx.BufferRef
	pending  map[display.ID]release
	frames   map[display.ID]int
	kind     FenceKind
}

// NewEngine returns an engine recording into log.
func NewEngine(log *Log) *Engine {
	if log == nil {
		log = NewLog(0)
	}
	return &Engine{
		log:      log,
		programs: make(map[overlay.PipeID]overlay.Program),
		queued:   make(map[overlay.PipeID]gfx.BufferRef),
		pending:  make(map[display.ID]release),
		frames:   make(map[display.ID]int),
	}
}

// Log returns the event log.
func (e *Engine) Log() *Log { return e.log }

// SetFaults replaces the injected faults.
func (e *Engine) SetFaults(f Faults) {
	e.mu.Lock()
	e.faults = f
	e.mu.Unlock()
}

// SetFenceKind selects the release fences of later commits.
func (e *Engine) SetFenceKind(k FenceKind) error {
	switch k {
	case FenceManual:
	case FenceFD:
		if !fdFencesSupported {
			return fmt.Errorf("fence kind %q: not supported on this host", k)
		}
	default:
		return fmt.Errorf("unknown fence kind %q", k)
	}
	e.mu.Lock()
	e.kind = k
	e.mu.Unlock()
	return nil
}

func (e *Engine) newReleaseLocked() (release, error) {
	if e.kind == FenceFD {
		return newFDRelease()
	}
	m := fence.NewManual()
	return release{f: m, signal: m.Signal}, nil
}

func (e *Engine) Commit(_ context.Context, pipe overlay.Pipe, p overlay.Program) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Commit[pipe.String()] {
		return fmt.Errorf("commit %s: %w", pipe, ErrInjected)
	}
	e.programs[pipe.ID] = p
	e.log.add(EvCommit, pipe.String(), p.String())
	return nil
}

func (e *Engine) Queue(_ context.Context, pipe overlay.Pipe, buf gfx.BufferRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Queue[pipe.String()] {
		return fmt.Errorf("queue %s: %w", pipe, ErrInjected)
	}
	if _, ok := e.programs[pipe.ID]; !ok {
		return fmt.Errorf("queue on uncommitted pipe %s", pipe)
	}
	e.queued[pipe.ID] = buf
	e.log.add(EvQueue, pipe.String(), buf.String())
	return nil
}

func (e *Engine) Unset(_ context.Context, pipe overlay.Pipe) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.programs, pipe.ID)
	delete(e.queued, pipe.ID)
	e.log.add(EvUnset, pipe.String(), "")
	return nil
}

func (e *Engine) DisplayCommit(_ context.Context, dpy display.ID) (fence.Fence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.DisplayCommit {
		return nil, fmt.Errorf("display commit %s: %w", dpy, ErrInjected)
	}
	r, err := e.newReleaseLocked()
	if err != nil {
		return nil, fmt.Errorf("display commit %s: %w", dpy, err)
	}
	e.signalLocked(dpy)
	e.pending[dpy] = r
	e.frames[dpy]++
	e.log.add(EvDisplayCommit, dpy.String(), fmt.Sprintf("frame=%d", e.frames[dpy]))
	return r.f.Dup()
}

// Blank signals the outstanding release fence of dpy and drops its pipes'
// queued buffers.
func (e *Engine) Blank(_ context.Context, dpy display.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Blank {
		return fmt.Errorf("blank %s: %w", dpy, ErrInjected)
	}
	for id, p := range e.programs {
		if p.Display == dpy {
			delete(e.queued, id)
		}
	}
	e.signalLocked(dpy)
	e.log.add(EvBlank, dpy.String(), "")
	return nil
}

func (e *Engine) signalLocked(dpy display.ID) {
	r, ok := e.pending[dpy]
	if !ok {
		return
	}
	delete(e.pending, dpy)
	r.signal()
	_ = r.f.Close()
	e.log.add(EvFenceSignal, dpy.String(), fmt.Sprintf("frame=%d", e.frames[dpy]))
}

// Close signals every outstanding release fence, as powering the engine
// down would.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for dpy := range e.pending {
		e.signalLocked(dpy)
	}
}

// Program returns the committed program of a pipe.
func (e *Engine) Program(id overlay.PipeID) (overlay.Program, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.programs[id]
	return p, ok
}

// Programs returns the number of committed pipes.
func (e *Engine) Programs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.programs)
}

// Frames returns how many frames dpy committed.
func (e *Engine) Frames(dpy display.ID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames[dpy]
}
