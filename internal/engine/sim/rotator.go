// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/rotator"
)

// RotatorFaults selects rotator calls that fail.
type RotatorFaults struct {
	Start  bool `yaml:"start"`
	Rotate bool `yaml:"rotate"`
	Alloc  bool `yaml:"alloc"`
}

// Rotator is a simulated rotation engine.
type Rotator struct {
	mu       sync.Mutex
	log      *Log
	faults   RotatorFaults
	nextID   int
	nextFD   int
	sessions map[int]rotator.Setup
	open     map[int]*Memory
}

// NewRotator returns a rotator recording into log.
func NewRotator(log *Log) *Rotator {
	if log == nil {
		log = NewLog(0)
	}
	return &Rotator{
		log:      log,
		nextFD:   1000,
		sessions: make(map[int]rotator.Setup),
		open:     make(map[int]*Memory),
	}
}

// SetFaults replaces the injected faults.
func (r *Rotator) SetFaults(f RotatorFaults) {
	r.mu.Lock()
	r.faults = f
	r.mu.Unlock()
}

func (r *Rotator) Start(_ context.Context, s rotator.Setup) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faults.Start {
		return 0, fmt.Errorf("rotator start: %w", ErrInjected)
	}
	r.nextID++
	r.sessions[r.nextID] = s
	r.log.add(EvRotStart, fmt.Sprintf("rot%d", r.nextID), fmt.Sprintf("%s tr=%s", s.Source, s.Transform))
	return r.nextID, nil
}

func (r *Rotator) Rotate(_ context.Context, id int, src, dst gfx.BufferRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faults.Rotate {
		return fmt.Errorf("rotate: %w", ErrInjected)
	}
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("rotate on unknown session %d", id)
	}
	m, ok := r.open[dst.FD]
	if !ok {
		return fmt.Errorf("rotate into unmapped fd %d", dst.FD)
	}
	if dst.Offset >= m.size {
		return fmt.Errorf("rotate offset %d beyond %d byte region", dst.Offset, m.size)
	}
	r.log.add(EvRotate, fmt.Sprintf("rot%d", id), fmt.Sprintf("%s -> %s", src, dst))
	return nil
}

func (r *Rotator) End(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("end of unknown session %d", id)
	}
	delete(r.sessions, id)
	r.log.add(EvRotEnd, fmt.Sprintf("rot%d", id), "")
	return nil
}

func (r *Rotator) Alloc(_ context.Context, size uint32, count int, secure bool) (rotator.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faults.Alloc {
		return nil, fmt.Errorf("alloc: %w", ErrInjected)
	}
	r.nextFD++
	m := &Memory{owner: r, fd: r.nextFD, size: size * uint32(count), secure: secure}
	r.open[m.fd] = m
	r.log.add(EvMemAlloc, fmt.Sprintf("fd%d", m.fd), fmt.Sprintf("%d x %d", count, size))
	return m, nil
}

// Sessions returns the number of started sessions.
func (r *Rotator) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OpenMemory returns the number of mapped scratch regions.
func (r *Rotator) OpenMemory() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Memory is simulated scratch memory.
type Memory struct {
	owner  *Rotator
	fd     int
	size   uint32
	secure bool
}

func (m *Memory) FD() int      { return m.fd }
func (m *Memory) Size() uint32 { return m.size }

func (m *Memory) Close() error {
	r := m.owner
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[m.fd]; !ok {
		return fmt.Errorf("double close of fd %d", m.fd)
	}
	delete(r.open, m.fd)
	r.log.add(EvMemClose, fmt.Sprintf("fd%d", m.fd), "")
	return nil
}
