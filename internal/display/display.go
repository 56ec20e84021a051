// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package display describes the displays a composer drives and the host
// collaborators that report their geometry and security state.
package display

import (
	"fmt"
	"sync"

	"github.com/ManuGH/ovcomp/internal/gfx"
)

// ID identifies a display pipeline.
type ID int

const (
	Primary ID = iota
	External
	Virtual

	// Count is the number of display pipelines a composer tracks.
	Count
)

func (id ID) String() string {
	switch id {
	case Primary:
		return "primary"
	case External:
		return "external"
	case Virtual:
		return "virtual"
	default:
		return fmt.Sprintf("display(%d)", int(id))
	}
}

// ParseID returns the display named by s, as produced by String.
func ParseID(s string) (ID, error) {
	for id := Primary; id < Count; id++ {
		if s == id.String() {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown display %q", s)
}

// Valid reports whether id names a known display pipeline.
func (id ID) Valid() bool { return id >= Primary && id < Count }

// Attributes is the geometry and power state of one display.
type Attributes struct {
	Width     int
	Height    int
	Active    bool
	Connected bool
}

// Bounds returns the panel rectangle.
func (a Attributes) Bounds() gfx.Rect {
	return gfx.R(0, 0, a.Width, a.Height)
}

// Provider reports display geometry. Implemented by the host.
type Provider interface {
	Attributes(id ID) (Attributes, bool)
	// ReconfigurePending is true while an external display is being
	// configured and pipe availability is not yet settled.
	ReconfigurePending() bool
}

// Security reports secure-content state. Implemented by the host.
type Security interface {
	// Securing is true while a secure session transition is in progress.
	Securing() bool
	// SecureMode is true while secure playback is active.
	SecureMode() bool
}

// Static is a mutable in-process Provider and Security implementation used by
// the simulator and tests.
type Static struct {
	mu         sync.RWMutex
	attrs      [Count]Attributes
	present    [Count]bool
	pending    bool
	securing   bool
	secureMode bool
}

// NewStatic returns a Static with only the primary display set.
func NewStatic(primary Attributes) *Static {
	s := &Static{}
	s.Set(Primary, primary)
	return s
}

// Set installs the attributes of a display.
func (s *Static) Set(id ID, a Attributes) {
	if !id.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[id] = a
	s.present[id] = true
}

// Disconnect forgets a display.
func (s *Static) Disconnect(id ID) {
	if !id.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[id] = Attributes{}
	s.present[id] = false
}

func (s *Static) SetReconfigurePending(v bool) {
	s.mu.Lock()
	s.pending = v
	s.mu.Unlock()
}

func (s *Static) SetSecuring(v bool) {
	s.mu.Lock()
	s.securing = v
	s.mu.Unlock()
}

func (s *Static) SetSecureMode(v bool) {
	s.mu.Lock()
	s.secureMode = v
	s.mu.Unlock()
}

func (s *Static) Attributes(id ID) (Attributes, bool) {
	if !id.Valid() {
		return Attributes{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrs[id], s.present[id]
}

func (s *Static) ReconfigurePending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

func (s *Static) Securing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.securing
}

func (s *Static) SecureMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secureMode
}

// SecondaryConnected reports whether any non-primary display is connected
// and active.
func SecondaryConnected(p Provider) (ID, Attributes, bool) {
	for _, id := range []ID{External, Virtual} {
		a, ok := p.Attributes(id)
		if ok && a.Connected && a.Active {
			return id, a, true
		}
	}
	return 0, Attributes{}, false
}
