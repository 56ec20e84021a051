// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hwc

import (
	"fmt"
	"strings"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/overlay"
)

// PipeSnapshot is one pipe in a Snapshot.
type PipeSnapshot struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
	Status   string `json:"status" yaml:"status"`
	Display  string `json:"display,omitempty" yaml:"display,omitempty"`
}

// DisplaySnapshot is the last decision for one display.
type DisplaySnapshot struct {
	Display string `json:"display" yaml:"display"`
	Path    string `json:"path" yaml:"path"`
}

// Snapshot is a point-in-time view of allocation state.
type Snapshot struct {
	Displays        []DisplaySnapshot `json:"displays" yaml:"displays"`
	Pipes           []PipeSnapshot    `json:"pipes" yaml:"pipes"`
	Scheduler       string            `json:"scheduler" yaml:"scheduler"`
	Reason          string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Video           string            `json:"video" yaml:"video"`
	RotatorInUse    int               `json:"rotator_in_use" yaml:"rotator_in_use"`
	RotatorHeld     int               `json:"rotator_held" yaml:"rotator_held"`
	RotatorRetired  int               `json:"rotator_retired" yaml:"rotator_retired"`
	IdleFallbackDue bool              `json:"idle_fallback_due" yaml:"idle_fallback_due"`
}

// Snapshot returns the allocation state after the last window.
func (c *Composer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Scheduler:       c.sched.State().String(),
		Reason:          string(c.sched.Reason()),
		Video:           c.video.State().String(),
		RotatorInUse:    c.rot.InUse(),
		RotatorHeld:     c.rot.Held(),
		RotatorRetired:  c.rot.Retired(),
		IdleFallbackDue: c.idlePending.Load(),
	}
	for i, st := range c.state {
		if st.path == "" {
			continue
		}
		s.Displays = append(s.Displays, DisplaySnapshot{Display: display.ID(i).String(), Path: st.path})
	}
	for _, ps := range c.pipes.Snapshot() {
		p := PipeSnapshot{
			Name:     ps.Pipe.String(),
			Category: ps.Pipe.Category.String(),
			Status:   ps.Status.String(),
		}
		if ps.Status != overlay.Free {
			p.Display = ps.Display.String()
		}
		s.Pipes = append(s.Pipes, p)
	}
	return s
}

// DumpState returns a human-readable snapshot of pipe and session
// occupancy.
func (c *Composer) DumpState() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "hwc: idle_fallback_due=%t\n", c.idlePending.Load())
	for i, st := range c.state {
		if st.path == "" {
			continue
		}
		fmt.Fprintf(&sb, "  %s: path=%s\n", display.ID(i), st.path)
	}
	c.pipes.Dump(&sb)
	c.rot.Dump(&sb)
	c.sched.Dump(&sb)
	c.video.Dump(&sb)
	return sb.String()
}
