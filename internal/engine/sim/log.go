// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sim is an in-memory display engine and rotator with fault
// injection. It backs the simulator binary and the composition tests.
package sim

import (
	"fmt"
	"sync"
)

// Event kinds recorded by the simulated hardware.
const (
	EvCommit        = "commit"
	EvQueue         = "queue"
	EvUnset         = "unset"
	EvDisplayCommit = "display_commit"
	EvBlank         = "blank"
	EvFenceSignal   = "fence.signal"
	EvRotStart      = "rot.start"
	EvRotate        = "rot.rotate"
	EvRotEnd        = "rot.end"
	EvMemAlloc      = "mem.alloc"
	EvMemClose      = "mem.close"
)

// Event is one hardware call.
type Event struct {
	Seq    int    `yaml:"seq"`
	Kind   string `yaml:"kind"`
	Target string `yaml:"target,omitempty"`
	Detail string `yaml:"detail,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("#%d %s %s %s", e.Seq, e.Kind, e.Target, e.Detail)
}

// Log is an ordered, shared event log.
type Log struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewLog returns a log that keeps at most limit events (0 keeps all).
func NewLog(limit int) *Log {
	return &Log{limit: limit}
}

func (l *Log) add(kind, target, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := 1
	if n := len(l.events); n > 0 {
		seq = l.events[n-1].Seq + 1
	}
	l.events = append(l.events, Event{Seq: seq, Kind: kind, Target: target, Detail: detail})
	if l.limit > 0 && len(l.events) > l.limit {
		l.events = append(l.events[:0], l.events[len(l.events)-l.limit:]...)
	}
}

// Events returns a copy of the log.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Find returns the events of one kind, optionally restricted to a target.
func (l *Log) Find(kind, target string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Kind == kind && (target == "" || e.Target == target) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (l *Log) Count(kind string) int { return len(l.Find(kind, "")) }

// Reset drops every event.
func (l *Log) Reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
