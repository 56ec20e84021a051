// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rotator manages the bounded pool of hardware rotation sessions and
// their fence-gated scratch memory.
package rotator

import (
	"context"

	"github.com/ManuGH/ovcomp/internal/gfx"
)

// Setup is the configuration of one device rotation session.
type Setup struct {
	Source    gfx.Whf
	Transform gfx.Transform
	Secure    bool
}

// Memory is a scratch allocation returned by Device.Alloc.
type Memory interface {
	FD() int
	Size() uint32
	Close() error
}

// Device is the rotation engine.
type Device interface {
	// Start opens a device session and returns its id.
	Start(ctx context.Context, s Setup) (int, error)
	// Rotate rotates src into dst within a started session.
	Rotate(ctx context.Context, id int, src, dst gfx.BufferRef) error
	// End closes a device session.
	End(ctx context.Context, id int) error
	// Alloc maps count buffers of size bytes each as one region.
	Alloc(ctx context.Context, size uint32, count int, secure bool) (Memory, error)
}
