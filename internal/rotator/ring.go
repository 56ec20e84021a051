// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rotator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/gfx"
)

// ringSlots is the depth of a scratch ring.
const ringSlots = 2

// ring is one generation of scratch memory: ringSlots buffers of bufSize
// bytes laid out back to back, each guarded by the release fence of the
// last frame that scanned it out.
type ring struct {
	mem     Memory
	bufSize uint32
	next    int
	fences  [ringSlots]fence.Fence
}

func (r *ring) ref(slot int) gfx.BufferRef {
	return gfx.BufferRef{FD: r.mem.FD(), Offset: uint32(slot) * r.bufSize}
}

// ready reports whether every recorded fence has signaled.
func (r *ring) ready() bool {
	for _, f := range r.fences {
		if !fence.Ready(f) {
			return false
		}
	}
	return true
}

// wait blocks on every recorded fence, each bounded by timeout. It returns
// the number of waits that timed out.
func (r *ring) wait(ctx context.Context, timeout time.Duration) int {
	timeouts := 0
	for _, f := range r.fences {
		if err := fence.WaitTimeout(ctx, f, timeout); err != nil {
			timeouts++
		}
	}
	return timeouts
}

// close releases the fences and then the memory.
func (r *ring) close() error {
	var errs []error
	for i, f := range r.fences {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fence slot %d: %w", i, err))
		}
		r.fences[i] = nil
	}
	if r.mem != nil {
		if err := r.mem.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close scratch memory fd %d: %w", r.mem.FD(), err))
		}
		r.mem = nil
	}
	return errors.Join(errs...)
}
