// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package fence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice caps a single poll(2) so a cancelled context is noticed even when
// it carries no deadline.
const pollSlice = 100 * time.Millisecond

// FD is a kernel sync fence: the descriptor becomes readable once signaled.
type FD struct {
	mu sync.Mutex
	fd int
}

// FromFD adopts fd. The FD fence owns the descriptor and closes it.
func FromFD(fd int) (*FD, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid fence fd %d", fd)
	}
	return &FD{fd: fd}, nil
}

// NewPipe returns a fence backed by the read end of a pipe, and the function
// that signals it. Signaling writes one byte and closes the write end; later
// calls return the first result.
func NewPipe() (*FD, func() error, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, nil, fmt.Errorf("create fence pipe: %w", err)
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	signal := sync.OnceValue(func() error {
		_, werr := unix.Write(p[1], []byte{1})
		return errors.Join(werr, unix.Close(p[1]))
	})
	return &FD{fd: p[0]}, signal, nil
}

// Descriptor returns the underlying fd, or -1 once closed.
func (f *FD) Descriptor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

func (f *FD) Wait(ctx context.Context) error {
	fd := f.Descriptor()
	if fd < 0 {
		return errors.New("wait on closed fence")
	}
	for {
		slice := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < slice {
				slice = left
			}
		}
		if slice < 0 || ctx.Err() != nil {
			slice = 0
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(slice/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll fence fd %d: %w", fd, err)
		}
		if n > 0 {
			if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				return fmt.Errorf("fence fd %d in error state (revents=%#x)", fd, fds[0].Revents)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (f *FD) Dup() (Fence, error) {
	fd := f.Descriptor()
	if fd < 0 {
		return nil, errors.New("dup of closed fence")
	}
	nfd, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup fence fd %d: %w", fd, err)
	}
	return &FD{fd: nfd}, nil
}

func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}
