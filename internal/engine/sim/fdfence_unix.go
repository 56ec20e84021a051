// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package sim

import "github.com/ManuGH/ovcomp/internal/fence"

const fdFencesSupported = true

func newFDRelease() (release, error) {
	f, signal, err := fence.NewPipe()
	if err != nil {
		return release{}, err
	}
	return release{f: f, signal: func() { _ = signal() }}, nil
}
