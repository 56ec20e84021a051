// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package sim

import "errors"

const fdFencesSupported = false

func newFDRelease() (release, error) {
	return release{}, errors.New("fd fences need a unix host")
}
