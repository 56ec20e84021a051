// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fault is the error taxonomy of the composition core.
//
// Allocation failures never escape a prepare call: they are folded into a
// Reason and the frame falls back to GPU composition. Errors are returned
// from draw and from collaborator calls, wrapped with %w so callers can use
// errors.Is against the sentinels below.
package fault

import "errors"

var (
	// ErrResourceExhausted means no free pipe or rotation session was left.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrUnsupportedLayer means a layer cannot be composed by the engine.
	ErrUnsupportedLayer = errors.New("unsupported layer")
	// ErrHardwareProgram means a commit or queue call to the engine failed.
	ErrHardwareProgram = errors.New("hardware program failure")
	// ErrConfiguration means an invalid display index or missing context.
	ErrConfiguration = errors.New("configuration error")
)

// Reason is a stable, lowercase fallback reason used for logs and metric
// labels.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDisabled        Reason = "disabled"
	ReasonNoLayers        Reason = "no_layers"
	ReasonTooManyLayers   Reason = "too_many_layers"
	ReasonPipesExhausted  Reason = "pipes_exhausted"
	ReasonReconfiguring   Reason = "reconfiguring"
	ReasonSecureSession   Reason = "secure_session"
	ReasonSkipLayer       Reason = "skip_layer"
	ReasonAlphaDownscale  Reason = "alpha_downscale"
	ReasonIdle            Reason = "idle"
	ReasonRotation        Reason = "rotation"
	ReasonRotatorBusy     Reason = "rotator_busy"
	ReasonCropTooSmall    Reason = "crop_too_small"
	ReasonNonContiguous   Reason = "non_contiguous"
	ReasonSplitRotation   Reason = "split_rotation"
	ReasonSessionsExhaust Reason = "sessions_exhausted"
	ReasonProgramFailed   Reason = "program_failed"
	ReasonNoDisplay       Reason = "no_display"
	ReasonNotSingleVideo  Reason = "not_single_video"
	ReasonSecureMismatch  Reason = "secure_mismatch"
	ReasonVideoClosed     Reason = "video_closed"
	ReasonNoBuffer        Reason = "no_buffer"
)

// Err maps a reason onto its sentinel error class.
func (r Reason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonPipesExhausted, ReasonSessionsExhaust, ReasonRotatorBusy:
		return ErrResourceExhausted
	case ReasonProgramFailed:
		return ErrHardwareProgram
	case ReasonNoDisplay, ReasonDisabled, ReasonNoBuffer:
		return ErrConfiguration
	default:
		return ErrUnsupportedLayer
	}
}

// Class returns the short name of the error class a reason belongs to.
func (r Reason) Class() string {
	switch r.Err() {
	case nil:
		return "none"
	case ErrResourceExhausted:
		return "resource_exhausted"
	case ErrHardwareProgram:
		return "hardware_program"
	case ErrConfiguration:
		return "configuration"
	default:
		return "unsupported_layer"
	}
}
