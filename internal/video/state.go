// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package video

// State is where the single video layer is scanned out.
type State int

const (
	Closed State = iota
	PrimaryOnly
	PrimaryAndSecondaryMirror
	SecondaryOnly
)

func (s State) String() string {
	switch s {
	case PrimaryOnly:
		return "primary_only"
	case PrimaryAndSecondaryMirror:
		return "mirror"
	case SecondaryOnly:
		return "secondary_only"
	default:
		return "closed"
	}
}

// OnPrimary reports whether the state drives a primary pipe.
func (s State) OnPrimary() bool {
	return s == PrimaryOnly || s == PrimaryAndSecondaryMirror
}

// OnSecondary reports whether the state drives a secondary pipe.
func (s State) OnSecondary() bool {
	return s == PrimaryAndSecondaryMirror || s == SecondaryOnly
}

// ChooseState picks the state of a frame. A video skipped on the primary can
// only be shown on a secondary display.
func ChooseState(single, secondaryConnected, skippedOnPrimary bool) State {
	switch {
	case !single:
		return Closed
	case skippedOnPrimary && secondaryConnected:
		return SecondaryOnly
	case skippedOnPrimary:
		return Closed
	case secondaryConnected:
		return PrimaryAndSecondaryMirror
	default:
		return PrimaryOnly
	}
}
