// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mdpcomp

// Strategy is the pipe assignment scheme of a display.
type Strategy int

const (
	// SingleRegion drives the whole panel from one mixer: one pipe per layer.
	SingleRegion Strategy = iota
	// SplitRegion drives each half of a wide panel from its own mixer: one
	// pipe per half a layer overlaps.
	SplitRegion
)

func (s Strategy) String() string {
	if s == SplitRegion {
		return "split"
	}
	return "single"
}

// StrategyFor picks the strategy of a panel width.
func StrategyFor(width, threshold int) Strategy {
	if width > threshold {
		return SplitRegion
	}
	return SingleRegion
}
