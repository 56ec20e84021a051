// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package layer

// Stats summarizes a layer list for the feasibility checks.
type Stats struct {
	AppLayers       int
	VideoIndices    []int
	SkipCount       int
	NeedsAlphaScale bool
	// NeedsRotator is set when a video layer carries a quarter turn.
	NeedsRotator bool
	// ClosedCaption is the index of the caption layer, or -1.
	ClosedCaption int
	NonContiguous int
}

// VideoCount returns the number of video layers.
func (s Stats) VideoCount() int { return len(s.VideoIndices) }

// Compute builds the stats of a list.
func Compute(list *List) Stats {
	st := Stats{ClosedCaption: -1}
	if list == nil {
		return st
	}
	st.AppLayers = len(list.Layers)
	for i, l := range list.Layers {
		if l.IsSkip() {
			st.SkipCount++
		}
		if l.Buffer != nil && l.Buffer.NonContiguous {
			st.NonContiguous++
		}
		if l.IsClosedCaption() {
			st.ClosedCaption = i
		}
		if l.IsVideo() {
			st.VideoIndices = append(st.VideoIndices, i)
			if l.Transform.Needs90() {
				st.NeedsRotator = true
			}
		}
		if l.NeedsAlphaDownscale() {
			st.NeedsAlphaScale = true
		}
	}
	return st
}
