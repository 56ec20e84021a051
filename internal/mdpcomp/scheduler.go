// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mdpcomp decides per frame whether every layer of a display can be
// scanned out by hardware pipes, and if so builds and programs the plan.
// A frame is composed entirely by hardware or entirely falls back to the
// GPU; a half-built plan is never committed.
package mdpcomp

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/layer"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
	"github.com/rs/zerolog"
)

// State is whether the last prepared frame runs on hardware pipes.
type State int

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// DefaultMaxLayers is the layer limit of one mixer.
const DefaultMaxLayers = 4

// DefaultSplitThreshold is the widest panel a single mixer drives.
const DefaultSplitThreshold = 2048

// Minimum clipped crop of a graphics layer; narrower buffers stall command
// mode panels and the fetch block is 2x2.
const (
	minCropWidth  = 5
	minCropHeight = 2
)

// Options configures a Scheduler.
type Options struct {
	Enabled        bool
	MaxLayers      int
	MDPVersion     overlay.MDPVersion
	SplitThreshold int
}

// Scheduler is the composition scheduler of one display.
type Scheduler struct {
	opts     Options
	dpy      display.ID
	width    int
	strategy Strategy

	pipes    *overlay.PipeBook
	rot      *rotator.Pool
	engine   overlay.Engine
	displays display.Provider
	security display.Security
	idle     func() bool
	logger   zerolog.Logger

	plan      Plan
	state     State
	reason    fault.Reason
	idleFrame bool
	acquired  []*rotator.Session
	committed []overlay.PipeID
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Pipes    *overlay.PipeBook
	Rotator  *rotator.Pool
	Engine   overlay.Engine
	Displays display.Provider
	Security display.Security
	// ConsumeIdle reports and clears the one-shot idle fallback flag.
	ConsumeIdle func() bool
	Logger      zerolog.Logger
}

// New returns a scheduler for dpy. The strategy is fixed from the panel
// width at construction.
func New(dpy display.ID, width int, opts Options, deps Deps) *Scheduler {
	if opts.MaxLayers <= 0 {
		opts.MaxLayers = DefaultMaxLayers
	}
	if opts.SplitThreshold <= 0 {
		opts.SplitThreshold = DefaultSplitThreshold
	}
	s := &Scheduler{
		opts:     opts,
		dpy:      dpy,
		width:    width,
		strategy: StrategyFor(width, opts.SplitThreshold),
		pipes:    deps.Pipes,
		rot:      deps.Rotator,
		engine:   deps.Engine,
		displays: deps.Displays,
		security: deps.Security,
		idle:     deps.ConsumeIdle,
	}
	s.logger = deps.Logger.With().Stringer(xglog.FieldDisplay, dpy).Stringer(xglog.FieldStrategy, s.strategy).Logger()
	return s
}

// State returns the composition state after the last prepare.
func (s *Scheduler) State() State { return s.state }

// Reason returns why the last prepare fell back, or ReasonNone.
func (s *Scheduler) Reason() fault.Reason { return s.reason }

// Strategy returns the allocation strategy of the display.
func (s *Scheduler) Strategy() Strategy { return s.strategy }

// Plan returns the plan of the last prepare.
func (s *Scheduler) Plan() *Plan { return &s.plan }

// IdleFrame reports whether the last prepare consumed the idle fallback.
// The whole frame then belongs to the GPU, whatever else failed first.
func (s *Scheduler) IdleFrame() bool { return s.idleFrame }

// Prepare decides the composition of one frame. It returns true when every
// layer was assigned and programmed; on false no reservation made by this
// call remains and every layer is marked for GPU composition.
// Must run inside the composer's config window.
func (s *Scheduler) Prepare(ctx context.Context, list *layer.List) bool {
	idle := s.idle != nil && s.idle()
	s.idleFrame = idle

	s.reset(list)
	reason := s.prepare(ctx, list, idle)
	if reason != fault.ReasonNone {
		s.undo(ctx, list)
		s.state, s.reason = Off, reason
		metrics.RecordFallback(s.dpy.String(), string(reason))
		s.logger.Debug().
			Str("event", "mdpcomp.fallback").
			Str(xglog.FieldReason, string(reason)).
			Int("layers", list.Len()).
			Msg("hardware composition not used")
		return false
	}
	s.state, s.reason = On, fault.ReasonNone
	s.logger.Debug().
		Str("event", "mdpcomp.on").
		Int("layers", s.plan.Count()).
		Msg("hardware composition planned")
	return true
}

func (s *Scheduler) prepare(ctx context.Context, list *layer.List, idle bool) fault.Reason {
	if !s.opts.Enabled {
		return fault.ReasonDisabled
	}
	attrs, ok := s.displays.Attributes(s.dpy)
	if !ok || !attrs.Active {
		return fault.ReasonNoDisplay
	}
	st := layer.Compute(list)
	if r := s.isDoable(list, st, attrs, idle); r != fault.ReasonNone {
		return r
	}
	if r := s.allocate(list, st); r != fault.ReasonNone {
		return r
	}
	if r := s.configure(ctx, list, attrs); r != fault.ReasonNone {
		return r
	}
	for i := range s.plan.entries {
		e := &s.plan.entries[i]
		list.Layers[e.LayerIndex].MarkHW(i)
	}
	return fault.ReasonNone
}

// isDoable runs the feasibility gate. The idle flag has already been
// consumed by the caller.
func (s *Scheduler) isDoable(list *layer.List, st layer.Stats, attrs display.Attributes, idle bool) fault.Reason {
	n := st.AppLayers
	if n < 1 {
		return fault.ReasonNoLayers
	}
	if n > s.opts.MaxLayers || n > layer.MaxPlanIndex+1 {
		return fault.ReasonTooManyLayers
	}

	needsRotator := st.NeedsRotator || s.rot.InUse() > 0
	available := s.pipes.Available()
	if needsRotator {
		available -= s.pipes.Free(overlay.DMA)
	}
	if s.pipesNeeded(list) > available {
		return fault.ReasonPipesExhausted
	}
	if s.displays.ReconfigurePending() {
		return fault.ReasonReconfiguring
	}
	if s.security.Securing() || s.security.SecureMode() {
		return fault.ReasonSecureSession
	}
	if st.SkipCount > 0 {
		return fault.ReasonSkipLayer
	}
	if st.NeedsAlphaScale && s.opts.MDPVersion < overlay.MDSSv5 {
		return fault.ReasonAlphaDownscale
	}
	if idle {
		metrics.RecordIdleFallback()
		return fault.ReasonIdle
	}
	if needsRotator && s.pipes.DMAInUse() {
		return fault.ReasonRotatorBusy
	}

	bounds := attrs.Bounds()
	for _, l := range list.Layers {
		if l.Buffer == nil {
			return fault.ReasonNoBuffer
		}
		if l.Buffer.NonContiguous {
			return fault.ReasonNonContiguous
		}
		if l.IsVideo() {
			if l.Transform.Needs90() && s.strategy == SplitRegion {
				return fault.ReasonSplitRotation
			}
			continue
		}
		if l.Transform.Needs90() {
			return fault.ReasonRotation
		}
		crop, _ := gfx.ClipToBounds(l.Crop, l.Frame, bounds, l.Transform)
		if crop.W() < minCropWidth || crop.H() < minCropHeight {
			return fault.ReasonCropTooSmall
		}
	}
	return fault.ReasonNone
}

func (s *Scheduler) pipesNeeded(list *layer.List) int {
	switch s.strategy {
	case SplitRegion:
		return splitPipesNeeded(list, s.width)
	default:
		return singlePipesNeeded(list)
	}
}

// allocate reserves pipes and rotation sessions. Video layers go first,
// highest z first, so video content wins contended VG pipes.
func (s *Scheduler) allocate(list *layer.List, st layer.Stats) fault.Reason {
	s.plan.size(st.AppLayers)
	needsRotator := st.NeedsRotator || s.rot.InUse() > 0

	for i := len(st.VideoIndices) - 1; i >= 0; i-- {
		idx := st.VideoIndices[i]
		l := list.Layers[idx]
		e := &s.plan.entries[idx]
		if l.Transform.Needs90() {
			sess, err := s.rot.Acquire()
			if err != nil {
				return fault.ReasonSessionsExhaust
			}
			s.acquired = append(s.acquired, sess)
			e.Session = sess
		}
		if !s.acquire(e, l, overlay.PreferVG) {
			return fault.ReasonPipesExhausted
		}
	}

	for idx := len(list.Layers) - 1; idx >= 0; idx-- {
		l := list.Layers[idx]
		if l.IsVideo() {
			continue
		}
		pref := overlay.PreferAny
		if !l.NeedsScaling() && !needsRotator && s.opts.MDPVersion >= overlay.MDSSv5 {
			pref = overlay.PreferDMA
		}
		if !s.acquire(&s.plan.entries[idx], l, pref) {
			return fault.ReasonPipesExhausted
		}
	}

	last := len(s.plan.entries) - 1
	for i := range s.plan.entries {
		e := &s.plan.entries[i]
		e.ZOrder = i
		e.IsForeground = i == last
	}
	return fault.ReasonNone
}

func (s *Scheduler) acquire(e *Entry, l *layer.Layer, pref overlay.Preference) bool {
	switch s.strategy {
	case SplitRegion:
		return s.splitAcquire(e, l, pref)
	default:
		return s.singleAcquire(e, pref)
	}
}

// request reserves one pipe and logs the outcome.
func (s *Scheduler) request(layerIdx int, pref overlay.Preference) (overlay.PipeID, bool) {
	p, ok := s.pipes.Request(s.dpy, pref)
	if !ok {
		s.logger.Debug().
			Str("event", "mdpcomp.no_pipe").
			Int(xglog.FieldLayer, layerIdx).
			Stringer("preference", pref).
			Msg("no pipe available")
		return overlay.NoPipe, false
	}
	return p.ID, true
}

func (s *Scheduler) configure(ctx context.Context, list *layer.List, attrs display.Attributes) fault.Reason {
	for i := range s.plan.entries {
		e := &s.plan.entries[i]
		l := list.Layers[e.LayerIndex]
		base, err := s.baseProgram(ctx, e, l)
		if err != nil {
			s.logger.Error().Err(err).Int("layer", e.LayerIndex).Str("event", "mdpcomp.rotator_failed").Msg("rotator setup failed")
			return fault.ReasonProgramFailed
		}
		switch s.strategy {
		case SplitRegion:
			err = s.splitConfigure(ctx, e, base, attrs)
		default:
			err = s.singleConfigure(ctx, e, base, attrs)
		}
		if err != nil {
			s.logger.Error().Err(err).Int("layer", e.LayerIndex).Str("event", "mdpcomp.commit_failed").Msg("pipe commit failed")
			return fault.ReasonProgramFailed
		}
	}
	return fault.ReasonNone
}

// baseProgram builds the unclipped program of a layer. A rotated layer is
// described in the rotator's output space with no remaining transform.
func (s *Scheduler) baseProgram(ctx context.Context, e *Entry, l *layer.Layer) (overlay.Program, error) {
	src := l.Buffer.Whf()
	p := overlay.Program{
		Display:    s.dpy,
		Source:     src,
		Crop:       l.Crop,
		Position:   l.Frame,
		Transform:  l.Transform,
		ZOrder:     e.ZOrder,
		IsFG:       e.IsForeground,
		Blending:   l.Blending == layer.BlendPremultiplied,
		Secure:     l.Buffer.Secure,
		Interlaced: l.Buffer.Interlaced,
	}
	if e.Session != nil {
		if err := e.Session.Configure(ctx, src, l.Transform, l.Buffer.Secure); err != nil {
			return p, err
		}
		p.Crop = gfx.Orient(l.Crop, src.W, src.H, l.Transform)
		p.Source = e.Session.Output()
		p.Transform = 0
	}
	return p, nil
}

func (s *Scheduler) commit(ctx context.Context, id overlay.PipeID, p overlay.Program) error {
	pipe, ok := s.pipes.Pipe(id)
	if !ok {
		return fmt.Errorf("pipe %d: %w", id, fault.ErrConfiguration)
	}
	s.committed = append(s.committed, id)
	if err := s.engine.Commit(ctx, pipe, p); err != nil {
		metrics.RecordProgramFailure("commit")
		return fmt.Errorf("commit %s: %w: %v", pipe, fault.ErrHardwareProgram, err)
	}
	s.logger.Debug().
		Str("event", "mdpcomp.commit").
		Stringer("pipe", pipe).
		Int("zorder", p.ZOrder).
		Stringer("crop", p.Crop).
		Stringer("position", p.Position).
		Msg("pipe programmed")
	return nil
}

// Draw queues the buffers of the planned layers.
func (s *Scheduler) Draw(ctx context.Context, list *layer.List) error {
	if s.state != On {
		return nil
	}
	for i := range s.plan.entries {
		e := &s.plan.entries[i]
		if e.LayerIndex >= list.Len() {
			return fmt.Errorf("plan layer %d beyond list of %d: %w", e.LayerIndex, list.Len(), fault.ErrConfiguration)
		}
		l := list.Layers[e.LayerIndex]
		if l.Buffer == nil {
			return fmt.Errorf("layer %d has no buffer: %w", e.LayerIndex, fault.ErrConfiguration)
		}
		ref := l.Buffer.Ref()
		if e.Session != nil {
			out, err := e.Session.Queue(ctx, ref)
			if err != nil {
				return fmt.Errorf("layer %d: %w", e.LayerIndex, err)
			}
			ref = out
		}
		for _, id := range e.PipeIDs() {
			pipe, _ := s.pipes.Pipe(id)
			if err := s.engine.Queue(ctx, pipe, ref); err != nil {
				metrics.RecordProgramFailure("queue")
				return fmt.Errorf("queue layer %d on %s: %w: %v", e.LayerIndex, pipe, fault.ErrHardwareProgram, err)
			}
		}
	}
	return nil
}

// Sessions returns the rotation sessions of the current plan.
func (s *Scheduler) Sessions() []*rotator.Session {
	if s.state != On {
		return nil
	}
	return s.plan.Sessions()
}

func (s *Scheduler) reset(list *layer.List) {
	s.plan.Reset()
	s.acquired = s.acquired[:0]
	s.committed = s.committed[:0]
	list.ResetComposition()
}

// undo discards everything the current attempt reserved or programmed.
func (s *Scheduler) undo(ctx context.Context, list *layer.List) {
	for _, id := range s.committed {
		if pipe, ok := s.pipes.Pipe(id); ok {
			if err := s.engine.Unset(ctx, pipe); err != nil {
				metrics.RecordProgramFailure("unset")
				s.logger.Warn().Err(err).Stringer("pipe", pipe).Msg("failed to unset pipe of abandoned plan")
			}
		}
	}
	s.pipes.Release(s.plan.PipeIDs()...)
	for i := len(s.acquired) - 1; i >= 0; i-- {
		s.rot.Unwind(s.acquired[i])
	}
	s.acquired = s.acquired[:0]
	s.committed = s.committed[:0]
	s.plan.Reset()
	list.ResetComposition()
}

// Dump writes the scheduler state.
func (s *Scheduler) Dump(sb *strings.Builder) {
	fmt.Fprintf(sb, "mdpcomp[%s]: enabled=%t state=%s strategy=%s reason=%q max_layers=%d\n",
		s.dpy, s.opts.Enabled, s.state, s.strategy, s.reason, s.opts.MaxLayers)
	s.plan.dump(sb, s.pipes)
}
