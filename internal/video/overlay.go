// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package video is the fast path for frames with exactly one video layer.
// It drives the primary panel, a mirrored secondary display, or the
// secondary alone, independent of the general scheduler.
package video

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/layer"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
	"github.com/rs/zerolog"
)

const (
	zVideo   = 0
	zCaption = 1
)

// DefaultSplitThreshold is the widest primary panel driven by one mixer.
const DefaultSplitThreshold = 2048

// Options configures an Overlay.
type Options struct {
	Enabled        bool
	SplitThreshold int
}

// Deps are the collaborators of an Overlay.
type Deps struct {
	Pipes    *overlay.PipeBook
	Rotator  *rotator.Pool
	Engine   overlay.Engine
	Displays display.Provider
	Security display.Security
	Logger   zerolog.Logger
}

// Overlay is the video path of the primary display pipeline.
type Overlay struct {
	opts     Options
	pipes    *overlay.PipeBook
	rot      *rotator.Pool
	engine   overlay.Engine
	displays display.Provider
	security display.Security
	logger   zerolog.Logger

	state     State
	on        bool
	reason    fault.Reason
	index     int
	caption   int
	secondary display.ID

	// Primary pipes per mixer half; a panel below the split threshold only
	// uses the left slot.
	primary    [2]overlay.PipeID
	external   overlay.PipeID
	captionOut overlay.PipeID
	session    *rotator.Session
	committed  []overlay.PipeID
}

// New returns a video path.
func New(opts Options, deps Deps) *Overlay {
	if opts.SplitThreshold <= 0 {
		opts.SplitThreshold = DefaultSplitThreshold
	}
	o := &Overlay{
		opts:     opts,
		pipes:    deps.Pipes,
		rot:      deps.Rotator,
		engine:   deps.Engine,
		displays: deps.Displays,
		security: deps.Security,
		logger:   deps.Logger,
	}
	o.clear()
	return o
}

// State returns the state chosen by the last prepare.
func (o *Overlay) State() State { return o.state }

// On reports whether the last prepare programmed the video path.
func (o *Overlay) On() bool { return o.on }

// Reason returns why the last prepare did not program the path.
func (o *Overlay) Reason() fault.Reason { return o.reason }

// Secondary returns the secondary display driven by the path, if any.
func (o *Overlay) Secondary() (display.ID, bool) {
	return o.secondary, o.on && o.state.OnSecondary()
}

// SecondaryPipes returns how many pipes the path stacks on the secondary
// display.
func (o *Overlay) SecondaryPipes() int {
	n := 0
	if o.external.Valid() {
		n++
	}
	if o.captionOut.Valid() {
		n++
	}
	return n
}

func (o *Overlay) clear() {
	o.on = false
	o.index, o.caption = -1, -1
	o.secondary = display.Primary
	o.primary = [2]overlay.PipeID{overlay.NoPipe, overlay.NoPipe}
	o.external, o.captionOut = overlay.NoPipe, overlay.NoPipe
	o.session = nil
	o.committed = o.committed[:0]
}

// Reset closes the path at the start of a config window. The pipe book and
// rotator pool have already taken back what the path held.
func (o *Overlay) Reset() {
	o.clear()
	o.state = Closed
	o.reason = fault.ReasonNone
}

// Prepare programs the video layer of the primary list. On false nothing
// reserved by this call remains and the layer keeps GPU composition.
// Must run inside the composer's config window.
func (o *Overlay) Prepare(ctx context.Context, list *layer.List) bool {
	o.clear()
	o.state = Closed
	reason := o.prepare(ctx, list)
	if reason != fault.ReasonNone {
		o.undo(ctx)
		o.reason = reason
		o.logger.Debug().
			Str("event", "video.closed").
			Stringer("state", o.state).
			Str("reason", string(reason)).
			Msg("video path not used")
		return false
	}
	o.on, o.reason = true, fault.ReasonNone
	o.logger.Debug().
		Str("event", "video.on").
		Stringer("state", o.state).
		Int("layer", o.index).
		Msg("video path programmed")
	return true
}

func (o *Overlay) prepare(ctx context.Context, list *layer.List) fault.Reason {
	if !o.opts.Enabled {
		return fault.ReasonDisabled
	}
	st := layer.Compute(list)
	single := st.VideoCount() == 1
	skipped := single && list.Layers[st.VideoIndices[0]].IsSkip()
	secondary, secAttrs, connected := display.SecondaryConnected(o.displays)

	o.state = ChooseState(single, connected, skipped)
	if o.state == Closed {
		if !single {
			return fault.ReasonNotSingleVideo
		}
		return fault.ReasonVideoClosed
	}
	o.index, o.caption = st.VideoIndices[0], st.ClosedCaption
	if o.state.OnSecondary() {
		o.secondary = secondary
	}

	l := list.Layers[o.index]
	if l.Buffer == nil {
		return fault.ReasonNoBuffer
	}
	if o.security.Securing() {
		return fault.ReasonSecureSession
	}
	if o.security.SecureMode() != l.Buffer.Secure {
		return fault.ReasonSecureMismatch
	}
	if l.Transform.Needs90() && o.pipes.DMAInUse() {
		return fault.ReasonRotatorBusy
	}

	isFG := list.Len() == 1
	if o.state.OnSecondary() {
		if r := o.configureSecondary(ctx, list, l, secAttrs, isFG); r != fault.ReasonNone {
			return r
		}
	}
	if o.state.OnPrimary() {
		attrs, ok := o.displays.Attributes(display.Primary)
		if !ok || !attrs.Active {
			return fault.ReasonNoDisplay
		}
		if r := o.configurePrimary(ctx, l, attrs, isFG); r != fault.ReasonNone {
			return r
		}
		l.MarkOverlay()
	}
	return fault.ReasonNone
}

// configurePrimary programs the video on the panel, through the rotator
// when the layer needs a quarter turn and one pipe per overlapped half on
// wide panels.
func (o *Overlay) configurePrimary(ctx context.Context, l *layer.Layer, attrs display.Attributes, isFG bool) fault.Reason {
	split := attrs.Width > o.opts.SplitThreshold
	if l.Transform.Needs90() && split {
		return fault.ReasonSplitRotation
	}

	halves := []gfx.Half{gfx.HalfLeft}
	if split {
		halves = halves[:0]
		left, right := gfx.Halves(l.Frame, attrs.Width)
		if left {
			halves = append(halves, gfx.HalfLeft)
		}
		if right {
			halves = append(halves, gfx.HalfRight)
		}
	}
	for _, h := range halves {
		id, ok := o.request(display.Primary)
		if !ok {
			return fault.ReasonPipesExhausted
		}
		o.primary[h] = id
	}

	src := l.Buffer.Whf()
	p := overlay.Program{
		Display:    display.Primary,
		Source:     src,
		Crop:       l.Crop,
		Position:   l.Frame,
		Transform:  l.Transform,
		ZOrder:     zVideo,
		IsFG:       isFG,
		Blending:   l.Blending == layer.BlendPremultiplied,
		Secure:     l.Buffer.Secure,
		Interlaced: l.Buffer.Interlaced,
	}
	if l.Transform.Needs90() {
		sess, err := o.rot.Acquire()
		if err != nil {
			return fault.ReasonSessionsExhaust
		}
		o.session = sess
		if err := sess.Configure(ctx, src, l.Transform, l.Buffer.Secure); err != nil {
			o.logger.Error().Err(err).Str("event", "video.rotator_failed").Msg("rotator setup failed")
			return fault.ReasonProgramFailed
		}
		p.Crop = gfx.Orient(l.Crop, src.W, src.H, l.Transform)
		p.Source = sess.Output()
		p.Transform = 0
	}

	for _, h := range halves {
		scissor, dx := attrs.Bounds(), 0
		if split {
			scissor, dx = gfx.HalfBounds(h, attrs.Width, attrs.Height)
		}
		hp := p
		hp.Crop, hp.Position = gfx.ClipToBounds(p.Crop, p.Position, scissor, p.Transform)
		hp.Position = hp.Position.Translate(dx, 0)
		hp.Mixer = overlay.Mixer(h)
		if err := o.commit(ctx, o.primary[h], hp); err != nil {
			return fault.ReasonProgramFailed
		}
	}
	return fault.ReasonNone
}

// configureSecondary programs the raw video on the secondary display with
// no transform, plus the caption companion one z-order above it.
func (o *Overlay) configureSecondary(ctx context.Context, list *layer.List, l *layer.Layer, attrs display.Attributes, isFG bool) fault.Reason {
	id, ok := o.request(o.secondary)
	if !ok {
		return fault.ReasonPipesExhausted
	}
	o.external = id

	p := overlay.Program{
		Display:    o.secondary,
		Source:     l.Buffer.Whf(),
		ZOrder:     zVideo,
		IsFG:       isFG,
		Secure:     l.Buffer.Secure,
		Interlaced: l.Buffer.Interlaced,
	}
	p.Crop, p.Position = gfx.ClipToBounds(l.Crop, l.Frame, attrs.Bounds(), 0)
	if err := o.commit(ctx, id, p); err != nil {
		return fault.ReasonProgramFailed
	}

	if o.caption < 0 {
		return fault.ReasonNone
	}
	cc := list.Layers[o.caption]
	if cc.Buffer == nil {
		return fault.ReasonNoBuffer
	}
	ccPipe, ok := o.pipes.Request(o.secondary, overlay.PreferAny)
	if !ok {
		return fault.ReasonPipesExhausted
	}
	o.captionOut = ccPipe.ID
	cp := overlay.Program{
		Display: o.secondary,
		Source:  cc.Buffer.Whf(),
		ZOrder:  zCaption,
	}
	// Captions keep their source size on the secondary.
	cp.Crop, cp.Position = gfx.ClipToBounds(cc.Crop, cc.Crop, attrs.Bounds(), 0)
	if err := o.commit(ctx, ccPipe.ID, cp); err != nil {
		return fault.ReasonProgramFailed
	}
	return fault.ReasonNone
}

func (o *Overlay) request(dpy display.ID) (overlay.PipeID, bool) {
	p, ok := o.pipes.Request(dpy, overlay.PreferVG)
	if !ok {
		o.logger.Debug().Str("event", "video.no_pipe").Stringer("display", dpy).Msg("no video pipe available")
		return overlay.NoPipe, false
	}
	return p.ID, true
}

func (o *Overlay) commit(ctx context.Context, id overlay.PipeID, p overlay.Program) error {
	pipe, ok := o.pipes.Pipe(id)
	if !ok {
		return fmt.Errorf("pipe %d: %w", id, fault.ErrConfiguration)
	}
	o.committed = append(o.committed, id)
	if err := o.engine.Commit(ctx, pipe, p); err != nil {
		metrics.RecordProgramFailure("commit")
		o.logger.Error().Err(err).Str("event", "video.commit_failed").Stringer("pipe", pipe).Msg("video pipe commit failed")
		return fmt.Errorf("commit %s: %w: %v", pipe, fault.ErrHardwareProgram, err)
	}
	return nil
}

// undo releases what the current attempt reserved or programmed.
func (o *Overlay) undo(ctx context.Context) {
	for _, id := range o.committed {
		if pipe, ok := o.pipes.Pipe(id); ok {
			if err := o.engine.Unset(ctx, pipe); err != nil {
				metrics.RecordProgramFailure("unset")
				o.logger.Warn().Err(err).Stringer("pipe", pipe).Msg("failed to unset video pipe")
			}
		}
	}
	o.pipes.Release(o.pipeIDs()...)
	if o.session != nil {
		o.rot.Unwind(o.session)
	}
	o.clear()
}

func (o *Overlay) pipeIDs() []overlay.PipeID {
	var out []overlay.PipeID
	for _, id := range []overlay.PipeID{o.primary[0], o.primary[1], o.external, o.captionOut} {
		if id.Valid() {
			out = append(out, id)
		}
	}
	return out
}

// Draw queues the video buffer on every pipe of the current state. Every
// queue is attempted; failures are joined.
func (o *Overlay) Draw(ctx context.Context, list *layer.List) error {
	if !o.on {
		return nil
	}
	if o.index >= list.Len() || list.Layers[o.index].Buffer == nil {
		return fmt.Errorf("video layer %d missing: %w", o.index, fault.ErrConfiguration)
	}
	raw := list.Layers[o.index].Buffer.Ref()

	var errs []error
	if o.external.Valid() {
		errs = append(errs, o.queue(ctx, o.external, raw))
	}
	if o.captionOut.Valid() && o.caption < list.Len() && list.Layers[o.caption].Buffer != nil {
		errs = append(errs, o.queue(ctx, o.captionOut, list.Layers[o.caption].Buffer.Ref()))
	}
	if o.state.OnPrimary() {
		ref := raw
		if o.session != nil {
			out, err := o.session.Queue(ctx, raw)
			if err != nil {
				return errors.Join(append(errs, err)...)
			}
			ref = out
		}
		for _, id := range o.primary {
			if id.Valid() {
				errs = append(errs, o.queue(ctx, id, ref))
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Overlay) queue(ctx context.Context, id overlay.PipeID, ref gfx.BufferRef) error {
	pipe, _ := o.pipes.Pipe(id)
	if err := o.engine.Queue(ctx, pipe, ref); err != nil {
		metrics.RecordProgramFailure("queue")
		o.logger.Error().Err(err).Str("event", "video.queue_failed").Stringer("pipe", pipe).Msg("video queue failed")
		return fmt.Errorf("queue %s: %w: %v", pipe, fault.ErrHardwareProgram, err)
	}
	return nil
}

// Sessions returns the rotation session used by the primary pipe.
func (o *Overlay) Sessions() []*rotator.Session {
	if !o.on || o.session == nil {
		return nil
	}
	return []*rotator.Session{o.session}
}

// Dump writes the path state.
func (o *Overlay) Dump(sb *strings.Builder) {
	fmt.Fprintf(sb, "video: enabled=%t state=%s on=%t reason=%q layer=%d caption=%d\n",
		o.opts.Enabled, o.state, o.on, o.reason, o.index, o.caption)
	for _, id := range o.pipeIDs() {
		if pipe, ok := o.pipes.Pipe(id); ok {
			fmt.Fprintf(sb, "  %s\n", pipe)
		}
	}
}
