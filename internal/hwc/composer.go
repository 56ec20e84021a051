// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hwc is the per-frame entry point of the composition core. It owns
// the pipe book, the rotator pool, the scheduler and the video path, and
// serializes every config window and draw.
package hwc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/idle"
	"github.com/ManuGH/ovcomp/internal/layer"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/ManuGH/ovcomp/internal/mdpcomp"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
	"github.com/ManuGH/ovcomp/internal/video"
	"github.com/rs/zerolog"
)

// Invalidator asks the host for a new frame.
type Invalidator interface {
	Invalidate()
}

// Options are the tunables of a Composer, read once at start.
type Options struct {
	Inventory       overlay.Inventory
	MDPVersion      overlay.MDPVersion
	Enabled         bool
	VideoEnabled    bool
	MaxLayers       int
	SplitThreshold  int
	RotatorSessions int
	FenceTimeout    time.Duration
	IdleTimeout     time.Duration
	Debug           bool
}

// Deps are the host collaborators of a Composer.
type Deps struct {
	Engine   overlay.Engine
	Rotator  rotator.Device
	Displays display.Provider
	Security display.Security
	Host     Invalidator
	Logger   zerolog.Logger
}

// Frames holds one layer list per display. Nil entries are not composed.
type Frames [display.Count]*layer.List

type displayState struct {
	path string
	fb   overlay.PipeID
	// target is the framebuffer target of the prepared list.
	target *layer.Layer
}

// Composer composes frames for every display.
type Composer struct {
	mu sync.Mutex

	engine   overlay.Engine
	displays display.Provider
	host     Invalidator
	logger   zerolog.Logger

	pipes *overlay.PipeBook
	rot   *rotator.Pool
	sched *mdpcomp.Scheduler
	video *video.Overlay
	idle  *idle.Invalidator

	idlePending atomic.Bool
	state       [display.Count]displayState
}

// New builds a composer. The scheduler strategy is fixed from the primary
// panel width at this point.
func New(opts Options, deps Deps) *Composer {
	logger := deps.Logger.With().Str(xglog.FieldComponent, "hwc").Logger()
	c := &Composer{
		engine:   deps.Engine,
		displays: deps.Displays,
		host:     deps.Host,
		logger:   logger,
	}
	component := func(name string) zerolog.Logger {
		return xglog.WithDebug(deps.Logger.With().Str(xglog.FieldComponent, name).Logger(), opts.Debug)
	}
	c.pipes = overlay.NewPipeBook(opts.Inventory, deps.Engine, component("pipes"))
	c.rot = rotator.NewPool(deps.Rotator, rotator.Options{
		MaxSessions:  opts.RotatorSessions,
		FenceTimeout: opts.FenceTimeout,
	}, component("rotator"))

	width := 0
	if a, ok := deps.Displays.Attributes(display.Primary); ok {
		width = a.Width
	}
	c.sched = mdpcomp.New(display.Primary, width, mdpcomp.Options{
		Enabled:        opts.Enabled,
		MaxLayers:      opts.MaxLayers,
		MDPVersion:     opts.MDPVersion,
		SplitThreshold: opts.SplitThreshold,
	}, mdpcomp.Deps{
		Pipes:       c.pipes,
		Rotator:     c.rot,
		Engine:      deps.Engine,
		Displays:    deps.Displays,
		Security:    deps.Security,
		ConsumeIdle: func() bool { return c.idlePending.Swap(false) },
		Logger:      component("mdpcomp"),
	})
	c.video = video.New(video.Options{
		Enabled:        opts.VideoEnabled,
		SplitThreshold: opts.SplitThreshold,
	}, video.Deps{
		Pipes:    c.pipes,
		Rotator:  c.rot,
		Engine:   deps.Engine,
		Displays: deps.Displays,
		Security: deps.Security,
		Logger:   component("video"),
	})
	c.idle = idle.New(opts.IdleTimeout, c.OnFrameIdle, component("idle"))
	for i := range c.state {
		c.state[i] = displayState{fb: overlay.NoPipe}
	}

	logger.Info().
		Str("event", "hwc.start").
		Bool("enabled", opts.Enabled).
		Bool("video", opts.VideoEnabled).
		Int("pipes", c.pipes.Len()).
		Stringer(xglog.FieldStrategy, c.sched.Strategy()).
		Dur("idle_timeout", opts.IdleTimeout).
		Msg("composer ready")
	return c
}

// Window is an open config window. Pipe and session allocation for every
// display of a frame happens inside one window so no pipe is handed to two
// displays. Done must be called exactly once.
type Window struct {
	c      *Composer
	ctx    context.Context
	closed bool
}

// BeginConfig opens a window and holds the composer until Done.
func (c *Composer) BeginConfig(ctx context.Context) *Window {
	c.mu.Lock()
	c.pipes.ConfigBegin()
	c.rot.ConfigBegin()
	c.video.Reset()
	for i := range c.state {
		c.state[i] = displayState{fb: overlay.NoPipe}
	}
	return &Window{c: c, ctx: ctx}
}

// PrepareFrame decides the composition of one display. It reports whether
// any layer of the list is scanned out by a hardware pipe.
func (w *Window) PrepareFrame(dpy display.ID, list *layer.List) bool {
	if w.closed {
		return false
	}
	c := w.c
	if !dpy.Valid() {
		c.logger.Error().Int(xglog.FieldDisplay, int(dpy)).Str("event", "hwc.bad_display").Msg("prepare for unknown display")
		return false
	}
	attrs, ok := c.displays.Attributes(dpy)
	if !ok || !attrs.Connected || !attrs.Active {
		return false
	}

	start := time.Now()
	defer func() { metrics.ObservePrepare(dpy.String(), time.Since(start).Seconds()) }()

	st := &c.state[dpy]
	st.path = metrics.PathFramebuffer
	if list != nil {
		st.target = list.Target
	}

	if dpy == display.Primary {
		if c.sched.Prepare(w.ctx, list) {
			st.path = metrics.PathHardware
			return true
		}
		// The idle frame is composed by the GPU alone so every pipe can rest.
		if !c.sched.IdleFrame() && c.video.Prepare(w.ctx, list) && c.video.State().OnPrimary() {
			st.path = metrics.PathVideo
		}
	}

	// Every path but full hardware composition needs the GPU target.
	p, ok := c.pipes.BindFramebuffer(dpy)
	if !ok {
		c.logger.Warn().Stringer(xglog.FieldDisplay, dpy).Str("event", "hwc.no_fb_pipe").Msg("no pipe left for the framebuffer target")
		return st.path != metrics.PathFramebuffer
	}
	st.fb = p.ID
	return st.path != metrics.PathFramebuffer
}

// Done programs the framebuffer pipes and closes the window. Pipes of the
// previous window not used by this one are unset.
func (w *Window) Done() error {
	if w.closed {
		return nil
	}
	w.closed = true
	c := w.c
	defer c.mu.Unlock()

	var errs []error
	for i := range c.state {
		dpy := display.ID(i)
		if c.state[i].fb.Valid() {
			if err := c.programFramebuffer(w.ctx, dpy); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := c.pipes.ConfigDone(w.ctx); err != nil {
		errs = append(errs, err)
	}
	c.rot.ConfigDone(w.ctx)
	return errors.Join(errs...)
}

// programFramebuffer commits the GPU target above whatever the video path
// placed on the display.
func (c *Composer) programFramebuffer(ctx context.Context, dpy display.ID) error {
	st := &c.state[dpy]
	pipe, _ := c.pipes.Pipe(st.fb)
	attrs, _ := c.displays.Attributes(dpy)

	below := 0
	if c.video.On() {
		if dpy == display.Primary && c.video.State().OnPrimary() {
			below = 1
		}
		if sec, ok := c.video.Secondary(); ok && sec == dpy {
			below = c.video.SecondaryPipes()
		}
	}

	bounds := attrs.Bounds()
	p := overlay.Program{
		Display:  dpy,
		Source:   gfx.Whf{W: attrs.Width, H: attrs.Height, Format: gfx.FormatRGBA8888, Size: uint32(attrs.Width * attrs.Height * 4)},
		Crop:     bounds,
		Position: bounds,
		ZOrder:   below,
		IsFG:     below == 0,
		Blending: true,
	}
	if t := st.target; t != nil && t.Buffer != nil {
		p.Source = t.Buffer.Whf()
		p.Crop, p.Position = gfx.ClipToBounds(t.Crop, t.Frame, bounds, 0)
	}
	if err := c.engine.Commit(ctx, pipe, p); err != nil {
		metrics.RecordProgramFailure("commit")
		c.pipes.Release(st.fb)
		st.fb = overlay.NoPipe
		return fmt.Errorf("commit framebuffer %s on %s: %w: %v", pipe, dpy, fault.ErrHardwareProgram, err)
	}
	c.logger.Debug().
		Str("event", "hwc.fb_bound").
		Stringer(xglog.FieldDisplay, dpy).
		Stringer(xglog.FieldPipe, pipe).
		Int(xglog.FieldZOrder, p.ZOrder).
		Msg("framebuffer target programmed")
	return nil
}

// Prepare composes every non-nil list of frames inside one window,
// external displays first.
func (c *Composer) Prepare(ctx context.Context, frames Frames) ([display.Count]bool, error) {
	var out [display.Count]bool
	w := c.BeginConfig(ctx)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i] == nil {
			continue
		}
		out[i] = w.PrepareFrame(display.ID(i), frames[i])
	}
	return out, w.Done()
}

// DrawFrame submits the buffers of a prepared display and commits the
// frame. A queue failure aborts the frame of that display only.
func (c *Composer) DrawFrame(ctx context.Context, dpy display.ID, list *layer.List) error {
	if !dpy.Valid() {
		return fmt.Errorf("draw for display %d: %w", dpy, fault.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[dpy]
	if st.path == "" {
		return fmt.Errorf("display %s was not prepared: %w", dpy, fault.ErrConfiguration)
	}
	logger := xglog.WithContext(ctx, c.logger).With().Stringer(xglog.FieldDisplay, dpy).Logger()

	var sessions []*rotator.Session
	if dpy == display.Primary {
		if err := c.video.Draw(ctx, list); err != nil {
			logger.Error().Err(err).Str("event", "hwc.draw_failed").Str("path", metrics.PathVideo).Msg("video draw failed")
			return err
		}
		if err := c.sched.Draw(ctx, list); err != nil {
			logger.Error().Err(err).Str("event", "hwc.draw_failed").Str("path", metrics.PathHardware).Msg("hardware draw failed")
			return err
		}
		sessions = append(c.sched.Sessions(), c.video.Sessions()...)
	}

	if st.fb.Valid() {
		if t := st.target; t != nil && t.Buffer != nil {
			pipe, _ := c.pipes.Pipe(st.fb)
			if err := c.engine.Queue(ctx, pipe, t.Buffer.Ref()); err != nil {
				metrics.RecordProgramFailure("queue")
				logger.Error().Err(err).Str("event", "hwc.draw_failed").Str("path", metrics.PathFramebuffer).Msg("framebuffer queue failed")
				return fmt.Errorf("queue framebuffer on %s: %w: %v", dpy, fault.ErrHardwareProgram, err)
			}
		}
	}

	f, err := c.engine.DisplayCommit(ctx, dpy)
	if err != nil {
		metrics.RecordProgramFailure("display_commit")
		logger.Error().Err(err).Str("event", "hwc.commit_failed").Msg("display commit failed")
		return fmt.Errorf("display commit %s: %w: %v", dpy, fault.ErrHardwareProgram, err)
	}
	// A nil release fence means the frame is already off screen; sessions
	// record nothing and their slots are free to reuse.
	if f != nil {
		for _, s := range sessions {
			dup, err := f.Dup()
			if err != nil {
				logger.Warn().Err(err).Int(xglog.FieldSession, s.Slot()).Msg("failed to duplicate release fence")
				continue
			}
			s.SetReleaseFence(ctx, dup)
		}
		_ = f.Close()
	}

	metrics.RecordFrame(dpy.String(), st.path)
	if dpy == display.Primary && st.path == metrics.PathHardware {
		c.idle.MarkForSleep()
	}
	return nil
}

// Draw draws every non-nil list of frames. Failures are joined.
func (c *Composer) Draw(ctx context.Context, frames Frames) error {
	var errs []error
	for i, list := range frames {
		if list == nil {
			continue
		}
		if c.path(display.ID(i)) == "" {
			continue
		}
		errs = append(errs, c.DrawFrame(ctx, display.ID(i), list))
	}
	return errors.Join(errs...)
}

func (c *Composer) path(dpy display.ID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[dpy].path
}

// Path returns the composition path chosen for dpy by the last window, or
// "" when it was not prepared.
func (c *Composer) Path(dpy display.ID) string {
	if !dpy.Valid() {
		return ""
	}
	return c.path(dpy)
}

// OnFrameIdle forces the next primary frame to GPU composition and asks the
// host for a redraw. It only flips a flag and is safe from any goroutine.
func (c *Composer) OnFrameIdle() {
	c.idlePending.Store(true)
	c.logger.Debug().Str("event", "hwc.idle").Msg("idle timeout, invalidating")
	if c.host != nil {
		c.host.Invalidate()
	}
}

// IdlePending reports whether the next prepare will be forced to the GPU.
func (c *Composer) IdlePending() bool { return c.idlePending.Load() }

// Blank releases every pipe of dpy and, for the primary display, every
// rotation session.
func (c *Composer) Blank(ctx context.Context, dpy display.ID) error {
	if !dpy.Valid() {
		return fmt.Errorf("blank display %d: %w", dpy, fault.ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.engine.Blank(ctx, dpy); err != nil {
		errs = append(errs, fmt.Errorf("blank %s: %w: %v", dpy, fault.ErrHardwareProgram, err))
	}
	if err := c.pipes.ReleaseDisplay(ctx, dpy); err != nil {
		errs = append(errs, err)
	}
	if dpy == display.Primary {
		if err := c.rot.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.state[dpy] = displayState{fb: overlay.NoPipe}
	err := errors.Join(errs...)
	c.logger.Info().Err(err).Str("event", "hwc.blank").Stringer(xglog.FieldDisplay, dpy).Msg("display blanked")
	return err
}

// Close stops the idle timer.
func (c *Composer) Close() {
	c.idle.Stop()
}
