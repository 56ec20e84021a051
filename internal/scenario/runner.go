// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scenario

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/engine/sim"
	"github.com/ManuGH/ovcomp/internal/hwc"
	"github.com/ManuGH/ovcomp/internal/layer"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/rs/zerolog"
)

// Verdicts of a report.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// Pacer blocks until the next frame may start. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Report is the outcome of one replay.
type Report struct {
	RunID         string       `json:"run_id"`
	Scenario      string       `json:"scenario"`
	StartedAt     time.Time    `json:"started_at"`
	EndedAt       time.Time    `json:"ended_at"`
	Frames        int          `json:"frames"`
	Steps         []StepResult `json:"steps"`
	Invalidations int64        `json:"invalidations"`
	Events        int          `json:"events"`
	Final         hwc.Snapshot `json:"final"`
	Summary       Summary      `json:"summary"`
}

// Summary is the aggregate verdict.
type Summary struct {
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Verdict string `json:"verdict"`
}

// StepResult is the state after the last frame of a step.
type StepResult struct {
	Name      string            `json:"name"`
	Frames    int               `json:"frames"`
	Paths     map[string]string `json:"paths,omitempty"`
	Overlay   map[string][]int  `json:"overlay,omitempty"`
	Scheduler string            `json:"scheduler"`
	Video     string            `json:"video"`
	Reason    string            `json:"reason,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	Pass      bool              `json:"pass"`
	Failures  []string          `json:"failures,omitempty"`
}

// Rig is a composer wired to the simulated engine and rotator.
type Rig struct {
	Displays *display.Static
	Log      *sim.Log
	Engine   *sim.Engine
	Rotator  *sim.Rotator
	Composer *hwc.Composer

	logger        zerolog.Logger
	invalidations atomic.Int64
	frame         uint64
}

// NewRig builds a composer for the displays and fences of s.
func NewRig(s *Scenario, opts hwc.Options, logger zerolog.Logger) (*Rig, error) {
	r := &Rig{
		Log:    sim.NewLog(0),
		logger: logger.With().Str(xglog.FieldComponent, "scenario").Logger(),
	}
	panels := s.Displays.panels()
	r.Displays = display.NewStatic(panels[display.Primary].attributes())
	for id, p := range panels {
		if id != int(display.Primary) && p != nil {
			r.Displays.Set(display.ID(id), p.attributes())
		}
	}
	r.Engine = sim.NewEngine(r.Log)
	if s.Fences != "" {
		if err := r.Engine.SetFenceKind(sim.FenceKind(s.Fences)); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}
	}
	r.Rotator = sim.NewRotator(r.Log)
	r.Composer = hwc.New(opts, hwc.Deps{
		Engine:   r.Engine,
		Rotator:  r.Rotator,
		Displays: r.Displays,
		Security: r.Displays,
		Host:     r,
		Logger:   logger,
	})
	return r, nil
}

// Invalidate counts host redraw requests.
func (r *Rig) Invalidate() { r.invalidations.Add(1) }

// Invalidations returns the number of redraw requests so far.
func (r *Rig) Invalidations() int64 { return r.invalidations.Load() }

// Close stops the composer.
func (r *Rig) Close() {
	r.Composer.Close()
	r.Engine.Close()
}

// Run replays every step of s. It stops early only when ctx is done or the
// pacer fails; composition failures are recorded in the report.
func (r *Rig) Run(ctx context.Context, s *Scenario, pace Pacer) (Report, error) {
	rep := Report{
		RunID:     xglog.RunIDFromContext(ctx),
		Scenario:  s.Name,
		StartedAt: time.Now(),
	}
	finish := func() {
		rep.EndedAt = time.Now()
		rep.Invalidations = r.Invalidations()
		rep.Events = len(r.Log.Events())
		rep.Final = r.Composer.Snapshot()
		rep.Summary.Verdict = VerdictPass
		if rep.Summary.Failed > 0 {
			rep.Summary.Verdict = VerdictFail
		}
	}

	for i := range s.Steps {
		res, err := r.Step(ctx, &s.Steps[i], pace)
		rep.Frames += res.Frames
		rep.Steps = append(rep.Steps, res)
		if res.Pass {
			rep.Summary.Passed++
		} else {
			rep.Summary.Failed++
		}
		if err != nil {
			finish()
			return rep, err
		}
	}
	finish()
	r.logger.Info().
		Str("event", "scenario.done").
		Str("scenario", s.Name).
		Int("frames", rep.Frames).
		Int("failed", rep.Summary.Failed).
		Str("verdict", rep.Summary.Verdict).
		Msg("scenario replayed")
	return rep, nil
}

// Step applies the host events of st and composes its frames.
func (r *Rig) Step(ctx context.Context, st *Step, pace Pacer) (StepResult, error) {
	res := StepResult{Name: st.Name}
	r.apply(st)

	if st.Idle {
		r.Composer.OnFrameIdle()
	}
	for _, name := range st.Blank {
		id, _ := display.ParseID(name)
		if err := r.Composer.Blank(ctx, id); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	for n := 0; n < st.FrameCount(); n++ {
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				res.Failures = append(res.Failures, fmt.Sprintf("interrupted: %v", err))
				return res, err
			}
		}
		r.frame++
		fctx := xglog.ContextWithFrame(ctx, r.frame)
		frames, err := st.frames()
		if err != nil {
			return res, err
		}
		if _, err := r.Composer.Prepare(fctx, frames); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		if err := r.Composer.Draw(fctx, frames); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		res.Frames++
		if n == st.FrameCount()-1 {
			res.Overlay = overlayIndices(frames)
		}
	}

	snap := r.Composer.Snapshot()
	res.Scheduler, res.Video, res.Reason = snap.Scheduler, snap.Video, snap.Reason
	for _, d := range snap.Displays {
		if res.Paths == nil {
			res.Paths = make(map[string]string)
		}
		res.Paths[d.Display] = d.Path
	}
	res.Failures = append(res.Failures, st.Expect.check(res)...)
	res.Pass = len(res.Failures) == 0

	ev := r.logger.Debug()
	if !res.Pass {
		ev = r.logger.Warn().Strs("failures", res.Failures)
	}
	ev.Str("event", "scenario.step").
		Str("step", st.Name).
		Int("frames", res.Frames).
		Str("scheduler", res.Scheduler).
		Str("video", res.Video).
		Msg("step composed")
	return res, nil
}

func (r *Rig) apply(st *Step) {
	for id, p := range st.Displays.panels() {
		if p != nil {
			r.Displays.Set(display.ID(id), p.attributes())
		}
	}
	for _, name := range st.Disconnect {
		id, _ := display.ParseID(name)
		r.Displays.Disconnect(id)
	}
	if sec := st.Security; sec != nil {
		r.Displays.SetSecuring(sec.Securing)
		r.Displays.SetSecureMode(sec.SecureMode)
		r.Displays.SetReconfigurePending(sec.ReconfigurePending)
	}
	if st.Faults != nil {
		r.Engine.SetFaults(*st.Faults)
	}
	if st.RotatorFaults != nil {
		r.Rotator.SetFaults(*st.RotatorFaults)
	}
}

// frames builds fresh lists; the composer writes into them.
func (st *Step) frames() (hwc.Frames, error) {
	var out hwc.Frames
	for name, spec := range st.Frames {
		if spec == nil {
			continue
		}
		id, err := display.ParseID(name)
		if err != nil {
			return out, err
		}
		list, err := spec.build()
		if err != nil {
			return out, err
		}
		out[id] = list
	}
	return out, nil
}

func overlayIndices(frames hwc.Frames) map[string][]int {
	out := make(map[string][]int)
	for id, list := range frames {
		if list == nil {
			continue
		}
		idx := []int{}
		for i, l := range list.Layers {
			if l.Composition == layer.Overlay {
				idx = append(idx, i)
			}
		}
		out[display.ID(id).String()] = idx
	}
	return out
}

func (e *Expect) check(res StepResult) []string {
	if e == nil {
		return nil
	}
	var out []string
	for name, want := range e.Paths {
		if got := res.Paths[name]; got != want {
			out = append(out, fmt.Sprintf("path of %s: got %q, want %q", name, got, want))
		}
	}
	if e.Scheduler != "" && res.Scheduler != e.Scheduler {
		out = append(out, fmt.Sprintf("scheduler: got %q, want %q", res.Scheduler, e.Scheduler))
	}
	if e.Video != "" && res.Video != e.Video {
		out = append(out, fmt.Sprintf("video: got %q, want %q", res.Video, e.Video))
	}
	if e.Reason != nil && res.Reason != *e.Reason {
		out = append(out, fmt.Sprintf("reason: got %q, want %q", res.Reason, *e.Reason))
	}
	for name, want := range e.Overlay {
		got := res.Overlay[name]
		if !slices.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			out = append(out, fmt.Sprintf("overlay layers of %s: got %v, want %v", name, got, want))
		}
	}
	if e.DrawError != nil {
		if failed := len(res.Errors) > 0; failed != *e.DrawError {
			out = append(out, fmt.Sprintf("draw error: got %t, want %t (%v)", failed, *e.DrawError, res.Errors))
		}
	}
	return out
}
