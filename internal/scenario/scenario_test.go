// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ManuGH/ovcomp/internal/engine/sim"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/hwc"
	"github.com/ManuGH/ovcomp/internal/layer"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const replay = `
name: phone-session
displays:
  primary: {width: 1080, height: 1920}
steps:
  - name: home-screen
    repeat: 2
    frames:
      primary: &ui
        target: {fd: 99, width: 1080, height: 1920, format: rgba8888}
        layers:
          - buffer: {fd: 10, width: 1080, height: 1920, format: rgbx8888}
          - buffer: {fd: 11, width: 1080, height: 100, format: rgbx8888}
    expect:
      paths: {primary: hardware}
      scheduler: "on"
      reason: ""
      overlay: {primary: [0, 1]}

  - name: video-under-skip
    frames:
      primary: &video
        target: {fd: 99, width: 1080, height: 1920, format: rgba8888}
        layers:
          - buffer: {fd: 10, width: 1080, height: 1920, format: rgbx8888}
            skip: true
          - buffer: {fd: 20, width: 640, height: 360, format: nv12}
            frame: [0, 0, 360, 640]
    expect:
      paths: {primary: video}
      scheduler: "off"
      reason: skip_layer
      video: primary_only
      overlay: {primary: [1]}

  - name: hdmi-mirror
    displays:
      external: {width: 1920, height: 1080}
    frames:
      primary: *video
      external:
        target: {fd: 98, width: 1920, height: 1080, format: rgba8888}
        layers:
          - buffer: {fd: 30, width: 1920, height: 1080, format: rgbx8888}
    expect:
      paths: {primary: video, external: framebuffer}
      video: mirror

  - name: idle
    disconnect: [external]
    idle: true
    frames:
      primary: *ui
    expect:
      paths: {primary: framebuffer}
      reason: idle
      video: closed

  - name: resume
    frames:
      primary: *ui
    expect:
      paths: {primary: hardware}

  - name: commit-failure
    faults: {display_commit: true}
    frames:
      primary: *ui
    expect:
      draw_error: true

  - name: recovered
    faults: {}
    frames:
      primary: *ui
    expect:
      draw_error: false
      paths: {primary: hardware}

  - name: screen-off
    blank: [primary]
`

func testOptions() hwc.Options {
	return hwc.Options{
		Inventory:    overlay.DefaultInventory(overlay.MDSSv5),
		MDPVersion:   overlay.MDSSv5,
		Enabled:      true,
		VideoEnabled: true,
		MaxLayers:    4,
	}
}

func newTestRig(t *testing.T, s *Scenario) *Rig {
	t.Helper()
	r, err := NewRig(s, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

type countingPacer struct {
	waits int
	stop  int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	if p.stop > 0 && p.waits >= p.stop {
		return context.Canceled
	}
	return ctx.Err()
}

func TestRun_Replay(t *testing.T) {
	s, err := Parse([]byte(replay))
	require.NoError(t, err)
	r := newTestRig(t, s)
	pacer := &countingPacer{}

	ctx := xglog.ContextWithRunID(context.Background(), "run-1")
	rep, err := r.Run(ctx, s, pacer)
	require.NoError(t, err)

	for _, st := range rep.Steps {
		assert.True(t, st.Pass, "step %s: %v", st.Name, st.Failures)
	}
	assert.Equal(t, VerdictPass, rep.Summary.Verdict)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, "phone-session", rep.Scenario)
	assert.Equal(t, 8, rep.Frames)
	assert.Equal(t, 8, pacer.waits)
	assert.Equal(t, int64(1), rep.Invalidations)
	assert.Equal(t, 1, r.Log.Count(sim.EvBlank))
	assert.Empty(t, rep.Final.Displays, "blanked primary has no decision")
	assert.Positive(t, rep.Events)

	failed := rep.Steps[5]
	require.Equal(t, "commit-failure", failed.Name)
	require.Len(t, failed.Errors, 1)
	assert.Contains(t, failed.Errors[0], "display commit")
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s, err := Parse([]byte(`
name: wrong
displays:
  primary: {width: 1080, height: 1920}
steps:
  - frames:
      primary:
        layers:
          - buffer: {fd: 10, width: 1080, height: 1920, format: rgbx8888}
    expect:
      paths: {primary: video}
      overlay: {primary: []}
`))
	require.NoError(t, err)
	r := newTestRig(t, s)

	rep, err := r.Run(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, rep.Summary.Verdict)
	assert.Equal(t, 1, rep.Summary.Failed)

	st := rep.Steps[0]
	assert.Equal(t, "step-1", st.Name)
	assert.Len(t, st.Failures, 2)
	assert.Equal(t, map[string]string{"primary": "hardware"}, st.Paths)
}

func TestRun_StopsWhenPacerFails(t *testing.T) {
	s, err := Parse([]byte(replay))
	require.NoError(t, err)
	r := newTestRig(t, s)

	rep, err := r.Run(context.Background(), s, &countingPacer{stop: 3})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, rep.Frames)
	assert.Equal(t, VerdictFail, rep.Summary.Verdict)
}

func TestStep_SecurityForcesFallback(t *testing.T) {
	s, err := Parse([]byte(`
name: secure-playback
displays:
  primary: {width: 1080, height: 1920}
steps:
  - security: {secure_mode: true}
    frames:
      primary:
        layers:
          - buffer: {fd: 10, width: 1080, height: 1920, format: rgbx8888}
    expect:
      paths: {primary: framebuffer}
      reason: secure_session
`))
	require.NoError(t, err)
	r := newTestRig(t, s)

	res, err := r.Step(context.Background(), &s.Steps[0], nil)
	require.NoError(t, err)
	assert.True(t, res.Pass, "%v", res.Failures)
}

func TestRun_FDFences(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fd fences need a unix host")
	}
	s, err := Parse([]byte(`
name: rotated-video
fences: fd
displays:
  primary: {width: 1080, height: 1920}
steps:
  - name: portrait-video
    repeat: 4
    frames:
      primary:
        layers:
          - buffer: {fd: 20, width: 640, height: 360, format: nv12}
            frame: [0, 0, 360, 640]
            transform: rot_90
    expect:
      paths: {primary: hardware}
      overlay: {primary: [0]}
`))
	require.NoError(t, err)
	r := newTestRig(t, s)

	rep, err := r.Run(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, rep.Summary.Verdict, "%+v", rep.Steps)
	assert.Equal(t, 4, r.Log.Count(sim.EvRotate))
	assert.Equal(t, 3, r.Log.Count(sim.EvFenceSignal))
	assert.Equal(t, 1, r.Rotator.Sessions())
}

func TestParse_DefaultsToManualFences(t *testing.T) {
	s, err := Parse([]byte(replay))
	require.NoError(t, err)
	assert.Equal(t, string(sim.FenceManual), s.Fences)
}

func TestLayerSpec_Defaults(t *testing.T) {
	l, err := LayerSpec{
		Buffer:    &layer.Buffer{FD: 20, Width: 640, Height: 360, Format: gfx.FormatNV12},
		Transform: "rot_90",
		Blending:  "premultiplied",
		Caption:   true,
	}.build()
	require.NoError(t, err)

	assert.Equal(t, gfx.R(0, 0, 640, 360), l.Crop)
	assert.Equal(t, l.Crop, l.Frame)
	assert.Equal(t, gfx.Rot90, l.Transform)
	assert.Equal(t, layer.BlendPremultiplied, l.Blending)
	assert.True(t, l.IsClosedCaption())
	assert.Equal(t, uint32(640*360*3/2), l.Buffer.Size)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty scenario"},
		{"unknown key", "displays:\n  primary: {width: 1, height: 1}\nsteps: [{}]\nfps: 60\n", "field fps not found"},
		{"missing primary", "steps: [{}]\n", "displays.primary is required"},
		{"no steps", "displays:\n  primary: {width: 1, height: 1}\n", "no steps"},
		{"bad display", "displays:\n  primary: {width: 1, height: 1}\nsteps:\n  - blank: [hdmi]\n", `unknown display "hdmi"`},
		{"bad rect", "displays:\n  primary: {width: 1, height: 1}\nsteps:\n  - frames:\n      primary:\n        layers:\n          - crop: [0, 0, 1]\n", "want [left, top, right, bottom]"},
		{"bad transform", "displays:\n  primary: {width: 1, height: 1}\nsteps:\n  - frames:\n      primary:\n        layers:\n          - transform: rot_45\n", `unknown transform "rot_45"`},
		{"no name", "displays:\n  primary: {width: 1, height: 1}\nsteps: [{}]\n", "validation failed for name"},
		{"bad fences", "name: x\nfences: sync_file\ndisplays:\n  primary: {width: 1, height: 1}\nsteps: [{}]\n", "validation failed for fences"},
		{"two documents", "displays:\n  primary: {width: 1, height: 1}\nsteps: [{}]\n---\nname: x\n", "multiple documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(replay), 0600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 8)
	assert.Equal(t, 2, s.Steps[0].FrameCount())
	assert.Equal(t, 0, s.Steps[7].FrameCount())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
