// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mdpcomp

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/engine/sim"
	"github.com/ManuGH/ovcomp/internal/fault"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/layer"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	disp  *display.Static
	eng   *sim.Engine
	rot   *sim.Rotator
	book  *overlay.PipeBook
	pool  *rotator.Pool
	idle  atomic.Bool
	sched *Scheduler
}

func newHarness(t *testing.T, width, height int, inv overlay.Inventory, opts Options) *harness {
	t.Helper()
	h := &harness{
		disp: display.NewStatic(display.Attributes{Width: width, Height: height, Active: true, Connected: true}),
		eng:  sim.NewEngine(nil),
		rot:  sim.NewRotator(nil),
	}
	h.book = overlay.NewPipeBook(inv, h.eng, zerolog.Nop())
	h.pool = rotator.NewPool(h.rot, rotator.Options{}, zerolog.Nop())
	opts.Enabled = true
	if opts.MDPVersion == 0 {
		opts.MDPVersion = overlay.MDSSv5
	}
	h.sched = New(display.Primary, width, opts, Deps{
		Pipes:       h.book,
		Rotator:     h.pool,
		Engine:      h.eng,
		Displays:    h.disp,
		Security:    h.disp,
		ConsumeIdle: func() bool { return h.idle.Swap(false) },
		Logger:      zerolog.Nop(),
	})
	return h
}

// prepare runs one prepare inside a config window.
func (h *harness) prepare(t *testing.T, list *layer.List) bool {
	t.Helper()
	ctx := context.Background()
	h.book.ConfigBegin()
	h.pool.ConfigBegin()
	ok := h.sched.Prepare(ctx, list)
	require.NoError(t, h.book.ConfigDone(ctx))
	h.pool.ConfigDone(ctx)
	return ok
}

func rgbLayer(frame gfx.Rect) *layer.Layer {
	return &layer.Layer{
		Crop:  gfx.R(0, 0, frame.W(), frame.H()),
		Frame: frame,
		Buffer: &layer.Buffer{
			FD: 10, Width: frame.W(), Height: frame.H(),
			Format: gfx.FormatRGBX8888, Size: uint32(frame.W() * frame.H() * 4),
		},
	}
}

func videoLayer(frame gfx.Rect, tr gfx.Transform) *layer.Layer {
	w, h := 640, 360
	return &layer.Layer{
		Crop:      gfx.R(0, 0, w, h),
		Frame:     frame,
		Transform: tr,
		Buffer: &layer.Buffer{
			FD: 20, Width: w, Height: h,
			Format: gfx.FormatNV12, Size: uint32(w * h * 3 / 2),
		},
	}
}

func listOf(layers ...*layer.Layer) *layer.List {
	return &layer.List{Layers: layers}
}

var ignoreSession = cmpopts.IgnoreFields(Entry{}, "Session")

func TestPrepare_SingleRegionPlan(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	list := listOf(
		rgbLayer(gfx.R(0, 0, 1080, 1920)),
		rgbLayer(gfx.R(0, 0, 1080, 100)),
		rgbLayer(gfx.R(0, 1800, 1080, 1920)),
	)

	require.True(t, h.prepare(t, list))
	assert.Equal(t, On, h.sched.State())
	assert.Equal(t, SingleRegion, h.sched.Strategy())

	// Inventory ids: vg 0-2, rgb 3-5, dma 6-7. Allocation runs from the top
	// layer down, so the two DMA pipes go to layers 2 and 1.
	want := []Entry{
		{LayerIndex: 0, Pipes: [2]overlay.PipeID{3, overlay.NoPipe}, ZOrder: 0},
		{LayerIndex: 1, Pipes: [2]overlay.PipeID{7, overlay.NoPipe}, ZOrder: 1},
		{LayerIndex: 2, Pipes: [2]overlay.PipeID{6, overlay.NoPipe}, ZOrder: 2, IsForeground: true},
	}
	if diff := cmp.Diff(want, h.sched.Plan().Entries(), ignoreSession); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	for i, l := range list.Layers {
		idx, ok := l.PlanIndex()
		require.True(t, ok)
		assert.Equal(t, i, idx)
		assert.Equal(t, layer.Overlay, l.Composition)
	}
	assert.Equal(t, 3, h.book.Reserved())
}

func TestPrepare_MoreLayersThanPipesFallsBack(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.Inventory{VG: 2, RGB: 2}, Options{MaxLayers: 8})
	var layers []*layer.Layer
	for i := 0; i < 5; i++ {
		layers = append(layers, rgbLayer(gfx.R(0, i*100, 500, i*100+100)))
	}
	list := listOf(layers...)

	assert.False(t, h.prepare(t, list))
	assert.Equal(t, Off, h.sched.State())
	assert.Equal(t, fault.ReasonPipesExhausted, h.sched.Reason())
	assert.Equal(t, 0, h.book.Reserved())
	assert.Equal(t, 0, h.sched.Plan().Count())
	for _, l := range list.Layers {
		assert.Equal(t, layer.Framebuffer, l.Composition)
		_, ok := l.PlanIndex()
		assert.False(t, ok)
	}
}

func TestPrepare_AllocationFailureUndoesReservations(t *testing.T) {
	// Enough pipes in total, but only two VG pipes for three videos.
	h := newHarness(t, 1080, 1920, overlay.Inventory{VG: 2, RGB: 2}, Options{})
	list := listOf(
		videoLayer(gfx.R(0, 0, 640, 360), 0),
		videoLayer(gfx.R(0, 400, 640, 760), 0),
		videoLayer(gfx.R(0, 800, 640, 1160), 0),
	)

	assert.False(t, h.prepare(t, list))
	assert.Equal(t, fault.ReasonPipesExhausted, h.sched.Reason())
	assert.Equal(t, 0, h.book.Reserved())
	assert.Equal(t, h.book.Len(), h.book.Available())
}

func TestPrepare_VideoWinsVGPipes(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.Inventory{VG: 1, RGB: 2}, Options{MDPVersion: 400})
	list := listOf(
		rgbLayer(gfx.R(0, 0, 1080, 1920)),
		videoLayer(gfx.R(0, 0, 1080, 608), 0),
		rgbLayer(gfx.R(0, 1800, 1080, 1920)),
	)
	require.True(t, h.prepare(t, list))
	e := h.sched.Plan().Entry(1)
	pipe, ok := h.book.Pipe(e.Pipes[0])
	require.True(t, ok)
	assert.Equal(t, overlay.VG, pipe.Category)
}

func TestPrepare_PipeReservationIsUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{MaxLayers: 8})

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(9)
		var layers []*layer.Layer
		for i := 0; i < n; i++ {
			y := rng.Intn(1800)
			frame := gfx.R(0, y, 100+rng.Intn(980), y+20+rng.Intn(100))
			if rng.Intn(4) == 0 {
				layers = append(layers, videoLayer(frame, 0))
			} else {
				layers = append(layers, rgbLayer(frame))
			}
		}
		ok := h.prepare(t, listOf(layers...))

		seen := map[overlay.PipeID]bool{}
		for _, id := range h.sched.Plan().PipeIDs() {
			assert.False(t, seen[id], "pipe %d assigned twice (iter %d)", id, iter)
			seen[id] = true
			assert.Equal(t, overlay.ReservedForFrame, h.book.Status(id))
		}
		if ok {
			assert.Equal(t, n, h.sched.Plan().Count())
			assert.LessOrEqual(t, len(seen), h.book.Len())
		} else {
			assert.Empty(t, seen)
			assert.Equal(t, 0, h.book.Reserved())
		}
	}
}

func TestPrepare_IdleFallbackIsOneShot(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	list := listOf(rgbLayer(gfx.R(0, 0, 1080, 1920)))

	require.True(t, h.prepare(t, list))
	h.idle.Store(true)
	assert.False(t, h.prepare(t, list))
	assert.Equal(t, fault.ReasonIdle, h.sched.Reason())
	assert.True(t, h.sched.IdleFrame())
	assert.True(t, h.prepare(t, list))
	assert.False(t, h.sched.IdleFrame())
	assert.False(t, h.idle.Load())
}

func TestPrepare_IdleConsumedEvenWhenOtherCheckFails(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	h.idle.Store(true)

	assert.False(t, h.prepare(t, listOf()))
	assert.Equal(t, fault.ReasonNoLayers, h.sched.Reason())
	assert.True(t, h.sched.IdleFrame())
	assert.True(t, h.prepare(t, listOf(rgbLayer(gfx.R(0, 0, 100, 100)))))
}

func TestIsDoable_Reasons(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		list  func() *layer.List
		opts  Options
		want  fault.Reason
	}{
		{
			name: "too many layers",
			list: func() *layer.List {
				return listOf(rgbLayer(gfx.R(0, 0, 10, 10)), rgbLayer(gfx.R(0, 0, 10, 10)), rgbLayer(gfx.R(0, 0, 10, 10)))
			},
			opts: Options{MaxLayers: 2},
			want: fault.ReasonTooManyLayers,
		},
		{
			name:  "reconfiguration pending",
			setup: func(h *harness) { h.disp.SetReconfigurePending(true) },
			list:  func() *layer.List { return listOf(rgbLayer(gfx.R(0, 0, 10, 10))) },
			want:  fault.ReasonReconfiguring,
		},
		{
			name:  "securing",
			setup: func(h *harness) { h.disp.SetSecuring(true) },
			list:  func() *layer.List { return listOf(rgbLayer(gfx.R(0, 0, 10, 10))) },
			want:  fault.ReasonSecureSession,
		},
		{
			name:  "secure mode",
			setup: func(h *harness) { h.disp.SetSecureMode(true) },
			list:  func() *layer.List { return listOf(rgbLayer(gfx.R(0, 0, 10, 10))) },
			want:  fault.ReasonSecureSession,
		},
		{
			name: "skip layer",
			list: func() *layer.List {
				l := rgbLayer(gfx.R(0, 0, 10, 10))
				l.Flags |= layer.FlagSkip
				return listOf(l)
			},
			want: fault.ReasonSkipLayer,
		},
		{
			name: "alpha downscale on old hardware",
			list: func() *layer.List {
				l := rgbLayer(gfx.R(0, 0, 100, 100))
				l.Crop = gfx.R(0, 0, 200, 200)
				l.Buffer.Format = gfx.FormatRGBA8888
				return listOf(l)
			},
			opts: Options{MDPVersion: 400},
			want: fault.ReasonAlphaDownscale,
		},
		{
			name: "quarter turn on graphics layer",
			list: func() *layer.List {
				l := rgbLayer(gfx.R(0, 0, 100, 100))
				l.Transform = gfx.Rot90
				return listOf(l)
			},
			want: fault.ReasonRotation,
		},
		{
			name: "clipped crop too narrow",
			list: func() *layer.List {
				return listOf(rgbLayer(gfx.R(1076, 0, 1180, 100)))
			},
			want: fault.ReasonCropTooSmall,
		},
		{
			name: "crop too short",
			list: func() *layer.List { return listOf(rgbLayer(gfx.R(0, 0, 100, 1))) },
			want: fault.ReasonCropTooSmall,
		},
		{
			name: "non contiguous memory",
			list: func() *layer.List {
				l := rgbLayer(gfx.R(0, 0, 100, 100))
				l.Buffer.NonContiguous = true
				return listOf(l)
			},
			want: fault.ReasonNonContiguous,
		},
		{
			name: "missing buffer",
			list: func() *layer.List { return listOf(&layer.Layer{Frame: gfx.R(0, 0, 10, 10)}) },
			want: fault.ReasonNoBuffer,
		},
		{
			name:  "inactive display",
			setup: func(h *harness) { h.disp.Set(display.Primary, display.Attributes{Width: 1080, Height: 1920}) },
			list:  func() *layer.List { return listOf(rgbLayer(gfx.R(0, 0, 10, 10))) },
			want:  fault.ReasonNoDisplay,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), tt.opts)
			if tt.setup != nil {
				tt.setup(h)
			}
			assert.False(t, h.prepare(t, tt.list()))
			assert.Equal(t, tt.want, h.sched.Reason())
			assert.Equal(t, 0, h.book.Reserved())
		})
	}
}

func TestPrepare_Disabled(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	h.sched.opts.Enabled = false
	assert.False(t, h.prepare(t, listOf(rgbLayer(gfx.R(0, 0, 10, 10)))))
	assert.Equal(t, fault.ReasonDisabled, h.sched.Reason())
}

func TestPrepare_ClipsToPanel(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	l := rgbLayer(gfx.R(-100, 0, 500, 500))
	l.Crop = gfx.R(0, 0, 600, 500)
	require.True(t, h.prepare(t, listOf(l)))

	p, ok := h.eng.Program(h.sched.Plan().Entry(0).Pipes[0])
	require.True(t, ok)
	assert.Equal(t, gfx.R(100, 0, 600, 500), p.Crop)
	assert.Equal(t, gfx.R(0, 0, 500, 500), p.Position)
	assert.True(t, p.Position.Within(gfx.R(0, 0, 1080, 1920)))
	assert.True(t, p.IsFG)
}

func TestPrepare_RotatedVideoUsesRotator(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	list := listOf(
		rgbLayer(gfx.R(0, 0, 1080, 1920)),
		videoLayer(gfx.R(0, 0, 360, 640), gfx.Rot90),
	)
	require.True(t, h.prepare(t, list))

	e := h.sched.Plan().Entry(1)
	require.NotNil(t, e.Session)
	assert.Len(t, h.sched.Sessions(), 1)
	assert.Equal(t, 1, h.rot.Sessions())

	p, ok := h.eng.Program(e.Pipes[0])
	require.True(t, ok)
	assert.Equal(t, 360, p.Source.W)
	assert.Equal(t, 640, p.Source.H)
	assert.Equal(t, gfx.Transform(0), p.Transform)
	assert.Equal(t, gfx.R(0, 0, 360, 640), p.Crop)

	// With a rotator in the window no layer may take a DMA pipe.
	for _, id := range h.sched.Plan().PipeIDs() {
		pipe, _ := h.book.Pipe(id)
		assert.NotEqual(t, overlay.DMA, pipe.Category)
	}
}

func TestPrepare_RotatorSessionsExhausted(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.Inventory{VG: 3, RGB: 1}, Options{})
	h.pool = rotator.NewPool(h.rot, rotator.Options{MaxSessions: 1}, zerolog.Nop())
	h.sched.rot = h.pool
	list := listOf(
		videoLayer(gfx.R(0, 0, 360, 640), gfx.Rot90),
		videoLayer(gfx.R(400, 0, 760, 640), gfx.Rot90),
	)
	assert.False(t, h.prepare(t, list))
	assert.Equal(t, fault.ReasonSessionsExhaust, h.sched.Reason())
	assert.Equal(t, 0, h.pool.InUse())
}

func TestPrepare_RotatorWhileDMAInUse(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	h.book.ConfigBegin()
	h.pool.ConfigBegin()
	_, ok := h.book.Request(display.External, overlay.PreferDMA)
	require.True(t, ok)

	list := listOf(videoLayer(gfx.R(0, 0, 360, 640), gfx.Rot90))
	assert.False(t, h.sched.Prepare(context.Background(), list))
	assert.Equal(t, fault.ReasonRotatorBusy, h.sched.Reason())
}

func TestPrepare_CommitFailureAbortsFrame(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.Inventory{VG: 1, RGB: 2}, Options{MDPVersion: 400})
	// Allocation runs top-down so layer 1 holds rgb0 and layer 0 holds rgb1.
	// Programming runs bottom-up, so the failing commit comes second.
	h.eng.SetFaults(sim.Faults{Commit: map[string]bool{"rgb0": true}})
	list := listOf(
		rgbLayer(gfx.R(0, 0, 1080, 1920)),
		rgbLayer(gfx.R(0, 0, 1080, 100)),
	)
	assert.False(t, h.prepare(t, list))
	assert.Equal(t, fault.ReasonProgramFailed, h.sched.Reason())
	assert.Equal(t, 0, h.book.Reserved())
	assert.Equal(t, 0, h.eng.Programs(), "partially programmed pipes are unset")
	assert.Equal(t, layer.Framebuffer, list.Layers[0].Composition)
}

func TestDraw_QueuesPlannedPipes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	list := listOf(
		rgbLayer(gfx.R(0, 0, 1080, 1920)),
		videoLayer(gfx.R(0, 0, 360, 640), gfx.Rot90),
	)
	require.True(t, h.prepare(t, list))
	require.NoError(t, h.sched.Draw(ctx, list))

	log := h.eng.Log()
	assert.Equal(t, 2, log.Count(sim.EvQueue))
	assert.Equal(t, 1, h.rot.OpenMemory())

	h.eng.SetFaults(sim.Faults{Queue: map[string]bool{"vg0": true}})
	err := h.sched.Draw(ctx, list)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrHardwareProgram)
}

func TestDraw_NoopWhenOff(t *testing.T) {
	h := newHarness(t, 1080, 1920, overlay.DefaultInventory(overlay.MDSSv5), Options{})
	list := listOf()
	assert.False(t, h.prepare(t, list))
	assert.NoError(t, h.sched.Draw(context.Background(), list))
	assert.Nil(t, h.sched.Sessions())
}
