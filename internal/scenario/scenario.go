// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scenario replays scripted frames through a composer backed by the
// simulated engine and checks the composition decisions against
// expectations.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ManuGH/ovcomp/internal/display"
	"github.com/ManuGH/ovcomp/internal/engine/sim"
	"github.com/ManuGH/ovcomp/internal/gfx"
	"github.com/ManuGH/ovcomp/internal/layer"
	"github.com/ManuGH/ovcomp/internal/validate"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of frames.
type Scenario struct {
	Name string `yaml:"name"`
	// Fences selects the simulated release fences: "manual" (default) or
	// "fd" for pipe descriptors waited with poll(2).
	Fences   string   `yaml:"fences"`
	Displays Displays `yaml:"displays"`
	Steps    []Step   `yaml:"steps"`
}

// Panel is the geometry of one display.
type Panel struct {
	Width  int  `yaml:"width"`
	Height int  `yaml:"height"`
	Off    bool `yaml:"off"`
}

func (p Panel) attributes() display.Attributes {
	return display.Attributes{Width: p.Width, Height: p.Height, Active: !p.Off, Connected: true}
}

// Displays lists the connected panels.
type Displays struct {
	Primary  *Panel `yaml:"primary"`
	External *Panel `yaml:"external"`
	Virtual  *Panel `yaml:"virtual"`
}

func (d *Displays) panels() [display.Count]*Panel {
	if d == nil {
		return [display.Count]*Panel{}
	}
	return [display.Count]*Panel{d.Primary, d.External, d.Virtual}
}

// Security sets the host security state before a step.
type Security struct {
	Securing           bool `yaml:"securing"`
	SecureMode         bool `yaml:"secure_mode"`
	ReconfigurePending bool `yaml:"reconfigure_pending"`
}

// Step is one or more identical frames plus the host events preceding them.
type Step struct {
	Name string `yaml:"name"`
	// Repeat is the number of frames; zero means one.
	Repeat        int                  `yaml:"repeat"`
	Displays      *Displays            `yaml:"displays,omitempty"`
	Disconnect    []string             `yaml:"disconnect,omitempty"`
	Security      *Security            `yaml:"security,omitempty"`
	Faults        *sim.Faults          `yaml:"faults,omitempty"`
	RotatorFaults *sim.RotatorFaults   `yaml:"rotator_faults,omitempty"`
	Idle          bool                 `yaml:"idle"`
	Blank         []string             `yaml:"blank,omitempty"`
	Frames        map[string]*ListSpec `yaml:"frames,omitempty"`
	Expect        *Expect              `yaml:"expect,omitempty"`
}

// FrameCount returns the number of frames the step composes.
func (s *Step) FrameCount() int {
	if len(s.Frames) == 0 {
		return 0
	}
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// ListSpec describes the layer list of one display.
type ListSpec struct {
	Target *layer.Buffer `yaml:"target"`
	Layers []LayerSpec   `yaml:"layers"`
}

// LayerSpec describes one layer. A missing crop covers the whole buffer and
// a missing frame equals the crop.
type LayerSpec struct {
	Crop      []int         `yaml:"crop"`
	Frame     []int         `yaml:"frame"`
	Transform string        `yaml:"transform"`
	Blending  string        `yaml:"blending"`
	Skip      bool          `yaml:"skip"`
	Caption   bool          `yaml:"caption"`
	Buffer    *layer.Buffer `yaml:"buffer"`
}

// Expect is checked after the last frame of a step.
type Expect struct {
	Paths     map[string]string `yaml:"paths"`
	Scheduler string            `yaml:"scheduler"`
	Video     string            `yaml:"video"`
	Reason    *string           `yaml:"reason"`
	// Overlay lists, per display, the layer indices scanned out by pipes.
	Overlay   map[string][]int `yaml:"overlay"`
	DrawError *bool            `yaml:"draw_error"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	// #nosec G304 -- scenario paths are provided by the operator via CLI
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario strictly and validates it.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("scenario contains multiple documents or trailing content")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks references and geometry without running anything.
func (s *Scenario) Validate() error {
	var errs []error
	v := validate.New()
	v.NotEmpty("name", s.Name)
	if s.Fences == "" {
		s.Fences = string(sim.FenceManual)
	}
	v.OneOf("fences", s.Fences, []string{string(sim.FenceManual), string(sim.FenceFD)})
	if err := v.Err(); err != nil {
		errs = append(errs, err)
	}
	if s.Displays.Primary == nil {
		errs = append(errs, errors.New("displays.primary is required"))
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step-%d", i+1)
		}
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", st.Name, err))
		}
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("no steps"))
	}
	return errors.Join(errs...)
}

func (s *Step) validate() error {
	var errs []error
	if s.Repeat < 0 {
		errs = append(errs, fmt.Errorf("negative repeat %d", s.Repeat))
	}
	names := append(append([]string{}, s.Disconnect...), s.Blank...)
	for name := range s.Frames {
		names = append(names, name)
	}
	if s.Expect != nil {
		for name := range s.Expect.Paths {
			names = append(names, name)
		}
		for name := range s.Expect.Overlay {
			names = append(names, name)
		}
	}
	for _, name := range names {
		if _, err := display.ParseID(name); err != nil {
			errs = append(errs, err)
		}
	}
	for name, spec := range s.Frames {
		if spec == nil {
			continue
		}
		if _, err := spec.build(); err != nil {
			errs = append(errs, fmt.Errorf("frames.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (ls *ListSpec) build() (*layer.List, error) {
	list := &layer.List{}
	if ls.Target != nil {
		b := *ls.Target
		full := gfx.R(0, 0, b.Width, b.Height)
		list.Target = &layer.Layer{Crop: full, Frame: full, Blending: layer.BlendPremultiplied, Buffer: &b}
	}
	for i, spec := range ls.Layers {
		l, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		list.Layers = append(list.Layers, l)
	}
	return list, nil
}

func (ls LayerSpec) build() (*layer.Layer, error) {
	l := &layer.Layer{}
	if ls.Buffer != nil {
		b := *ls.Buffer
		if b.Size == 0 {
			b.Size = defaultSize(b)
		}
		l.Buffer = &b
		l.Crop = gfx.R(0, 0, b.Width, b.Height)
	}
	if ls.Crop != nil {
		r, err := rect(ls.Crop)
		if err != nil {
			return nil, fmt.Errorf("crop: %w", err)
		}
		l.Crop = r
	}
	l.Frame = l.Crop
	if ls.Frame != nil {
		r, err := rect(ls.Frame)
		if err != nil {
			return nil, fmt.Errorf("frame: %w", err)
		}
		l.Frame = r
	}
	tr, err := gfx.ParseTransform(ls.Transform)
	if err != nil {
		return nil, err
	}
	l.Transform = tr
	if l.Blending, err = parseBlending(ls.Blending); err != nil {
		return nil, err
	}
	if ls.Skip {
		l.Flags |= layer.FlagSkip
	}
	if ls.Caption {
		l.Flags |= layer.FlagClosedCaption
	}
	return l, nil
}

func rect(v []int) (gfx.Rect, error) {
	if len(v) != 4 {
		return gfx.Rect{}, fmt.Errorf("want [left, top, right, bottom], got %d values", len(v))
	}
	r := gfx.R(v[0], v[1], v[2], v[3])
	if r.W() < 0 || r.H() < 0 {
		return gfx.Rect{}, fmt.Errorf("inverted rectangle %v", v)
	}
	return r, nil
}

func parseBlending(s string) (layer.Blending, error) {
	switch s {
	case "", "none":
		return layer.BlendNone, nil
	case "premultiplied":
		return layer.BlendPremultiplied, nil
	case "coverage":
		return layer.BlendCoverage, nil
	default:
		return 0, fmt.Errorf("unknown blending %q", s)
	}
}

func defaultSize(b layer.Buffer) uint32 {
	px := uint32(b.Width * b.Height)
	switch {
	case b.Format.IsYUV():
		return px * 3 / 2
	case b.Format == gfx.FormatRGB565:
		return px * 2
	default:
		return px * 4
	}
}
