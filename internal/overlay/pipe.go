// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package overlay owns the hardware pipe inventory and the programming
// contract of the display engine.
package overlay

import "fmt"

// Category is the kind of hardware pipe.
type Category int

const (
	// VG pipes can fetch YUV and scale; required for video content.
	VG Category = iota
	// RGB pipes fetch RGB formats and scale.
	RGB
	// DMA pipes fetch RGB without scaling and cannot be used with rotation.
	DMA

	numCategories
)

func (c Category) String() string {
	switch c {
	case VG:
		return "vg"
	case RGB:
		return "rgb"
	case DMA:
		return "dma"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Status is the per-frame state of a pipe.
type Status int

const (
	Free Status = iota
	ReservedForFrame
	BoundToFramebuffer
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case ReservedForFrame:
		return "reserved"
	case BoundToFramebuffer:
		return "framebuffer"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// PipeID indexes the pipe inventory.
type PipeID int

// NoPipe marks an unused pipe slot.
const NoPipe PipeID = -1

// Valid reports whether id refers to a pipe.
func (id PipeID) Valid() bool { return id >= 0 }

// Pipe is one hardware pipe.
type Pipe struct {
	ID       PipeID
	Category Category
	// Index is the position within the category.
	Index int
}

func (p Pipe) String() string {
	return fmt.Sprintf("%s%d", p.Category, p.Index)
}

// Preference selects which categories a request may be served from.
type Preference int

const (
	// PreferVG takes only a VG pipe.
	PreferVG Preference = iota
	// PreferRGB takes only an RGB pipe.
	PreferRGB
	// PreferAny takes an RGB pipe, then a VG pipe.
	PreferAny
	// PreferDMA takes a DMA pipe, then behaves like PreferAny. Callers ask
	// for it only when the layer needs neither scaling nor rotation and the
	// hardware generation supports DMA pipes.
	PreferDMA
)

func (p Preference) String() string {
	switch p {
	case PreferVG:
		return "vg"
	case PreferRGB:
		return "rgb"
	case PreferAny:
		return "any"
	case PreferDMA:
		return "dma"
	default:
		return fmt.Sprintf("preference(%d)", int(p))
	}
}

func (p Preference) order() []Category {
	switch p {
	case PreferVG:
		return []Category{VG}
	case PreferRGB:
		return []Category{RGB}
	case PreferDMA:
		return []Category{DMA, RGB, VG}
	default:
		return []Category{RGB, VG}
	}
}

// Inventory is the number of pipes per category.
type Inventory struct {
	VG  int `yaml:"vg"`
	RGB int `yaml:"rgb"`
	DMA int `yaml:"dma"`
}

// Total returns the number of pipes in the inventory.
func (inv Inventory) Total() int { return inv.VG + inv.RGB + inv.DMA }

// MDPVersion is the display engine hardware generation, e.g. 500 for MDSS v5.
type MDPVersion int

// MDSSv5 is the first generation with DMA pipes and alpha downscale.
const MDSSv5 MDPVersion = 500

// DefaultInventory returns the pipe layout of a hardware generation.
func DefaultInventory(v MDPVersion) Inventory {
	if v >= MDSSv5 {
		return Inventory{VG: 3, RGB: 3, DMA: 2}
	}
	return Inventory{VG: 2, RGB: 2}
}
