// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/ovcomp/internal/layer"
	"github.com/ManuGH/ovcomp/internal/validate"
)

// MaxPipes bounds the configured inventory.
const MaxPipes = 16

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()
	c := cfg.Composition

	// The plan index travels in three flag bits.
	v.Range("composition.max_layers", c.MaxLayers, 1, layer.MaxPlanIndex+1)
	// Zero disables the idle fallback.
	v.DurationRange("composition.idle_time", c.IdleTime, 0, time.Minute)
	v.DurationRange("composition.fence_timeout", c.FenceTimeout, time.Millisecond, 10*time.Second)
	v.Range("composition.rotator_sessions", c.RotatorSessions, 1, 8)
	v.Positive("composition.split_threshold", c.SplitThreshold)

	v.Range("pipes.mdp_version", cfg.Pipes.MDPVersion, 100, 999)
	if inv := cfg.Pipes.Inventory; inv != nil {
		v.NonNegative("pipes.inventory.vg", inv.VG)
		v.NonNegative("pipes.inventory.rgb", inv.RGB)
		v.NonNegative("pipes.inventory.dma", inv.DMA)
		v.Custom("pipes.inventory", *inv, func(any) error {
			if n := inv.Total(); n < 1 || n > MaxPipes {
				return fmt.Errorf("inventory must hold between 1 and %d pipes, got %d", MaxPipes, n)
			}
			return nil
		})
	}

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "must be one of debug, info, warn, error", cfg.Log.Level)
	}
	v.ListenAddr("diag.addr", cfg.Diag.Addr)

	return v.Err()
}
