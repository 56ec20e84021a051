// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the composer tunables. The configuration is read once
// at start: defaults, then an optional strict YAML file, then OVCOMP_*
// environment overrides, then validation. It is never reloaded.
package config

import (
	"time"

	"github.com/ManuGH/ovcomp/internal/fence"
	"github.com/ManuGH/ovcomp/internal/hwc"
	"github.com/ManuGH/ovcomp/internal/mdpcomp"
	"github.com/ManuGH/ovcomp/internal/overlay"
	"github.com/ManuGH/ovcomp/internal/rotator"
)

// DefaultIdleTime is the idle period after which one frame is GPU-composed.
const DefaultIdleTime = 2 * time.Second

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version     string            `yaml:"-"`
	Composition CompositionConfig `yaml:"composition"`
	Pipes       PipesConfig       `yaml:"pipes"`
	Log         LogConfig         `yaml:"log"`
	Diag        DiagConfig        `yaml:"diag"`
}

// CompositionConfig holds the allocator tunables.
type CompositionConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Video           bool          `yaml:"video"`
	MaxLayers       int           `yaml:"max_layers"`
	IdleTime        time.Duration `yaml:"idle_time"`
	SplitThreshold  int           `yaml:"split_threshold"`
	RotatorSessions int           `yaml:"rotator_sessions"`
	FenceTimeout    time.Duration `yaml:"fence_timeout"`
	DebugLogs       bool          `yaml:"debug_logs"`
}

// PipesConfig selects the hardware generation. Inventory overrides the pipe
// layout the generation implies.
type PipesConfig struct {
	MDPVersion int                `yaml:"mdp_version"`
	Inventory  *overlay.Inventory `yaml:"inventory,omitempty"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DiagConfig configures the diagnostics listener. An empty address disables it.
type DiagConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() AppConfig {
	return AppConfig{
		Composition: CompositionConfig{
			Enabled:         true,
			Video:           true,
			MaxLayers:       mdpcomp.DefaultMaxLayers,
			IdleTime:        DefaultIdleTime,
			SplitThreshold:  mdpcomp.DefaultSplitThreshold,
			RotatorSessions: rotator.DefaultMaxSessions,
			FenceTimeout:    fence.DefaultWaitTimeout,
		},
		Pipes: PipesConfig{
			MDPVersion: int(overlay.MDSSv5),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Inventory returns the effective pipe layout.
func (c AppConfig) Inventory() overlay.Inventory {
	if c.Pipes.Inventory != nil {
		return *c.Pipes.Inventory
	}
	return overlay.DefaultInventory(overlay.MDPVersion(c.Pipes.MDPVersion))
}

// ComposerOptions maps the configuration onto composer options.
func (c AppConfig) ComposerOptions() hwc.Options {
	return hwc.Options{
		Inventory:       c.Inventory(),
		MDPVersion:      overlay.MDPVersion(c.Pipes.MDPVersion),
		Enabled:         c.Composition.Enabled,
		VideoEnabled:    c.Composition.Video,
		MaxLayers:       c.Composition.MaxLayers,
		SplitThreshold:  c.Composition.SplitThreshold,
		RotatorSessions: c.Composition.RotatorSessions,
		FenceTimeout:    c.Composition.FenceTimeout,
		IdleTimeout:     c.Composition.IdleTime,
		Debug:           c.Composition.DebugLogs,
	}
}
