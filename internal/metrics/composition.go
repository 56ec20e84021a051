// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the composition core.
// Labels are bounded enums only: display, path, reason, category, status.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ovcomp"

// Composition paths a frame can take.
const (
	PathHardware    = "hardware"
	PathVideo       = "video"
	PathFramebuffer = "framebuffer"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Prepared frames by display and composition path.",
	}, []string{"display", "path"})

	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_total",
		Help:      "Frames or layers sent to GPU composition, by display and reason.",
	}, []string{"display", "reason"})

	idleFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idle_fallback_total",
		Help:      "Idle timer expiries that forced one GPU-composed frame.",
	})

	programFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "program_failure_total",
		Help:      "Failed engine calls, by operation.",
	}, []string{"op"})

	pipesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipes",
		Help:      "Hardware pipes by category and status after the last config window.",
	}, []string{"category", "status"})

	prepareDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "prepare_duration_seconds",
		Help:      "Time spent preparing one display's frame.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	}, []string{"display"})
)

// RecordFrame counts one prepared frame.
func RecordFrame(display, path string) {
	framesTotal.WithLabelValues(normalizeDisplay(display), normalizePath(path)).Inc()
}

// RecordFallback counts one fallback. An empty reason is not recorded.
func RecordFallback(display, reason string) {
	if reason == "" {
		return
	}
	fallbackTotal.WithLabelValues(normalizeDisplay(display), normalizeReason(reason)).Inc()
}

// RecordIdleFallback counts one idle timer expiry.
func RecordIdleFallback() {
	idleFallbackTotal.Inc()
}

// RecordProgramFailure counts a failed commit, queue or unset.
func RecordProgramFailure(op string) {
	programFailureTotal.WithLabelValues(normalizeOp(op)).Inc()
}

// SetPipes publishes the pipe occupancy for one category and status.
func SetPipes(category, status string, count int) {
	pipesByStatus.WithLabelValues(category, status).Set(float64(count))
}

// ObservePrepare records the duration of one prepare call in seconds.
func ObservePrepare(display string, seconds float64) {
	prepareDuration.WithLabelValues(normalizeDisplay(display)).Observe(seconds)
}

func normalizeDisplay(d string) string {
	switch d {
	case "primary", "external", "virtual":
		return d
	default:
		return "unknown"
	}
}

func normalizePath(p string) string {
	switch p {
	case PathHardware, PathVideo, PathFramebuffer:
		return p
	default:
		return "unknown"
	}
}

func normalizeOp(op string) string {
	switch op {
	case "commit", "queue", "unset", "display_commit", "rotate":
		return op
	default:
		return "other"
	}
}

var knownReasons = map[string]struct{}{
	"disabled": {}, "no_layers": {}, "too_many_layers": {}, "pipes_exhausted": {},
	"reconfiguring": {}, "secure_session": {}, "skip_layer": {}, "alpha_downscale": {},
	"idle": {}, "rotation": {}, "rotator_busy": {}, "crop_too_small": {},
	"non_contiguous": {}, "split_rotation": {}, "sessions_exhausted": {},
	"program_failed": {}, "no_display": {}, "not_single_video": {},
	"secure_mismatch": {}, "video_closed": {}, "no_buffer": {},
}

func normalizeReason(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	if _, ok := knownReasons[r]; ok {
		return r
	}
	return "unknown"
}
