// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	rotatorSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rotator",
		Name:      "sessions",
		Help:      "Rotation sessions currently held.",
	})

	rotatorRemapTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rotator",
		Name:      "remap_total",
		Help:      "Scratch ring remaps caused by a source size change.",
	})

	fenceTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rotator",
		Name:      "fence_timeout_total",
		Help:      "Release fence waits that hit the bound, by wait site.",
	}, []string{"site"})
)

// SetRotatorSessions sets the held session gauge.
func SetRotatorSessions(n int) {
	rotatorSessions.Set(float64(n))
}

// RecordRemap counts one scratch ring remap.
func RecordRemap() {
	rotatorRemapTotal.Inc()
}

// RecordFenceTimeout counts a bounded fence wait that expired.
// site: "slot", "remap" or "release".
func RecordFenceTimeout(site string) {
	switch site {
	case "slot", "remap", "release":
	default:
		site = "other"
	}
	fenceTimeoutTotal.WithLabelValues(site).Inc()
}

// RotatorSessions returns the current value of the session gauge (for testing).
func RotatorSessions() float64 {
	var m dto.Metric
	if err := rotatorSessions.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// Remaps returns the remap counter value (for testing).
func Remaps() float64 {
	var m dto.Metric
	if err := rotatorRemapTotal.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
