// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID   = "run_id"
	FieldFrame   = "frame"
	FieldDisplay = "display"

	FieldEvent     = "event"
	FieldComponent = "component"

	// Allocation fields
	FieldPipe     = "pipe"
	FieldLayer    = "layer"
	FieldSession  = "session"
	FieldZOrder   = "zorder"
	FieldReason   = "reason"
	FieldStrategy = "strategy"
)
