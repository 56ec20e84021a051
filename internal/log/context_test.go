// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithFrame(ctx, 42)

	enriched := WithContext(ctx, l)
	enriched.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry[FieldRunID])
	assert.EqualValues(t, 42, entry[FieldFrame])
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	enriched := WithContext(context.Background(), l)
	enriched.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasRun := entry[FieldRunID]
	assert.False(t, hasRun)
}

func TestFromContext_FallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.NotEqual(t, zerolog.Disabled, l.GetLevel())
}

func TestWithDebug(t *testing.T) {
	l := zerolog.New(&bytes.Buffer{}).Level(zerolog.TraceLevel)

	assert.Equal(t, zerolog.DebugLevel, WithDebug(l, true).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, WithDebug(l, false).GetLevel())

	warn := l.Level(zerolog.WarnLevel)
	assert.Equal(t, zerolog.WarnLevel, WithDebug(warn, false).GetLevel())
}
