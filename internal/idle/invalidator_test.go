// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package idle

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInvalidator_FiresOnceAfterQuiet(t *testing.T) {
	fired := make(chan struct{}, 4)
	inv := New(20*time.Millisecond, func() { fired <- struct{}{} }, zerolog.Nop())
	defer inv.Stop()

	inv.MarkForSleep()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	// One expiry per arm.
	select {
	case <-fired:
		t.Fatal("handler called twice for one arm")
	case <-time.After(60 * time.Millisecond):
	}
	assert.Equal(t, uint64(1), inv.Fired())
}

func TestInvalidator_RearmPostponesExpiry(t *testing.T) {
	fired := make(chan struct{}, 4)
	inv := New(80*time.Millisecond, func() { fired <- struct{}{} }, zerolog.Nop())
	defer inv.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		inv.MarkForSleep()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, uint64(0), inv.Fired(), "frames kept arriving")

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called after frames stopped")
	}
}

func TestInvalidator_StopCancels(t *testing.T) {
	inv := New(30*time.Millisecond, func() { t.Error("handler called after stop") }, zerolog.Nop())
	inv.MarkForSleep()
	inv.Stop()
	inv.MarkForSleep()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, uint64(0), inv.Fired())
}

func TestInvalidator_Disabled(t *testing.T) {
	inv := New(0, func() {}, zerolog.Nop())
	require.False(t, inv.Enabled())
	inv.MarkForSleep()
	inv.Stop()
	assert.Equal(t, uint64(0), inv.Fired())
}

// An expiry that lost the race with a re-arm must neither run the handler
// nor forget the new timer.
func TestInvalidator_ExpiryFromOlderArmIsDropped(t *testing.T) {
	inv := New(time.Hour, func() { t.Error("handler called for a superseded arm") }, zerolog.Nop())

	inv.MarkForSleep()
	inv.mu.Lock()
	stale := inv.gen
	inv.mu.Unlock()

	inv.MarkForSleep()
	inv.fire(stale)

	inv.mu.Lock()
	armed := inv.timer != nil
	inv.mu.Unlock()
	assert.True(t, armed, "current timer kept")
	assert.Equal(t, uint64(0), inv.Fired())

	inv.Stop()
	inv.mu.Lock()
	assert.Nil(t, inv.timer)
	inv.mu.Unlock()
}
