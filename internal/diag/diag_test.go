// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/ovcomp/internal/hwc"
	"github.com/ManuGH/ovcomp/internal/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	snap hwc.Snapshot
	dump string
}

func (f fakeSource) Snapshot() hwc.Snapshot { return f.snap }
func (f fakeSource) DumpState() string      { return f.dump }

func testSource() fakeSource {
	return fakeSource{
		snap: hwc.Snapshot{
			Displays:  []hwc.DisplaySnapshot{{Display: "primary", Path: "hardware"}},
			Pipes:     []hwc.PipeSnapshot{{Name: "vg0", Category: "vg", Status: "reserved", Display: "primary"}},
			Scheduler: "on",
			Video:     "closed",
		},
		dump: "hwc: idle_fallback_due=false\n",
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_State(t *testing.T) {
	src := testSource()
	h := NewRouter(src, Options{}, zerolog.Nop())

	rec := get(t, h, "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got hwc.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	if diff := cmp.Diff(src.snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRouter_Dump(t *testing.T) {
	h := NewRouter(testSource(), Options{}, zerolog.Nop())

	rec := get(t, h, "/dump")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hwc: idle_fallback_due=false\n", rec.Body.String())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	metrics.RecordFrame("primary", metrics.PathHardware)
	h := NewRouter(testSource(), Options{}, zerolog.Nop())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ovcomp_frames_total")
}

func TestRouter_RateLimitsStateEndpoints(t *testing.T) {
	h := NewRouter(testSource(), Options{RequestLimit: 2, Window: time.Minute}, zerolog.Nop())

	assert.Equal(t, http.StatusOK, get(t, h, "/state").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/dump").Code)

	rec := get(t, h, "/state")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code, "health is not limited")
}

func TestRouter_UnknownPath(t *testing.T) {
	h := NewRouter(testSource(), Options{}, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/pipes").Code)
}

func TestServer_ServeUntilCanceled(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", NewRouter(testSource(), Options{}, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + srv.Addr() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok\n", string(body))
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListen_BadAddress(t *testing.T) {
	_, err := Listen("127.0.0.1:notaport", http.NotFoundHandler(), zerolog.Nop())
	assert.Error(t, err)
}
