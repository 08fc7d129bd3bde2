package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyEndpoint_GatedOnSetReady(t *testing.T) {
	h := New()

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h.SetReady(true)
	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestFailureThresholdDampsFlapping(t *testing.T) {
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	h.mu.RLock()
	p := h.liveness[0]
	h.mu.RUnlock()

	ctx := context.Background()

	// Two failures stay healthy; the third trips the probe.
	p.poll(ctx)
	p.poll(ctx)
	assert.True(t, p.healthy.Load())
	p.poll(ctx)
	assert.False(t, p.healthy.Load())

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "down", resp.Checks["flaky"])
}

func TestStartPollsChecks(t *testing.T) {
	h := New()
	polled := make(chan struct{}, 1)
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("check was never polled")
	}

	h.SetReady(true)
	assert.True(t, h.IsReady())
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
