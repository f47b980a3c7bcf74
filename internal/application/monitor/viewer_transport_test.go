package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnwatch/attention-monitor/internal/domain/monitoring"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/external/backend"
	"github.com/learnwatch/attention-monitor/internal/infrastructure/persistence/memory"
)

// platformStub serves the learning platform routes the viewer uses.
// Frame uploads always fail.
type platformStub struct {
	frames   atomic.Int32
	starts   atomic.Int32
	finishes atomic.Int32
	scores   atomic.Int32
}

func (p *platformStub) handler(t *testing.T) http.Handler {
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/recursos/res-http/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{
			"id": "res-http", "nombre": "Fractions", "tipo": "video",
			"fase": "lesson-1", "es_evaluable": true,
		})
	})
	mux.HandleFunc("GET /api/sesiones/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []any{})
	})
	mux.HandleFunc("POST /api/sesiones/crear-para-mi/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusCreated, map[string]any{"id": "sess-http", "recurso": "res-http"})
	})
	mux.HandleFunc("POST /api/sesiones/sess-http/monitoreo-atencion/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["frame"]; ok {
			p.frames.Add(1)
			reply(w, http.StatusServiceUnavailable, map[string]string{"detail": "analyzer down"})
			return
		}
		p.starts.Add(1)
		reply(w, http.StatusOK, map[string]any{"sesion": map[string]any{"id": "sess-http"}, "mensaje": "ok"})
	})
	mux.HandleFunc("PATCH /api/sesiones/sess-http/", func(w http.ResponseWriter, r *http.Request) {
		p.finishes.Add(1)
		reply(w, http.StatusOK, map[string]any{"id": "sess-http"})
	})
	mux.HandleFunc("GET /api/nota-combinada/", func(w http.ResponseWriter, r *http.Request) {
		p.scores.Add(1)
		reply(w, http.StatusOK, map[string]any{"score_atencion": 80, "nota_academica": 70, "nota_combinada": nil})
	})
	mux.HandleFunc("POST /api/recomendaciones/generar/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"mensaje": "Buen trabajo", "acciones": []any{}})
	})
	return mux
}

func TestViewer_FailingFrameEndpointStillFinalizes(t *testing.T) {
	stub := &platformStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := backend.DefaultClientConfig(srv.URL, "tok", "student-1")
	cfg.Timeout = 2 * time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.BreakerThreshold = 3
	cfg.BreakerCooldown = time.Hour
	cfg.FrameLimiter = backend.RateLimiterConfig{PerMinute: 60000, Burst: 50, WaitTimeout: time.Second}
	cfg.Logger = log
	client := backend.NewClient(cfg)

	device := &fakeDevice{warmup: 1}
	capture := NewCaptureScheduler(client, CaptureConfig{
		Interval:     5 * time.Millisecond,
		FrameTimeout: time.Second,
		MaxInFlight:  2,
		Encode:       fakeEncode,
		Logger:       log,
	})
	countdown := NewCountdown(5 * time.Millisecond)
	media := NewMedia(device, log)

	v := NewViewer(ViewerConfig{
		Registry: NewRegistry(RegistryConfig{
			Student:   "student-1",
			Resources: client,
			Sessions:  client,
			Logger:    log,
		}),
		Sessions:        client,
		Media:           media,
		Capture:         capture,
		Countdown:       countdown,
		Reconciler:      NewReconciler("student-1", client, log),
		Journal:         memory.NewJournal(),
		Events:          &recorder{},
		DefaultDuration: 150 * time.Millisecond,
		ReadyTimeout:    time.Second,
		FinalizeTimeout: time.Second,
		Logger:          log,
	})
	t.Cleanup(v.Close)

	require.NoError(t, v.Mount(context.Background(), "res-http"))
	waitFor(t, v, inState(monitoring.StateReadyToStart))
	require.NoError(t, v.Begin())
	require.NoError(t, v.Accept())

	snap := waitFor(t, v, func(s Snapshot) bool {
		return s.Err != nil || (s.Completed && s.State == monitoring.StateIdle && s.Score != nil)
	})
	require.NoError(t, snap.Err)
	assert.True(t, snap.Completed)
	assert.Equal(t, monitoring.CompletedMessage, snap.Message)
	assert.Equal(t, 74, snap.Score.Combined)
	assert.Positive(t, snap.Capture.Failed)
	assert.Nil(t, snap.Readout)

	assert.Equal(t, int32(1), stub.finishes.Load())
	assert.Equal(t, int32(1), stub.scores.Load())
	// Uploads already in flight when the breaker trips may still land.
	assert.GreaterOrEqual(t, stub.frames.Load(), int32(3))
	assert.LessOrEqual(t, stub.frames.Load(), int32(4))

	status := client.Status()
	assert.Equal(t, "open", status.FrameBreaker)
	assert.Equal(t, "closed", status.Breaker)
	assert.Zero(t, device.live(), "camera tracks still live")
}
