package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("compile", 150*time.Millisecond)
	pr.IncStageResult("compile", ResultSuccess)
	pr.IncStageResult("bundle", ResultSkipped)
	pr.ObserveRunDuration("build", 500*time.Millisecond)
	pr.IncRunOutcome("build", true)
	pr.IncRunOutcome("styles", false)
	pr.AddCoalescedEvents("styles", 4)
	pr.AddCoalescedEvents("styles", 0)
	pr.IncReloadBroadcast()
	pr.SetLiveClients(3)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	assert.InDelta(t, 2, values["frontbuild_stage_results_total"], 0)
	assert.InDelta(t, 2, values["frontbuild_runs_total"], 0)
	assert.InDelta(t, 4, values["frontbuild_coalesced_events_total"], 0)
	assert.InDelta(t, 1, values["frontbuild_reload_broadcasts_total"], 0)
	assert.InDelta(t, 3, values["frontbuild_live_clients"], 0)
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncReloadBroadcast()
	pr.SetLiveClients(1)
	pr.ObserveStageDuration("x", time.Second)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncReloadBroadcast()

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "frontbuild_reload_broadcasts_total 1")
}

func TestNewRegistryServesRuntimeMetrics(t *testing.T) {
	reg := NewRegistry()
	NewPrometheusRecorder(reg).SetLiveClients(2)
	h := HTTPHandler(reg)

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), "GET", "/metrics", nil))
		body := rec.Body.String()
		assert.Contains(t, body, "go_goroutines")
		assert.Contains(t, body, "frontbuild_live_clients 2")
	}
}
