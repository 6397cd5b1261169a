package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "frontbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	stageDuration   *prom.HistogramVec
	stageResults    *prom.CounterVec
	runDuration     *prom.HistogramVec
	runOutcomes     *prom.CounterVec
	coalesced       *prom.CounterVec
	reloadBroadcast prom.Counter
	liveClients     prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.runDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of graph runs by trigger",
			Buckets:   prom.DefBuckets,
		}, []string{"reason"})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Graph runs by trigger and outcome",
		}, []string{"reason", "outcome"})
		pr.coalesced = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_events_total",
			Help:      "Change events merged into an already pending rerun",
		}, []string{"binding"})
		pr.reloadBroadcast = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reload_broadcasts_total",
			Help:      "Reload signals sent to dev session clients",
		})
		pr.liveClients = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Currently connected dev session clients",
		})
		reg.MustRegister(pr.stageDuration, pr.stageResults, pr.runDuration, pr.runOutcomes, pr.coalesced, pr.reloadBroadcast, pr.liveClients)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(reason string, d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.WithLabelValues(reason).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(reason string, success bool) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	p.runOutcomes.WithLabelValues(reason, outcome).Inc()
}

func (p *PrometheusRecorder) AddCoalescedEvents(binding string, n int) {
	if p == nil || p.coalesced == nil || n <= 0 {
		return
	}
	p.coalesced.WithLabelValues(binding).Add(float64(n))
}

func (p *PrometheusRecorder) IncReloadBroadcast() {
	if p == nil || p.reloadBroadcast == nil {
		return
	}
	p.reloadBroadcast.Inc()
}

func (p *PrometheusRecorder) SetLiveClients(n int) {
	if p == nil || p.liveClients == nil {
		return
	}
	p.liveClients.Set(float64(n))
}
