// Package metrics exposes Prometheus collectors for step transitions and
// full pipeline runs.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/internal/workflows"
)

const namespace = "highlighter"

// Metrics derives step timings from registry snapshots and counts run
// outcomes. Observe is a steps.Observer; Metrics is a workflows.RunRecorder.
type Metrics struct {
	stepRuns         *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram

	mu      sync.Mutex
	prev    map[string]steps.Status
	started map[string]time.Time
	now     func() time.Time
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	buckets := prometheus.ExponentialBuckets(1, 2, 12) // 1s .. ~34m

	m := &Metrics{
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Pipeline steps that reached a terminal status, by step and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time a step spent working.",
			Buckets:   buckets,
		}, []string{"step"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Full pipeline runs by outcome.",
		}, []string{"outcome"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of full pipeline runs.",
			Buckets:   buckets,
		}),
		prev:    make(map[string]steps.Status),
		started: make(map[string]time.Time),
		now:     time.Now,
	}

	for _, c := range []prometheus.Collector{m.stepRuns, m.stepDuration, m.pipelineRuns, m.pipelineDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Observe compares snap with the previous snapshot and records any step
// that started or finished in between.
func (m *Metrics) Observe(snap steps.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, st := range snap.Steps() {
		before := m.prev[st.Key]
		m.prev[st.Key] = st.Status
		if before == st.Status {
			continue
		}

		switch {
		case st.Status == steps.StatusWorking:
			m.started[st.Key] = now
		case st.Status.IsTerminal() && before == steps.StatusWorking:
			m.stepRuns.WithLabelValues(st.Key, string(st.Status)).Inc()
			if t, ok := m.started[st.Key]; ok {
				m.stepDuration.WithLabelValues(st.Key).Observe(now.Sub(t).Seconds())
				delete(m.started, st.Key)
			}
		}
	}
}

// RecordRun counts a finished full pipeline run
func (m *Metrics) RecordRun(_ context.Context, rec workflows.RunRecord) error {
	m.pipelineRuns.WithLabelValues(string(rec.Phase)).Inc()
	if d := rec.Duration(); d >= 0 {
		m.pipelineDuration.Observe(d.Seconds())
	}
	return nil
}
