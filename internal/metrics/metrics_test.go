package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/internal/workflows"
	"github.com/tendant/community-highlighter/pkg/highlighter"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestObserveCountsTerminalTransitions(t *testing.T) {
	m := newTestMetrics(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	r := steps.NewDefaultRegistry()
	r.Subscribe(m.Observe)

	require.NoError(t, r.Begin(highlighter.StepSummarize))
	clock = clock.Add(3 * time.Second)
	require.NoError(t, r.Complete(highlighter.StepSummarize))

	require.NoError(t, r.Begin(highlighter.StepTranscribe))
	require.NoError(t, r.Fail(highlighter.StepTranscribe))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepRuns.WithLabelValues(highlighter.StepSummarize, "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepRuns.WithLabelValues(highlighter.StepTranscribe, "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stepRuns.WithLabelValues(highlighter.StepHighlight, "done")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDuration))
}

func TestObserveIgnoresResetAndRearm(t *testing.T) {
	m := newTestMetrics(t)
	r := steps.NewDefaultRegistry()
	r.Subscribe(m.Observe)

	require.NoError(t, r.Begin(highlighter.StepHighlight))
	require.NoError(t, r.Complete(highlighter.StepHighlight))
	require.NoError(t, r.Rearm(highlighter.StepHighlight))
	r.Reset()

	assert.Equal(t, 1, testutil.CollectAndCount(m.stepRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepRuns.WithLabelValues(highlighter.StepHighlight, "done")))
}

func TestRecordRun(t *testing.T) {
	m := newTestMetrics(t)
	start := time.Now()

	require.NoError(t, m.RecordRun(context.Background(), workflows.RunRecord{
		Phase: workflows.PhaseSucceeded, StartedAt: start, FinishedAt: start.Add(time.Minute),
	}))
	require.NoError(t, m.RecordRun(context.Background(), workflows.RunRecord{
		Phase: workflows.PhaseFailed, StartedAt: start, FinishedAt: start.Add(time.Second),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pipelineDuration))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
