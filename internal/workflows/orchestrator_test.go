package workflows

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// fakeBackend records calls and returns canned results
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	uploaded []byte
	summary  string
	subs     string
	reel     string
	md       highlighter.Metadata

	failOn map[string]error
	// hook runs inside each call, after it is recorded
	hook func(op string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		summary: "the council approved the budget",
		subs:    "/static/subs.srt",
		reel:    "/static/highlight.mp4",
		md:      highlighter.Metadata{DurationMinutes: 42, Width: 1280, Height: 720, FPS: 30, FileSizeMB: 120.5},
		failOn:  map[string]error{},
	}
}

func (f *fakeBackend) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.failOn[op]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	return err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Download(ctx context.Context, videoURL string) error {
	return f.record(highlighter.OpDownload)
}

func (f *fakeBackend) Upload(ctx context.Context, fileName string, r io.Reader) error {
	if err := f.record(highlighter.OpUpload); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	f.mu.Lock()
	f.uploaded = data
	f.mu.Unlock()
	return err
}

func (f *fakeBackend) Summarize(ctx context.Context) (string, error) {
	if err := f.record(highlighter.OpSummarize); err != nil {
		return "", err
	}
	return f.summary, nil
}

func (f *fakeBackend) Transcribe(ctx context.Context) (string, error) {
	if err := f.record(highlighter.OpTranscribe); err != nil {
		return "", err
	}
	return f.subs, nil
}

func (f *fakeBackend) Highlight(ctx context.Context) (string, error) {
	if err := f.record(highlighter.OpHighlight); err != nil {
		return "", err
	}
	return f.reel, nil
}

func (f *fakeBackend) Metadata(ctx context.Context) (highlighter.Metadata, error) {
	if err := f.record(highlighter.OpGetMetadata); err != nil {
		return highlighter.Metadata{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.md, nil
}

type fakeRecorder struct {
	records []RunRecord
	err     error
}

func (r *fakeRecorder) RecordRun(ctx context.Context, rec RunRecord) error {
	r.records = append(r.records, rec)
	return r.err
}

func TestAcquireByURLRefreshesMetadata(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)

	_, ok := o.Metadata()
	assert.False(t, ok)

	require.NoError(t, o.AcquireByURL(context.Background(), "  https://youtu.be/abc  "))

	assert.Equal(t, []string{highlighter.OpDownload, highlighter.OpGetMetadata}, backend.Calls())
	md, ok := o.Metadata()
	require.True(t, ok)
	assert.Equal(t, backend.md, md)
	assert.Equal(t, 3, o.Steps().Count(steps.StatusPending), "acquisition does not touch steps")
}

func TestAcquireByURLRejectsEmpty(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)

	for _, in := range []string{"", "   "} {
		err := o.AcquireByURL(context.Background(), in)
		assert.ErrorIs(t, err, ErrEmptyURL)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Empty(t, backend.Calls())
}

func TestAcquireByUploadRejectsEmptyPayload(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)

	err := o.AcquireByUpload(context.Background(), "clip.mp4", nil)
	assert.ErrorIs(t, err, ErrNoFileSelected)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, IsRemote(err))
	assert.Empty(t, backend.Calls(), "no remote call for an empty payload")
}

func TestAcquireByUploadStreamsPayload(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)

	require.NoError(t, o.AcquireByUpload(context.Background(), "", []byte("mp4-data")))
	assert.Equal(t, []string{highlighter.OpUpload, highlighter.OpGetMetadata}, backend.Calls())
	assert.Equal(t, "mp4-data", string(backend.uploaded))

	_, ok := o.Metadata()
	assert.True(t, ok)
}

func TestAcquireFailureSkipsMetadata(t *testing.T) {
	backend := newFakeBackend()
	boom := errors.New("backend unavailable")
	backend.failOn[highlighter.OpDownload] = boom
	o := New(backend)

	err := o.AcquireByURL(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var remote *RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, highlighter.OpDownload, remote.Operation)
	assert.Empty(t, remote.Step)
	assert.Equal(t, []string{highlighter.OpDownload}, backend.Calls())
}

func TestRunFullPipelineSuccess(t *testing.T) {
	backend := newFakeBackend()
	rec := &fakeRecorder{}
	o := New(backend, WithRecorder(rec))

	require.NoError(t, o.RunFullPipeline(context.Background()))

	assert.Equal(t, []string{
		highlighter.OpSummarize,
		highlighter.OpTranscribe,
		highlighter.OpHighlight,
		highlighter.OpGetMetadata,
	}, backend.Calls(), "fixed order with one metadata refresh after the last step")

	snap := o.Steps()
	assert.Equal(t, snap.Len(), snap.Count(steps.StatusDone))

	res := o.Result()
	require.NotNil(t, res.SummaryText)
	require.NotNil(t, res.SubtitlePath)
	require.NotNil(t, res.HighlightPath)
	assert.Equal(t, backend.summary, *res.SummaryText)
	assert.Equal(t, backend.subs, *res.SubtitlePath)
	assert.Equal(t, backend.reel, *res.HighlightPath)

	st := o.Status()
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.NotNil(t, st.FinishedAt)
	assert.Empty(t, o.Activity())

	require.Len(t, rec.records, 1)
	assert.Equal(t, PhaseSucceeded, rec.records[0].Phase)
	assert.Equal(t, st.RunID, rec.records[0].RunID)
}

func TestRunFullPipelineStopsAtFailedStep(t *testing.T) {
	backend := newFakeBackend()
	boom := errors.New("whisper crashed")
	backend.failOn[highlighter.OpTranscribe] = boom
	rec := &fakeRecorder{}
	o := New(backend, WithRecorder(rec))

	err := o.RunFullPipeline(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var remote *RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, highlighter.StepTranscribe, remote.Step)

	snap := o.Steps()
	assert.Equal(t, steps.StatusDone, snap.Status(highlighter.StepSummarize))
	assert.Equal(t, steps.StatusFailed, snap.Status(highlighter.StepTranscribe))
	assert.Equal(t, steps.StatusPending, snap.Status(highlighter.StepHighlight))

	assert.Zero(t, backend.count(highlighter.OpHighlight), "highlight is never attempted")
	assert.Zero(t, backend.count(highlighter.OpGetMetadata), "no refresh on partial failure")

	st := o.Status()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, 1, st.StepIndex)
	assert.Equal(t, highlighter.StepTranscribe, st.StepKey)
	assert.Contains(t, st.Error, "whisper crashed")

	require.Len(t, rec.records, 1)
	assert.Equal(t, highlighter.StepTranscribe, rec.records[0].FailedStep)

	res := o.Result()
	require.NotNil(t, res.SummaryText)
	assert.Nil(t, res.SubtitlePath)
	assert.Nil(t, res.HighlightPath)
}

func TestRunFullPipelineObservableMidFlight(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)

	var transitions []string
	o.Subscribe(func(s steps.Snapshot) {
		if w, ok := s.Working(); ok {
			transitions = append(transitions, w.Key+":"+string(w.Status))
			return
		}
		transitions = append(transitions, "idle")
	})

	// the working step is visible while its remote call is in flight
	var during []string
	backend.hook = func(op string) {
		if op == highlighter.OpGetMetadata {
			return
		}
		w, ok := o.Steps().Working()
		require.True(t, ok)
		during = append(during, w.Key)
		assert.Equal(t, ActivityFullRun, o.Activity())
		assert.Equal(t, PhaseRunning, o.Status().Phase)
	}

	require.NoError(t, o.RunFullPipeline(context.Background()))

	assert.Equal(t, []string{
		highlighter.StepSummarize,
		highlighter.StepTranscribe,
		highlighter.StepHighlight,
	}, during)
	assert.Equal(t, []string{
		"idle", // reset
		"summarize:working", "idle",
		"transcribe:working", "idle",
		"highlight:working", "idle",
	}, transitions)
}

func TestRunFullPipelineResetsPreviousRun(t *testing.T) {
	backend := newFakeBackend()
	backend.failOn[highlighter.OpSummarize] = errors.New("first run fails")
	o := New(backend)

	require.Error(t, o.RunFullPipeline(context.Background()))
	first := o.Status().RunID

	delete(backend.failOn, highlighter.OpSummarize)
	require.NoError(t, o.RunFullPipeline(context.Background()))

	assert.NotEqual(t, first, o.Status().RunID)
	assert.Equal(t, 3, o.Steps().Count(steps.StatusDone))
}

func TestRunFullPipelineMetadataFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failOn[highlighter.OpGetMetadata] = errors.New("metadata down")
	o := New(backend)

	err := o.RunFullPipeline(context.Background())
	require.Error(t, err)

	var remote *RemoteOperationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, highlighter.OpGetMetadata, remote.Operation)
	assert.Equal(t, PhaseSucceeded, o.Status().Phase, "all steps finished")
	_, ok := o.Metadata()
	assert.False(t, ok)
}

func TestSingleStepDoesNotTouchOthers(t *testing.T) {
	backend := newFakeBackend()
	backend.failOn[highlighter.OpTranscribe] = errors.New("fails")
	o := New(backend)
	require.Error(t, o.RunFullPipeline(context.Background()))

	before := o.Steps()
	summary, err := o.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backend.summary, summary)

	after := o.Steps()
	assert.Equal(t, steps.StatusDone, after.Status(highlighter.StepSummarize))
	assert.Equal(t, before.Status(highlighter.StepTranscribe), after.Status(highlighter.StepTranscribe))
	assert.Equal(t, before.Status(highlighter.StepHighlight), after.Status(highlighter.StepHighlight))
	assert.Zero(t, backend.count(highlighter.OpGetMetadata), "no refresh after a single step")
}

func TestSingleStepsPopulateResult(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)
	ctx := context.Background()

	reel, err := o.Highlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.reel, reel)

	subs, err := o.Transcribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.subs, subs)

	res := o.Result()
	assert.Nil(t, res.SummaryText, "fields are independent")
	require.NotNil(t, res.SubtitlePath)
	require.NotNil(t, res.HighlightPath)
	assert.Zero(t, backend.count(highlighter.OpGetMetadata))

	// re-invocation overwrites
	backend.reel = "/static/highlight-2.mp4"
	_, err = o.Highlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/static/highlight-2.mp4", *o.Result().HighlightPath)
	assert.Equal(t, steps.StatusDone, o.Steps().Status(highlighter.StepHighlight))
}

func TestSingleStepFailureMarksFailed(t *testing.T) {
	backend := newFakeBackend()
	boom := errors.New("no video loaded")
	backend.failOn[highlighter.OpSummarize] = boom
	o := New(backend)

	_, err := o.Summarize(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsRemote(err))
	assert.Equal(t, steps.StatusFailed, o.Steps().Status(highlighter.StepSummarize))
	assert.Nil(t, o.Result().SummaryText)
	assert.Equal(t, PhaseIdle, o.Status().Phase, "single steps are not pipeline runs")
}

func TestRunStepUnknownKey(t *testing.T) {
	o := New(newFakeBackend())
	_, err := o.RunStep(context.Background(), "render")
	assert.ErrorIs(t, err, steps.ErrUnknownStep)
}

func TestRefreshMetadataIdempotent(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)
	ctx := context.Background()

	require.NoError(t, o.RefreshMetadata(ctx))
	first, ok := o.Metadata()
	require.True(t, ok)

	require.NoError(t, o.RefreshMetadata(ctx))
	second, ok := o.Metadata()
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestRefreshMetadataOverwrites(t *testing.T) {
	backend := newFakeBackend()
	o := New(backend)
	ctx := context.Background()

	require.NoError(t, o.RefreshMetadata(ctx))
	backend.md = highlighter.Metadata{Width: 640, Height: 360}
	require.NoError(t, o.RefreshMetadata(ctx))

	md, _ := o.Metadata()
	assert.Equal(t, 640, md.Width)
}

func TestRecorderErrorIsNotReturned(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	o := New(newFakeBackend(), WithRecorder(rec))

	require.NoError(t, o.RunFullPipeline(context.Background()))
	assert.Len(t, rec.records, 1)
}

func TestRunRecordDuration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := RunRecord{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, rec.Duration())
}

func TestResultIsACopy(t *testing.T) {
	o := New(newFakeBackend())
	_, err := o.Summarize(context.Background())
	require.NoError(t, err)

	res := o.Result()
	*res.SummaryText = "tampered"
	assert.NotEqual(t, "tampered", *o.Result().SummaryText)
}
