package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// DefaultUploadName is used when an upload has no file name
const DefaultUploadName = "video.mp4"

// Orchestrator sequences the backend operations and keeps the step
// registry, the accumulated result and the cached metadata current.
//
// Operations must not be invoked concurrently on one Orchestrator; callers
// are expected to block re-invocation while a call is in flight. Readers
// (Steps, Result, Metadata, Status, Activity) are safe from any goroutine.
type Orchestrator struct {
	backend   Backend
	steps     *steps.Registry
	logger    *slog.Logger
	recorders []RunRecorder
	now       func() time.Time

	mu       sync.RWMutex
	result   WorkflowResult
	metadata *highlighter.Metadata
	status   WorkflowStatus
	activity string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry replaces the default step registry
func WithRegistry(r *steps.Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.steps = r
		}
	}
}

// WithRecorder adds a recorder notified after every full pipeline run
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// New creates an orchestrator in the idle state
func New(backend Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		steps:   steps.NewDefaultRegistry(),
		logger:  slog.Default(),
		now:     time.Now,
		status:  WorkflowStatus{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// stage binds a registry step to its backend call and result field
type stage struct {
	key      string
	op       string
	activity string
	call     func(ctx context.Context) (string, error)
	store    func(r *WorkflowResult, value string)
}

// stages returns the pipeline in its fixed order. Later stages build on
// earlier artifacts on the backend side.
func (o *Orchestrator) stages() []stage {
	return []stage{
		{
			key:      highlighter.StepSummarize,
			op:       highlighter.OpSummarize,
			activity: ActivitySummarizing,
			call:     o.backend.Summarize,
			store:    func(r *WorkflowResult, v string) { r.SummaryText = strPtr(v) },
		},
		{
			key:      highlighter.StepTranscribe,
			op:       highlighter.OpTranscribe,
			activity: ActivityTranscribing,
			call:     o.backend.Transcribe,
			store:    func(r *WorkflowResult, v string) { r.SubtitlePath = strPtr(v) },
		},
		{
			key:      highlighter.StepHighlight,
			op:       highlighter.OpHighlight,
			activity: ActivityHighlighting,
			call:     o.backend.Highlight,
			store:    func(r *WorkflowResult, v string) { r.HighlightPath = strPtr(v) },
		},
	}
}

func (o *Orchestrator) stage(key string) (stage, error) {
	for _, st := range o.stages() {
		if st.key == key {
			return st, nil
		}
	}
	return stage{}, fmt.Errorf("%w: %s", steps.ErrUnknownStep, key)
}

// AcquireByURL has the backend ingest the video at videoURL, then refreshes metadata
func (o *Orchestrator) AcquireByURL(ctx context.Context, videoURL string) error {
	videoURL = strings.TrimSpace(videoURL)
	if videoURL == "" {
		return ErrEmptyURL
	}

	o.logger.Info("downloading video", "url", videoURL)
	err := o.withActivity(ActivityDownloading, func() error {
		return o.backend.Download(ctx, videoURL)
	})
	if err != nil {
		o.logger.Error("download failed", "url", videoURL, "error", err)
		return &RemoteOperationError{Operation: highlighter.OpDownload, Err: err}
	}
	o.logger.Info("download complete", "url", videoURL)

	return o.RefreshMetadata(ctx)
}

// AcquireByUpload sends a local video to the backend, then refreshes metadata
func (o *Orchestrator) AcquireByUpload(ctx context.Context, fileName string, data []byte) error {
	if len(data) == 0 {
		return ErrNoFileSelected
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = DefaultUploadName
	}

	o.logger.Info("uploading video", "file", fileName, "bytes", len(data))
	err := o.withActivity(ActivityUploading, func() error {
		return o.backend.Upload(ctx, fileName, bytes.NewReader(data))
	})
	if err != nil {
		o.logger.Error("upload failed", "file", fileName, "error", err)
		return &RemoteOperationError{Operation: highlighter.OpUpload, Err: err}
	}
	o.logger.Info("upload complete", "file", fileName)

	return o.RefreshMetadata(ctx)
}

// Summarize runs only the summarize step and returns the summary text
func (o *Orchestrator) Summarize(ctx context.Context) (string, error) {
	return o.RunStep(ctx, highlighter.StepSummarize)
}

// Transcribe runs only the transcribe step and returns the subtitle locator
func (o *Orchestrator) Transcribe(ctx context.Context) (string, error) {
	return o.RunStep(ctx, highlighter.StepTranscribe)
}

// Highlight runs only the highlight step and returns the highlight locator
func (o *Orchestrator) Highlight(ctx context.Context) (string, error) {
	return o.RunStep(ctx, highlighter.StepHighlight)
}

// RunStep runs a single step by key. Other steps are left untouched and
// metadata is not refreshed.
func (o *Orchestrator) RunStep(ctx context.Context, key string) (string, error) {
	st, err := o.stage(key)
	if err != nil {
		return "", err
	}
	// a step finished by an earlier run goes back to pending before it can begin
	if err := o.steps.Rearm(st.key); err != nil {
		return "", err
	}

	var value string
	err = o.withActivity(st.activity, func() error {
		var runErr error
		value, runErr = o.runStage(ctx, st, o.logger)
		return runErr
	})
	return value, err
}

// RunFullPipeline resets the steps and runs summarize, transcribe and
// highlight in order. The first failure stops the run; later steps stay
// pending. Metadata is refreshed once, only when every step succeeded.
func (o *Orchestrator) RunFullPipeline(ctx context.Context) error {
	runID := uuid.New()
	startedAt := o.now()
	logger := o.logger.With("run_id", runID.String())

	o.mu.Lock()
	o.status = WorkflowStatus{
		RunID:     runID,
		Phase:     PhaseRunning,
		StartedAt: &startedAt,
	}
	o.mu.Unlock()
	o.steps.Reset()

	logger.Info("starting full pipeline")

	err := o.withActivity(ActivityFullRun, func() error {
		for i, st := range o.stages() {
			o.mu.Lock()
			o.status.StepIndex = i
			o.status.StepKey = st.key
			o.mu.Unlock()

			if _, err := o.runStage(ctx, st, logger); err != nil {
				o.finishRun(ctx, PhaseFailed, st.key, err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("full pipeline failed", "error", err)
		return err
	}

	o.finishRun(ctx, PhaseSucceeded, "", nil)
	logger.Info("full pipeline completed")

	return o.RefreshMetadata(ctx)
}

// RefreshMetadata fetches the backend metadata and replaces the cached copy
func (o *Orchestrator) RefreshMetadata(ctx context.Context) error {
	var md highlighter.Metadata
	err := o.withActivity(ActivityMetadata, func() error {
		var fetchErr error
		md, fetchErr = o.backend.Metadata(ctx)
		return fetchErr
	})
	if err != nil {
		o.logger.Warn("metadata refresh failed", "error", err)
		return &RemoteOperationError{Operation: highlighter.OpGetMetadata, Err: err}
	}

	o.mu.Lock()
	o.metadata = &md
	o.mu.Unlock()

	o.logger.Debug("metadata refreshed",
		"duration_minutes", md.DurationMinutes,
		"width", md.Width,
		"height", md.Height,
		"fps", md.FPS,
		"file_size_mb", md.FileSizeMB)
	return nil
}

// Subscribe registers an observer for step transitions
func (o *Orchestrator) Subscribe(obs steps.Observer) func() {
	return o.steps.Subscribe(obs)
}

// Steps returns the current step snapshot
func (o *Orchestrator) Steps() steps.Snapshot {
	return o.steps.Snapshot()
}

// Result returns a copy of the accumulated artifacts
func (o *Orchestrator) Result() WorkflowResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out WorkflowResult
	if o.result.SummaryText != nil {
		out.SummaryText = strPtr(*o.result.SummaryText)
	}
	if o.result.SubtitlePath != nil {
		out.SubtitlePath = strPtr(*o.result.SubtitlePath)
	}
	if o.result.HighlightPath != nil {
		out.HighlightPath = strPtr(*o.result.HighlightPath)
	}
	return out
}

// Metadata returns the most recently fetched metadata, if any
func (o *Orchestrator) Metadata() (highlighter.Metadata, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.metadata == nil {
		return highlighter.Metadata{}, false
	}
	return *o.metadata, true
}

// Status returns the state of the most recent full pipeline run
func (o *Orchestrator) Status() WorkflowStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := o.status
	if o.status.StartedAt != nil {
		t := *o.status.StartedAt
		out.StartedAt = &t
	}
	if o.status.FinishedAt != nil {
		t := *o.status.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Activity returns the label of the operation in flight, or "" when idle
func (o *Orchestrator) Activity() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activity
}

// runStage drives one step through begin, the remote call and complete or fail
func (o *Orchestrator) runStage(ctx context.Context, st stage, logger *slog.Logger) (string, error) {
	if err := o.steps.Begin(st.key); err != nil {
		return "", err
	}
	logger.Info("step started", "step", st.key)

	value, err := st.call(ctx)
	if err != nil {
		remoteErr := &RemoteOperationError{Operation: st.op, Step: st.key, Err: err}
		if failErr := o.steps.Fail(st.key); failErr != nil {
			return "", errors.Join(remoteErr, failErr)
		}
		logger.Error("step failed", "step", st.key, "error", err)
		return "", remoteErr
	}

	// store before completing so observers of "done" can read the artifact
	o.mu.Lock()
	st.store(&o.result, value)
	o.mu.Unlock()

	if err := o.steps.Complete(st.key); err != nil {
		return "", err
	}
	logger.Info("step completed", "step", st.key)
	return value, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, phase Phase, failedStep string, runErr error) {
	finishedAt := o.now()

	o.mu.Lock()
	o.status.Phase = phase
	o.status.FinishedAt = &finishedAt
	if runErr != nil {
		o.status.Error = runErr.Error()
	}
	rec := RunRecord{
		RunID:      o.status.RunID,
		Phase:      phase,
		FailedStep: failedStep,
		StartedAt:  *o.status.StartedAt,
		FinishedAt: finishedAt,
		Error:      o.status.Error,
	}
	o.mu.Unlock()

	// recording must not depend on the caller's context still being live
	recCtx := context.WithoutCancel(ctx)
	for _, r := range o.recorders {
		if err := r.RecordRun(recCtx, rec); err != nil {
			o.logger.Warn("failed to record run", "run_id", rec.RunID.String(), "error", err)
		}
	}
}

// withActivity sets the activity label for the duration of fn. An outer
// operation's label is kept while it is set.
func (o *Orchestrator) withActivity(label string, fn func() error) error {
	o.mu.Lock()
	prev := o.activity
	if prev == "" {
		o.activity = label
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.activity = prev
		o.mu.Unlock()
	}()

	return fn()
}
