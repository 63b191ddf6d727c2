package workflows

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// Backend is the remote processing service. Operations act on the single
// video the backend currently has loaded; no identifier is exchanged.
type Backend interface {
	Download(ctx context.Context, videoURL string) error
	Upload(ctx context.Context, fileName string, r io.Reader) error
	Summarize(ctx context.Context) (string, error)
	Transcribe(ctx context.Context) (string, error)
	Highlight(ctx context.Context) (string, error)
	Metadata(ctx context.Context) (highlighter.Metadata, error)
}

// WorkflowResult holds the artifacts produced so far. Each field is replaced
// whenever its producing operation succeeds again.
type WorkflowResult struct {
	SummaryText   *string `json:"summary_text,omitempty"`
	SubtitlePath  *string `json:"subtitle_path,omitempty"`
	HighlightPath *string `json:"highlight_path,omitempty"`
}

// Phase is the state of the most recent full pipeline run
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// WorkflowStatus describes the most recent full pipeline run
type WorkflowStatus struct {
	RunID      uuid.UUID  `json:"run_id"`
	Phase      Phase      `json:"phase"`
	StepIndex  int        `json:"step_index"`
	StepKey    string     `json:"step_key,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunRecord is handed to recorders once a full run reaches a terminal phase
type RunRecord struct {
	RunID      uuid.UUID
	Phase      Phase
	FailedStep string
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Duration is how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecorder is notified of every finished full pipeline run
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// Activity labels for the operation in flight
const (
	ActivityDownloading  = "Downloading video..."
	ActivityUploading    = "Uploading video..."
	ActivitySummarizing  = "Summarizing..."
	ActivityTranscribing = "Transcribing subtitles..."
	ActivityHighlighting = "Generating highlight..."
	ActivityFullRun      = "Running full analysis..."
	ActivityMetadata     = "Fetching metadata..."
)

func strPtr(s string) *string {
	return &s
}
