package highlighter

// DownloadRequest asks the backend to ingest a video by reference
type DownloadRequest struct {
	URL string `json:"url" validate:"required"`
}

// SummaryResponse is returned by the summarize operation
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// PathResponse is returned by operations that produce a downloadable artifact.
// Path is relative to the backend base URL.
type PathResponse struct {
	Path string `json:"path"`
}

// Metadata describes the video currently loaded on the backend
type Metadata struct {
	DurationMinutes float64 `json:"duration_minutes"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             float64 `json:"fps"`
	FileSizeMB      float64 `json:"file_size_mb"`
}

// Step keys, in pipeline order
const (
	StepSummarize  = "summarize"
	StepTranscribe = "transcribe"
	StepHighlight  = "highlight"
)

// Backend operation names (used in errors, logs and metrics)
const (
	OpDownload    = "download"
	OpUpload      = "upload"
	OpSummarize   = "summarize"
	OpTranscribe  = "transcribe"
	OpHighlight   = "highlight"
	OpGetMetadata = "get-metadata"
)

// UploadField is the multipart form field carrying the video payload
const UploadField = "video"

// DefaultBackendURL is the hosted backend the web client talks to
const DefaultBackendURL = "https://community-highlighter-backend-production.up.railway.app"
