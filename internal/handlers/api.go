package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/tendant/community-highlighter/internal/steps"
	"github.com/tendant/community-highlighter/internal/workflows"
	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to temp files
const multipartMemory = 32 << 20

// DefaultMaxUploadBytes caps an upload request body
const DefaultMaxUploadBytes int64 = 2 << 30

// Pipeline is the orchestrator surface served over HTTP
type Pipeline interface {
	AcquireByURL(ctx context.Context, videoURL string) error
	AcquireByUpload(ctx context.Context, fileName string, data []byte) error
	RunStep(ctx context.Context, key string) (string, error)
	RunFullPipeline(ctx context.Context) error
	RefreshMetadata(ctx context.Context) error
	Steps() steps.Snapshot
	Result() workflows.WorkflowResult
	Metadata() (highlighter.Metadata, bool)
	Status() workflows.WorkflowStatus
	Activity() string
}

// StatusResponse is returned by GET /v1/status
type StatusResponse struct {
	Activity string                   `json:"activity,omitempty"`
	Run      workflows.WorkflowStatus `json:"run"`
	Steps    steps.Snapshot           `json:"steps"`
	Progress float64                  `json:"progress"`
}

// StepResponse is returned by POST /v1/steps/{key}
type StepResponse struct {
	Step  string `json:"step"`
	Value string `json:"value"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIHandler serves orchestrator operations. Only one mutating request runs
// at a time; others are turned away with 409.
type APIHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
	validate *validator.Validate
	busy     atomic.Bool

	maxUploadBytes int64
}

// Option configures an APIHandler
type Option func(*APIHandler)

// WithMaxUploadBytes caps upload request bodies. Non-positive values keep the default.
func WithMaxUploadBytes(n int64) Option {
	return func(h *APIHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(p Pipeline, logger *slog.Logger, opts ...Option) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &APIHandler{
		pipeline:       p,
		logger:         logger,
		validate:       validator.New(),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /v1/status", h.HandleStatus)
	mux.HandleFunc("GET /v1/result", h.HandleResult)
	mux.HandleFunc("GET /v1/metadata", h.HandleMetadata)
	mux.HandleFunc("POST /v1/metadata/refresh", h.exclusive(h.HandleRefreshMetadata))
	mux.HandleFunc("POST /v1/acquire/url", h.exclusive(h.HandleAcquireURL))
	mux.HandleFunc("POST /v1/acquire/upload", h.exclusive(h.HandleAcquireUpload))
	mux.HandleFunc("POST /v1/steps/{key}", h.exclusive(h.HandleStep))
	mux.HandleFunc("POST /v1/run", h.exclusive(h.HandleRun))
}

// exclusive rejects the request while another mutating request is in flight
func (h *APIHandler) exclusive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.busy.CompareAndSwap(false, true) {
			h.logger.Warn("rejecting request, operation in progress",
				"path", r.URL.Path, "activity", h.pipeline.Activity())
			h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "another operation is in progress"})
			return
		}
		defer h.busy.Store(false)
		next(w, r)
	}
}

// HandleHealth handles GET /health
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleStatus handles GET /v1/status
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.pipeline.Steps()
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Activity: h.pipeline.Activity(),
		Run:      h.pipeline.Status(),
		Steps:    snap,
		Progress: snap.Progress(),
	})
}

// HandleResult handles GET /v1/result
func (h *APIHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pipeline.Result())
}

// HandleMetadata handles GET /v1/metadata
func (h *APIHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	md, ok := h.pipeline.Metadata()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no metadata loaded"})
		return
	}
	h.writeJSON(w, http.StatusOK, md)
}

// HandleRefreshMetadata handles POST /v1/metadata/refresh
func (h *APIHandler) HandleRefreshMetadata(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.RefreshMetadata(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.HandleMetadata(w, r)
}

// HandleAcquireURL handles POST /v1/acquire/url
func (h *APIHandler) HandleAcquireURL(w http.ResponseWriter, r *http.Request) {
	var req highlighter.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", workflows.ErrEmptyURL, err))
		return
	}

	if err := h.pipeline.AcquireByURL(r.Context(), req.URL); err != nil {
		h.writeError(w, err)
		return
	}
	h.HandleMetadata(w, r)
}

// HandleAcquireUpload handles POST /v1/acquire/upload
func (h *APIHandler) HandleAcquireUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	defer r.MultipartForm.RemoveAll()

	var (
		name string
		data []byte
	)
	file, header, err := r.FormFile(highlighter.UploadField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// empty payload, rejected by the orchestrator below
	case err != nil:
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid upload: %v", err)})
		return
	default:
		defer file.Close()
		name = header.Filename
		if data, err = io.ReadAll(file); err != nil {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("failed to read upload: %v", err)})
			return
		}
	}

	if err := h.pipeline.AcquireByUpload(r.Context(), name, data); err != nil {
		h.writeError(w, err)
		return
	}
	h.HandleMetadata(w, r)
}

// HandleStep handles POST /v1/steps/{key}
func (h *APIHandler) HandleStep(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := h.pipeline.RunStep(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StepResponse{Step: key, Value: value})
}

// HandleRun handles POST /v1/run. A failed run is reported through the
// error mapping; GET /v1/status still shows which step failed.
func (h *APIHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	err := h.pipeline.RunFullPipeline(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.HandleStatus(w, r)
}

// writeError maps err onto a status code
func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", code, "error", err)
	} else {
		h.logger.Info("request rejected", "status", code, "error", err)
	}
	h.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// StatusCode returns the HTTP status for an orchestrator error
func StatusCode(err error) int {
	switch {
	case errors.Is(err, workflows.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, steps.ErrUnknownStep):
		return http.StatusNotFound
	case errors.Is(err, steps.ErrInvalidTransition):
		return http.StatusConflict
	case workflows.IsRemote(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", "status", code, "error", err)
	}
}
