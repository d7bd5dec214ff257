package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"pptx-processor/internal/jobs"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/results"
	"pptx-processor/internal/translator"
	"pptx-processor/internal/types"
)

// submitResponse is returned by process, export, and retry.
type submitResponse struct {
	JobID            string          `json:"job_id"`
	SessionID        string          `json:"session_id"`
	Status           types.JobStatus `json:"status"`
	EstimatedSeconds int             `json:"estimated_seconds,omitempty"`
}

// jobStatusResponse is the status endpoint payload.
type jobStatusResponse struct {
	JobID          string          `json:"job_id"`
	SessionID      string          `json:"session_id"`
	Kind           types.JobKind   `json:"kind"`
	Status         types.JobStatus `json:"status"`
	Progress       int             `json:"progress"`
	CurrentStage   string          `json:"current_stage"`
	SlideCount     int             `json:"slide_count,omitempty"`
	DegradedSlides []int           `json:"degraded_slides,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	OutputURL      string          `json:"output_url,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Error          *jobError       `json:"error,omitempty"`
}

type jobError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// handleProcess accepts a multipart upload and starts a conversion job.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, types.NewAppError(types.ErrInvalidInput,
			"upload rejected: body too large or not multipart", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, types.NewAppError(types.ErrInvalidInput, "missing file field", err))
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pptx") {
		writeError(w, types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"unsupported file type", header.Filename, nil))
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	for _, field := range []string{"source_language", "target_language"} {
		if lang := r.FormValue(field); lang != "" {
			if _, err := translator.ValidateLanguage(lang); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	// The upload is kept for the session's lifetime: export re-reads it.
	uploadDir := filepath.Join(s.cfg.WorkDirectory, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		writeError(w, types.NewAppError(types.ErrTransientIO, "failed to prepare upload directory", err))
		return
	}
	inputPath := filepath.Join(uploadDir, sessionID+".pptx")
	out, err := os.Create(inputPath)
	if err != nil {
		writeError(w, types.NewAppError(types.ErrTransientIO, "failed to store upload", err))
		return
	}
	size, err := io.Copy(out, file)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(inputPath)
		writeError(w, types.NewAppError(types.ErrTransientIO, "failed to store upload", err))
		return
	}

	job, err := s.orchestrator.Submit(r.Context(), &types.Job{
		SessionID: sessionID,
		Kind:      types.JobKindConvert,
		InputPath: inputPath,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Info("upload accepted",
		logger.String("jobID", job.ID),
		logger.String("sessionID", sessionID),
		logger.Int64("bytes", size))
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:            job.ID,
		SessionID:        job.SessionID,
		Status:           job.Status,
		EstimatedSeconds: int(jobs.EstimateDuration(size).Seconds()),
	})
}

// handleJobStatus reports the job state machine's view of one job.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := s.sessions.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := jobStatusResponse{
		JobID:          job.ID,
		SessionID:      job.SessionID,
		Kind:           job.Kind,
		Status:         job.Status,
		Progress:       job.Progress,
		CurrentStage:   job.CurrentStage,
		SlideCount:     job.SlideCount,
		DegradedSlides: job.DegradedSlides,
		RetryCount:     job.RetryCount,
		MaxRetries:     job.MaxRetries,
		OutputURL:      job.OutputURL,
		CompletedAt:    job.CompletedAt,
	}
	if job.ErrorCode != "" {
		resp.Error = &jobError{Code: job.ErrorCode, Message: job.ErrorMessage}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJobRetry re-queues a failed job within its retry budget.
func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := s.orchestrator.Retry(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    job.Status,
	})
}

// handleResults returns the assembled session results.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	slides, err := s.sessions.GetSlides(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(slides) == 0 {
		writeError(w, types.NewAppErrorWithDetails(types.ErrNotFound,
			"no results for session", sessionID, nil))
		return
	}
	translations, err := s.sessions.GetTranslations(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results.BuildSessionResults(sessionID, slides, translations))
}

// exportRequest carries caller-provided translations to merge into the
// overlay before re-composition.
type exportRequest struct {
	Translations map[string]string `json:"translations"`
}

// handleExport saves the provided translations and starts an export job.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	var req exportRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, types.NewAppError(types.ErrInvalidInput, "invalid export request body", err))
			return
		}
	}
	for shapeID, text := range req.Translations {
		if err := s.sessions.SaveTranslation(r.Context(), sessionID, shapeID, text); err != nil {
			writeError(w, err)
			return
		}
	}

	inputPath := filepath.Join(s.cfg.WorkDirectory, "uploads", sessionID+".pptx")
	if _, err := os.Stat(inputPath); err != nil {
		writeError(w, types.NewAppErrorWithDetails(types.ErrNotFound,
			"original package not found for session", sessionID, err))
		return
	}

	job, err := s.orchestrator.Submit(r.Context(), &types.Job{
		SessionID: sessionID,
		Kind:      types.JobKindExport,
		InputPath: inputPath,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Status:    job.Status,
	})
}

// handleDownload streams a completed export.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	job, err := s.sessions.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Kind != types.JobKindExport {
		writeError(w, types.NewAppError(types.ErrInvalidInput, "job is not an export", nil))
		return
	}
	if job.Status != types.JobStatusCompleted {
		writeError(w, types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"export not completed", string(job.Status), nil))
		return
	}

	data, err := s.exports.FetchExport(r.Context(), job.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation")
	w.Header().Set("Content-Disposition", `attachment; filename="translated.pptx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// autoTranslateRequest selects the target language for suggestions.
type autoTranslateRequest struct {
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language"`
}

// autoTranslateResponse reports the stored suggestions.
type autoTranslateResponse struct {
	SessionID    string            `json:"session_id"`
	Translations map[string]string `json:"translations"`
}

// handleAutoTranslate generates suggestions for every text shape in the
// session and stores them in the overlay.
func (s *Server) handleAutoTranslate(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		writeError(w, types.NewAppError(types.ErrConfig, "translation is not configured", nil))
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	var req autoTranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewAppError(types.ErrInvalidInput, "invalid request body", err))
		return
	}
	if req.TargetLanguage == "" {
		writeError(w, types.NewAppError(types.ErrInvalidInput, "target_language is required", nil))
		return
	}

	slides, err := s.sessions.GetSlides(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(slides) == 0 {
		writeError(w, types.NewAppErrorWithDetails(types.ErrNotFound,
			"no results for session", sessionID, nil))
		return
	}

	var shapes []translator.ShapeText
	for _, slide := range slides {
		for _, shape := range slide.Shapes {
			if (shape.Type == types.ShapeTypeText || shape.Type == types.ShapeTypePlaceholder) && shape.Text != "" {
				shapes = append(shapes, translator.ShapeText{ShapeID: shape.ShapeID, Text: shape.Text})
			}
		}
	}

	translations, err := s.suggester.Suggest(r.Context(), shapes, req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}
	for shapeID, text := range translations {
		if err := s.sessions.SaveTranslation(r.Context(), sessionID, shapeID, text); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, autoTranslateResponse{
		SessionID:    sessionID,
		Translations: translations,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pptx-processor",
	})
}
