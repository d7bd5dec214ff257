// Package types defines core data types and enums for the PPTX processor service.
package types

import "time"

// Config holds service configuration, loaded from file and environment.
type Config struct {
	ListenAddr       string `json:"listen_addr"`
	WorkDirectory    string `json:"work_directory"`
	DatabasePath     string `json:"database_path"`
	WorkerCount      int    `json:"worker_count"`      // jobs processed simultaneously
	SlideConcurrency int    `json:"slide_concurrency"` // slides processed in parallel within one job
	JobTimeoutSec    int    `json:"job_timeout_sec"`   // wall-clock budget per job
	CallTimeoutSec   int    `json:"call_timeout_sec"`  // budget per external call (render engine, blob store)
	MaxRetries       int    `json:"max_retries"`       // retry budget per job
	MaxUploadBytes   int64  `json:"max_upload_bytes"`
	QueueBackend     string `json:"queue_backend"` // "memory" or "redis"
	RedisAddr        string `json:"redis_addr"`
	RedisPassword    string `json:"redis_password"`
	RedisDB          int    `json:"redis_db"`
	RedisQueueName   string `json:"redis_queue_name"`
	BlobBackend      string `json:"blob_backend"` // "local" or "s3"
	BlobDirectory    string `json:"blob_directory"`
	BlobBaseURL      string `json:"blob_base_url"`
	S3Bucket         string `json:"s3_bucket"`
	S3Region         string `json:"s3_region"`
	S3Endpoint       string `json:"s3_endpoint"`
	LibreOfficePath  string `json:"libreoffice_path"` // external render engine; empty uses the built-in renderer
	OpenAIAPIKey     string `json:"openai_api_key"`
	OpenAIBaseURL    string `json:"openai_base_url"`
	OpenAIModel      string `json:"openai_model"`
	ThumbnailWidth   int    `json:"thumbnail_width"`
	GenerateThumbs   bool   `json:"generate_thumbnails"`
}

// JobKind distinguishes what a job produces.
type JobKind string

const (
	// JobKindConvert parses and renders an uploaded presentation.
	JobKindConvert JobKind = "convert"
	// JobKindExport re-composes the original package with translated text.
	JobKindExport JobKind = "export"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ShapeType classifies a shape on a slide.
type ShapeType string

const (
	ShapeTypeText        ShapeType = "text"
	ShapeTypeImage       ShapeType = "image"
	ShapeTypePlaceholder ShapeType = "placeholder"
	ShapeTypeOther       ShapeType = "other"
)

// CoordinateUnit is the unit shape geometry is expressed in.
type CoordinateUnit string

const (
	// UnitPercentage means percent of slide width/height. This is the only
	// unit that crosses the parsing boundary.
	UnitPercentage CoordinateUnit = "percentage"
	// UnitAbsolute means native EMU values, used only inside the parser.
	UnitAbsolute CoordinateUnit = "absolute"
)

// Job is one conversion or export task. Mutated only by the orchestrator;
// immutable once terminal except for the explicit failed->queued retry edge.
type Job struct {
	ID             string     `json:"job_id"`
	SessionID      string     `json:"session_id"`
	Kind           JobKind    `json:"kind"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"` // 0-100, monotonically non-decreasing
	CurrentStage   string     `json:"current_stage"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	SlideCount     int        `json:"slide_count,omitempty"`
	DegradedSlides []int      `json:"degraded_slides,omitempty"`
	ErrorCode      ErrorCode  `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	InputPath      string     `json:"input_path,omitempty"`
	OutputPath     string     `json:"output_path,omitempty"`
	OutputURL      string     `json:"output_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ErrorCode classifies failures across the pipeline.
type ErrorCode string

const (
	// ErrCorruptDocument means the upload is not a well-formed container. Fatal to the job.
	ErrCorruptDocument ErrorCode = "CORRUPT_DOCUMENT"
	// ErrUnsupportedFeature degrades a single slide, never the job.
	ErrUnsupportedFeature ErrorCode = "UNSUPPORTED_FEATURE"
	// ErrPartialFailure marks a completed job with one or more degraded slides.
	ErrPartialFailure ErrorCode = "PARTIAL_FAILURE"
	// ErrTransientIO is retried with backoff before surfacing.
	ErrTransientIO ErrorCode = "TRANSIENT_IO"
	// ErrTimeout is a job exceeding its wall-clock budget.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrIdentifierDrift is an export-time shape that no longer exists in the package.
	ErrIdentifierDrift ErrorCode = "IDENTIFIER_DRIFT"
	// ErrRetryBudgetExhausted refuses further retries of a failed job.
	ErrRetryBudgetExhausted ErrorCode = "RETRY_BUDGET_EXHAUSTED"
	// ErrInvalidInput is a malformed client request.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrNotFound is an unknown job or session.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrConfig is a configuration problem.
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrInternal is an unclassified failure.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	// ErrTranslation is a machine-translation failure.
	ErrTranslation ErrorCode = "TRANSLATION_ERROR"
)

// AppError is the error type carried across package boundaries.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf extracts the ErrorCode from an error chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ErrInternal
		}
		err = u.Unwrap()
	}
	return ErrInternal
}
