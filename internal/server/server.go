// Package server exposes the processing pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pptx-processor/internal/logger"
	"pptx-processor/internal/store"
	"pptx-processor/internal/translator"
	"pptx-processor/internal/types"
)

// Orchestrator is the job control surface the handlers need.
type Orchestrator interface {
	Submit(ctx context.Context, job *types.Job) (*types.Job, error)
	Retry(ctx context.Context, jobID string) (*types.Job, error)
}

// SessionStore is the read/write surface over persisted session state.
type SessionStore interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	GetSlides(ctx context.Context, sessionID string) ([]*store.SlideRecord, error)
	GetTranslations(ctx context.Context, sessionID string) (map[string]string, error)
	SaveTranslation(ctx context.Context, sessionID, shapeID, text string) error
}

// ExportFetcher reads published exports back for download.
type ExportFetcher interface {
	FetchExport(ctx context.Context, sessionID string) ([]byte, error)
}

// Suggester produces machine-translation suggestions. Nil disables the
// auto-translate endpoint.
type Suggester interface {
	Suggest(ctx context.Context, shapes []translator.ShapeText, targetLang string) (map[string]string, error)
}

// Server wires the HTTP routes.
type Server struct {
	orchestrator Orchestrator
	sessions     SessionStore
	exports      ExportFetcher
	suggester    Suggester
	cfg          *types.Config
	router       *mux.Router
}

// New creates a Server and registers its routes.
func New(orchestrator Orchestrator, sessions SessionStore, exports ExportFetcher, suggester Suggester, cfg *types.Config) *Server {
	s := &Server{
		orchestrator: orchestrator,
		sessions:     sessions,
		exports:      exports,
		suggester:    suggester,
		cfg:          cfg,
		router:       mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/status", s.handleJobStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/retry", s.handleJobRetry).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionID}/results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionID}/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sessionID}/auto-translate", s.handleAutoTranslate).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.cfg.BlobBackend == "local" {
		s.router.PathPrefix("/blobs/").Handler(
			http.StripPrefix("/blobs/", http.FileServer(http.Dir(s.cfg.BlobDirectory))))
	}
	s.router.Use(requestLogging)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.String("addr", s.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogging logs method, path, and duration for every request.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Float64("ms", float64(time.Since(start).Microseconds())/1000))
	})
}

// errorEnvelope is the JSON error body.
type errorEnvelope struct {
	Error struct {
		Code    types.ErrorCode `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// statusForCode maps error codes onto HTTP statuses.
func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidInput:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRetryBudgetExhausted:
		return http.StatusConflict
	case types.ErrCorruptDocument:
		return http.StatusUnprocessableEntity
	case types.ErrConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	var envelope errorEnvelope
	envelope.Error.Code = code
	envelope.Error.Message = err.Error()
	writeJSON(w, statusForCode(code), envelope)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to encode response", logger.Err(err))
	}
}
