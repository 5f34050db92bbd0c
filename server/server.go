// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hra-insights/internal"
	"hra-insights/logger"
	"hra-insights/metrics"
	"hra-insights/parser"
	"hra-insights/pipeline"
	"hra-insights/store"
	"hra-insights/types"
)

// MaxBodyBytes caps the size of a submitted response
const MaxBodyBytes = 10 << 20

// Error kinds reported in failure bodies
const (
	KindRepairExhausted = "repair_exhausted"
	KindStructural      = "structural"
	KindBadRequest      = "bad_request"
	KindTooLarge        = "too_large"
	KindNotFound        = "not_found"
	KindInternal        = "internal"
)

// Archive is the subset of the store the server uses
type Archive interface {
	SaveRun(ctx context.Context, doc *types.InsightsDocument) error
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	GetDocument(ctx context.Context, runID string) (*types.InsightsDocument, error)
}

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Line    int      `json:"line,omitempty"`
	Column  int      `json:"column,omitempty"`
	Context []string `json:"context,omitempty"`
}

// Options configures a Handler
type Options struct {
	Pipeline *pipeline.Pipeline
	Archive  Archive
	Metrics  *metrics.Metrics
	Logger   *logger.ObservabilityLogger
	Version  string
}

// Handler serves the insights API
type Handler struct {
	pipeline *pipeline.Pipeline
	archive  Archive
	metrics  *metrics.Metrics
	log      *logger.ObservabilityLogger
	version  string
}

// NewHandler creates a Handler. Archive and Metrics are optional.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		pipeline: opts.Pipeline,
		archive:  opts.Archive,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		version:  opts.Version,
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	if h.pipeline == nil {
		h.pipeline = pipeline.New(pipeline.Options{Logger: h.log, Metrics: h.metrics})
	}
	return h
}

// Routes builds the router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HandleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/insights", h.HandleInsights)
		if h.archive != nil {
			r.Get("/runs", h.HandleListRuns)
			r.Get("/runs/{runID}", h.HandleGetRun)
		}
	})

	return r
}

// HandleHealth reports liveness and the running version
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleInsights runs the request body through the pipeline. The optional
// source query parameter is recorded on the document.
func (h *Handler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Kind: KindBadRequest})
		return
	}

	ctx, runID := internal.EnsureRunID(r.Context())
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error(), Kind: KindTooLarge})
			return
		}
		h.log.Warn(logger.ComponentServer, logger.CategoryError, runID, "Failed to read request body", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request", Kind: KindBadRequest})
		return
	}

	h.log.Info(logger.ComponentServer, logger.CategoryRequest, runID, "Received response text", map[string]interface{}{
		"bytes":  len(body),
		"remote": r.RemoteAddr,
	})

	doc, err := h.pipeline.Process(ctx, r.URL.Query().Get("source"), string(body))
	if err != nil {
		h.writeProcessError(w, runID, err)
		return
	}

	if h.archive != nil {
		if err := h.archive.SaveRun(ctx, doc); err != nil {
			h.log.Error(logger.ComponentStore, logger.CategoryError, runID, "Failed to archive run", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	h.log.Info(logger.ComponentServer, logger.CategorySuccess, runID, "Processed response text", map[string]interface{}{
		"insights":    doc.TotalInsights,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, doc)
}

// writeProcessError maps hard failures to 422 and everything else to 500
func (h *Handler) writeProcessError(w http.ResponseWriter, runID string, err error) {
	var se *parser.StructuralError
	switch {
	case errors.As(err, &se):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   err.Error(),
			Kind:    KindStructural,
			Line:    se.Line,
			Column:  se.Column,
			Context: se.Context,
		})
	case errors.Is(err, parser.ErrRepairExhausted):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: KindRepairExhausted})
	default:
		h.log.Error(logger.ComponentServer, logger.CategoryError, runID, "Processing failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "processing failed", Kind: KindInternal})
	}
}

// HandleListRuns lists archived runs, newest first. ?limit= caps the count.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Kind: KindBadRequest})
			return
		}
		limit = n
	}

	runs, err := h.archive.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error(logger.ComponentStore, logger.CategoryError, "", "Failed to list runs", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs", Kind: KindInternal})
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun returns one archived document
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	doc, err := h.archive.GetDocument(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: KindNotFound})
		return
	}
	if err != nil {
		h.log.Error(logger.ComponentStore, logger.CategoryError, runID, "Failed to load run", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load run", Kind: KindInternal})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler, log *logger.ObservabilityLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(logger.ComponentServer, logger.CategoryRequest, "", "Server listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	writeJSON(w, status, body)
}
