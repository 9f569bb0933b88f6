// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sheetsink/internal/metrics"
	"sheetsink/internal/parser"
	"sheetsink/internal/progress"
	"sheetsink/internal/service"
)

// maxUploadBytes caps the multipart form held in memory before spilling to
// disk.
const maxUploadBytes = 32 << 20

// Server wraps the HTTP server with dependencies and lifecycle management.
type Server struct {
	http      *http.Server
	orch      *service.Orchestrator
	progress  *progress.Store
	collector *metrics.Collector
	logger    *slog.Logger
}

// New wires the handlers and returns a server listening on addr once Run is
// called.
func New(addr string, orch *service.Orchestrator, store *progress.Store, collector *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		orch:      orch,
		progress:  store,
		collector: collector,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /inspect", s.handleInspect)
	mux.HandleFunc("GET /progress/{jobId}", s.handleProgress)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           LoggingMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. Background persistence is owned by the
// worker pool, not the HTTP server, and keeps running.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type processResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RecordsCount   int    `json:"recordsCount,omitempty"`
	JobID          int64  `json:"jobId,omitempty"`
	TotalColumns   int    `json:"totalColumns,omitempty"`
	ProcessingTime string `json:"processingTime,omitempty"`
	Status         string `json:"status,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: "missing file field"})
		return
	}
	defer file.Close()

	ownerID, err := strconv.ParseInt(r.FormValue("ownerId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: "ownerId must be an integer"})
		return
	}

	receipt, err := s.orch.Start(r.Context(), service.Upload{
		Reader:     file,
		Filename:   header.Filename,
		OwnerID:    ownerID,
		UploadedBy: r.FormValue("uploadedBy"),
		AuthToken:  r.FormValue("authToken"),
	})
	if err != nil {
		if service.IsRejection(err) {
			writeJSON(w, http.StatusBadRequest, processResponse{Message: err.Error()})
			return
		}
		s.logger.Error("ingestion start failed", "source", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, processResponse{Message: "failed to create ingestion job"})
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Success:        true,
		Message:        fmt.Sprintf("accepted %d records for processing", receipt.RecordCount),
		RecordsCount:   receipt.RecordCount,
		JobID:          receipt.JobID,
		TotalColumns:   receipt.ColumnCount,
		ProcessingTime: time.Since(start).Round(time.Millisecond).String(),
		Status:         string(progress.StatusProcessing),
	})
}

type inspectResponse struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message,omitempty"`
	SourceName   string   `json:"sourceName,omitempty"`
	ColumnLabels []string `json:"columnLabels,omitempty"`
	DeclaredRows int      `json:"declaredRows,omitempty"`
}

// handleInspect decodes an upload and reports its shape without creating a
// job or persisting anything.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, inspectResponse{Message: "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, inspectResponse{Message: "missing file field"})
		return
	}
	defer file.Close()

	labels, declared, err := s.orch.Inspect(service.Upload{Reader: file, Filename: header.Filename})
	if err != nil {
		status := http.StatusInternalServerError
		if service.IsRejection(err) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, inspectResponse{Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, inspectResponse{
		Success:      true,
		SourceName:   header.Filename,
		ColumnLabels: labels,
		DeclaredRows: declared,
	})
}

// handleProgress never fails: unknown, expired and never-assigned ids all
// come back as the not_found snapshot.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(r.PathValue("jobId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusOK, progress.Snapshot{Status: progress.StatusNotFound})
		return
	}
	writeJSON(w, http.StatusOK, s.progress.Get(jobID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"activeJobs":  s.progress.Len(),
		"checkedAt":   time.Now().UTC().Format(time.RFC3339),
		"parserTypes": parser.RecognizedExtensions(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
