// Package server exposes the engine's HTTP interface: job submission and
// observation plus host status. Handlers translate queue and resolution
// errors into status codes; all domain logic stays behind the queue.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"transcode-engine/internal/capability"
	"transcode-engine/internal/params"
	"transcode-engine/internal/queue"
	"transcode-engine/internal/telemetry"
	"transcode-engine/pkg/models"
)

// Server wires the queue and monitor behind a JSON API.
type Server struct {
	queue   *queue.Queue
	monitor *telemetry.Monitor
	log     zerolog.Logger
	httpSrv *http.Server
}

func New(addr string, q *queue.Queue, m *telemetry.Monitor, log zerolog.Logger) *Server {
	s := &Server{
		queue:   q,
		monitor: m,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", s.handleSubmit)
	mux.HandleFunc("GET /v1/jobs", s.handleList)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleQuery)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/capabilities/refresh", s.handleRefresh)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleSubmit accepts a transcode request and returns 202 with the job id.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.TranscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	id, err := s.queue.Submit(req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var paramErr *params.Error
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.As(err, &paramErr):
		writeError(w, http.StatusUnprocessableEntity, string(paramErr.Kind), paramErr.Message)
	default:
		s.log.Error().Err(err).Msg("job submission failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	summary, err := s.queue.Query(r.PathValue("id"))
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.queue.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
	case errors.Is(err, queue.ErrTerminal):
		writeError(w, http.StatusConflict, "ALREADY_FINISHED", "job already finished")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// statusResponse is the engine-level view: capabilities plus host load.
type statusResponse struct {
	FFmpegVersion string               `json:"ffmpeg_version"`
	Hardware      []string             `json:"hardware"`
	Host          models.HardwareStats `json:"host"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	caps := capability.Current()
	if caps == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_CAPABILITIES", "capability detection has not run")
		return
	}

	resp := statusResponse{FFmpegVersion: caps.Version}
	for _, a := range caps.Accels() {
		resp.Hardware = append(resp.Hardware, string(a))
	}

	stats, err := s.monitor.Stats(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("host stats unavailable")
	} else {
		resp.Host = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	caps, err := capability.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "REFRESH_FAILED", err.Error())
		return
	}
	s.log.Info().Str("version", caps.Version).Msg("capabilities refreshed")
	writeJSON(w, http.StatusOK, map[string]string{"ffmpeg_version": caps.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: message})
}
