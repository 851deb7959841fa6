package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resumeapi/suiterun/metrics"
	"github.com/resumeapi/suiterun/types"
	"github.com/rs/cors"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 7310
)

// StatusProvider exposes the live state of a run. Snapshot returns nil until
// the run plan has been resolved.
type StatusProvider interface {
	State() string
	Snapshot() *types.RunReport
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	State           string                                `json:"state"`
	RunID           string                                `json:"run_id,omitempty"`
	RunType         string                                `json:"run_type,omitempty"`
	RegistryVersion string                                `json:"registry_version,omitempty"`
	StartedAt       *time.Time                            `json:"started_at,omitempty"`
	ElapsedMs       int64                                 `json:"elapsed_ms"`
	Expected        int                                   `json:"expected"`
	Totals          types.BucketCounts                    `json:"totals"`
	ByCategory      map[types.Category]types.BucketCounts `json:"by_category,omitempty"`
	ByPriority      map[types.Priority]types.BucketCounts `json:"by_priority,omitempty"`
	FailedIDs       []string                              `json:"failed_ids"`
	LogFile         string                                `json:"log_file,omitempty"`
}

// OutcomeResponse is the body of GET /status/tests/{id}
type OutcomeResponse struct {
	ID                string           `json:"id"`
	Status            types.TestStatus `json:"status"`
	DurationMs        int64            `json:"duration_ms"`
	Category          types.Category   `json:"category"`
	Priority          types.Priority   `json:"priority"`
	Module            string           `json:"module"`
	Attempts          int              `json:"attempts"`
	LogPath           string           `json:"log_path,omitempty"`
	Reason            string           `json:"reason,omitempty"`
	Batch             string           `json:"batch,omitempty"`
	CollectionFailure bool             `json:"collection_failure,omitempty"`
}

type errorResponse struct {
	StatusCode int    `json:"status_code"`
	Details    string `json:"details"`
}

// Service serves /healthz, /status and /metrics while a run is in progress.
type Service struct {
	provider StatusProvider
	log      log.Logger
	server   *http.Server
	listener net.Listener
	now      func() time.Time
}

func New(provider StatusProvider, logger log.Logger) *Service {
	return &Service{
		provider: provider,
		log:      logger.New("component", "status-server"),
		now:      time.Now,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/tests/{id}", s.handleOutcome).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Service) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.RecordErrorDetails("status_server_listen", err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.log.Info("starting status server", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error serving status server", "err", err)
			metrics.RecordErrorDetails("status_server_serve", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("status server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{State: s.provider.State(), FailedIDs: []string{}}
	if report := s.provider.Snapshot(); report != nil {
		started := report.StartedAt
		resp.RunID = report.RunID
		resp.RunType = report.RunType
		resp.RegistryVersion = report.RegistryVersion
		resp.StartedAt = &started
		resp.ElapsedMs = s.now().Sub(started).Milliseconds()
		resp.Expected = report.Expected
		resp.Totals = report.Totals
		resp.ByCategory = report.ByCategory
		resp.ByPriority = report.ByPriority
		resp.FailedIDs = append(resp.FailedIDs, report.FailedIDs...)
		resp.LogFile = report.LogFile
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report := s.provider.Snapshot()
	if report == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{StatusCode: http.StatusServiceUnavailable, Details: "run has not started"})
		return
	}
	o, ok := report.Outcome(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{StatusCode: http.StatusNotFound, Details: fmt.Sprintf("no outcome recorded for %s", id)})
		return
	}
	writeJSON(w, http.StatusOK, OutcomeResponse{
		ID:                o.ID,
		Status:            o.Status,
		DurationMs:        o.DurationMs(),
		Category:          o.Category,
		Priority:          o.Priority,
		Module:            o.Module,
		Attempts:          o.Attempts,
		LogPath:           o.LogPath,
		Reason:            o.Reason,
		Batch:             o.Batch,
		CollectionFailure: o.CollectionFailure,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		log.Error("failed to marshal response", "error", err)
		code = http.StatusInternalServerError
		data = []byte(`{"status_code":500,"details":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		log.Error("failed to send response", "error", err)
	}
}
