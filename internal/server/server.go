// Package server exposes the stitcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"panostitch/internal/crop"
	"panostitch/internal/history"
	"panostitch/internal/stitch"

	"github.com/gorilla/mux"
)

// Runner stitches files on disk and saves the panorama.
type Runner interface {
	StitchAndSave(ctx context.Context, paths []string, dir stitch.Direction, out string) (*stitch.Result, error)
}

// Recorder persists and lists runs. A nil Recorder disables history.
type Recorder interface {
	Record(ctx context.Context, run history.Run) (int64, error)
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server wraps the HTTP API. Input images are read from paths on the server's
// filesystem, so the API is meant for trusted local clients; panoramas are
// only ever written inside outputDir.
type Server struct {
	addr      string
	outputDir string
	runner    Runner
	store     Recorder
	log       *slog.Logger
	server    *http.Server
	now       func() time.Time
}

// NewServer creates a server listening on addr that writes panoramas into
// outputDir.
func NewServer(addr, outputDir string, runner Runner, store Recorder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if outputDir == "" {
		outputDir = stitch.DefaultOutputDir
	}
	return &Server{
		addr:      addr,
		outputDir: outputDir,
		runner:    runner,
		store:     store,
		log:       log,
		now:       time.Now,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/stitch", s.handleStitch).Methods("POST")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StitchRequest is the body of POST /stitch.
type StitchRequest struct {
	Images    []string `json:"images"`
	Direction string   `json:"direction"` // horizontal (default) or vertical
	Output    string   `json:"output,omitempty"` // file name inside the output directory
}

// StitchResponse is returned by a successful POST /stitch.
type StitchResponse struct {
	RunID  int64          `json:"run_id,omitempty"`
	Result *stitch.Result `json:"result"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	RunID int64  `json:"run_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStitch(w http.ResponseWriter, r *http.Request) {
	var req StitchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	dir := stitch.Horizontal
	if strings.TrimSpace(req.Direction) != "" {
		d, err := crop.ParseDirection(req.Direction)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		dir = d
	}

	out, err := s.outputPath(req.Output)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	start := s.now()
	res, err := s.runner.StitchAndSave(r.Context(), req.Images, dir, out)
	runID := s.record(r.Context(), history.FromResult(req.Images, dir, res, err, start))

	if err != nil {
		kind := stitch.Classify(err)
		status := http.StatusInternalServerError
		if kind != "" {
			status = http.StatusUnprocessableEntity
		}
		s.log.Warn("stitch request failed", "images", len(req.Images), "kind", kind, "error", err)
		writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, RunID: runID})
		return
	}

	writeJSON(w, http.StatusOK, StitchResponse{RunID: runID, Result: res})
}

// outputPath resolves a requested output name inside outputDir. An empty name
// leaves the choice to the runner, which auto-names into the same directory.
func (s *Server) outputPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if filepath.IsAbs(name) || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("output must be a plain file name, got %q", name)
	}
	return filepath.Join(s.outputDir, name), nil
}

func (s *Server) record(ctx context.Context, run history.Run) int64 {
	if s.store == nil {
		return 0
	}
	id, err := s.store.Record(ctx, run)
	if err != nil {
		s.log.Error("failed to record run", "error", err)
		return 0
	}
	return id
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "history is disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
