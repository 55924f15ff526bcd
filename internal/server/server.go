// Package server exposes the agent's localhost HTTP surface: event ingest
// from the extension and readback of stored transitions.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tracekit/pagetransit/internal/correlator"
	"github.com/tracekit/pagetransit/internal/database"
	"github.com/tracekit/pagetransit/internal/models"
)

type Server struct {
	log     *zap.Logger
	db      *database.Database
	loop    *correlator.Loop
	address string
	server  *http.Server
}

func NewServer(log *zap.Logger, db *database.Database, loop *correlator.Loop, address string) *Server {
	return &Server{
		log:     log,
		db:      db,
		loop:    loop,
		address: address,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	for _, ev := range batch.Events {
		if err := s.loop.Post(request.Context(), ev); err != nil {
			s.log.Warn("failed to queue event", zap.String("type", ev.Type), zap.Error(err))
			http.Error(w, "Agent is shutting down", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleTransitions(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if raw := request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	records, err := s.db.RecentTransitions(limit)
	if err != nil {
		s.log.Error("failed to read transitions", zap.Error(err))
		http.Error(w, "Failed to read transitions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.TransitionRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.log.Warn("failed to encode transitions", zap.Error(err))
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/transitions", s.handleTransitions)
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info("pagetransit agent listening", zap.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}
	s.log.Info("server exited")
	return nil
}
