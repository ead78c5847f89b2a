// Package api exposes the REST surface: device lifecycle routes backed by
// the connection manager and per-device-type reading routes backed by the
// store. Every response uses the uniform success/error envelope.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openvitals/vitalink/internal/conn"
	"github.com/openvitals/vitalink/internal/store"
)

// Server is the REST API server.
type Server struct {
	manager *conn.Manager
	store   *store.Store
	logger  *logrus.Logger

	server    *http.Server
	addr      string
	boundAddr string
}

// NewServer creates an API server over the given manager and store.
func NewServer(addr string, manager *conn.Manager, st *store.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		manager: manager,
		store:   st,
		logger:  logger,
		addr:    addr,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/v1/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("POST /api/v1/devices/{id}/connect", s.handleConnect)
	mux.HandleFunc("POST /api/v1/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/v1/scan/start", s.handleScanStart)
	mux.HandleFunc("POST /api/v1/scan/stop", s.handleScanStop)
	mux.HandleFunc("POST /api/v1/measure/{kind}/start", s.handleMeasureStart)
	mux.HandleFunc("POST /api/v1/measure/stop", s.handleMeasureStop)

	mux.HandleFunc("POST /api/v1/readings/{kind}", s.handleCreateReading)
	mux.HandleFunc("GET /api/v1/readings/{kind}", s.handleListReadings)
	mux.HandleFunc("GET /api/v1/readings/{kind}/{id}", s.handleGetReading)
	mux.HandleFunc("DELETE /api/v1/readings/{kind}/{id}", s.handleDeleteReading)

	mux.HandleFunc("POST /api/v1/patients", s.handleCreatePatient)
	mux.HandleFunc("GET /api/v1/patients", s.handleListPatients)
	mux.HandleFunc("GET /api/v1/patients/{id}", s.handleGetPatient)

	return s.logRequests(mux)
}

// Start begins serving. Non-blocking; the listener address is available via
// Addr afterwards.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		s.logger.WithField("addr", s.boundAddr).Info("API server started")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("API server error")
		}
	}()
	return nil
}

// Addr returns the bound listener address after Start.
func (s *Server) Addr() string { return s.boundAddr }

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

// ----------------------------
// Envelope helpers
// ----------------------------

func writeSuccess(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
