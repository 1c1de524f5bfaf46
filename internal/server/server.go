// Package server wires the HTTP control surface.
package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/peterje/obsidianki-mcp/internal/api"
	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/db"
	"github.com/peterje/obsidianki-mcp/internal/models"
	"github.com/peterje/obsidianki-mcp/internal/ws"
)

type Server struct {
	mux  *http.ServeMux
	tool models.CLIStatus
}

func New(ctrl *control.Controller, history *db.History, tool models.CLIStatus) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		tool: tool,
	}
	s.routes(ctrl, history)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes(ctrl *control.Controller, history *db.History) {
	controlAPI := api.NewControlHandler(ctrl, history)
	wsHandler := ws.NewHandler(ctrl)

	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Run history
	s.mux.HandleFunc("GET /api/runs", controlAPI.HandleRuns)

	// Session control
	s.mux.HandleFunc("POST /api/session/start", controlAPI.HandleStart)
	s.mux.HandleFunc("POST /api/session/input", controlAPI.HandleInput)
	s.mux.HandleFunc("GET /api/session/output", controlAPI.HandleOutput)
	s.mux.HandleFunc("POST /api/session/stop", controlAPI.HandleStop)

	// One-shot run
	s.mux.HandleFunc("POST /api/run", controlAPI.HandleRun)

	// WebSocket control channel
	s.mux.Handle("GET /ws/control", wsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status: "ok",
		Tool:   s.tool,
	})
}

// Middleware wraps the server with request logging and panic recovery.
func Middleware(next http.Handler) http.Handler {
	return loggingMiddleware(recoveryMiddleware(next))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r)

		if r.Header.Get("Upgrade") == "websocket" {
			return
		}
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start).Round(time.Millisecond))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC: %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Implement http.Hijacker so WebSocket upgrades work through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
