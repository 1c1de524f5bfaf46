// Package ws carries the control-plane operations over a websocket: one
// JSON request per message, one JSON response per request. Output is never
// pushed; clients poll with the output op like any other caller.
package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peterje/obsidianki-mcp/internal/args"
	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/proc"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Request is one control operation. Op selects which of the remaining
// fields matter.
type Request struct {
	Op string `json:"op"` // start | input | output | stop | run
	args.SpawnSpec
	PTY            bool   `json:"pty"`
	Response       string `json:"response"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type Response struct {
	Op     string `json:"op"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

type Handler struct {
	ctrl *control.Controller
}

func NewHandler(ctrl *control.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("ws: control client connected")

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			// Disconnects do not stop a running session; it stays
			// reachable for the next client (or the idle watchdog).
			return
		}
		if err := conn.WriteJSON(h.dispatch(r, req)); err != nil {
			return
		}
	}
}

func (h *Handler) dispatch(r *http.Request, req Request) Response {
	resp := Response{Op: req.Op}
	switch req.Op {
	case "start":
		res, err := h.ctrl.Start(r.Context(), req.SpawnSpec, req.PTY)
		if err != nil {
			resp.Error = opError(err)
			return resp
		}
		resp.Result = res

	case "input":
		res, err := h.ctrl.SendInput(r.Context(), req.Response)
		if err != nil {
			resp.Error = opError(err)
			return resp
		}
		resp.Result = res

	case "output":
		resp.Result = h.ctrl.GetOutput(r.Context())

	case "stop":
		res, err := h.ctrl.Stop()
		if err != nil {
			resp.Error = opError(err)
			return resp
		}
		resp.Result = res

	case "run":
		res, err := h.ctrl.RunToCompletion(r.Context(), req.SpawnSpec,
			time.Duration(req.TimeoutSeconds)*time.Second)
		if err != nil {
			resp.Error = opError(err)
			return resp
		}
		resp.Result = res

	default:
		resp.Error = "unknown op: " + req.Op
	}
	return resp
}

func opError(err error) string {
	switch {
	case errors.Is(err, registry.ErrAlreadyRunning):
		return "a process is already running; stop it first"
	case errors.Is(err, proc.ErrNotRunning):
		return "no active process"
	case errors.Is(err, proc.ErrInputClosed):
		return "process input is closed"
	default:
		return err.Error()
	}
}
