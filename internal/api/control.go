// Package api serves the control-plane operations as a JSON HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/peterje/obsidianki-mcp/internal/args"
	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/db"
	"github.com/peterje/obsidianki-mcp/internal/proc"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

// StartRequest is the body for POST /api/session/start.
type StartRequest struct {
	args.SpawnSpec
	PTY bool `json:"pty"`
}

// RunRequest is the body for POST /api/run.
type RunRequest struct {
	args.SpawnSpec
	TimeoutSeconds int `json:"timeout_seconds"`
}

type ControlHandler struct {
	ctrl    *control.Controller
	history *db.History
}

func NewControlHandler(ctrl *control.Controller, history *db.History) *ControlHandler {
	return &ControlHandler{ctrl: ctrl, history: history}
}

func (h *ControlHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.ctrl.Start(r.Context(), body.SpawnSpec, body.PTY)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, "a process is already running; stop it first")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

func (h *ControlHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.ctrl.SendInput(r.Context(), body.Response)
	if err != nil {
		switch {
		case errors.Is(err, proc.ErrNotRunning):
			WriteError(w, http.StatusNotFound, "no active process")
		case errors.Is(err, proc.ErrInputClosed):
			WriteError(w, http.StatusConflict, "process input is closed")
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *ControlHandler) HandleOutput(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctrl.GetOutput(r.Context()))
}

func (h *ControlHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Stop()
	if err != nil {
		if errors.Is(err, proc.ErrNotRunning) {
			WriteError(w, http.StatusNotFound, "no active process to stop")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *ControlHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.ctrl.RunToCompletion(r.Context(), body.SpawnSpec,
		time.Duration(body.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			WriteError(w, http.StatusConflict, "a process is already running; stop it first")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *ControlHandler) HandleRuns(w http.ResponseWriter, _ *http.Request) {
	if h.history == nil {
		WriteJSON(w, http.StatusOK, []struct{}{})
		return
	}
	runs, err := h.history.List(50)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}
