package models

import "time"

// Run is one recorded child process run. Only metadata is persisted;
// output never is.
type Run struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	Command   string     `json:"command"`
	Args      string     `json:"args"`
	Mode      string     `json:"mode"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

const (
	ModeInteractive = "interactive"
	ModePTY         = "pty"
	ModeOneShot     = "oneshot"
)

type CLIStatus struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Tool   CLIStatus `json:"tool"`
}
