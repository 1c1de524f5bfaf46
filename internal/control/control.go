// Package control exposes the five control-plane operations over the
// session registry: start, send-input, get-output, stop, and the
// deadline-bounded run-to-completion.
package control

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peterje/obsidianki-mcp/internal/args"
	"github.com/peterje/obsidianki-mcp/internal/models"
	"github.com/peterje/obsidianki-mcp/internal/proc"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

// Recorder persists run metadata. Satisfied by db.History.
type Recorder interface {
	RecordStart(run models.Run) error
	RecordExit(id, status string, exitCode int) error
}

// Config carries the tunables for the control plane.
type Config struct {
	// Command is the wrapped executable's installed name.
	Command string
	// Grace is the best-effort wait for output after start and send-input.
	Grace time.Duration
	// PollGrace is the best-effort wait before a get-output snapshot.
	PollGrace time.Duration
	// StopGrace is how long a graceful stop waits before SIGKILL.
	StopGrace time.Duration
	// RunTimeout is the default one-shot deadline.
	RunTimeout time.Duration
}

const (
	DefaultGrace      = 500 * time.Millisecond
	DefaultPollGrace  = 300 * time.Millisecond
	DefaultStopGrace  = 5 * time.Second
	DefaultRunTimeout = 60 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "obsidianki"
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}
	if c.PollGrace == 0 {
		c.PollGrace = DefaultPollGrace
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = DefaultRunTimeout
	}
}

// Status values reported by GetOutput.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusNone      = "none"
)

type StartResult struct {
	SessionID string      `json:"session_id"`
	PID       int         `json:"pid"`
	Output    []proc.Line `json:"output"`
}

type InputResult struct {
	Output   []proc.Line `json:"output"`
	Exited   bool        `json:"exited"`
	ExitCode int         `json:"exit_code"`
}

type OutputResult struct {
	Status   string      `json:"status"`
	ExitCode int         `json:"exit_code"`
	Output   []proc.Line `json:"output"`
}

type StopResult struct {
	Status   proc.Status `json:"status"`
	ExitCode int         `json:"exit_code"`
}

type RunResult struct {
	PID      int         `json:"pid"`
	Output   []proc.Line `json:"output"`
	ExitCode int         `json:"exit_code"`
	TimedOut bool        `json:"timed_out"`
}

// Controller serializes control-plane requests over the registry. Requests
// are handled one at a time; only the output pumps run concurrently with
// them.
type Controller struct {
	cfg     Config
	reg     *registry.Registry
	history Recorder

	mu sync.Mutex
}

func New(cfg Config, reg *registry.Registry, history Recorder) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg, reg: reg, history: history}
}

// Registry exposes the underlying registry (for the idle watchdog and
// shutdown cleanup).
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// Start spawns an interactive session and returns an initial output
// snapshot after a short grace interval.
func (c *Controller) Start(ctx context.Context, spec args.SpawnSpec, usePTY bool) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	argv := args.Build(spec)
	id := uuid.New().String()[:8]
	sess, err := c.reg.Acquire(func() (*proc.Session, error) {
		return proc.Start(c.cfg.Command, argv, proc.Options{ID: id, PTY: usePTY})
	})
	if err != nil {
		return StartResult{}, err
	}

	mode := models.ModeInteractive
	if usePTY {
		mode = models.ModePTY
	}
	c.record(sess, mode, argv)

	log.Printf("started session %s (pid %d): %s %s", id, sess.PID(), c.cfg.Command, strings.Join(argv, " "))

	c.pause(ctx, c.cfg.Grace)
	return StartResult{SessionID: id, PID: sess.PID(), Output: sess.Drain()}, nil
}

// SendInput forwards one line of text to the running session's stdin and
// returns the output that arrived within the grace interval.
func (c *Controller) SendInput(ctx context.Context, text string) (InputResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.interactive()
	if sess == nil {
		return InputResult{}, proc.ErrNotRunning
	}
	if err := sess.SendInput(text); err != nil {
		return InputResult{}, err
	}

	c.pause(ctx, c.cfg.Grace)
	st, code := sess.State()
	return InputResult{
		Output:   sess.Drain(),
		Exited:   st != proc.StatusRunning,
		ExitCode: code,
	}, nil
}

// GetOutput drains whatever has accumulated. The snapshot is best effort:
// output that arrives later is picked up by the next poll.
func (c *Controller) GetOutput(ctx context.Context) OutputResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.interactive()
	if sess == nil {
		return OutputResult{Status: StatusNone}
	}

	c.pause(ctx, c.cfg.PollGrace)
	st, code := sess.State()
	res := OutputResult{Output: sess.Drain()}
	if st == proc.StatusRunning {
		res.Status = StatusRunning
	} else {
		res.Status = StatusCompleted
		res.ExitCode = code
	}
	return res
}

// Stop terminates the active session and reports its final status. The
// session stays registered so a final GetOutput can drain what remains.
func (c *Controller) Stop() (StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.interactive()
	if sess == nil {
		return StopResult{}, proc.ErrNotRunning
	}
	st, code := sess.Stop(c.cfg.StopGrace)
	log.Printf("stopped session %s (%s, exit code %d)", sess.ID, st, code)
	return StopResult{Status: st, ExitCode: code}, nil
}

// RunToCompletion spawns a child with stdin closed, races it against the
// deadline, and kills it on expiry. The session never becomes visible to
// interactive calls, and everything captured before a timeout is still
// returned: a timeout is a normal outcome, not an error.
func (c *Controller) RunToCompletion(ctx context.Context, spec args.SpawnSpec, timeout time.Duration) (RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.cfg.RunTimeout
	}
	argv := args.Build(spec)
	id := uuid.New().String()[:8]
	sess, err := c.reg.Acquire(func() (*proc.Session, error) {
		return proc.Start(c.cfg.Command, argv, proc.Options{ID: id, OneShot: true})
	})
	if err != nil {
		return RunResult{}, err
	}
	defer c.reg.Release(sess)

	c.record(sess, models.ModeOneShot, argv)
	log.Printf("one-shot run %s (pid %d, deadline %s)", id, sess.PID(), timeout)

	exited, err := sess.WaitOrTimeout(ctx, timeout)
	if err != nil {
		// Caller went away; don't leave the child behind.
		sess.Kill()
		return RunResult{}, err
	}
	if !exited {
		log.Printf("one-shot run %s exceeded %s, killing pid %d", id, timeout, sess.PID())
		sess.Kill()
		return RunResult{PID: sess.PID(), Output: sess.Drain(), TimedOut: true}, nil
	}

	_, code := sess.State()
	return RunResult{PID: sess.PID(), Output: sess.Drain(), ExitCode: code}, nil
}

// interactive returns the current session unless the slot is empty or held
// by a one-shot run, which is never exposed to interactive calls.
func (c *Controller) interactive() *proc.Session {
	sess := c.reg.Current()
	if sess == nil || sess.OneShot() {
		return nil
	}
	return sess
}

func (c *Controller) record(sess *proc.Session, mode string, argv []string) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordStart(models.Run{
		ID:        sess.ID,
		PID:       sess.PID(),
		Command:   c.cfg.Command,
		Args:      strings.Join(argv, " "),
		Mode:      mode,
		StartedAt: sess.StartedAt(),
	}); err != nil {
		log.Printf("record run start: %v", err)
	}
	go func() {
		<-sess.Done()
		st, code := sess.State()
		if err := c.history.RecordExit(sess.ID, string(st), code); err != nil {
			log.Printf("record run exit: %v", err)
		}
	}()
}

// pause is a bounded best-effort wait for asynchronous output, not a
// completeness guarantee.
func (c *Controller) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
