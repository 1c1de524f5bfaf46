// Package proc owns the lifecycle and I/O of one wrapped child process:
// spawning, pumping its output streams, forwarding stdin, and teardown.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

var (
	// ErrNotRunning is returned by operations that need a live child.
	ErrNotRunning = errors.New("process is not running")
	// ErrInputClosed is returned when writing to a stdin that was already
	// closed (one-shot sessions, or a session being stopped).
	ErrInputClosed = errors.New("process input is closed")
)

// Status is the session state. Transitions are monotonic:
// Running -> Exited (natural completion) or Running -> Killed (stop or
// deadline); terminal states never change.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusKilled  Status = "killed"
)

// Options controls how a session is spawned.
type Options struct {
	ID string
	// PTY runs the child under a pseudo-terminal for tools that only
	// prompt when stdin is a TTY. The terminal merges stdout and stderr,
	// so all lines are tagged as stdout.
	PTY bool
	// OneShot closes stdin immediately after spawn to signal that no
	// interactive input will ever arrive.
	OneShot bool
}

// Session is one live or terminated child process. It exclusively owns the
// process handle, the stdin writer, and the output buffer.
type Session struct {
	ID string

	cmd   *exec.Cmd
	buf   *LineBuffer
	done  chan struct{}
	pumps sync.WaitGroup

	oneShot   bool
	startedAt time.Time

	mu          sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool
	status      Status
	exitCode    int
	lastTouched time.Time
}

// Start spawns the child and launches its output pumps.
func Start(command string, argv []string, opts Options) (*Session, error) {
	cmd := exec.Command(command, argv...)
	env := append(os.Environ(), "NO_COLOR=1")

	s := &Session{
		ID:          opts.ID,
		cmd:         cmd,
		buf:         &LineBuffer{},
		done:        make(chan struct{}),
		oneShot:     opts.OneShot,
		startedAt:   time.Now(),
		status:      StatusRunning,
		lastTouched: time.Now(),
	}

	if opts.PTY {
		cmd.Env = env
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
		if err != nil {
			return nil, fmt.Errorf("start %s under pty: %w", command, err)
		}
		s.stdin = ptmx
		s.pumps.Add(1)
		go func() {
			defer s.pumps.Done()
			pump(ptmx, SourceStdout, s.buf)
		}()
	} else {
		cmd.Env = append(env, "TERM=dumb")
		// Own process group, so stop/kill reaches grandchildren that
		// inherited the output pipes; a surviving grandchild would keep
		// a pump blocked past the child's death.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			stdin.Close()
			stdout.Close()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", command, err)
		}
		s.stdin = stdin
		s.pumps.Add(2)
		go func() {
			defer s.pumps.Done()
			pump(stdout, SourceStdout, s.buf)
		}()
		go func() {
			defer s.pumps.Done()
			pump(stderr, SourceStderr, s.buf)
		}()
	}

	if opts.OneShot {
		s.mu.Lock()
		s.closeStdinLocked()
		s.mu.Unlock()
	}

	go s.reap()
	return s, nil
}

// reap joins both pumps, then waits on the child. done is closed only after
// the pumps have finished, so no pump outlives the session record.
func (s *Session) reap() {
	s.pumps.Wait()
	err := s.cmd.Wait()

	s.mu.Lock()
	s.exitCode = exitCodeOf(err)
	if s.status == StatusRunning {
		s.status = StatusExited
	}
	s.mu.Unlock()
	close(s.done)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// SendInput writes text plus a line terminator to the child's stdin.
func (s *Session) SendInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	if s.stdinClosed {
		return ErrInputClosed
	}
	if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	s.lastTouched = time.Now()
	return nil
}

// Drain atomically removes and returns all buffered output. It is a
// snapshot read and never waits for new output.
func (s *Session) Drain() []Line {
	s.mu.Lock()
	s.lastTouched = time.Now()
	s.mu.Unlock()
	return s.buf.Drain()
}

// WaitOrTimeout blocks until the child exits, the timeout elapses, or ctx
// is canceled. It reports whether the child exited.
func (s *Session) WaitOrTimeout(ctx context.Context, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stop asks the child to terminate, escalating to SIGKILL after grace, and
// waits until the process has actually exited and both pumps have been
// joined. Calling Stop on a session already in a terminal state is a no-op
// that returns the recorded outcome.
func (s *Session) Stop(grace time.Duration) (Status, int) {
	s.mu.Lock()
	if s.status != StatusRunning {
		st := s.status
		s.mu.Unlock()
		// A concurrent stop may have marked the session terminal before
		// the reap recorded the exit code; wait for it.
		<-s.done
		s.mu.Lock()
		code := s.exitCode
		s.mu.Unlock()
		return st, code
	}
	s.status = StatusKilled
	s.closeStdinLocked()
	s.mu.Unlock()

	s.signal(syscall.SIGTERM)
	select {
	case <-s.done:
	case <-time.After(grace):
		s.signal(syscall.SIGKILL)
		<-s.done
	}

	s.mu.Lock()
	code := s.exitCode
	s.mu.Unlock()
	return StatusKilled, code
}

// Kill forcibly terminates the child and waits for teardown. Used by the
// one-shot deadline enforcer.
func (s *Session) Kill() (Status, int) {
	s.mu.Lock()
	if s.status != StatusRunning {
		st := s.status
		s.mu.Unlock()
		<-s.done
		s.mu.Lock()
		code := s.exitCode
		s.mu.Unlock()
		return st, code
	}
	s.status = StatusKilled
	s.closeStdinLocked()
	s.mu.Unlock()

	s.signal(syscall.SIGKILL)
	<-s.done

	s.mu.Lock()
	code := s.exitCode
	s.mu.Unlock()
	return StatusKilled, code
}

// signal delivers sig to the child's process group, falling back to the
// child alone. Under a pty the child is its own session leader, so the
// group id matches the pid there too.
func (s *Session) signal(sig syscall.Signal) {
	p := s.cmd.Process
	if p == nil {
		return
	}
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		p.Signal(sig)
	}
}

// closeStdinLocked closes the input sink exactly once. In pty mode this
// also closes the pty master, which unblocks the pump.
func (s *Session) closeStdinLocked() {
	if s.stdinClosed || s.stdin == nil {
		return
	}
	s.stdin.Close()
	s.stdinClosed = true
}

// State returns the current status and, for terminal states, the exit code.
func (s *Session) State() (Status, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.exitCode
}

// Done is closed once the child has exited and both pumps have finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) PID() int {
	if s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// OneShot reports whether this session was spawned by a run-to-completion
// request; such sessions are never exposed to interactive calls.
func (s *Session) OneShot() bool {
	return s.oneShot
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// LastTouched is the time of the last caller interaction (spawn, input, or
// drain). The idle watchdog uses it to reclaim abandoned sessions.
func (s *Session) LastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTouched
}
