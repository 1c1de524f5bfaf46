// Package registry holds the single active process session. Its one-slot
// invariant is the only mutual exclusion keeping two children from running
// at once.
package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/peterje/obsidianki-mcp/internal/proc"
)

// ErrAlreadyRunning is returned when a start request arrives while the slot
// holds a running session.
var ErrAlreadyRunning = errors.New("a process is already running")

// Registry is a process-wide slot holding at most one session.
type Registry struct {
	mu      sync.Mutex
	current *proc.Session
}

func New() *Registry {
	return &Registry{}
}

// Acquire creates and stores a new session via start, failing with
// ErrAlreadyRunning if the slot holds a running one. A terminal leftover
// session is discarded. On spawn failure the slot is left untouched.
func (r *Registry) Acquire(start func() (*proc.Session, error)) (*proc.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if st, _ := r.current.State(); st == proc.StatusRunning {
			return nil, ErrAlreadyRunning
		}
	}

	sess, err := start()
	if err != nil {
		return nil, err
	}
	r.current = sess
	return sess, nil
}

// Current returns the slot's contents without mutation; nil when empty.
func (r *Registry) Current() *proc.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Release clears the slot if it still holds sess. Safe to call when the
// slot is already empty or has been re-acquired by a newer session.
func (r *Registry) Release(sess *proc.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == sess {
		r.current = nil
	}
}

// StartReaper launches the idle watchdog: sessions untouched for longer
// than idle are stopped. Interactive sessions otherwise persist until an
// explicit stop, matching the wrapped tool's attended use. The returned
// func stops the watchdog.
func (r *Registry) StartReaper(idle, stopGrace time.Duration) func() {
	ticker := time.NewTicker(idle / 2)
	quit := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.reapIdle(idle, stopGrace)
			case <-quit:
				return
			}
		}
	}()
	return func() { close(quit) }
}

func (r *Registry) reapIdle(idle, stopGrace time.Duration) {
	sess := r.Current()
	if sess == nil {
		return
	}
	// One-shot runs answer to their own deadline, not the idle clock.
	if sess.OneShot() {
		return
	}
	if st, _ := sess.State(); st != proc.StatusRunning {
		return
	}
	if time.Since(sess.LastTouched()) < idle {
		return
	}
	log.Printf("reaping idle session %s (untouched for %s)", sess.ID, time.Since(sess.LastTouched()).Round(time.Second))
	sess.Stop(stopGrace)
}
