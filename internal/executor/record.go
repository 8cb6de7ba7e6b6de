// Package executor launches generated bot code as supervised OS processes.
// It owns every process handle it creates: a handle is released exactly
// once, either by Stop or by CleanupAll at shutdown.
package executor

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Status is the lifecycle state of one launched bot record.
// pending -> running -> stopped (stop or observed dead)
// pending -> error (spawn failure)
// stopped and error are terminal; a relaunch creates a new record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

var (
	// ErrCapacityExceeded rejects a launch once the running-count ceiling is reached.
	ErrCapacityExceeded = errors.New("maximum concurrent bots reached")
	// ErrCodeNotFound reports a launch whose code path does not exist.
	ErrCodeNotFound = errors.New("bot code file not found")
	// ErrNotFound reports an unknown bot id.
	ErrNotFound = errors.New("bot not found")
)

// SpawnError reports a process that failed to start or crashed inside the
// confirmation window. Output holds a bounded stderr excerpt.
type SpawnError struct {
	Output string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("bot crashed at startup: %s", e.Output)
	}
	return fmt.Sprintf("failed to spawn bot: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Snapshot is a read-only copy of one record's state, safe to hand to callers.
type Snapshot struct {
	BotID         string    `json:"bot_id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	PID           int       `json:"pid,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	StoppedAt     time.Time `json:"stopped_at,omitzero"`
	UptimeSeconds float64   `json:"uptime_seconds,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CodePath      string    `json:"code_path,omitempty"`
}

// botProc is the mutable record for one launched bot. All fields are
// guarded by mu; the executor never exposes it directly.
type botProc struct {
	mu sync.Mutex

	botID      string
	userID     string
	name       string
	token      string
	codePath   string
	scratchDir string

	cmd       *exec.Cmd
	status    Status
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time
	errMsg    string

	stopping  bool
	confirmed bool          // set once the confirmation window has elapsed
	waitDone  chan struct{} // closed by the waiter goroutine when cmd.Wait returns
	exitErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func (p *botProc) snapshot(now time.Time) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		BotID:        p.botID,
		UserID:       p.userID,
		Name:         p.name,
		Status:       p.status,
		CreatedAt:    p.createdAt,
		StartedAt:    p.startedAt,
		StoppedAt:    p.stoppedAt,
		ErrorMessage: p.errMsg,
		CodePath:     p.codePath,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		s.PID = p.cmd.Process.Pid
	}
	if p.status == StatusRunning && !p.startedAt.IsZero() {
		s.UptimeSeconds = now.Sub(p.startedAt).Seconds()
	}
	return s
}

func (p *botProc) setStarted(cmd *exec.Cmd, now time.Time) {
	p.mu.Lock()
	p.cmd = cmd
	p.status = StatusRunning
	p.startedAt = now
	p.stopping = false
	p.waitDone = make(chan struct{})
	p.mu.Unlock()
}

// markExited records the observed exit. Idempotent: a record already
// terminal keeps its first transition and exit error.
func (p *botProc) markExited(err error, now time.Time) {
	p.mu.Lock()
	if p.status == StatusRunning {
		p.status = StatusStopped
		p.stoppedAt = now
		p.exitErr = err
	}
	p.mu.Unlock()
}

func (p *botProc) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *botProc) markError(msg string, now time.Time) {
	p.mu.Lock()
	p.status = StatusError
	p.errMsg = msg
	p.stoppedAt = now
	p.mu.Unlock()
}

func (p *botProc) currentStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *botProc) waitChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

func (p *botProc) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *botProc) setStopRequested(v bool) {
	p.mu.Lock()
	p.stopping = v
	p.mu.Unlock()
}

func (p *botProc) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}
