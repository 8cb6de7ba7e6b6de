package executor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loykin/botforge/internal/logger"
	"github.com/loykin/botforge/internal/metrics"
)

// stderr excerpt bound surfaced in spawn failures
const diagExcerptLen = 500

// Options configures an Executor.
type Options struct {
	// MaxBots is the admission ceiling on concurrently running bots.
	MaxBots int
	// StopGrace is how long Stop waits after SIGTERM before giving up
	// (or escalating, when force is set).
	StopGrace time.Duration
	// ConfirmWindow is how long a freshly spawned process must stay up
	// before the launch is considered successful.
	ConfirmWindow time.Duration
	// Interpreter runs the generated code file (e.g. "python3").
	Interpreter string
	// Log configures rotating capture of worker stdout/stderr.
	Log logger.Config
	// OnExit, when set, is called once for every confirmed bot that exits
	// without a Stop call (observed-dead path). Used for store mirroring.
	OnExit func(Snapshot)
}

// Executor supervises launched bot processes. It owns the record map;
// launch/stop on the same bot id are serialized per record, listing
// operations interleave safely with launches on other ids.
type Executor struct {
	mu   sync.Mutex
	bots map[string]*botProc
	opts Options
}

func New(opts Options) *Executor {
	if opts.MaxBots <= 0 {
		opts.MaxBots = 10
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.ConfirmWindow <= 0 {
		opts.ConfirmWindow = 2 * time.Second
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	return &Executor{bots: make(map[string]*botProc), opts: opts}
}

// Launch spawns the code at codePath as a new worker process. The token
// and display name travel through the child environment, never argv, so
// they stay out of process listings. A spawn failure still stores the
// record (status error) so the failure is discoverable afterwards.
func (e *Executor) Launch(botID, userID, name, token, codePath string) (Snapshot, error) {
	now := time.Now()
	p := &botProc{
		botID:      botID,
		userID:     userID,
		name:       name,
		token:      token,
		codePath:   codePath,
		scratchDir: filepath.Dir(codePath),
		status:     StatusPending,
		createdAt:  now,
	}

	e.mu.Lock()
	if prev, ok := e.bots[botID]; ok {
		st := prev.currentStatus()
		if st == StatusPending || st == StatusRunning {
			e.mu.Unlock()
			return Snapshot{}, fmt.Errorf("bot %s is already running", botID)
		}
	}
	// Pending records count toward the ceiling so that concurrent launches
	// cannot overshoot it between the check and the spawn.
	if e.activeLocked() >= e.opts.MaxBots {
		e.mu.Unlock()
		metrics.IncLaunchFailure("capacity")
		return Snapshot{}, fmt.Errorf("%w (%d)", ErrCapacityExceeded, e.opts.MaxBots)
	}
	e.bots[botID] = p
	e.mu.Unlock()

	if _, err := os.Stat(codePath); err != nil {
		p.markError(fmt.Sprintf("code file not found: %s", codePath), time.Now())
		e.removeScratch(p)
		metrics.IncLaunchFailure("code_not_found")
		return p.snapshot(time.Now()), fmt.Errorf("%w: %s", ErrCodeNotFound, codePath)
	}

	diag := newBoundedBuffer(4 * diagExcerptLen)
	cmd, err := e.configureCmd(p, diag)
	if err != nil {
		p.markError(err.Error(), time.Now())
		e.removeScratch(p)
		metrics.IncLaunchFailure("spawn")
		return p.snapshot(time.Now()), &SpawnError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		p.markError(err.Error(), time.Now())
		e.removeScratch(p)
		metrics.IncLaunchFailure("spawn")
		return p.snapshot(time.Now()), &SpawnError{Err: err}
	}
	p.setStarted(cmd, time.Now())

	go e.waitAndHandleExit(p)

	// Distinguish an immediate crash from a successful start. The waiter
	// races with this confirmation on the same lock, so whichever side
	// locks first decides: a record still running here confirms the
	// launch, a record already reaped is a startup crash.
	select {
	case <-p.waitChan():
	case <-time.After(e.opts.ConfirmWindow):
	}

	p.mu.Lock()
	confirmed := p.status == StatusRunning
	p.confirmed = confirmed
	p.mu.Unlock()

	if !confirmed {
		excerpt := diag.Excerpt(diagExcerptLen)
		p.markError(excerpt, time.Now())
		e.removeScratch(p)
		metrics.IncLaunchFailure("crash")
		slog.Error("bot crashed at startup", "bot_id", botID, "stderr", excerpt)
		return p.snapshot(time.Now()), &SpawnError{Output: excerpt, Err: p.exitError()}
	}
	metrics.IncLaunch()
	metrics.SetRunning(e.runningCount())
	slog.Info("launched bot", "bot_id", botID, "name", name, "pid", p.pid())
	return p.snapshot(time.Now()), nil
}

// configureCmd builds the exec.Cmd: interpreter + code file, scratch dir as
// workdir, credentials in env, stdio into rotating logs (stderr teed into
// diag so startup crashes carry a diagnostic excerpt).
func (e *Executor) configureCmd(p *botProc, diag *boundedBuffer) (*exec.Cmd, error) {
	// #nosec G204 -- interpreter comes from config, codePath from our own scratch dir
	c := exec.Command(e.opts.Interpreter, p.codePath)
	c.Dir = p.scratchDir
	c.Env = append(os.Environ(),
		"BOT_TOKEN="+p.token,
		"BOT_NAME="+p.name,
		"PYTHONUNBUFFERED=1",
	)
	setSysProcAttr(c)

	outW, errW, werr := e.opts.Log.Writers(p.botID)
	if werr != nil {
		return nil, fmt.Errorf("prepare log writers: %w", werr)
	}
	p.mu.Lock()
	p.outCloser, p.errCloser = outW, errW
	p.mu.Unlock()

	if outW != nil {
		c.Stdout = outW
	} else {
		c.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		c.Stderr = io.MultiWriter(errW, diag)
	} else {
		c.Stderr = diag
	}
	return c, nil
}

// waitAndHandleExit reaps the process exactly once and transitions the
// record when the exit was not driven by Stop.
func (e *Executor) waitAndHandleExit(p *botProc) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	err := cmd.Wait()

	// The exit transition and the confirmed read share one critical
	// section so this goroutine and Launch's confirmation agree on who
	// owns cleanup.
	p.mu.Lock()
	confirmed := p.confirmed
	stopping := p.stopping
	wd := p.waitDone
	if p.status == StatusRunning {
		p.status = StatusStopped
		p.stoppedAt = time.Now()
		p.exitErr = err
	}
	p.mu.Unlock()

	p.closeWriters()
	close(wd)

	if confirmed && !stopping {
		// Observed-dead path: no Stop call will run, so clean up here.
		e.removeScratch(p)
		metrics.SetRunning(e.runningCount())
		slog.Info("bot exited", "bot_id", p.botID, "error", err)
		if e.opts.OnExit != nil {
			e.opts.OnExit(p.snapshot(time.Now()))
		}
	}
}

// Stop terminates a running bot. It returns false for an unknown id, a
// record without a live handle, or a record that is not running; stopping
// an already-stopped bot is a no-op. Without force, a process that
// survives the grace period is left running so the caller can retry.
func (e *Executor) Stop(botID string, force bool) bool {
	e.mu.Lock()
	p := e.bots[botID]
	e.mu.Unlock()
	if p == nil {
		slog.Warn("stop: bot not found", "bot_id", botID)
		return false
	}
	e.reconcile(p)
	p.mu.Lock()
	running := p.status == StatusRunning && p.cmd != nil && p.cmd.Process != nil
	pid := 0
	if running {
		pid = p.cmd.Process.Pid
		p.stopping = true
	}
	wd := p.waitDone
	p.mu.Unlock()
	if !running {
		slog.Warn("stop: bot not running", "bot_id", botID, "status", p.currentStatus())
		return false
	}

	_ = terminate(pid)
	select {
	case <-wd:
	case <-time.After(e.opts.StopGrace):
		if !force {
			p.setStopRequested(false)
			slog.Warn("bot did not terminate gracefully", "bot_id", botID)
			return false
		}
		kill(pid)
		select {
		case <-wd:
		case <-time.After(e.opts.StopGrace):
			// best-effort; the kernel owes us a SIGKILL reap
		}
	}

	p.mu.Lock()
	p.status = StatusStopped
	if p.stoppedAt.IsZero() {
		p.stoppedAt = time.Now()
	}
	p.mu.Unlock()
	e.removeScratch(p)
	metrics.IncStop()
	metrics.SetRunning(e.runningCount())
	slog.Info("stopped bot", "bot_id", botID, "name", p.name)
	return true
}

// Status returns a reconciled snapshot. Callers never observe a stale
// "running" for a process that has already exited.
func (e *Executor) Status(botID string) (Snapshot, error) {
	e.mu.Lock()
	p := e.bots[botID]
	e.mu.Unlock()
	if p == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, botID)
	}
	e.reconcile(p)
	return p.snapshot(time.Now()), nil
}

// List returns reconciled snapshots of every record, oldest first.
func (e *Executor) List() []Snapshot {
	now := time.Now()
	out := make([]Snapshot, 0)
	for _, p := range e.all() {
		e.reconcile(p)
		out = append(out, p.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListRunning filters List down to records still running after reconciliation.
func (e *Executor) ListRunning() []Snapshot {
	all := e.List()
	out := all[:0]
	for _, s := range all {
		if s.Status == StatusRunning {
			out = append(out, s)
		}
	}
	return out
}

// CleanupAll stops every bot at shutdown: graceful first, then force for
// the stragglers. Failures are logged, never raised; no process may be
// left behind when the daemon exits.
func (e *Executor) CleanupAll() {
	slog.Info("cleaning up all bots")
	for _, p := range e.all() {
		if p.currentStatus() != StatusRunning {
			continue
		}
		if e.Stop(p.botID, false) {
			continue
		}
		if p.currentStatus() != StatusRunning {
			continue
		}
		if !e.Stop(p.botID, true) {
			slog.Error("force cleanup failed", "bot_id", p.botID)
		}
	}
}

// reconcile corrects a record whose process has exited without the record
// having been transitioned yet. Runs on every read path.
func (e *Executor) reconcile(p *botProc) {
	p.mu.Lock()
	running := p.status == StatusRunning
	pid := 0
	if p.cmd != nil && p.cmd.Process != nil {
		pid = p.cmd.Process.Pid
	}
	wd := p.waitDone
	p.mu.Unlock()
	if !running {
		return
	}
	select {
	case <-wd:
		// waiter already reaped; markExited is idempotent
		p.markExited(nil, time.Now())
		return
	default:
	}
	if pid == 0 || !alive(pid) {
		p.markExited(nil, time.Now())
		metrics.SetRunning(e.runningCount())
	}
}

func (e *Executor) removeScratch(p *botProc) {
	p.mu.Lock()
	dir := p.scratchDir
	p.mu.Unlock()
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove scratch dir", "bot_id", p.botID, "dir", dir, "error", err)
	}
}

// activeLocked counts records that hold or are about to hold a process
// slot. Caller must hold e.mu.
func (e *Executor) activeLocked() int {
	n := 0
	for _, p := range e.bots {
		st := p.currentStatus()
		if st == StatusPending || st == StatusRunning {
			n++
		}
	}
	return n
}

func (e *Executor) runningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.bots {
		if p.currentStatus() == StatusRunning {
			n++
		}
	}
	return n
}

func (e *Executor) all() []*botProc {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*botProc, 0, len(e.bots))
	for _, p := range e.bots {
		out = append(out, p)
	}
	return out
}
