package executor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// writeScript places a shell script in its own scratch dir, mirroring how
// the orchestrator materializes generated code.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scratch")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "bot.sh")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestExecutor(maxBots int) *Executor {
	return New(Options{
		MaxBots:       maxBots,
		Interpreter:   "sh",
		ConfirmWindow: 100 * time.Millisecond,
		StopGrace:     2 * time.Second,
	})
}

func TestLaunchStopRoundTrip(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	code := writeScript(t, "sleep 30\n")

	snap, err := e.Launch("b1", "u1", "EchoBot", "123:token-abcdefghij", code)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if snap.Status != StatusRunning || snap.PID <= 0 {
		t.Fatalf("not running after launch: %+v", snap)
	}

	st, err := e.Status("b1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != StatusRunning || st.UptimeSeconds <= 0 {
		t.Fatalf("unexpected status: %+v", st)
	}

	if !e.Stop("b1", false) {
		t.Fatalf("Stop returned false for running bot")
	}
	st, err = e.Status("b1")
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if st.Status != StatusStopped || st.StoppedAt.IsZero() {
		t.Fatalf("not stopped: %+v", st)
	}
	if st.StoppedAt.Before(st.StartedAt) {
		t.Fatalf("stoppedAt %v before startedAt %v", st.StoppedAt, st.StartedAt)
	}
	if _, serr := os.Stat(filepath.Dir(code)); !os.IsNotExist(serr) {
		t.Fatalf("scratch dir not removed: %v", serr)
	}
}

func TestLaunchMissingCodeFile(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)

	snap, err := e.Launch("b1", "u1", "GhostBot", "tok", filepath.Join(t.TempDir(), "nope", "bot.sh"))
	if !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if snap.Status != StatusError || snap.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", snap)
	}
	// Failed records stay discoverable.
	st, err := e.Status("b1")
	if err != nil || st.Status != StatusError {
		t.Fatalf("record lost after failed launch: %+v, %v", st, err)
	}
}

func TestCapacityCeiling(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(2)

	for i, id := range []string{"b1", "b2"} {
		code := writeScript(t, "sleep 30\n")
		if _, err := e.Launch(id, "u1", "Bot", "tok", code); err != nil {
			t.Fatalf("launch %d: %v", i, err)
		}
	}
	code := writeScript(t, "sleep 30\n")
	_, err := e.Launch("b3", "u1", "Bot", "tok", code)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Stopping one frees a slot.
	if !e.Stop("b1", false) {
		t.Fatalf("stop b1 failed")
	}
	code = writeScript(t, "sleep 30\n")
	if _, err := e.Launch("b3", "u1", "Bot", "tok", code); err != nil {
		t.Fatalf("launch after free slot: %v", err)
	}
	e.CleanupAll()
}

func TestDuplicateLaunchRejected(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	code := writeScript(t, "sleep 30\n")
	if _, err := e.Launch("b1", "u1", "Bot", "tok", code); err != nil {
		t.Fatalf("launch: %v", err)
	}
	code2 := writeScript(t, "sleep 30\n")
	if _, err := e.Launch("b1", "u1", "Bot", "tok", code2); err == nil {
		t.Fatalf("expected duplicate launch rejection")
	}
	e.CleanupAll()
}

func TestCrashInsideConfirmWindow(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	code := writeScript(t, "echo 'boom: bad token' 1>&2\nexit 1\n")

	snap, err := e.Launch("b1", "u1", "CrashBot", "tok", code)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if !strings.Contains(se.Output, "boom: bad token") {
		t.Fatalf("stderr excerpt missing: %q", se.Output)
	}
	if snap.Status != StatusError || !strings.Contains(snap.ErrorMessage, "boom") {
		t.Fatalf("crash not recorded: %+v", snap)
	}
	if _, serr := os.Stat(filepath.Dir(code)); !os.IsNotExist(serr) {
		t.Fatalf("scratch dir not removed after crash")
	}
}

func TestExitAtConfirmBoundary(t *testing.T) {
	requireUnix(t)
	// The script lives about as long as the confirmation window, so each
	// run lands on either side of the boundary. Both outcomes must clean
	// up exactly once: a crash report keeps the exit callback silent, a
	// confirmed launch hands cleanup to the callback.
	for i := 0; i < 10; i++ {
		exits := make(chan Snapshot, 1)
		e := New(Options{
			MaxBots:       5,
			Interpreter:   "sh",
			ConfirmWindow: 50 * time.Millisecond,
			StopGrace:     2 * time.Second,
			OnExit:        func(s Snapshot) { exits <- s },
		})
		code := writeScript(t, "sleep 0.05\n")

		snap, err := e.Launch("b1", "u1", "BlinkBot", "tok", code)
		if err != nil {
			var se *SpawnError
			if !errors.As(err, &se) {
				t.Fatalf("unexpected error type: %v", err)
			}
			select {
			case s := <-exits:
				t.Fatalf("exit callback fired for unconfirmed launch: %+v", s)
			case <-time.After(200 * time.Millisecond):
			}
			if _, serr := os.Stat(filepath.Dir(code)); !os.IsNotExist(serr) {
				t.Fatalf("scratch dir not removed after crash")
			}
		} else {
			if snap.Status != StatusRunning {
				t.Fatalf("confirmed launch not running: %+v", snap)
			}
			select {
			case <-exits:
			case <-time.After(2 * time.Second):
				t.Fatalf("exit callback never fired for confirmed launch")
			}
			if _, serr := os.Stat(filepath.Dir(code)); !os.IsNotExist(serr) {
				t.Fatalf("scratch dir not removed after observed exit")
			}
		}
	}
}

func TestStderrExcerptBounded(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	// Emits well over the excerpt bound before dying.
	code := writeScript(t, "i=0\nwhile [ $i -lt 100 ]; do echo 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx' 1>&2; i=$((i+1)); done\nexit 1\n")

	_, err := e.Launch("b1", "u1", "NoisyBot", "tok", code)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if len(se.Output) == 0 || len(se.Output) > diagExcerptLen {
		t.Fatalf("excerpt length out of bounds: %d", len(se.Output))
	}
}

func TestStopUnknownAndNotRunning(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	if e.Stop("missing", false) {
		t.Fatalf("Stop reported success for unknown bot")
	}

	code := writeScript(t, "sleep 30\n")
	if _, err := e.Launch("b1", "u1", "Bot", "tok", code); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !e.Stop("b1", false) {
		t.Fatalf("first stop failed")
	}
	if e.Stop("b1", false) {
		t.Fatalf("second stop should be a no-op returning false")
	}
}

func TestReconcileObservesExit(t *testing.T) {
	requireUnix(t)
	exited := make(chan Snapshot, 1)
	e := New(Options{
		MaxBots:       5,
		Interpreter:   "sh",
		ConfirmWindow: 50 * time.Millisecond,
		StopGrace:     time.Second,
		OnExit:        func(s Snapshot) { exited <- s },
	})
	code := writeScript(t, "sleep 0.3\n")

	if _, err := e.Launch("b1", "u1", "ShortBot", "tok", code); err != nil {
		t.Fatalf("launch: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := e.Status("b1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Status == StatusStopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bot never observed as stopped: %+v", st)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case s := <-exited:
		if s.BotID != "b1" {
			t.Fatalf("OnExit for wrong bot: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnExit never fired")
	}
	if _, serr := os.Stat(filepath.Dir(code)); !os.IsNotExist(serr) {
		t.Fatalf("scratch dir not removed after observed exit")
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	for _, id := range []string{"b1", "b2", "b3"} {
		code := writeScript(t, "sleep 30\n")
		if _, err := e.Launch(id, "u1", "Bot", "tok", code); err != nil {
			t.Fatalf("launch %s: %v", id, err)
		}
	}
	e.Stop("b2", false)

	all := e.List()
	if len(all) != 3 {
		t.Fatalf("List: got %d records", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatalf("List not sorted by creation time")
		}
	}
	running := e.ListRunning()
	if len(running) != 2 {
		t.Fatalf("ListRunning: got %d want 2", len(running))
	}
	for _, s := range running {
		if s.BotID == "b2" {
			t.Fatalf("stopped bot listed as running")
		}
	}
	e.CleanupAll()
}

func TestCleanupAllStopsEverything(t *testing.T) {
	requireUnix(t)
	e := newTestExecutor(5)
	for _, id := range []string{"b1", "b2"} {
		code := writeScript(t, "sleep 30\n")
		if _, err := e.Launch(id, "u1", "Bot", "tok", code); err != nil {
			t.Fatalf("launch %s: %v", id, err)
		}
	}
	e.CleanupAll()
	if n := len(e.ListRunning()); n != 0 {
		t.Fatalf("bots still running after cleanup: %d", n)
	}
}

func TestBoundedBuffer(t *testing.T) {
	b := newBoundedBuffer(8)
	n, err := b.Write([]byte("hello"))
	if n != 5 || err != nil {
		t.Fatalf("Write: %d, %v", n, err)
	}
	// Writes past the cap still report full length so MultiWriter never fails.
	n, err = b.Write([]byte("worldmore"))
	if n != 9 || err != nil {
		t.Fatalf("Write over cap: %d, %v", n, err)
	}
	if got := b.Excerpt(100); got != "hellowor" {
		t.Fatalf("Excerpt: %q", got)
	}
	if got := b.Excerpt(4); got != "hell" {
		t.Fatalf("Excerpt bounded: %q", got)
	}
}
