package botforge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// fakeBackend serves OpenAI-style completions so the facade can be
// exercised end to end without a real generation backend.
func fakeBackend(t *testing.T, code string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + code + `"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backendURL string) Config {
	t.Helper()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Store.DSN = "memory"
	cfg.Generator.BaseURL = backendURL
	cfg.Executor.Interpreter = "sh"
	cfg.Executor.ConfirmWindow = 100 * time.Millisecond
	cfg.Executor.StopGrace = time.Second
	cfg.Executor.BotsDir = filepath.Join(t.TempDir(), "bots")
	return cfg
}

func TestFacadeGenerateLaunchStop(t *testing.T) {
	requireUnix(t)
	backend := fakeBackend(t, "sleep 30")
	orch, err := New(testConfig(t, backend.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orch.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	defer orch.Close()

	began := orch.BeginGeneration("u1")
	s, err := orch.SubmitDescription(context.Background(), "u1", "a bot that replies to every message")
	if err != nil {
		t.Fatalf("SubmitDescription: %v", err)
	}
	if s.BotID != began.BotID {
		t.Fatalf("bot id changed: %q -> %q", began.BotID, s.BotID)
	}

	snap, err := orch.ChooseLaunch(context.Background(), "u1", s.BotID, "123456789:AAtesttesttest")
	if err != nil {
		t.Fatalf("ChooseLaunch: %v", err)
	}
	if snap.Status != "running" || snap.PID <= 0 {
		t.Fatalf("not running: %+v", snap)
	}

	if !orch.StopBot(s.BotID, false) {
		t.Fatalf("StopBot failed")
	}
	all := orch.StatusAll()
	if len(all) != 1 || all[0].Status != "stopped" {
		t.Fatalf("status after stop: %+v", all)
	}
}

func TestFacadeCancelAndList(t *testing.T) {
	backend := fakeBackend(t, "print('hi')")
	orch, err := New(testConfig(t, backend.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orch.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	defer orch.Close()

	orch.BeginGeneration("u1")
	if _, err := orch.SubmitDescription(context.Background(), "u1", "a bot that replies with a greeting"); err != nil {
		t.Fatalf("SubmitDescription: %v", err)
	}
	if !orch.Cancel("u1") {
		t.Fatalf("Cancel failed")
	}
	if recs := orch.ListForUser(context.Background(), "u1"); len(recs) != 0 {
		t.Fatalf("cancelled draft still listed: %+v", recs)
	}
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second RegisterMetrics: %v", err)
	}
	if MetricsHandler() == nil {
		t.Fatalf("nil metrics handler")
	}
}
