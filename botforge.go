package botforge

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/botforge/internal/config"
	"github.com/loykin/botforge/internal/executor"
	"github.com/loykin/botforge/internal/generator"
	"github.com/loykin/botforge/internal/history"
	"github.com/loykin/botforge/internal/metrics"
	"github.com/loykin/botforge/internal/orchestrator"
	iapi "github.com/loykin/botforge/internal/server"
	"github.com/loykin/botforge/internal/session"
	"github.com/loykin/botforge/internal/store"
	"github.com/loykin/botforge/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Snapshot = executor.Snapshot

type Status = executor.Status

type Session = session.Session

type Record = store.Record

type HistorySink = history.Sink

type Config = cfg.Config

// Orchestrator is a thin facade over internal/orchestrator for embedding.
type Orchestrator struct{ inner *orchestrator.Orchestrator }

// New wires a full orchestrator from a Config: generation client, process
// supervisor, store (by DSN) and history sinks.
func New(c Config) (*Orchestrator, error) {
	st, err := factory.NewFromDSN(c.Store.DSN)
	if err != nil {
		return nil, err
	}
	gen := generator.New(
		generator.NewClient(c.Generator.BaseURL, c.Generator.APIKey, c.Generator.Timeout),
		c.Generator.Model,
		c.Generator.MaxCodeLen,
	)
	var sinks []history.Sink
	if c.History.ClickHouseAddr != "" {
		s, serr := history.NewClickHouseSink(c.History.ClickHouseAddr, c.History.ClickHouseTable)
		if serr != nil {
			return nil, serr
		}
		sinks = append(sinks, s)
	}
	if c.History.ClickHouseURL != "" {
		sinks = append(sinks, history.NewClickHouseHTTPSink(c.History.ClickHouseURL, c.History.ClickHouseTable))
	}
	if c.History.OpenSearchURL != "" {
		sinks = append(sinks, history.NewOpenSearchSink(c.History.OpenSearchURL, c.History.OpenSearchIndex))
	}
	inner := orchestrator.New(orchestrator.Options{
		Generator: gen,
		Store:     st,
		Sinks:     sinks,
		Executor: executor.Options{
			MaxBots:       c.Executor.MaxBots,
			StopGrace:     c.Executor.StopGrace,
			ConfirmWindow: c.Executor.ConfirmWindow,
			Interpreter:   c.Executor.Interpreter,
			Log:           c.Log,
		},
		BotsDir:           c.Executor.BotsDir,
		MinDescriptionLen: c.Generator.MinDescriptionLen,
		GenTimeout:        c.Generator.Timeout,
	})
	return &Orchestrator{inner: inner}, nil
}

func (o *Orchestrator) Bootstrap(ctx context.Context) error { return o.inner.Bootstrap(ctx) }
func (o *Orchestrator) Close()                              { o.inner.Close() }

func (o *Orchestrator) BeginGeneration(userID string) Session { return o.inner.BeginGeneration(userID) }
func (o *Orchestrator) SubmitDescription(ctx context.Context, userID, text string) (Session, error) {
	return o.inner.SubmitDescription(ctx, userID, text)
}
func (o *Orchestrator) ChooseLaunch(ctx context.Context, userID, botID, token string) (Snapshot, error) {
	return o.inner.ChooseLaunch(ctx, userID, botID, token)
}
func (o *Orchestrator) ChooseSave(userID, botID string) (Session, error) {
	return o.inner.ChooseSave(userID, botID)
}
func (o *Orchestrator) Cancel(userID string) bool { return o.inner.Cancel(userID) }
func (o *Orchestrator) StopByName(name string, force bool) bool {
	return o.inner.StopByName(name, force)
}
func (o *Orchestrator) StopBot(botID string, force bool) bool { return o.inner.StopBot(botID, force) }
func (o *Orchestrator) ListForUser(ctx context.Context, userID string) []Record {
	return o.inner.ListForUser(ctx, userID)
}
func (o *Orchestrator) StatusAll() []Snapshot { return o.inner.StatusAll() }
func (o *Orchestrator) EditBot(ctx context.Context, userID, botID, instruction string) (Record, error) {
	return o.inner.EditBot(ctx, userID, botID, instruction)
}
func (o *Orchestrator) BotCode(ctx context.Context, userID, botID string) (string, error) {
	return o.inner.BotCode(ctx, userID, botID)
}

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the API for the orchestrator.
func NewHTTPServer(addr, basePath string, o *Orchestrator) *http.Server {
	return iapi.NewServer(addr, basePath, o.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func MetricsHandler() http.Handler { return metrics.Handler() }
