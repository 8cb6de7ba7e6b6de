// Package orchestrator ties the generation dialogue, the process
// supervisor, the metadata store and the history sinks together behind a
// single facade. The front end (HTTP API, CLI) only ever talks to this
// package.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/loykin/botforge/internal/executor"
	"github.com/loykin/botforge/internal/history"
	"github.com/loykin/botforge/internal/session"
	"github.com/loykin/botforge/internal/store"
)

// nameTimeout bounds the optional name suggestion call independently of
// the main generation budget.
const nameTimeout = 10 * time.Second

var (
	// ErrDescriptionTooShort rejects descriptions below the configured
	// minimum before any backend call is made.
	ErrDescriptionTooShort = errors.New("description too short")
	// ErrInvalidToken rejects tokens that cannot possibly be valid.
	ErrInvalidToken = errors.New("token does not look like a bot token")
)

// CodeGenerator produces and edits worker source code.
type CodeGenerator interface {
	Generate(ctx context.Context, description string) (string, error)
	Edit(ctx context.Context, priorCode, instruction string) (string, error)
	SuggestName(ctx context.Context, description string) string
}

// Options configures an Orchestrator. Generator is required; Store
// defaults to the in-memory implementation when nil.
type Options struct {
	Generator         CodeGenerator
	Store             store.Store
	Sinks             []history.Sink
	Executor          executor.Options
	BotsDir           string
	MinDescriptionLen int
	GenTimeout        time.Duration
}

type Orchestrator struct {
	gen      CodeGenerator
	exec     *executor.Executor
	sessions *session.Manager
	store    store.Store
	sinks    []history.Sink

	botsDir    string
	minDescLen int
	genTimeout time.Duration
}

func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.BotsDir == "" {
		opts.BotsDir = "generated_bots"
	}
	if opts.MinDescriptionLen <= 0 {
		opts.MinDescriptionLen = 20
	}
	if opts.GenTimeout <= 0 {
		opts.GenTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		gen:        opts.Generator,
		sessions:   session.NewManager(),
		store:      opts.Store,
		sinks:      opts.Sinks,
		botsDir:    opts.BotsDir,
		minDescLen: opts.MinDescriptionLen,
		genTimeout: opts.GenTimeout,
	}
	opts.Executor.OnExit = o.handleObservedExit
	o.exec = executor.New(opts.Executor)
	return o
}

// Bootstrap prepares the store for this daemon run. Rows still marked
// running belong to a previous host process whose children died with it,
// so they are swept to stopped; live state is rebuilt only by launches.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if err := o.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure store schema: %w", err)
	}
	n, err := o.store.ResetRunning(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("reset stale records: %w", err)
	}
	if n > 0 {
		slog.Info("swept stale running records", "count", n)
	}
	return nil
}

// Close stops every running bot and releases the store.
func (o *Orchestrator) Close() {
	o.exec.CleanupAll()
	if err := o.store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

// BeginGeneration starts a fresh dialogue for the user, replacing any
// existing one, and returns the draft bot id.
func (o *Orchestrator) BeginGeneration(userID string) session.Session {
	s := o.sessions.Begin(userID, uuid.New().String())
	slog.Info("generation started", "user_id", userID, "bot_id", s.BotID)
	return s
}

// SubmitDescription turns the user's description into code. The session
// only advances once the code has been written to its scratch file; on any
// backend failure the session stays at awaiting_description so the user
// can simply try again.
func (o *Orchestrator) SubmitDescription(ctx context.Context, userID, text string) (session.Session, error) {
	s, err := o.sessions.Get(userID)
	if err != nil {
		return session.Session{}, err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < o.minDescLen {
		return s, fmt.Errorf("%w: need at least %d characters", ErrDescriptionTooShort, o.minDescLen)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	code, err := o.gen.Generate(genCtx, text)
	if err != nil {
		slog.Warn("generation failed", "user_id", userID, "bot_id", s.BotID, "error", err)
		return s, err
	}
	// The name suggestion gets its own budget so a slow Generate cannot
	// leave it with an almost expired context.
	nameCtx, nameCancel := context.WithTimeout(ctx, nameTimeout)
	name := o.gen.SuggestName(nameCtx, text)
	nameCancel()

	codePath, err := o.writeCodeFile(s.BotID, code)
	if err != nil {
		return s, err
	}
	s, err = o.sessions.SetGenerated(userID, name, text, code, codePath)
	if err != nil {
		return session.Session{}, err
	}

	o.mirror(func(ctx context.Context) error {
		return o.store.Put(ctx, store.Record{
			BotID:       s.BotID,
			UserID:      userID,
			Name:        name,
			Status:      store.StatusPending,
			Description: text,
			CodePath:    codePath,
			CreatedAt:   s.CreatedAt,
		})
	})
	slog.Info("code generated", "user_id", userID, "bot_id", s.BotID, "name", name, "bytes", len(code))
	return s, nil
}

// ChooseLaunch runs the draft as a supervised process. The session is
// removed only on success; a failed launch keeps it at code_generated so
// the user can retry without regenerating.
func (o *Orchestrator) ChooseLaunch(ctx context.Context, userID, botID, token string) (executor.Snapshot, error) {
	if err := o.sessions.Verify(userID, botID); err != nil {
		return executor.Snapshot{}, err
	}
	s, err := o.sessions.Get(userID)
	if err != nil {
		return executor.Snapshot{}, err
	}
	if s.State != session.StateCodeGenerated {
		return executor.Snapshot{}, fmt.Errorf("%w: describe the bot first", session.ErrNoSession)
	}
	if err := validateToken(token); err != nil {
		return executor.Snapshot{}, err
	}
	// A crashed previous attempt removes the scratch dir; the draft still
	// holds the source, so put the file back before launching.
	if _, statErr := os.Stat(s.CodePath); statErr != nil {
		if _, werr := o.writeCodeFile(s.BotID, s.Code); werr != nil {
			return executor.Snapshot{}, werr
		}
	}

	snap, err := o.exec.Launch(botID, userID, s.Name, token, s.CodePath)
	if err != nil {
		o.mirrorSnapshot(snap, s.Description)
		o.emit(history.EventError, snap, s.Description)
		return snap, err
	}

	o.sessions.Remove(userID)
	o.mirrorSnapshot(snap, s.Description)
	o.emit(history.EventLaunch, snap, s.Description)
	return snap, nil
}

// ChooseSave keeps the generated code without running it. The scratch file
// stays on disk so the bot can later be edited or downloaded.
func (o *Orchestrator) ChooseSave(userID, botID string) (session.Session, error) {
	if err := o.sessions.Verify(userID, botID); err != nil {
		return session.Session{}, err
	}
	s, err := o.sessions.Get(userID)
	if err != nil {
		return session.Session{}, err
	}
	if s.State != session.StateCodeGenerated {
		return session.Session{}, fmt.Errorf("%w: describe the bot first", session.ErrNoSession)
	}
	o.sessions.Remove(userID)
	o.mirror(func(ctx context.Context) error {
		return o.store.Put(ctx, store.Record{
			BotID:       s.BotID,
			UserID:      userID,
			Name:        s.Name,
			Status:      store.StatusStopped,
			Description: s.Description,
			CodePath:    s.CodePath,
			CreatedAt:   s.CreatedAt,
		})
	})
	slog.Info("bot saved", "user_id", userID, "bot_id", botID, "name", s.Name)
	return s, nil
}

// Cancel discards the user's dialogue and whatever it produced.
func (o *Orchestrator) Cancel(userID string) bool {
	s, ok := o.sessions.Remove(userID)
	if !ok {
		return false
	}
	if s.CodePath != "" {
		if err := os.RemoveAll(filepath.Dir(s.CodePath)); err != nil {
			slog.Warn("failed to remove draft dir", "bot_id", s.BotID, "error", err)
		}
	}
	o.mirror(func(ctx context.Context) error {
		_, err := o.store.Delete(ctx, s.BotID)
		return err
	})
	slog.Info("generation cancelled", "user_id", userID, "bot_id", s.BotID)
	return true
}

// StopByName stops the running bot with the given display name. Names are
// not unique across users; the first running match wins.
func (o *Orchestrator) StopByName(name string, force bool) bool {
	for _, snap := range o.exec.ListRunning() {
		if snap.Name != name {
			continue
		}
		return o.stop(snap.BotID, force)
	}
	slog.Warn("stop: no running bot with name", "name", name)
	return false
}

// StopBot stops a running bot by id.
func (o *Orchestrator) StopBot(botID string, force bool) bool {
	return o.stop(botID, force)
}

func (o *Orchestrator) stop(botID string, force bool) bool {
	if !o.exec.Stop(botID, force) {
		return false
	}
	snap, err := o.exec.Status(botID)
	if err != nil {
		return true
	}
	o.mirrorSnapshot(snap, "")
	o.emit(history.EventStop, snap, "")
	return true
}

// ListForUser returns the user's bots from the store with live process
// state overlaid. When the store is unavailable the live view alone is
// returned, filtered to the user.
func (o *Orchestrator) ListForUser(ctx context.Context, userID string) []store.Record {
	live := make(map[string]executor.Snapshot)
	for _, snap := range o.exec.List() {
		live[snap.BotID] = snap
	}

	recs, err := o.store.ListByUser(ctx, userID)
	if err != nil {
		slog.Warn("store unavailable, serving live state only", "error", err)
		recs = recs[:0]
		for _, snap := range o.exec.List() {
			if snap.UserID == userID {
				recs = append(recs, recordFromSnapshot(snap, ""))
			}
		}
		return recs
	}
	for i := range recs {
		if snap, ok := live[recs[i].BotID]; ok {
			recs[i].Status = string(snap.Status)
			recs[i].PID = snap.PID
		}
	}
	return recs
}

// StatusAll returns a reconciled snapshot of every bot this daemon has
// launched.
func (o *Orchestrator) StatusAll() []executor.Snapshot {
	return o.exec.List()
}

// EditBot applies an edit instruction to a saved or running bot's source.
// The file is replaced only after the new code passes validation; a
// running bot keeps its old process until relaunched.
func (o *Orchestrator) EditBot(ctx context.Context, userID, botID, instruction string) (store.Record, error) {
	rec, err := o.ownedRecord(ctx, userID, botID)
	if err != nil {
		return store.Record{}, err
	}
	prior, err := os.ReadFile(rec.CodePath)
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: %s", executor.ErrCodeNotFound, rec.CodePath)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	code, err := o.gen.Edit(genCtx, string(prior), instruction)
	if err != nil {
		return store.Record{}, err
	}
	if err := os.WriteFile(rec.CodePath, []byte(code), 0o600); err != nil {
		return store.Record{}, fmt.Errorf("write updated code: %w", err)
	}
	slog.Info("bot code edited", "user_id", userID, "bot_id", botID, "bytes", len(code))
	return rec, nil
}

// BotCode returns the current source of a bot owned by the user.
func (o *Orchestrator) BotCode(ctx context.Context, userID, botID string) (string, error) {
	rec, err := o.ownedRecord(ctx, userID, botID)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(rec.CodePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", executor.ErrCodeNotFound, rec.CodePath)
	}
	return string(b), nil
}

// ownedRecord loads a store record and hides it from other users.
func (o *Orchestrator) ownedRecord(ctx context.Context, userID, botID string) (store.Record, error) {
	rec, err := o.store.Get(ctx, botID)
	if err != nil {
		return store.Record{}, err
	}
	if rec.UserID != userID {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// handleObservedExit mirrors a bot that died on its own.
func (o *Orchestrator) handleObservedExit(snap executor.Snapshot) {
	o.mirrorSnapshot(snap, "")
	o.emit(history.EventStop, snap, "")
}

func validateToken(token string) error {
	if !strings.Contains(token, ":") || len(token) < 20 {
		return ErrInvalidToken
	}
	return nil
}

// writeCodeFile materializes source under a per-bot scratch dir.
func (o *Orchestrator) writeCodeFile(botID, code string) (string, error) {
	dir := filepath.Join(o.botsDir, "bot_"+botID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create bot dir: %w", err)
	}
	path := filepath.Join(dir, "bot.py")
	if err := os.WriteFile(path, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("write bot code: %w", err)
	}
	return path, nil
}

// mirror applies a store write in the background. Store trouble never
// blocks or fails the user-facing operation.
func (o *Orchestrator) mirror(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("store mirror failed", "error", err)
	}
}

func (o *Orchestrator) mirrorSnapshot(snap executor.Snapshot, description string) {
	if snap.BotID == "" {
		return
	}
	o.mirror(func(ctx context.Context) error {
		status := string(snap.Status)
		u := store.Update{Status: &status}
		if snap.PID > 0 {
			pid := snap.PID
			u.PID = &pid
		}
		if !snap.StartedAt.IsZero() {
			t := snap.StartedAt
			u.StartedAt = &t
		}
		if !snap.StoppedAt.IsZero() {
			t := snap.StoppedAt
			u.StoppedAt = &t
		}
		if snap.ErrorMessage != "" {
			msg := snap.ErrorMessage
			u.ErrorMessage = &msg
		}
		matched, err := o.store.UpdateFields(ctx, snap.BotID, u)
		if err != nil {
			return err
		}
		if !matched {
			return o.store.Put(ctx, recordFromSnapshot(snap, description))
		}
		return nil
	})
}

// emit fans a lifecycle event out to every sink without holding up the
// caller.
func (o *Orchestrator) emit(typ history.EventType, snap executor.Snapshot, description string) {
	if len(o.sinks) == 0 || snap.BotID == "" {
		return
	}
	ev := history.Event{
		Type:       typ,
		OccurredAt: time.Now(),
		Record:     recordFromSnapshot(snap, description),
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, sink := range o.sinks {
			if err := sink.Send(sendCtx, ev); err != nil {
				slog.Warn("history sink failed", "type", typ, "bot_id", snap.BotID, "error", err)
			}
		}
	}()
}

func recordFromSnapshot(snap executor.Snapshot, description string) store.Record {
	rec := store.Record{
		BotID:       snap.BotID,
		UserID:      snap.UserID,
		Name:        snap.Name,
		Status:      string(snap.Status),
		Description: description,
		CodePath:    snap.CodePath,
		PID:         snap.PID,
		CreatedAt:   snap.CreatedAt,
	}
	if !snap.StartedAt.IsZero() {
		rec.StartedAt.Time, rec.StartedAt.Valid = snap.StartedAt, true
	}
	if !snap.StoppedAt.IsZero() {
		rec.StoppedAt.Time, rec.StoppedAt.Valid = snap.StoppedAt, true
	}
	if snap.ErrorMessage != "" {
		rec.ErrorMessage.String, rec.ErrorMessage.Valid = snap.ErrorMessage, true
	}
	return rec
}
