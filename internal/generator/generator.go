package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loykin/botforge/internal/metrics"
)

// ErrCodeTooLarge is returned when the backend produces more source text
// than the configured bound. Checked before anything is persisted.
var ErrCodeTooLarge = errors.New("generated code exceeds maximum length")

// BackendError wraps any failure of the generation backend (transport
// error, non-200 status, timeout, empty completion). Session state is never
// advanced when one is returned.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return "generation backend: " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

const systemPrompt = `You are an expert developer of Telegram bots built on aiogram 3.x.
Produce the COMPLETE source of a working bot in a single Python file.

Rules:
- aiogram 3.x syntax only: from aiogram import Bot, Dispatcher, F
- the bot token is read from os.environ.get('BOT_TOKEN')
- the whole program fits in one file
- return ONLY the code, no explanations and no markdown fences`

const editSystemPrompt = `You are an expert at modifying Telegram bots built on aiogram 3.x.
You are given the current source of a bot and a change request.
Apply the change and return the full updated source.

Rules:
- keep aiogram 3.x syntax
- the bot token stays os.environ.get('BOT_TOKEN')
- return ONLY the code, no explanations and no markdown fences`

// Generator produces and edits worker source code through the backend.
type Generator struct {
	client     *Client
	model      string
	maxCodeLen int
}

// New builds a Generator. maxCodeLen bounds accepted completions.
func New(client *Client, model string, maxCodeLen int) *Generator {
	return &Generator{client: client, model: model, maxCodeLen: maxCodeLen}
}

// Generate turns a natural-language description into worker source code.
func (g *Generator) Generate(ctx context.Context, description string) (string, error) {
	return g.complete(ctx, systemPrompt, description)
}

// Edit applies an edit instruction to previously generated source.
func (g *Generator) Edit(ctx context.Context, priorCode, instruction string) (string, error) {
	user := fmt.Sprintf("Current source:\n%s\n\nRequested change: %s\n\nReturn the full updated source.", priorCode, instruction)
	return g.complete(ctx, editSystemPrompt, user)
}

// SuggestName asks the backend for a short display name. Best effort: any
// failure falls back to a default rather than failing the flow.
func (g *Generator) SuggestName(ctx context.Context, description string) string {
	prompt := fmt.Sprintf("Suggest a short, catchy bot name (2-3 words max) for this bot. Return ONLY the name.\n\nDescription: %s", description)
	temp := 0.7
	maxTok := 50
	resp, err := g.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       g.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTok,
	})
	if err != nil || len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		slog.Debug("name suggestion failed, using default", "error", err)
		return "GeneratedBot"
	}
	name := strings.TrimSpace(resp.Choices[0].Message.Content)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	name = strings.Trim(name, "\"'` ")
	if name == "" {
		return "GeneratedBot"
	}
	if len(name) > 30 {
		name = name[:30]
	}
	return name
}

func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	temp := 0.7
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: g.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temp,
	})
	metrics.ObserveGenerationDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.IncGeneration("error")
		return "", &BackendError{Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		metrics.IncGeneration("error")
		return "", &BackendError{Err: errors.New("empty completion")}
	}
	code := StripFences(resp.Choices[0].Message.Content)
	if code == "" {
		metrics.IncGeneration("error")
		return "", &BackendError{Err: errors.New("completion contained no code")}
	}
	if utf8.RuneCountInString(code) > g.maxCodeLen {
		metrics.IncGeneration("too_large")
		return "", ErrCodeTooLarge
	}
	metrics.IncGeneration("ok")
	return code, nil
}

// StripFences removes surrounding markdown code fences the model sometimes
// emits despite instructions.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language tag on the opening fence line
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || isLangTag(first) {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' {
			return false
		}
	}
	return len(s) <= 12
}
