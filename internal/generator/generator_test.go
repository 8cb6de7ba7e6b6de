package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second)
}

func completionJSON(content string) string {
	resp := ChatCompletionResponse{
		Choices: []Choice{{Message: &ChatMessage{Role: "assistant", Content: content}}},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestGenerateStripsFencesAndBounds(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header: %q", got)
		}
		_, _ = w.Write([]byte(completionJSON("```python\nprint('hi')\n```")))
	})
	g := New(client, "test-model", 1000)

	code, err := g.Generate(context.Background(), "an echo bot")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code != "print('hi')" {
		t.Fatalf("fences not stripped: %q", code)
	}
}

func TestGenerateTooLarge(t *testing.T) {
	big := strings.Repeat("x", 200)
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionJSON(big)))
	})
	g := New(client, "test-model", 100)

	_, err := g.Generate(context.Background(), "an echo bot")
	if !errors.Is(err, ErrCodeTooLarge) {
		t.Fatalf("expected ErrCodeTooLarge, got %v", err)
	}
}

func TestGenerateBoundCountsRunes(t *testing.T) {
	// 8 multibyte runes is 24 bytes, within a 10 character bound.
	wide := strings.Repeat("파", 8)
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionJSON(wide)))
	})
	g := New(client, "test-model", 10)

	code, err := g.Generate(context.Background(), "an echo bot")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if code != wide {
		t.Fatalf("code mangled: %q", code)
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})
	g := New(client, "test-model", 1000)

	_, err := g.Generate(context.Background(), "an echo bot")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !strings.Contains(be.Error(), "overloaded") {
		t.Fatalf("backend message lost: %v", be)
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	g := New(client, "test-model", 1000)

	_, err := g.Generate(context.Background(), "an echo bot")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError for empty completion, got %v", err)
	}
}

func TestSuggestNameFallsBack(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	g := New(client, "test-model", 1000)
	if got := g.SuggestName(context.Background(), "an echo bot"); got != "GeneratedBot" {
		t.Fatalf("fallback name: %q", got)
	}
}

func TestSuggestNameTrims(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionJSON("\"Echo Buddy\"\nsome trailing explanation")))
	})
	g := New(client, "test-model", 1000)
	if got := g.SuggestName(context.Background(), "an echo bot"); got != "Echo Buddy" {
		t.Fatalf("name not cleaned: %q", got)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"print('x')", "print('x')"},
		{"```python\nprint('x')\n```", "print('x')"},
		{"```\nprint('x')\n```", "print('x')"},
		{"  ```py\nprint('x')\n```  ", "print('x')"},
		{"```python\nprint('x')", "print('x')"},
		{"", ""},
	}
	for _, c := range cases {
		if got := StripFences(c.in); got != c.want {
			t.Errorf("StripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
