package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteSendsPromptAndStop(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"text":"  SELECT * FROM customers  "}]}`))
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "k", Model: "Phi-3.5-mini-instruct-Q4_K_M"})
	if err != nil {
		t.Fatalf("NewOpenAICompleter() error = %v", err)
	}
	text, err := completer.Complete(context.Background(), CompletionRequest{Prompt: "p", MaxTokens: 150, Stop: []string{";"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "SELECT * FROM customers" {
		t.Fatalf("text = %q", text)
	}
	if payload["prompt"] != "p" || payload["max_tokens"] != float64(150) {
		t.Fatalf("payload = %#v", payload)
	}
	stop, _ := payload["stop"].([]any)
	if len(stop) != 1 || stop[0] != ";" {
		t.Fatalf("stop = %#v", payload["stop"])
	}
}

func TestCompleteReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	completer, _ := NewOpenAICompleter(OpenAIConfig{BaseURL: server.URL, Model: "m"})
	_, err := completer.Complete(context.Background(), CompletionRequest{Prompt: "p", MaxTokens: 1})
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	completer, _ := NewOpenAICompleter(OpenAIConfig{BaseURL: server.URL, Model: "m"})
	if _, err := completer.Complete(context.Background(), CompletionRequest{Prompt: "p", MaxTokens: 1}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNewOpenAICompleterValidates(t *testing.T) {
	if _, err := NewOpenAICompleter(OpenAIConfig{Model: "m"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAICompleter(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestProbeRequiresListedModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"other-model"}]}`))
	}))
	defer server.Close()

	completer, _ := NewOpenAICompleter(OpenAIConfig{BaseURL: server.URL, Model: "Phi-3.5"})
	if err := completer.Probe(context.Background()); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Probe() error = %v", err)
	}
}
