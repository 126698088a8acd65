package nl2sql

import "context"

type CompletionRequest struct {
	Prompt    string   `json:"prompt"`
	MaxTokens int      `json:"max_tokens"`
	Stop      []string `json:"stop,omitempty"`
}

// Completer returns the raw text a language model produced for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
