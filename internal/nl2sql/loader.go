package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type LoaderConfig struct {
	OpenAIConfig
	// FallbackURL is tried once when the primary server cannot serve the model.
	FallbackURL string
}

// Loader produces a ready Completer, preferring the primary endpoint.
type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
}

func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger}
}

func (l *Loader) Load(ctx context.Context) (Completer, error) {
	primary, primaryErr := l.open(ctx, l.cfg.OpenAIConfig)
	if primaryErr == nil {
		return primary, nil
	}
	fallbackURL := strings.TrimSpace(l.cfg.FallbackURL)
	if fallbackURL == "" {
		return nil, primaryErr
	}

	l.logger.WarnContext(ctx, "primary model endpoint unavailable, trying fallback",
		slog.String("primary", l.cfg.BaseURL),
		slog.String("fallback", fallbackURL),
		slog.String("error", primaryErr.Error()),
	)
	fallbackCfg := l.cfg.OpenAIConfig
	fallbackCfg.BaseURL = fallbackURL
	fallback, fallbackErr := l.open(ctx, fallbackCfg)
	if fallbackErr != nil {
		return nil, errors.Join(primaryErr, fallbackErr)
	}
	return fallback, nil
}

func (l *Loader) open(ctx context.Context, cfg OpenAIConfig) (*OpenAICompleter, error) {
	completer, err := NewOpenAICompleter(cfg)
	if err != nil {
		return nil, err
	}
	if err := completer.Probe(ctx); err != nil {
		return nil, fmt.Errorf("model endpoint %s: %w", completer.BaseURL(), err)
	}
	l.logger.InfoContext(ctx, "model loaded", slog.String("endpoint", completer.BaseURL()), slog.String("model", completer.Model()))
	return completer, nil
}
