// Package llm provides language-model backends for the classifier.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"jobinbox/internal/classifier"
	"jobinbox/pkg/config"
)

type named interface {
	Name() string
}

// New builds the configured provider wrapped with pacing and a circuit breaker.
// The returned close function releases the underlying client.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (classifier.Provider, func() error, error) {
	var (
		base    classifier.Provider
		closeFn = func() error { return nil }
	)

	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiProvider(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		base, closeFn = g, g.Close
	case "", "openai":
		c, err := NewChatProvider(ChatConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		base = c
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	name := "llm"
	if n, ok := base.(named); ok {
		name = n.Name()
	}
	return NewBreaker(NewRateLimited(base, cfg.RequestsPerMinute), name), closeFn, nil
}
