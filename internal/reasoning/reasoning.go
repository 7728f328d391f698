// Package reasoning talks to hosted language models for duplicate judgment,
// embeddings and chat intent classification.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/trendwatch/config"
)

// ErrUnsupported is returned by providers lacking a capability.
var ErrUnsupported = errors.New("operation not supported by provider")

// Provider is a hosted model backend.
type Provider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CanEmbed reports whether p can produce embeddings. Providers opt in by
// implementing EmbedCapable.
func CanEmbed(p Provider) bool {
	if p == nil {
		return false
	}
	if e, ok := p.(EmbedCapable); ok {
		return e.CanEmbed()
	}
	return true
}

// EmbedCapable is implemented by providers whose Embed may be unsupported.
type EmbedCapable interface {
	CanEmbed() bool
}

// FromConfig picks the backend named by cfg.Provider. A missing API key
// yields nil, nil so the caller can run without the optional tiers.
func FromConfig(cfg config.LLMConfig, logger *log.Logger) (Provider, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Printf("no llm api key configured; reasoning features disabled")
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
