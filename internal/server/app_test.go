package server

import (
	"io"
	"log"
	"testing"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
	"github.com/mohammad-safakhou/trendwatch/internal/reasoning"
	"github.com/mohammad-safakhou/trendwatch/internal/store"
)

func TestDedupOptionsFollowProviderCapabilities(t *testing.T) {
	st := &store.Store{}
	cfg := config.DedupConfig{SemanticEnabled: true, ReasoningEnabled: true}
	quiet := log.New(io.Discard, "", 0)

	anthropic := reasoning.NewAnthropic(config.LLMConfig{APIKey: "k"})
	caps := dedup.New(st, cfg, dedupOptions(anthropic, st), quiet).Capabilities()
	if caps.Semantic || !caps.Reasoning {
		t.Fatalf("anthropic: expected reasoning only, got %+v", caps)
	}

	openai := reasoning.NewOpenAI(config.LLMConfig{APIKey: "k", EmbeddingModel: "text-embedding-3-small"})
	caps = dedup.New(st, cfg, dedupOptions(openai, st), quiet).Capabilities()
	if !caps.Semantic || !caps.Reasoning {
		t.Fatalf("openai: expected both tiers, got %+v", caps)
	}

	caps = dedup.New(st, cfg, dedupOptions(nil, st), quiet).Capabilities()
	if caps.Semantic || caps.Reasoning {
		t.Fatalf("no provider: expected exact tier only, got %+v", caps)
	}
}
