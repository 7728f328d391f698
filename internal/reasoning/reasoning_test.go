package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
)

type stubProvider struct {
	reply  string
	err    error
	vecs   [][]float32
	prompt string
}

func (s *stubProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.vecs, s.err
}

func TestOpenAICompleteAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		switch r.URL.Path {
		case "/chat/completions":
			var req chatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "judge-model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Errorf("unexpected chat request %+v", req)
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" hello "}}]}`))
		case "/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, JudgeModel: "judge-model", EmbeddingModel: "emb"})
	out, err := o.Complete(context.Background(), "sys", "hi")
	if err != nil || out != "hello" {
		t.Fatalf("Complete: %q %v", out, err)
	}
	vecs, err := o.Embed(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("Embed: %v %v", vecs, err)
	}
}

func TestFromConfig(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	p, err := FromConfig(config.LLMConfig{}, quiet)
	if err != nil || p != nil {
		t.Fatalf("expected no provider without key, got %v %v", p, err)
	}
	p, err = FromConfig(config.LLMConfig{Provider: "anthropic", APIKey: "k"}, quiet)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := p.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("anthropic embed should be unsupported, got %v", err)
	}
	if _, err := FromConfig(config.LLMConfig{Provider: "mystery", APIKey: "k"}, quiet); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestDuplicateJudgeParsesFencedReply(t *testing.T) {
	p := &stubProvider{reply: "```json\n{\"is_duplicate\": true, \"reason\": \"same story\"}\n```"}
	j := DuplicateJudge{Provider: p}
	dup, err := j.Judge(context.Background(), dedup.Candidate{Topic: "Fed hikes rates"}, []string{"Federal Reserve raises rates", "AI launch"})
	if err != nil || !dup {
		t.Fatalf("expected duplicate, got %v %v", dup, err)
	}
	if !strings.Contains(p.prompt, "1. Federal Reserve raises rates") {
		t.Fatalf("prompt missing recent topics:\n%s", p.prompt)
	}

	j = DuplicateJudge{Provider: &stubProvider{reply: "I think so"}}
	if _, err := j.Judge(context.Background(), dedup.Candidate{Topic: "x"}, []string{"y"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTextEmbedder(t *testing.T) {
	e := TextEmbedder{Provider: &stubProvider{vecs: [][]float32{{0.1, 0.2}}}}
	vec, err := e.Embed(context.Background(), "x")
	if err != nil || len(vec) != 2 {
		t.Fatalf("Embed: %v %v", vec, err)
	}
	e = TextEmbedder{Provider: &stubProvider{}}
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on empty embedding")
	}
}

func TestClassifier(t *testing.T) {
	c := Classifier{Provider: &stubProvider{reply: `Sure: {"mode":"NEWS","query":"AI chips"}`}}
	in, err := c.Classify(context.Background(), "what's new with AI chips?")
	if err != nil || in.Mode != "news" || in.Query != "AI chips" {
		t.Fatalf("unexpected intent %+v %v", in, err)
	}
	c = Classifier{Provider: &stubProvider{reply: "Hello there!"}}
	in, err = c.Classify(context.Background(), "hi")
	if err != nil || in.Mode != "chat" || in.Reply != "Hello there!" {
		t.Fatalf("plain reply should be chat, got %+v %v", in, err)
	}
	c = Classifier{Provider: &stubProvider{err: errors.New("timeout")}}
	if _, err := c.Classify(context.Background(), "hi"); err == nil {
		t.Fatalf("expected provider error")
	}
}
