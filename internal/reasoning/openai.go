package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/httpclient"
)

// OpenAI calls the chat completions and embeddings endpoints of an
// OpenAI-compatible API.
type OpenAI struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	http           *httpclient.Client
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.JudgeModel
	if model == "" {
		model = cfg.ChatModel
	}
	return &OpenAI{
		apiKey:         cfg.APIKey,
		baseURL:        base,
		model:          model,
		embeddingModel: cfg.EmbeddingModel,
		http:           httpclient.New(timeout, cfg.MaxRetries, 500*time.Millisecond),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatRequest{Model: o.model, Temperature: 0}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})

	var resp chatResponse
	if err := o.http.DoJSON(ctx, http.MethodPost, o.baseURL+"/chat/completions", o.headers(), req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAI) CanEmbed() bool { return o.embeddingModel != "" }

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if o.embeddingModel == "" {
		return nil, ErrUnsupported
	}
	body := map[string]any{"model": o.embeddingModel, "input": texts}
	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := o.http.DoJSON(ctx, http.MethodPost, o.baseURL+"/embeddings", o.headers(), body, &resp); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
