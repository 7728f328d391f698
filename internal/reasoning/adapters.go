package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/trendwatch/internal/dedup"
)

const judgeSystem = `You deduplicate a news feed. Given a candidate item and the topics already published, decide whether the candidate reports the same story as any of them, even if worded differently. Reply with JSON only: {"is_duplicate": true|false, "reason": "..."}`

// DuplicateJudge asks the model whether a candidate repeats a recent topic.
type DuplicateJudge struct {
	Provider Provider
}

func (j DuplicateJudge) Judge(ctx context.Context, c dedup.Candidate, recentTopics []string) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate topic: %s\n", c.Topic)
	if c.Summary != "" {
		fmt.Fprintf(&b, "Candidate summary: %s\n", c.Summary)
	}
	if c.URL != "" {
		fmt.Fprintf(&b, "Candidate link: %s\n", c.URL)
	}
	b.WriteString("Recently published topics:\n")
	for i, t := range recentTopics {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	reply, err := j.Provider.Complete(ctx, judgeSystem, b.String())
	if err != nil {
		return false, err
	}
	var out struct {
		IsDuplicate bool `json:"is_duplicate"`
	}
	if err := decodeJSON(reply, &out); err != nil {
		return false, fmt.Errorf("judge reply: %w", err)
	}
	return out.IsDuplicate, nil
}

// TextEmbedder embeds a single text with the provider.
type TextEmbedder struct {
	Provider Provider
}

func (e TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("provider returned no embedding")
	}
	return vecs[0], nil
}

// Intent is the classifier's reading of a chat message.
type Intent struct {
	Mode  string `json:"mode"` // news or chat
	Query string `json:"query"`
	Reply string `json:"reply"`
}

const classifySystem = `You are an intelligent news assistant. If the user asks about trending topics, recent news or current events, answer in news mode with a short search query naming the topic. Otherwise answer in chat mode with a natural, helpful reply and do not fetch news. Reply with JSON only: {"mode": "news"|"chat", "query": "...", "reply": "..."}`

// Classifier decides whether a chat message asks for news.
type Classifier struct {
	Provider Provider
}

func (c Classifier) Classify(ctx context.Context, message string) (Intent, error) {
	reply, err := c.Provider.Complete(ctx, classifySystem, message)
	if err != nil {
		return Intent{}, err
	}
	var in Intent
	if err := decodeJSON(reply, &in); err != nil {
		// a plain-text answer is a chat reply
		return Intent{Mode: "chat", Reply: reply}, nil
	}
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	switch in.Mode {
	case "news":
		if strings.TrimSpace(in.Query) == "" {
			in.Query = message
		}
	case "chat":
	default:
		return Intent{}, fmt.Errorf("unknown mode %q", in.Mode)
	}
	return in, nil
}

// decodeJSON reads the first JSON object in s, tolerating code fences and
// surrounding prose.
func decodeJSON(s string, out any) error {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return errors.New("no json object in reply")
	}
	return json.Unmarshal([]byte(s[start:end+1]), out)
}
