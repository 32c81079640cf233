// Package fallback queries a general-purpose answer engine for a creator's
// best-known pieces when primary discovery comes up empty. The engine is any
// chat-completion service that can ground its answers in web search; the
// returned URLs go back through the same rate-limited fetcher, tagged as
// fallback data.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultTopN is how many pieces the engine is asked for.
	DefaultTopN = 10
	// queryTimeout bounds the answer-engine call. Grounded answers are slow,
	// so this is looser than the extraction timeout.
	queryTimeout = 45 * time.Second
)

// Lead is one piece the answer engine attributes to the creator.
type Lead struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Themes  []string `json:"themes"`
	Summary string   `json:"summary"`
}

// Engine wraps the answer service behind the OpenAI-compatible chat API.
type Engine struct {
	client openai.Client
	model  string
	topN   int
	log    *slog.Logger
}

// New creates an Engine. The client is typically pointed at an
// OpenAI-compatible search/answer provider via a base URL option.
func New(client openai.Client, model string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{client: client, model: model, topN: DefaultTopN, log: log}
}

// FindTopPieces asks the engine for the creator's best-known writing of the
// given kind. Returns only leads with usable URLs.
func (e *Engine) FindTopPieces(ctx context.Context, creator string, kind domain.SourceType) ([]Lead, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	completion, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(`Respond with only a single JSON object: {"pieces": [{"title": "...", "url": "...", "themes": ["..."], "summary": "..."}]}`),
			openai.UserMessage(e.query(creator, kind)),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("answer engine: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("answer engine: no completion choices")
	}

	leads := parseLeads(completion.Choices[0].Message.Content)
	if len(leads) == 0 {
		return nil, fmt.Errorf("answer engine: no usable pieces in response")
	}
	return leads, nil
}

func (e *Engine) query(creator string, kind domain.SourceType) string {
	noun := "blog posts or essays"
	if kind == domain.SourceNewsletter {
		noun = "newsletter issues"
	}
	return fmt.Sprintf(
		"Find the top %d most notable %s written by %s. For each, give the exact public URL, the title, main themes, and a one-sentence summary.",
		e.topN, noun, creator,
	)
}

// parseLeads tolerates the contract object, a bare array, or any key that
// holds the expected array. Unparseable responses yield nil.
func parseLeads(raw string) []Lead {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var arr []Lead
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return usable(arr)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	for _, key := range []string{"pieces", "results", "articles"} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &arr); err == nil {
				return usable(arr)
			}
		}
	}
	for _, v := range obj {
		if err := json.Unmarshal(v, &arr); err == nil && len(arr) > 0 {
			return usable(arr)
		}
	}
	return nil
}

func usable(leads []Lead) []Lead {
	var out []Lead
	for _, l := range leads {
		if strings.HasPrefix(l.URL, "http://") || strings.HasPrefix(l.URL, "https://") {
			out = append(out, l)
		}
	}
	return out
}

// URLs extracts the lead URLs in order.
func URLs(leads []Lead) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.URL
	}
	return out
}
