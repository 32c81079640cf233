// Package classify filters discovered URLs down to the ones worth paying
// for full extraction, using a cheap LLM pass. Classification failure is
// never fatal: an unusable model response degrades to zero candidates,
// which the caller recovers from via its fallback strategy.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// BatchSize bounds URLs per prompt to respect model context limits.
	BatchSize = 100
	// DefaultModel is the classification model.
	DefaultModel = "gpt-4o-mini"
)

// CapFor returns the maximum classified URLs retained per content kind.
func CapFor(kind domain.SourceType) int {
	switch kind {
	case domain.SourceBlog:
		return 50
	case domain.SourceNewsletter:
		return 30
	default:
		return 30
	}
}

// Classifier ranks candidate URLs by relevance to a creator's own writing.
type Classifier struct {
	client    openai.Client
	model     string
	batchSize int
	workers   int
	log       *slog.Logger
}

// New creates a Classifier. model == "" uses DefaultModel.
func New(client openai.Client, model string, log *slog.Logger) *Classifier {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		client:    client,
		model:     model,
		batchSize: BatchSize,
		workers:   4,
		log:       log,
	}
}

// Classify returns a relevance-ranked subset of urls, capped per kind.
// Batches run concurrently with no shared state; any batch whose response
// cannot be parsed contributes nothing. Model temperature is pinned to zero
// so repeated runs over the same inputs classify identically.
func (c *Classifier) Classify(ctx context.Context, urls []string, creator string, kind domain.SourceType) []string {
	if len(urls) == 0 {
		return nil
	}

	// Failed batches are dropped by the stage, contributing nothing.
	stage := fn.BatchStage(c.workers, func(ctx context.Context, batch []string) fn.Result[[]string] {
		r := c.classifyBatch(ctx, batch, creator, kind)
		if err := r.Error(); err != nil {
			c.log.Warn("classification batch degraded to empty", "kind", kind, "error", err)
		}
		return r
	})
	kept, _ := stage(ctx, fn.Chunk(urls, c.batchSize)).Unwrap()

	all := fn.FlatMap(kept, func(batch []string) []string { return batch })
	return fn.Cap(fn.Unique(all), CapFor(kind))
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []string, creator string, kind domain.SourceType) fn.Result[[]string] {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(batch, creator, kind)),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return fn.Err[[]string](fmt.Errorf("%w: %v", domain.ErrClassification, err))
	}
	if len(completion.Choices) == 0 {
		return fn.Err[[]string](fmt.Errorf("%w: no completion choices", domain.ErrClassification))
	}

	kept := ParseURLList(completion.Choices[0].Message.Content, kind)
	// Only keep URLs that were actually in the batch; models sometimes
	// invent plausible-looking ones.
	inBatch := make(map[string]bool, len(batch))
	for _, u := range batch {
		inBatch[u] = true
	}
	return fn.Ok(fn.Filter(kept, func(u string) bool { return inBatch[u] }))
}

const systemPrompt = `You classify URLs from a writer's website. ` +
	`Respond with only a single JSON object of the exact shape {"urls": [...]} ` +
	`listing the matching URLs in order of relevance. No prose, no markdown.`

func userPrompt(batch []string, creator string, kind domain.SourceType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From the URLs below, select the ones that are individual %s pieces written by %s.\n\n", kindNoun(kind), creator)
	b.WriteString("Keep URLs that look like:\n")
	b.WriteString("- dated paths (/2023/05/..., /2023-05-12-...)\n")
	b.WriteString("- article slugs (/posts/<slug>, /blog/<slug>, /p/<slug>, /essays/<slug>)\n")
	fmt.Fprintf(&b, "- known %s path prefixes\n\n", kindNoun(kind))
	b.WriteString("Drop URLs that look like:\n")
	b.WriteString("- navigation, home, about, contact, subscribe pages\n")
	b.WriteString("- legal pages (privacy, terms)\n")
	b.WriteString("- archive or index listings, tag and category pages\n")
	b.WriteString("- media files (images, pdf, rss/atom feeds)\n\n")
	b.WriteString("URLs:\n")
	for _, u := range batch {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	return b.String()
}

func kindNoun(kind domain.SourceType) string {
	switch kind {
	case domain.SourceNewsletter:
		return "newsletter issue"
	default:
		return "blog post"
	}
}
