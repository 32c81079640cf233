// Package fetch implements the rate-limited, backoff-aware extraction
// primitive shared by every synchronous source pipeline. Partial success is
// the expected outcome: items that exhaust their retries are dropped, never
// fatal to the batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
	"github.com/VoiceraAI/voicera-mvp/pkg/resilience"
	"github.com/VoiceraAI/voicera-mvp/pkg/textmeta"
)

// Extractor turns one URL into markdown content.
type Extractor interface {
	Extract(ctx context.Context, url string) fn.Result[string]
}

// Fetcher applies one Profile to a URL set with per-item retry.
type Fetcher struct {
	profile Profile
	retry   fn.RetryOpts
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Fetcher for the given profile.
func New(profile Profile, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	retry := fn.DefaultRetry
	retry.RetryIf = IsRetryable
	return &Fetcher{
		profile: profile,
		retry:   retry,
		sleep:   sleepCtx,
		now:     time.Now,
		log:     log,
	}
}

// FetchAll extracts content for each URL under the fetcher's profile and
// returns the successful records, deduplicated by URL. The returned error is
// non-nil only when the fetch stage itself could not run; item failures are
// logged and dropped.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, ex Extractor, kind domain.SourceType, method domain.ExtractionMethod) ([]domain.ContentSource, error) {
	if ex == nil {
		return nil, fmt.Errorf("%w: no extractor configured", domain.ErrExtractionStage)
	}
	urls = fn.Unique(urls)
	if len(urls) == 0 {
		return nil, nil
	}

	var out []domain.ContentSource
	for i, batch := range fn.Chunk(urls, f.profile.BatchSize) {
		if i > 0 && f.profile.Delay > 0 {
			if err := f.sleep(ctx, f.profile.Delay); err != nil {
				return out, fmt.Errorf("%w: %v", domain.ErrExtractionStage, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%w: %v", domain.ErrExtractionStage, err)
		}

		results := fn.ParMapResult(batch, f.profile.BatchSize, func(u string) fn.Result[domain.ContentSource] {
			return f.fetchOne(ctx, u, ex, kind, method)
		})
		for j, r := range results {
			if item, err := r.Unwrap(); err != nil {
				f.log.Warn("item dropped", "url", batch[j], "kind", kind, "error", err)
			} else {
				out = append(out, item)
			}
		}
	}

	return fn.UniqueBy(out, func(c domain.ContentSource) string { return c.URL }), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, url string, ex Extractor, kind domain.SourceType, method domain.ExtractionMethod) fn.Result[domain.ContentSource] {
	body := fn.Retry(ctx, f.retry, func(ctx context.Context) fn.Result[string] {
		return ex.Extract(ctx, url)
	})
	md, err := body.Unwrap()
	if err != nil {
		return fn.Err[domain.ContentSource](fmt.Errorf("%w: %s: %v", domain.ErrExtractionItem, url, err))
	}

	item := f.assemble(url, md, kind, method)
	if err := domain.ValidateContentSource(item); err != nil {
		return fn.Err[domain.ContentSource](fmt.Errorf("%w: %v", domain.ErrExtractionItem, err))
	}
	return fn.Ok(item)
}

// assemble builds a ContentSource from raw markdown. Title and publish date
// are heuristic and never fail the item.
func (f *Fetcher) assemble(url, md string, kind domain.SourceType, method domain.ExtractionMethod) domain.ContentSource {
	body := textmeta.Truncate(md, f.profile.BodyCap)
	title := textmeta.Title(body)
	if title == "" {
		title = textmeta.TitleFromURL(url)
	}
	return domain.ContentSource{
		SourceType:       kind,
		URL:              url,
		Title:            title,
		Body:             body,
		PublishedAt:      textmeta.PublishedAt(url),
		ExtractionMethod: method,
		ExtractedAt:      f.now(),
	}
}

// IsRetryable reports whether an item error is worth another attempt:
// rate-limit responses and timeouts count toward the retry ceiling,
// anything else drops the item immediately.
func IsRetryable(err error) bool {
	if errors.Is(err, resilience.ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
