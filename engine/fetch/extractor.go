package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
	"github.com/VoiceraAI/voicera-mvp/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// extractTimeout bounds one extraction call.
const extractTimeout = 30 * time.Second

// MarkdownExtractor fetches page content through a markdown-rendering proxy.
// A token bucket keyed to the proxy's documented ceiling guards every call,
// so no upstream concurrency setting can exceed the service limit, and a
// circuit breaker fails fast once the proxy is clearly down.
type MarkdownExtractor struct {
	proxyBase string
	apiKey    string
	client    *http.Client
	limiter   *resilience.Limiter
	breaker   *resilience.Breaker
}

// NewMarkdownExtractor creates an extractor against a markdown proxy such as
// https://r.jina.ai. limiter may be nil for services without a ceiling.
func NewMarkdownExtractor(proxyBase, apiKey string, limiter *resilience.Limiter) (*MarkdownExtractor, error) {
	if proxyBase == "" {
		return nil, fmt.Errorf("markdown extractor: proxy base URL required")
	}
	return &MarkdownExtractor{
		proxyBase: proxyBase,
		apiKey:    apiKey,
		client: &http.Client{
			Timeout:   extractTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		breaker: resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       30 * time.Second,
			HalfOpenMax:   1,
			Ignore: func(err error) bool {
				// 429s are the retry policy's problem, not an outage.
				return errors.Is(err, resilience.ErrRateLimited)
			},
		}),
	}, nil
}

// Extract implements Extractor. A 429 from the proxy surfaces as
// resilience.ErrRateLimited so the fetcher's backoff policy applies.
func (e *MarkdownExtractor) Extract(ctx context.Context, url string) fn.Result[string] {
	return resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return fn.Err[string](err)
			}
		}
		return e.doExtract(ctx, url)
	})
}

func (e *MarkdownExtractor) doExtract(ctx context.Context, url string) fn.Result[string] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.proxyBase+"/"+url, nil)
	if err != nil {
		return fn.Err[string](err)
	}
	req.Header.Set("Accept", "text/markdown")
	req.Header.Set("X-Return-Format", "markdown")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fn.Err[string](fmt.Errorf("extract %s: %w", url, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fn.Err[string](fmt.Errorf("extract %s: %w", url, resilience.ErrRateLimited))
	case resp.StatusCode != http.StatusOK:
		return fn.Err[string](fmt.Errorf("extract %s: status %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fn.Err[string](fmt.Errorf("extract %s: read: %w", url, err))
	}
	return fn.Ok(string(body))
}
