// Package pipeline composes discovery, classification, extraction, and the
// fallback strategy into per-source pipelines, and orchestrates them into
// one run. Errors are recovered at the narrowest scope: an item never fails
// a stage, a stage never fails its source, a source never fails the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/discover"
	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/engine/fallback"
	"github.com/VoiceraAI/voicera-mvp/engine/fetch"
	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
)

// StepFunc receives each stage result as it completes.
type StepFunc func(domain.PipelineStepResult)

// Classifier narrows a candidate URL set. Satisfied by *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, urls []string, creator string, kind domain.SourceType) []string
}

// FallbackEngine finds pieces when primary discovery fails. Satisfied by
// *fallback.Engine.
type FallbackEngine interface {
	FindTopPieces(ctx context.Context, creator string, kind domain.SourceType) ([]fallback.Lead, error)
}

// SyncPipeline harvests one synchronous source: blog or newsletter.
type SyncPipeline struct {
	kind       domain.SourceType
	discoverer *discover.Discoverer
	classifier Classifier
	fetcher    *fetch.Fetcher
	extractor  fetch.Extractor
	engine     FallbackEngine
	now        func() time.Time
	log        *slog.Logger
}

// NewSync wires a synchronous source pipeline.
func NewSync(kind domain.SourceType, d *discover.Discoverer, c Classifier, f *fetch.Fetcher, ex fetch.Extractor, fb FallbackEngine, log *slog.Logger) *SyncPipeline {
	if log == nil {
		log = slog.Default()
	}
	return &SyncPipeline{
		kind:       kind,
		discoverer: d,
		classifier: c,
		fetcher:    f,
		extractor:  ex,
		engine:     fb,
		now:        time.Now,
		log:        log,
	}
}

// Run executes Discover → Classify → Extract, switching to the fallback
// strategy when a stage fails or yields zero candidates. It never returns an
// error past the pipeline boundary: an empty result with recorded step
// errors is a valid terminal state.
func (p *SyncPipeline) Run(ctx context.Context, creator, rootURL string, report StepFunc) []domain.ContentSource {
	primary := fn.Then(p.discoverStage(report),
		fn.Then(fn.TapStage(func(_ context.Context, urls []string) {
			p.log.Debug("candidates discovered", "source", p.kind, "count", len(urls))
		}),
			fn.Then(p.classifyStage(creator, report), p.extractStage(report))))

	items, err := primary(ctx, rootURL).Unwrap()
	if err != nil {
		return p.runFallback(ctx, creator, report)
	}
	return items
}

func (p *SyncPipeline) discoverStage(report StepFunc) fn.Stage[string, []string] {
	return fn.TracedStage(string(p.kind)+".discover", func(ctx context.Context, rootURL string) fn.Result[[]string] {
		start := p.now()
		urls, err := p.discoverer.Discover(ctx, rootURL)
		p.step(report, domain.StageDiscover, start, len(urls), err)
		return fn.FromPair(urls, err)
	})
}

func (p *SyncPipeline) classifyStage(creator string, report StepFunc) fn.Stage[[]string, []string] {
	return fn.TracedStage(string(p.kind)+".classify", func(ctx context.Context, urls []string) fn.Result[[]string] {
		start := p.now()
		kept := p.classifier.Classify(ctx, urls, creator, p.kind)
		if len(kept) == 0 {
			err := fmt.Errorf("%w: zero candidates for %s", domain.ErrClassification, p.kind)
			p.step(report, domain.StageClassify, start, 0, err)
			return fn.Err[[]string](err)
		}
		p.step(report, domain.StageClassify, start, len(kept), nil)
		return fn.Ok(kept)
	})
}

func (p *SyncPipeline) extractStage(report StepFunc) fn.Stage[[]string, []domain.ContentSource] {
	return fn.TracedStage(string(p.kind)+".extract", func(ctx context.Context, urls []string) fn.Result[[]domain.ContentSource] {
		start := p.now()
		// A stage-level error here means primary extraction could not run
		// at all; per-item drops surface as a shorter result, never an error.
		items, err := p.fetcher.FetchAll(ctx, urls, p.extractor, p.kind, domain.MethodPrimary)
		p.step(report, domain.StageExtract, start, len(items), err)
		return fn.FromPair(items, err)
	})
}

// runFallback queries the answer engine once and fetches whatever it
// returns, under the same rate policy. Empty fallback output terminates the
// source with a recorded error, never a panic or propagated failure.
func (p *SyncPipeline) runFallback(ctx context.Context, creator string, report StepFunc) []domain.ContentSource {
	start := p.now()
	if p.engine == nil {
		p.step(report, domain.StageFallback, start, 0,
			fmt.Errorf("no fallback engine configured for %s", p.kind))
		return nil
	}

	leads, err := p.engine.FindTopPieces(ctx, creator, p.kind)
	if err != nil {
		p.step(report, domain.StageFallback, start, 0, err)
		return nil
	}

	items, err := p.fetcher.FetchAll(ctx, fallback.URLs(leads), p.extractor, p.kind, domain.MethodFallback)
	if err == nil && len(items) == 0 {
		err = fmt.Errorf("fallback produced no extractable content for %s", p.kind)
	}
	p.step(report, domain.StageFallback, start, len(items), err)
	return items
}

func (p *SyncPipeline) step(report StepFunc, stage string, start time.Time, count int, err error) {
	res := domain.PipelineStepResult{
		Source:    p.kind,
		Stage:     stage,
		Status:    domain.StepOK,
		Count:     count,
		StartedAt: start,
		Duration:  p.now().Sub(start),
	}
	switch {
	case err != nil:
		res.Status = domain.StepFailed
		res.Error = err.Error()
	case count == 0:
		res.Status = domain.StepEmpty
	}
	if report != nil {
		report(res)
	}
	p.log.Info("stage done", "source", p.kind, "stage", stage, "status", res.Status,
		"count", count, "duration", res.Duration)
}

// dedupe enforces URL uniqueness within one source's result set and drops
// records that fail validation, empty bodies included.
func dedupe(items []domain.ContentSource) []domain.ContentSource {
	valid := fn.Filter(items, func(c domain.ContentSource) bool {
		return domain.ValidateContentSource(c) == nil
	})
	return fn.UniqueBy(valid, func(c domain.ContentSource) string { return c.URL })
}
