package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/engine/social"
	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
	"github.com/google/uuid"
)

// ProgressEvent is one stage completion, published as it happens so a UI
// can follow a long run without polling internal state.
type ProgressEvent struct {
	RunID string                    `json:"run_id"`
	Step  domain.PipelineStepResult `json:"step"`
}

// EventSink receives progress events. Publish failures are the sink's
// problem; the pipeline never blocks on observers.
type EventSink func(ctx context.Context, ev ProgressEvent)

// Store persists completed runs. Optional: a nil store keeps runs in memory
// only.
type Store interface {
	SaveRun(ctx context.Context, run domain.PipelineRun) error
	SaveSources(ctx context.Context, runID string, items []domain.ContentSource) error
}

// Orchestrator runs per-source pipelines concurrently and aggregates them
// into PipelineRun values keyed by opaque run IDs. There is no ambient
// "current pipeline" state; every run is an explicit value in the registry.
type Orchestrator struct {
	syncs map[domain.SourceType]*SyncPipeline
	coord *social.Coordinator
	store Store
	sink  EventSink
	log   *slog.Logger
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	runs map[string]*domain.PipelineRun
}

// NewOrchestrator wires the orchestrator. syncs maps blog/newsletter to
// their pipelines; coord may be nil when no async sources are configured.
func NewOrchestrator(syncs map[domain.SourceType]*SyncPipeline, coord *social.Coordinator, store Store, sink EventSink, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		syncs: syncs,
		coord: coord,
		store: store,
		sink:  sink,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
		runs:  make(map[string]*domain.PipelineRun),
	}
}

// Run executes all requested source pipelines concurrently and blocks until
// every one is terminal. One source failing never prevents the others from
// completing or being reported.
func (o *Orchestrator) Run(ctx context.Context, req domain.HarvestRequest) (domain.PipelineRun, error) {
	if err := domain.ValidateHarvestRequest(req); err != nil {
		return domain.PipelineRun{}, err
	}
	return o.runWithID(ctx, o.newID(), req), nil
}

// Start launches the run in the background and returns the run ID
// immediately. Progress is observable through Snapshot and the event sink.
func (o *Orchestrator) Start(ctx context.Context, req domain.HarvestRequest) (string, error) {
	if err := domain.ValidateHarvestRequest(req); err != nil {
		return "", err
	}
	id := o.newID()
	go o.runWithID(context.WithoutCancel(ctx), id, req)
	return id, nil
}

func (o *Orchestrator) runWithID(ctx context.Context, id string, req domain.HarvestRequest) domain.PipelineRun {
	run := &domain.PipelineRun{
		ID:        id,
		Creator:   req.Creator,
		StartedAt: o.now().UTC(),
		Sources:   make(map[domain.SourceType][]domain.ContentSource, len(req.Sources)),
	}
	o.register(run)

	sources := fn.Unique(req.Sources)
	report := func(step domain.PipelineStepResult) {
		o.recordStep(ctx, run.ID, step)
	}

	results := fn.FanOut(fn.Map(sources, func(src domain.SourceType) func() sourceResult {
		return func() sourceResult {
			return o.runSource(ctx, req, src, report)
		}
	})...)

	o.mu.Lock()
	for _, r := range results {
		run.Sources[r.source] = r.items
	}
	done := o.now().UTC()
	run.CompletedAt = &done
	snapshot := *run
	o.mu.Unlock()

	o.persist(ctx, snapshot)
	o.log.Info("run complete", "run_id", snapshot.ID, "creator", snapshot.Creator,
		"items", snapshot.TotalItems(), "duration", done.Sub(snapshot.StartedAt))
	return snapshot
}

// Snapshot returns a copy of a run's current state.
func (o *Orchestrator) Snapshot(runID string) (domain.PipelineRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[runID]
	if !ok {
		return domain.PipelineRun{}, false
	}
	out := *run
	out.Steps = append([]domain.PipelineStepResult(nil), run.Steps...)
	out.Sources = make(map[domain.SourceType][]domain.ContentSource, len(run.Sources))
	for k, v := range run.Sources {
		out.Sources[k] = v
	}
	return out, true
}

type sourceResult struct {
	source domain.SourceType
	items  []domain.ContentSource
}

// runSource dispatches one source to its pipeline and normalizes the output:
// validated, deduplicated by URL, never an error.
func (o *Orchestrator) runSource(ctx context.Context, req domain.HarvestRequest, src domain.SourceType, report StepFunc) sourceResult {
	var items []domain.ContentSource
	if src.Async() {
		items = o.runAsync(ctx, req, src, report)
	} else {
		items = o.runSync(ctx, req, src, report)
	}
	return sourceResult{source: src, items: dedupe(items)}
}

func (o *Orchestrator) runSync(ctx context.Context, req domain.HarvestRequest, src domain.SourceType, report StepFunc) []domain.ContentSource {
	p, ok := o.syncs[src]
	if !ok {
		report(skipped(src, domain.StageDiscover, o.now(), "no pipeline configured"))
		return nil
	}
	root := req.SiteURL
	if src == domain.SourceNewsletter {
		root = req.NewsletterURL
	}
	if root == "" {
		report(skipped(src, domain.StageDiscover, o.now(), "no root url provided"))
		return nil
	}
	return p.Run(ctx, req.Creator, root, report)
}

// runAsync submits (or resumes) the external job and polls it to a terminal
// state. Submit and poll failures terminate this source only.
func (o *Orchestrator) runAsync(ctx context.Context, req domain.HarvestRequest, src domain.SourceType, report StepFunc) []domain.ContentSource {
	if o.coord == nil {
		report(skipped(src, domain.StageSubmit, o.now(), "no coordinator configured"))
		return nil
	}
	handle := req.Handles[src]
	if handle == "" {
		report(skipped(src, domain.StageSubmit, o.now(), "no handle provided"))
		return nil
	}

	start := o.now()
	job, err := o.coord.Submit(ctx, req.Creator, handle, src)
	if errors.Is(err, domain.ErrJobActive) {
		// A previous invocation already has a job running for this creator
		// and source; attach to it instead of failing the source.
		report(stepResult(src, domain.StageSubmit, start, 0, domain.StepOK, "resuming active job", o.now()))
		pollStart := o.now()
		items, err := o.coord.Resume(ctx, req.Creator, src)
		report(stepFromErr(src, domain.StagePoll, pollStart, len(items), err, o.now()))
		return items
	}
	if err != nil {
		report(stepFromErr(src, domain.StageSubmit, start, 0, err, o.now()))
		return nil
	}
	report(stepFromErr(src, domain.StageSubmit, start, 0, nil, o.now()))

	pollStart := o.now()
	items, err := o.coord.Await(ctx, job)
	report(stepFromErr(src, domain.StagePoll, pollStart, len(items), err, o.now()))
	return items
}

func (o *Orchestrator) register(run *domain.PipelineRun) {
	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()
}

func (o *Orchestrator) recordStep(ctx context.Context, runID string, step domain.PipelineStepResult) {
	o.mu.Lock()
	if run, ok := o.runs[runID]; ok {
		run.Steps = append(run.Steps, step)
	}
	o.mu.Unlock()
	if o.sink != nil {
		o.sink(ctx, ProgressEvent{RunID: runID, Step: step})
	}
}

func (o *Orchestrator) persist(ctx context.Context, run domain.PipelineRun) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		o.log.Error("run persist failed", "run_id", run.ID, "error", err)
	}
	for _, items := range run.Sources {
		if err := o.store.SaveSources(ctx, run.ID, items); err != nil {
			o.log.Error("sources persist failed", "run_id", run.ID, "error", err)
		}
	}
}

func skipped(src domain.SourceType, stage string, at time.Time, reason string) domain.PipelineStepResult {
	return domain.PipelineStepResult{
		Source: src, Stage: stage, Status: domain.StepSkipped,
		Error: reason, StartedAt: at,
	}
}

func stepResult(src domain.SourceType, stage string, start time.Time, count int, status, errStr string, now time.Time) domain.PipelineStepResult {
	return domain.PipelineStepResult{
		Source: src, Stage: stage, Status: status, Error: errStr,
		Count: count, StartedAt: start, Duration: now.Sub(start),
	}
}

func stepFromErr(src domain.SourceType, stage string, start time.Time, count int, err error, now time.Time) domain.PipelineStepResult {
	status := domain.StepOK
	errStr := ""
	if err != nil {
		status = domain.StepFailed
		errStr = err.Error()
	} else if count == 0 && stage == domain.StagePoll {
		status = domain.StepEmpty
	}
	return stepResult(src, stage, start, count, status, errStr, now)
}
