package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/engine/social"
)

// completedActor reports every job completed on the first poll.
type completedActor struct {
	posts   []social.Post
	submits int
}

func (a *completedActor) Submit(_ context.Context, req social.SubmitRequest) (domain.ExtractionJob, error) {
	a.submits++
	return domain.ExtractionJob{
		JobID: "job-1", Creator: req.Creator, SourceType: req.Source,
		Status: domain.JobPending, SubmittedAt: time.Now().UTC(),
	}, nil
}

func (a *completedActor) Status(context.Context, string) (social.JobUpdate, error) {
	return social.JobUpdate{Status: domain.JobCompleted, Posts: a.posts}, nil
}

type memStore struct {
	mu      sync.Mutex
	runs    []domain.PipelineRun
	sources map[string][]domain.ContentSource
}

func newMemStore() *memStore {
	return &memStore{sources: make(map[string][]domain.ContentSource)}
}

func (s *memStore) SaveRun(_ context.Context, run domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) SaveSources(_ context.Context, runID string, items []domain.ContentSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[runID] = append(s.sources[runID], items...)
	return nil
}

func blogPipeline(mapperLinks []string, mapperErr error) *SyncPipeline {
	return newSyncPipeline(stubMapper{links: mapperLinks, err: mapperErr}, stubClassifier{}, stubExtractor{}, nil)
}

func socialCoordinator(actor social.Actor) *social.Coordinator {
	return social.NewCoordinator(actor, social.NewMemLedger(), discard())
}

func TestOrchestratorRunMergesSources(t *testing.T) {
	actor := &completedActor{posts: []social.Post{{URL: "https://t.co/1", Text: "hot take", Likes: 5}}}
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline([]string{"https://b.com/posts/1"}, nil)},
		socialCoordinator(actor), nil, nil, discard())

	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane",
		SiteURL: "https://b.com",
		Handles: map[domain.SourceType]string{domain.SourceTwitter: "@jane"},
		Sources: []domain.SourceType{domain.SourceBlog, domain.SourceTwitter},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Sources[domain.SourceBlog]) != 1 || len(run.Sources[domain.SourceTwitter]) != 1 {
		t.Fatalf("sources = %+v", run.Sources)
	}
	if run.CompletedAt == nil || run.ID == "" {
		t.Fatal("run must be stamped complete with an id")
	}
}

func TestOrchestratorSourceIsolation(t *testing.T) {
	// Blog discovery is down and there is no fallback engine; twitter still
	// completes and the run still finishes.
	actor := &completedActor{posts: []social.Post{{URL: "https://t.co/1", Text: "still here", Likes: 1}}}
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline(nil, errors.New("down"))},
		socialCoordinator(actor), nil, nil, discard())

	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane",
		SiteURL: "https://b.com",
		Handles: map[domain.SourceType]string{domain.SourceTwitter: "@jane"},
		Sources: []domain.SourceType{domain.SourceBlog, domain.SourceTwitter},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Sources[domain.SourceBlog]) != 0 {
		t.Fatal("failed source should contribute nothing")
	}
	if len(run.Sources[domain.SourceTwitter]) != 1 {
		t.Fatal("healthy source must be unaffected by the failed one")
	}
}

func TestOrchestratorRejectsInvalidRequest(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, discard())
	if _, err := o.Run(context.Background(), domain.HarvestRequest{}); err == nil {
		t.Fatal("empty request must be rejected")
	}
	if _, err := o.Start(context.Background(), domain.HarvestRequest{Creator: "jane"}); err == nil {
		t.Fatal("request without sources must be rejected")
	}
}

func TestOrchestratorEventOrder(t *testing.T) {
	var mu sync.Mutex
	var events []ProgressEvent
	sink := func(_ context.Context, ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline([]string{"https://b.com/posts/1"}, nil)},
		nil, nil, sink, discard())

	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane", SiteURL: "https://b.com", Sources: []domain.SourceType{domain.SourceBlog},
	})
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{domain.StageDiscover, domain.StageClassify, domain.StageExtract}
	if len(events) != 3 {
		t.Fatalf("events = %d", len(events))
	}
	for i, ev := range events {
		if ev.Step.Stage != want[i] {
			t.Fatalf("event %d stage = %s, want %s", i, ev.Step.Stage, want[i])
		}
		if ev.RunID != run.ID {
			t.Fatal("events must carry the run id")
		}
	}
}

func TestOrchestratorSkipsUnconfiguredSource(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, discard())
	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane", Sources: []domain.SourceType{domain.SourceNewsletter, domain.SourceLinkedIn},
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.TotalItems() != 0 {
		t.Fatal("unconfigured sources should yield nothing")
	}
	skippedCount := 0
	for _, s := range run.Steps {
		if s.Status == domain.StepSkipped {
			skippedCount++
		}
	}
	if skippedCount != 2 {
		t.Fatalf("expected 2 skipped steps, got %d in %+v", skippedCount, run.Steps)
	}
}

func TestOrchestratorPersists(t *testing.T) {
	store := newMemStore()
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline([]string{"https://b.com/posts/1"}, nil)},
		nil, store, nil, discard())

	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane", SiteURL: "https://b.com", Sources: []domain.SourceType{domain.SourceBlog},
	})
	if err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.runs) != 1 || store.runs[0].ID != run.ID {
		t.Fatalf("runs persisted = %d", len(store.runs))
	}
	if len(store.sources[run.ID]) != 1 {
		t.Fatalf("sources persisted = %d", len(store.sources[run.ID]))
	}
}

func TestOrchestratorSnapshot(t *testing.T) {
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline([]string{"https://b.com/posts/1"}, nil)},
		nil, nil, nil, discard())

	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane", SiteURL: "https://b.com", Sources: []domain.SourceType{domain.SourceBlog},
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, ok := o.Snapshot(run.ID)
	if !ok || snap.CompletedAt == nil {
		t.Fatalf("snapshot = %+v, %v", snap, ok)
	}
	// The snapshot is a copy: mutating it must not touch the registry.
	snap.Steps = append(snap.Steps, domain.PipelineStepResult{Stage: "bogus"})
	again, _ := o.Snapshot(run.ID)
	if len(again.Steps) == len(snap.Steps) {
		t.Fatal("snapshot must not alias internal state")
	}

	if _, ok := o.Snapshot("missing"); ok {
		t.Fatal("unknown id should report not found")
	}
}

func TestOrchestratorStartIsAsync(t *testing.T) {
	o := NewOrchestrator(
		map[domain.SourceType]*SyncPipeline{domain.SourceBlog: blogPipeline([]string{"https://b.com/posts/1"}, nil)},
		nil, nil, nil, discard())

	id, err := o.Start(context.Background(), domain.HarvestRequest{
		Creator: "jane", SiteURL: "https://b.com", Sources: []domain.SourceType{domain.SourceBlog},
	})
	if err != nil || id == "" {
		t.Fatalf("Start = %q, %v", id, err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if snap, ok := o.Snapshot(id); ok && snap.CompletedAt != nil {
			if snap.TotalItems() != 1 {
				t.Fatalf("background run produced %d items", snap.TotalItems())
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("background run never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestratorAttachesToActiveJob(t *testing.T) {
	actor := &completedActor{posts: []social.Post{{URL: "https://t.co/1", Text: "take", Likes: 2}}}
	ledger := social.NewMemLedger()
	coord := social.NewCoordinator(actor, ledger, discard())

	// A job is already active for this creator and source.
	if _, err := coord.Submit(context.Background(), "jane", "@jane", domain.SourceTwitter); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(nil, coord, nil, nil, discard())
	run, err := o.Run(context.Background(), domain.HarvestRequest{
		Creator: "jane",
		Handles: map[domain.SourceType]string{domain.SourceTwitter: "@jane"},
		Sources: []domain.SourceType{domain.SourceTwitter},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Sources[domain.SourceTwitter]) != 1 {
		t.Fatal("orchestrator should attach to the active job and return its results")
	}
	if actor.submits != 1 {
		t.Fatalf("attach must not resubmit, submits = %d", actor.submits)
	}
}
