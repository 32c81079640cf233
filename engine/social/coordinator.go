package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/pkg/textmeta"
)

const (
	// PollInterval is fixed by the caller's design, independent of the
	// job's own expected duration.
	PollInterval = 2 * time.Second
	// DefaultTopN is how many ranked posts survive a completed job.
	DefaultTopN = 30
	// postBodyCap bounds one social post's text.
	postBodyCap = 10 << 10
)

// Ledger persists job state so polling can resume across process restarts
// and so at most one job is active per creator and source type.
type Ledger interface {
	ActiveJob(ctx context.Context, creator string, source domain.SourceType) (*domain.ExtractionJob, error)
	SaveJob(ctx context.Context, job domain.ExtractionJob) error
}

// Coordinator drives the submit/poll/complete protocol for one actor.
type Coordinator struct {
	actor    Actor
	ledger   Ledger
	interval time.Duration
	topN     int
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	log      *slog.Logger
}

// NewCoordinator creates a Coordinator polling at PollInterval.
func NewCoordinator(actor Actor, ledger Ledger, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		actor:    actor,
		ledger:   ledger,
		interval: PollInterval,
		topN:     DefaultTopN,
		sleep:    sleepCtx,
		now:      time.Now,
		log:      log,
	}
}

// Submit starts a remote harvest. One job per creator and source type may be
// active at a time; a second submit while one runs fails, it does not attach.
// Submit failure is terminal for the run; resubmission is a user action.
func (c *Coordinator) Submit(ctx context.Context, creator, handle string, source domain.SourceType) (domain.ExtractionJob, error) {
	var zero domain.ExtractionJob

	if active, err := c.ledger.ActiveJob(ctx, creator, source); err != nil {
		return zero, fmt.Errorf("%w: ledger: %v", domain.ErrJobSubmit, err)
	} else if active != nil {
		return zero, fmt.Errorf("%w: %s (job %s)", domain.ErrJobActive, active.IdempotencyKey(), active.JobID)
	}

	job, err := c.actor.Submit(ctx, SubmitRequest{Creator: creator, Handle: handle, Source: source})
	if err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrJobSubmit, err)
	}
	if err := c.ledger.SaveJob(ctx, job); err != nil {
		return zero, fmt.Errorf("%w: ledger: %v", domain.ErrJobSubmit, err)
	}

	c.log.Info("job submitted", "job_id", job.JobID, "creator", creator, "source", source,
		"eta_seconds", job.EstimatedDurationSeconds)
	return job, nil
}

// Resume finds the active job for a creator and source and awaits it. This
// is the restart path: no resubmission, the persisted jobId is enough.
func (c *Coordinator) Resume(ctx context.Context, creator string, source domain.SourceType) ([]domain.ContentSource, error) {
	active, err := c.ledger.ActiveJob(ctx, creator, source)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger: %v", domain.ErrJobPoll, err)
	}
	if active == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoActiveJob, creator, source)
	}
	return c.Await(ctx, *active)
}

// Await polls the job on a fixed interval until it is terminal. Caller
// cancellation stops polling and marks the job abandoned locally; the
// remote job is left to finish on its own.
func (c *Coordinator) Await(ctx context.Context, job domain.ExtractionJob) ([]domain.ContentSource, error) {
	for {
		update, err := c.actor.Status(ctx, job.JobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.abandon(job)
				return nil, fmt.Errorf("%w: %v", domain.ErrJobPoll, ctxErr)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrJobPoll, err)
		}

		job = c.advance(ctx, job, update.Status)

		switch update.Status {
		case domain.JobCompleted:
			return c.complete(job, update.Posts), nil
		case domain.JobFailed:
			return nil, fmt.Errorf("%w: job %s reported failed", domain.ErrJobPoll, job.JobID)
		}

		if err := c.sleep(ctx, c.interval); err != nil {
			c.abandon(job)
			return nil, fmt.Errorf("%w: %v", domain.ErrJobPoll, err)
		}
	}
}

// advance persists a forward status transition. Backward transitions are
// ignored; a terminal job never changes again.
func (c *Coordinator) advance(ctx context.Context, job domain.ExtractionJob, status domain.JobStatus) domain.ExtractionJob {
	if job.Status.Terminal() || job.Status == status {
		return job
	}
	if job.Status == domain.JobRunning && status == domain.JobPending {
		return job
	}
	job.Status = status
	if status.Terminal() {
		t := c.now().UTC()
		job.CompletedAt = &t
	}
	if err := c.ledger.SaveJob(ctx, job); err != nil {
		c.log.Warn("job state save failed", "job_id", job.JobID, "status", status, "error", err)
	}
	return job
}

// abandon records that the caller stopped caring. Uses a fresh context: the
// caller's one is already dead.
func (c *Coordinator) abandon(job domain.ExtractionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.advance(ctx, job, domain.JobAbandoned)
	c.log.Info("job abandoned", "job_id", job.JobID)
}

// complete ranks the raw posts and converts the top slice into content
// records. Ranking is pure and independent of how the polling went.
func (c *Coordinator) complete(job domain.ExtractionJob, posts []Post) []domain.ContentSource {
	w := WeightsFor(job.SourceType)
	ranked := Rank(posts, w, c.topN)

	out := make([]domain.ContentSource, 0, len(ranked))
	seen := make(map[string]bool, len(ranked))
	for _, p := range ranked {
		if p.URL == "" || seen[p.URL] || strings.TrimSpace(p.Text) == "" {
			continue
		}
		seen[p.URL] = true
		posted := p.PostedAt
		item := domain.ContentSource{
			SourceType:       job.SourceType,
			URL:              p.URL,
			Title:            postTitle(p.Text),
			Body:             textmeta.Truncate(p.Text, postBodyCap),
			EngagementScore:  w.Score(p),
			ExtractionMethod: domain.MethodPrimary,
			ExtractedAt:      c.now(),
		}
		if !posted.IsZero() {
			item.PublishedAt = &posted
		}
		out = append(out, item)
	}
	return out
}

// postTitle uses the first line of a post as its title.
func postTitle(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(textmeta.Truncate(line, 80))
}

// ErrNoActiveJob reports Resume finding nothing to resume.
var ErrNoActiveJob = errors.New("no active job")

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
