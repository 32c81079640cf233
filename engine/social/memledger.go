package social

import (
	"context"
	"sync"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
)

// MemLedger is an in-process Ledger for one-shot runs and tests. Durable
// deployments use the document store instead.
type MemLedger struct {
	mu   sync.Mutex
	jobs map[string]domain.ExtractionJob
}

// NewMemLedger creates an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{jobs: make(map[string]domain.ExtractionJob)}
}

// SaveJob implements Ledger.
func (l *MemLedger) SaveJob(_ context.Context, job domain.ExtractionJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.JobID] = job
	return nil
}

// ActiveJob implements Ledger.
func (l *MemLedger) ActiveJob(_ context.Context, creator string, source domain.SourceType) (*domain.ExtractionJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, job := range l.jobs {
		if job.Creator == creator && job.SourceType == source && !job.Status.Terminal() {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

// Job returns a job by ID for inspection.
func (l *MemLedger) Job(jobID string) (domain.ExtractionJob, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[jobID]
	return j, ok
}
