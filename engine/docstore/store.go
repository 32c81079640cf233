// Package docstore is the thin adapter over the external document store.
// Persistence is delegated here wholesale: the pipeline core never talks to
// a database directly. The store also carries the extraction-job ledger
// that makes async coordination resumable across process restarts.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	runsCollection    = "pipeline_runs"
	sourcesCollection = "content_sources"
	jobsCollection    = "extraction_jobs"
)

// Store wraps a mongo database.
type Store struct {
	db *mongo.Database
}

// Connect dials mongo and verifies connectivity.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("docstore ping: %w", err)
	}
	return &Store{db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// SaveRun upserts a pipeline run snapshot by run ID.
func (s *Store) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	_, err := s.db.Collection(runsCollection).ReplaceOne(ctx,
		bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRun returns a run by ID, or nil when unknown.
func (s *Store) LoadRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := s.db.Collection(runsCollection).FindOne(ctx, bson.M{"_id": runID}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &run, nil
}

// sourceDoc keys a content record to its run for later export.
type sourceDoc struct {
	RunID   string               `bson:"run_id"`
	Item    domain.ContentSource `bson:"item"`
	SavedAt time.Time            `bson:"saved_at"`
}

// SaveSources appends a run's content records.
func (s *Store) SaveSources(ctx context.Context, runID string, items []domain.ContentSource) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]any, len(items))
	now := time.Now().UTC()
	for i, item := range items {
		docs[i] = sourceDoc{RunID: runID, Item: item, SavedAt: now}
	}
	if _, err := s.db.Collection(sourcesCollection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("save sources for run %s: %w", runID, err)
	}
	return nil
}

// SaveJob upserts a job by its remote job ID. Implements social.Ledger.
func (s *Store) SaveJob(ctx context.Context, job domain.ExtractionJob) error {
	_, err := s.db.Collection(jobsCollection).ReplaceOne(ctx,
		bson.M{"job_id": job.JobID}, job, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.JobID, err)
	}
	return nil
}

// ActiveJob returns the non-terminal job for a creator and source type, or
// nil when none is running. Implements social.Ledger; this is the
// idempotency check behind one-active-job-per-creator-and-source.
func (s *Store) ActiveJob(ctx context.Context, creator string, source domain.SourceType) (*domain.ExtractionJob, error) {
	filter := bson.M{
		"creator":     creator,
		"source_type": source,
		"status":      bson.M{"$in": []domain.JobStatus{domain.JobPending, domain.JobRunning}},
	}
	var job domain.ExtractionJob
	err := s.db.Collection(jobsCollection).FindOne(ctx, filter,
		options.FindOne().SetSort(bson.M{"submitted_at": -1})).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job %s/%s: %w", creator, source, err)
	}
	return &job, nil
}
