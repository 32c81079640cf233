// Package domain defines the content model and error taxonomy for the
// creator harvest pipeline. It acts as the validation gate at the points
// where per-source results are merged.
package domain

import "time"

// SourceType identifies a harvest source and its rate-limit regime.
type SourceType string

const (
	SourceBlog       SourceType = "blog"
	SourceNewsletter SourceType = "newsletter"
	SourceTwitter    SourceType = "twitter"
	SourceLinkedIn   SourceType = "linkedin"
)

// ValidSourceTypes is the set of recognised source types.
var ValidSourceTypes = map[SourceType]bool{
	SourceBlog: true, SourceNewsletter: true,
	SourceTwitter: true, SourceLinkedIn: true,
}

// Async reports whether a source is harvested by a long-running external
// actor rather than within a single request lifetime.
func (s SourceType) Async() bool {
	return s == SourceTwitter || s == SourceLinkedIn
}

// ExtractionMethod records which strategy produced a record. Callers must
// be able to tell best-effort fallback data from primary data.
type ExtractionMethod string

const (
	MethodPrimary  ExtractionMethod = "primary"
	MethodFallback ExtractionMethod = "fallback"
)

// ContentSource is the canonical unit of extracted content emitted by every
// harvester. URL is unique within one source type's result set.
type ContentSource struct {
	SourceType       SourceType       `json:"source_type" bson:"source_type"`
	URL              string           `json:"url" bson:"url"`
	Title            string           `json:"title,omitempty" bson:"title,omitempty"`
	Body             string           `json:"body" bson:"body"`
	PublishedAt      *time.Time       `json:"published_at,omitempty" bson:"published_at,omitempty"`
	EngagementScore  float64          `json:"engagement_score,omitempty" bson:"engagement_score,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method" bson:"extraction_method"`
	ExtractedAt      time.Time        `json:"extracted_at" bson:"extracted_at"`
}

// JobStatus tracks the lifecycle of an external extraction job. Transitions
// only move forward; a failed job is never resurrected.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	// JobAbandoned marks a job whose caller cancelled polling. The remote
	// actor may still finish; we just stop caring.
	JobAbandoned JobStatus = "abandoned"
)

// Terminal reports whether a status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobAbandoned
}

// ExtractionJob tracks one long-running external extraction operation.
type ExtractionJob struct {
	JobID       string     `json:"job_id" bson:"job_id"`
	Creator     string     `json:"creator" bson:"creator"`
	SourceType  SourceType `json:"source_type" bson:"source_type"`
	Status      JobStatus  `json:"status" bson:"status"`
	SubmittedAt time.Time  `json:"submitted_at" bson:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	// EstimatedDurationSeconds feeds UI ETAs only, never correctness.
	EstimatedDurationSeconds int `json:"estimated_duration_seconds,omitempty" bson:"estimated_duration_seconds,omitempty"`
}

// IdempotencyKey returns the key under which at most one non-terminal job
// may exist: one active harvest per creator and source type.
func (j ExtractionJob) IdempotencyKey() string {
	return j.Creator + "/" + string(j.SourceType)
}

// Pipeline stage names as reported in step results.
const (
	StageDiscover = "discover"
	StageClassify = "classify"
	StageExtract  = "extract"
	StageFallback = "fallback"
	StageSubmit   = "submit"
	StagePoll     = "poll"
	StageRank     = "rank"
)

// Step statuses.
const (
	StepOK      = "ok"
	StepEmpty   = "empty"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// PipelineStepResult records one stage of one source pipeline for
// diagnostics and progress reporting.
type PipelineStepResult struct {
	Source    SourceType    `json:"source" bson:"source"`
	Stage     string        `json:"stage" bson:"stage"`
	Status    string        `json:"status" bson:"status"`
	Error     string        `json:"error,omitempty" bson:"error,omitempty"`
	Count     int           `json:"count" bson:"count"`
	StartedAt time.Time     `json:"started_at" bson:"started_at"`
	Duration  time.Duration `json:"duration" bson:"duration"`
}

// PipelineRun aggregates one harvest invocation across all requested source
// types. Zero results for a requested source is a valid, reportable terminal
// state, not a failure of the run.
type PipelineRun struct {
	ID          string                         `json:"id" bson:"_id"`
	Creator     string                         `json:"creator" bson:"creator"`
	StartedAt   time.Time                      `json:"started_at" bson:"started_at"`
	CompletedAt *time.Time                     `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Sources     map[SourceType][]ContentSource `json:"sources" bson:"sources"`
	Steps       []PipelineStepResult           `json:"steps" bson:"steps"`
}

// TotalItems counts content records across all sources in the run.
func (r PipelineRun) TotalItems() int {
	n := 0
	for _, items := range r.Sources {
		n += len(items)
	}
	return n
}
