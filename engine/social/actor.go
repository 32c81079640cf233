// Package social coordinates the long-running external actors that harvest
// social platforms. An actor run takes 20-30+ minutes, far beyond a request
// lifetime, so extraction is split into submit and poll halves that survive
// a process restart.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/pkg/resilience"
	"golang.org/x/time/rate"
)

// Post is one raw social item as the actor reports it.
type Post struct {
	URL      string    `json:"url"`
	Text     string    `json:"text"`
	Likes    int       `json:"likes"`
	Shares   int       `json:"shares"`
	Replies  int       `json:"replies"`
	PostedAt time.Time `json:"posted_at"`
}

// SubmitRequest describes the harvest an actor should run.
type SubmitRequest struct {
	Creator string            `json:"creator"`
	Handle  string            `json:"handle"`
	Source  domain.SourceType `json:"source"`
}

// JobUpdate is one poll observation of a remote job.
type JobUpdate struct {
	Status domain.JobStatus `json:"status"`
	Posts  []Post           `json:"result,omitempty"`
}

// Actor is the submit/status surface of the external harvesting service.
type Actor interface {
	Submit(ctx context.Context, req SubmitRequest) (domain.ExtractionJob, error)
	Status(ctx context.Context, jobID string) (JobUpdate, error)
}

// HTTPActor talks to the actor service: POST /v1/jobs -> {job_id},
// GET /v1/status/{jobId} -> {status, result?}. Requests are paced so status
// polling for many concurrent runs stays inside the service's rate budget,
// and a shared circuit breaker fails polls fast once the service is clearly
// down instead of burning the budget on a dead endpoint.
type HTTPActor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewHTTPActor creates an actor client.
func NewHTTPActor(baseURL, apiKey string) *HTTPActor {
	return &HTTPActor{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

type submitResponse struct {
	JobID                    string `json:"job_id"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
}

// Submit implements Actor.
func (a *HTTPActor) Submit(ctx context.Context, req SubmitRequest) (domain.ExtractionJob, error) {
	var job domain.ExtractionJob
	err := a.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		job, err = a.doSubmit(ctx, req)
		return err
	})
	return job, err
}

func (a *HTTPActor) doSubmit(ctx context.Context, req SubmitRequest) (domain.ExtractionJob, error) {
	var job domain.ExtractionJob
	if err := a.limiter.Wait(ctx); err != nil {
		return job, err
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return job, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return job, fmt.Errorf("actor submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return job, fmt.Errorf("actor submit: status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return job, fmt.Errorf("actor submit decode: %w", err)
	}
	if sr.JobID == "" {
		return job, fmt.Errorf("actor submit: empty job id")
	}

	return domain.ExtractionJob{
		JobID:                    sr.JobID,
		Creator:                  req.Creator,
		SourceType:               req.Source,
		Status:                   domain.JobPending,
		SubmittedAt:              time.Now().UTC(),
		EstimatedDurationSeconds: sr.EstimatedDurationSeconds,
	}, nil
}

// Status implements Actor.
func (a *HTTPActor) Status(ctx context.Context, jobID string) (JobUpdate, error) {
	var update JobUpdate
	err := a.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		update, err = a.doStatus(ctx, jobID)
		return err
	})
	return update, err
}

func (a *HTTPActor) doStatus(ctx context.Context, jobID string) (JobUpdate, error) {
	var update JobUpdate
	if err := a.limiter.Wait(ctx); err != nil {
		return update, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/status/"+jobID, nil)
	if err != nil {
		return update, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return update, fmt.Errorf("actor status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return update, fmt.Errorf("actor status: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&update); err != nil {
		return update, fmt.Errorf("actor status decode: %w", err)
	}
	return update, nil
}
