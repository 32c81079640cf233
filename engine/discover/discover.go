// Package discover finds candidate URLs on a creator's site with a single
// bounded site-map call. There is no recursive crawling here: discovery
// failure is terminal for the source and hands control to the fallback path.
package discover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
)

// DefaultLimit bounds the candidate set so downstream classification stays
// cheap.
const DefaultLimit = 100

// Mapper returns the URLs reachable from a root, bounded by limit.
type Mapper interface {
	Map(ctx context.Context, rootURL string, limit int) ([]string, error)
}

// Discoverer wraps a Mapper and applies the discovery contract: a transport
// error or an empty map both surface as ErrDiscovery.
type Discoverer struct {
	mapper Mapper
	limit  int
}

// New creates a Discoverer. limit <= 0 uses DefaultLimit.
func New(mapper Mapper, limit int) *Discoverer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Discoverer{mapper: mapper, limit: limit}
}

// Discover returns up to limit candidate URLs for a root. No retries: the
// caller's fallback strategy is the recovery path.
func (d *Discoverer) Discover(ctx context.Context, rootURL string) ([]string, error) {
	links, err := d.mapper.Map(ctx, rootURL, d.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s: %v", domain.ErrDiscovery, rootURL, err)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no urls mapped for %s", domain.ErrDiscovery, rootURL)
	}
	if len(links) > d.limit {
		links = links[:d.limit]
	}
	return links, nil
}

// HTTPMapper calls a site-mapping service: POST {url, limit} -> {links}.
type HTTPMapper struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPMapper creates a mapper against the given service base URL.
func NewHTTPMapper(baseURL, apiKey string) *HTTPMapper {
	return &HTTPMapper{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mapRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit"`
}

type mapResponse struct {
	Links []string `json:"links"`
}

// Map implements Mapper.
func (m *HTTPMapper) Map(ctx context.Context, rootURL string, limit int) ([]string, error) {
	body, _ := json.Marshal(mapRequest{URL: rootURL, Limit: limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/map", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("site map: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("site map: status %d", resp.StatusCode)
	}

	var mr mapResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("site map decode: %w", err)
	}
	return mr.Links, nil
}
