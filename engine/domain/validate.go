package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validation sentinels.
var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrEmptyBody        = errors.New("empty body")
	ErrUnknownSource    = errors.New("unknown source type")
	ErrMethodUnset      = errors.New("extraction method not set")
	ErrEmptyCreator     = errors.New("empty creator name")
	ErrNoSourcesRequest = errors.New("no source types requested")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// ValidateContentSource checks a record before it is merged into a result
// set. Records with empty bodies are excluded rather than returned empty.
func ValidateContentSource(c ContentSource) error {
	if !ValidSourceTypes[c.SourceType] {
		return &ValidationError{Field: "source_type", Value: string(c.SourceType), Wrapped: ErrUnknownSource}
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "url", Value: c.URL, Wrapped: ErrInvalidURL}
	}
	if strings.TrimSpace(c.Body) == "" {
		return &ValidationError{Field: "body", Value: c.URL, Wrapped: ErrEmptyBody}
	}
	if c.ExtractionMethod != MethodPrimary && c.ExtractionMethod != MethodFallback {
		return &ValidationError{Field: "extraction_method", Value: string(c.ExtractionMethod), Wrapped: ErrMethodUnset}
	}
	return nil
}

// HarvestRequest describes one orchestrator invocation.
type HarvestRequest struct {
	Creator string `json:"creator"`
	// SiteURL is the blog root for primary discovery.
	SiteURL string `json:"site_url,omitempty"`
	// NewsletterURL is the newsletter archive root.
	NewsletterURL string `json:"newsletter_url,omitempty"`
	// Handles maps async source types to platform handles.
	Handles map[SourceType]string `json:"handles,omitempty"`
	// Sources lists the source types to harvest.
	Sources []SourceType `json:"sources"`
}

// ValidateHarvestRequest checks an orchestrator request.
func ValidateHarvestRequest(req HarvestRequest) error {
	if strings.TrimSpace(req.Creator) == "" {
		return &ValidationError{Field: "creator", Value: req.Creator, Wrapped: ErrEmptyCreator}
	}
	if len(req.Sources) == 0 {
		return &ValidationError{Field: "sources", Value: "", Wrapped: ErrNoSourcesRequest}
	}
	for _, s := range req.Sources {
		if !ValidSourceTypes[s] {
			return &ValidationError{Field: "sources", Value: string(s), Wrapped: ErrUnknownSource}
		}
	}
	return nil
}
