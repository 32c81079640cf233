package fetch

import (
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
)

// Profile is the concurrency and body-size policy for one source's
// extraction service. It is configuration, not a hardcoded constant: each
// source pipeline selects its profile at wiring time.
type Profile struct {
	Name string
	// BatchSize is how many URLs are fetched concurrently. The whole batch
	// is awaited before the next one starts.
	BatchSize int
	// Delay is the pause between batches. With BatchSize 1 this is the
	// inter-request delay.
	Delay time.Duration
	// BodyCap truncates each extracted body, bounding memory and the
	// downstream prompt size. Truncation is silent.
	BodyCap int
}

var (
	// HighThroughput suits services with generous rate limits.
	HighThroughput = Profile{
		Name:      "high",
		BatchSize: 10,
		Delay:     0,
		BodyCap:   15 << 10,
	}

	// Strict serializes requests with a 3.1s gap, staying under a
	// 20-requests-per-minute service ceiling with margin.
	Strict = Profile{
		Name:      "strict",
		BatchSize: 1,
		Delay:     3100 * time.Millisecond,
		BodyCap:   10 << 10,
	}
)

// ProfileFor returns the default profile for a source type.
func ProfileFor(kind domain.SourceType) Profile {
	if kind == domain.SourceNewsletter {
		return Strict
	}
	return HighThroughput
}
