package classify

import (
	"encoding/json"
	"strings"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
)

// ParseURLList normalizes the accepted model response shapes into a plain
// URL list. Three shapes are tolerated:
//
//	["https://...", ...]                 bare array
//	{"urls": ["https://...", ...]}       the contract shape
//	{"blog_urls": [...]} etc.            kind-specific key
//
// Anything else, including non-JSON, yields nil: the empty-result case,
// never a crash.
func ParseURLList(raw string, kind domain.SourceType) []string {
	raw = strings.TrimSpace(stripFence(raw))
	if raw == "" {
		return nil
	}

	// Bare array.
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return cleanURLs(arr)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}

	for _, key := range []string{"urls", string(kind) + "_urls", "links"} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &arr); err == nil {
				return cleanURLs(arr)
			}
		}
	}

	// Last resort: any key holding a string array.
	for _, v := range obj {
		if err := json.Unmarshal(v, &arr); err == nil {
			return cleanURLs(arr)
		}
	}
	return nil
}

// stripFence removes a markdown code fence some models wrap JSON in despite
// instructions.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func cleanURLs(urls []string) []string {
	var out []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			out = append(out, u)
		}
	}
	return out
}
