// Package textmeta derives titles and publish dates from markdown content
// and URL paths. Everything here is best-effort: a miss returns a zero
// value, never an error, because missing metadata must not fail an item.
package textmeta

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	headingPattern = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)
	// /2023/05/12/, /2023-05-12-slug, ?date=2023-05-12
	urlDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/((?:19|20)\d{2})/(\d{1,2})/(\d{1,2})(?:/|$)`),
		regexp.MustCompile(`((?:19|20)\d{2})-(\d{2})-(\d{2})`),
	}
	mdLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

const maxTitleLen = 200

// Title returns the first markdown heading, falling back to the first
// non-empty line of the body.
func Title(body string) string {
	if m := headingPattern.FindStringSubmatch(body); len(m) == 2 {
		return clampTitle(m[1])
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return clampTitle(line)
		}
	}
	return ""
}

// TitleFromURL derives a readable title from the last path segment of a URL,
// e.g. "/posts/why-i-write" => "why i write".
func TitleFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx == -1 || idx == len(trimmed)-1 {
		return ""
	}
	seg := trimmed[idx+1:]
	if qi := strings.IndexByte(seg, '?'); qi != -1 {
		seg = seg[:qi]
	}
	seg = strings.TrimSuffix(seg, ".html")
	seg = strings.ReplaceAll(seg, "-", " ")
	seg = strings.ReplaceAll(seg, "_", " ")
	return clampTitle(strings.TrimSpace(seg))
}

func clampTitle(s string) string {
	s = mdLinkPattern.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(strings.Trim(s, "#*"))
	return Truncate(s, maxTitleLen)
}

// PublishedAt looks for a date-shaped segment in the URL. Returns nil when
// nothing date-shaped is present or the parts do not form a real date.
func PublishedAt(rawURL string) *time.Time {
	for _, p := range urlDatePatterns {
		m := p.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		t, err := time.Parse("2006-1-2", m[1]+"-"+m[2]+"-"+m[3])
		if err != nil {
			continue
		}
		// Reject implausible dates the pattern still matched.
		if t.Year() < 1990 || t.After(time.Now().AddDate(1, 0, 0)) {
			continue
		}
		return &t
	}
	return nil
}

// Truncate cuts body to at most capBytes, avoiding a mid-rune cut. The cap
// is a documented lossy bound on downstream prompt size, not an error.
func Truncate(body string, capBytes int) string {
	if capBytes <= 0 || len(body) <= capBytes {
		return body
	}
	cut := capBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
