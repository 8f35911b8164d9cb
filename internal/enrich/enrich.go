// Package enrich derives lightweight features from a raw record.
package enrich

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// MaxTokens caps the number of distinct tokens kept per record.
const MaxTokens = 24

var (
	wordRE = regexp.MustCompile(`[a-z0-9_]+`)

	// Keywords is the signal vocabulary matched against record tokens.
	Keywords = []string{"building", "cofounder", "cto", "developer", "engineer", "founder"}
)

var activityLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Enrich computes the FeatureSet of rec. It performs no I/O.
func Enrich(rec crawler.RawRecord) crawler.FeatureSet {
	tokens := Tokens(rec.Bio + " " + strings.Join(rec.Captions, " "))

	var hits []string
	for _, kw := range Keywords {
		if slices.Contains(tokens, kw) {
			hits = append(hits, kw)
		}
	}

	var activity *time.Time
	if rec.RecentActivityTS != nil {
		activity = ParseActivity(*rec.RecentActivityTS)
	}

	return crawler.FeatureSet{
		HasLink:          len(rec.LinkDomains) > 0,
		RecentActivityAt: activity,
		BioTokens:        tokens,
		KeywordHits:      nonNil(hits),
		CaptionCount:     len(rec.Captions),
		HasImages:        len(rec.Images) > 0,
		LinkDomainsCount: len(rec.LinkDomains),
	}
}

// Tokens returns the distinct lowercase word tokens of text in first-seen
// order, capped at MaxTokens.
func Tokens(text string) []string {
	out := make([]string, 0, MaxTokens)
	seen := make(map[string]struct{}, MaxTokens)
	for _, tok := range wordRE.FindAllString(strings.ToLower(text), -1) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == MaxTokens {
			break
		}
	}
	return out
}

// ParseActivity parses an ISO-8601 timestamp. A trailing "Z" and numeric
// offsets are honored; timestamps without an offset are taken as UTC.
// The result is in UTC, or nil when s cannot be parsed.
func ParseActivity(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range activityLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
