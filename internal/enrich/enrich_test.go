package enrich

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

func ptr[T any](v T) *T { return &v }

func TestEnrich(t *testing.T) {
	t.Parallel()

	fs := Enrich(crawler.RawRecord{
		Identity:         "alice",
		Bio:              "Founder & CTO. Building things!",
		Captions:         []string{"founder life", "Engineer_at_heart"},
		Images:           []crawler.Image{{URL: "https://img/0.jpg"}},
		LinkDomains:      []string{"a.example", "b.example"},
		RecentActivityTS: ptr("2024-05-01T10:00:00+02:00"),
	})

	require.True(t, fs.HasLink)
	require.True(t, fs.HasImages)
	require.Equal(t, 2, fs.CaptionCount)
	require.Equal(t, 2, fs.LinkDomainsCount)
	require.Equal(t, []string{"founder", "cto", "building", "things", "life", "engineer_at_heart"}, fs.BioTokens)
	require.Equal(t, []string{"building", "cto", "founder"}, fs.KeywordHits)
	require.NotNil(t, fs.RecentActivityAt)
	require.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), *fs.RecentActivityAt)
}

func TestEnrichMinutePrecisionActivity(t *testing.T) {
	t.Parallel()

	fs := Enrich(crawler.RawRecord{Identity: "bob", RecentActivityTS: ptr("2024-01-02T10:00+05:30")})
	require.NotNil(t, fs.RecentActivityAt)
	require.Equal(t, time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC), *fs.RecentActivityAt)
}

func TestEnrichEmptyRecord(t *testing.T) {
	t.Parallel()

	fs := Enrich(crawler.RawRecord{Identity: "empty"})
	require.False(t, fs.HasLink)
	require.False(t, fs.HasImages)
	require.Nil(t, fs.RecentActivityAt)
	require.Empty(t, fs.BioTokens)
	require.NotNil(t, fs.KeywordHits)
	require.Empty(t, fs.KeywordHits)
}

func TestTokensCapped(t *testing.T) {
	t.Parallel()

	words := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		words = append(words, strings.Repeat("w", i+1))
	}
	toks := Tokens(strings.Join(words, " ") + " " + words[0])
	require.Len(t, toks, MaxTokens)
	require.Equal(t, "w", toks[0])
}

func TestKeywordsOnlyFromCappedTokens(t *testing.T) {
	t.Parallel()

	words := make([]string, 0, MaxTokens)
	for i := 0; i < MaxTokens; i++ {
		words = append(words, "t"+strings.Repeat("x", i))
	}
	fs := Enrich(crawler.RawRecord{Identity: "x", Bio: strings.Join(words, " ") + " founder"})
	require.Empty(t, fs.KeywordHits)
}

func TestParseActivity(t *testing.T) {
	t.Parallel()

	cases := map[string]*time.Time{
		"2024-05-01T08:00:00Z":      ptr(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		"2024-05-01T08:00:00.5Z":    ptr(time.Date(2024, 5, 1, 8, 0, 0, 500_000_000, time.UTC)),
		"2024-05-01T10:00:00+02:00": ptr(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		"2024-05-01T08:00:00":       ptr(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		"2024-05-01 08:00:00":       ptr(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		"2024-05-01":                ptr(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		"2024-01-02T10:00":          ptr(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)),
		"2024-01-02T10:00Z":         ptr(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)),
		"2024-01-02T10:00+05:30":    ptr(time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC)),
		"2024-01-02T10:00-0700":     ptr(time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)),
		"not a date":                nil,
		"":                          nil,
		"2024-13-45T00:00:00Z":      nil,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			got := ParseActivity(in)
			if want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.True(t, want.Equal(*got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}
