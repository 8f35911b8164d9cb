package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

func ptr[T any](v T) *T { return &v }

func TestDigestDeterministic(t *testing.T) {
	t.Parallel()

	got := Digest([]byte("hello world"))
	require.Equal(t, crawler.Fingerprint("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"), got)
	require.Equal(t, got, Digest([]byte("hello world")))
}

func TestComputeIgnoresCosmeticNoise(t *testing.T) {
	t.Parallel()

	a := crawler.RawRecord{
		Identity:         "alice",
		Followers:        123,
		Bio:              "Founder of Something",
		Captions:         []string{"Building things", "Every day"},
		LinkDomains:      []string{"b.example", "a.example"},
		RecentActivityTS: ptr("2024-05-01T08:00:00Z"),
	}
	b := crawler.RawRecord{
		Identity:         "alice",
		Followers:        123,
		Bio:              "  founder   OF\tsomething ",
		Captions:         []string{"Building   things", "every DAY"},
		LinkDomains:      []string{"a.example", "b.example", "a.example"},
		RecentActivityTS: ptr("2024-05-01T23:59:59+00:00"),
	}
	require.Equal(t, Compute(a), Compute(b))
	require.Len(t, string(Compute(a)), 64)
}

func TestComputeIgnoresFieldOrderInPayload(t *testing.T) {
	t.Parallel()

	var a, b crawler.RawRecord
	require.NoError(t, json.Unmarshal([]byte(`{"username":"alice","followers":1,"bio":"x"}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"bio":"x","followers":1,"username":"alice"}`), &b))
	require.Equal(t, Compute(a), Compute(b))
}

func TestComputeIgnoresItemsBeyondCaps(t *testing.T) {
	t.Parallel()

	base := crawler.RawRecord{
		Identity: "carol",
		Captions: []string{"1", "2", "3", "4", "5"},
		Images: []crawler.Image{
			{URL: "https://img/0.jpg"}, {URL: "https://img/1.jpg"}, {URL: "https://img/2.jpg"},
		},
	}
	more := base
	more.Captions = append(append([]string{}, base.Captions...), "6")
	more.Images = append(append([]crawler.Image{}, base.Images...), crawler.Image{URL: "https://img/3.jpg"})
	require.Equal(t, Compute(base), Compute(more))
}

func TestComputeSensitivity(t *testing.T) {
	t.Parallel()

	base := crawler.RawRecord{Identity: "bob", Followers: 10, Bio: "hello"}
	fp := Compute(base)

	cases := map[string]func(*crawler.RawRecord){
		"bio":       func(r *crawler.RawRecord) { r.Bio = "goodbye" },
		"identity":  func(r *crawler.RawRecord) { r.Identity = "bobby" },
		"followers": func(r *crawler.RawRecord) { r.Followers = 11 },
		"following": func(r *crawler.RawRecord) { r.Following = 1 },
		"private":   func(r *crawler.RawRecord) { r.IsPrivate = true },
		"caption":   func(r *crawler.RawRecord) { r.Captions = []string{"new"} },
		"image":     func(r *crawler.RawRecord) { r.Images = []crawler.Image{{URL: "https://img/x.jpg", Width: ptr(10)}} },
		"links":     func(r *crawler.RawRecord) { r.LinkDomains = []string{"example.com"} },
		"day":       func(r *crawler.RawRecord) { r.RecentActivityTS = ptr("2024-01-02") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := base
			mutate(&rec)
			require.NotEqual(t, fp, Compute(rec))
		})
	}
}

func TestCanonicalProjection(t *testing.T) {
	t.Parallel()

	p := Canonical(crawler.RawRecord{
		Identity: "dave",
		Images:   []crawler.Image{{URL: "https://img/a.jpg", Width: ptr(640), Height: nil}},
	})
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"bio": "", "caps": [], "fc": 0, "fg": 0,
		"imgs": [["https://img/a.jpg", 640, null]],
		"links": [], "pr": false, "ra_day": "", "u": "dave"
	}`, string(data))
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b c", NormalizeText("  A \n B\t\tc "))
	require.Empty(t, NormalizeText("   "))
}
