package source

import (
	"fmt"
	"time"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// MaxSynthetic caps the number of generated records per seed.
const MaxSynthetic = 10

// Synthetic generates deterministic placeholder records for seedValue.
func Synthetic(seedValue string, limit int, now time.Time) []crawler.RawRecord {
	n := max(0, min(limit, MaxSynthetic))
	activity := now.UTC().Format(time.RFC3339)
	size := 1000

	out := make([]crawler.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		ts := activity
		w, h := size, size
		out = append(out, crawler.RawRecord{
			Identity:  fmt.Sprintf("user_%s_%d", seedValue, i),
			Followers: 100 + i,
			Bio:       "founder of something",
			Captions:  []string{"building things"},
			Images: []crawler.Image{
				{URL: fmt.Sprintf("https://img/%d.jpg", i), Width: &w, Height: &h},
			},
			LinkDomains:      []string{},
			RecentActivityTS: &ts,
		})
	}
	return out
}
