// Package fingerprint computes content fingerprints over a canonical
// projection of a record, so cosmetic re-fetch noise never reads as change.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// Caps applied to list fields before hashing.
const (
	MaxCaptions = 5
	MaxImages   = 3
)

// Projection is the canonical form of a record. Field order is fixed by the
// struct declaration, which keeps the serialized bytes stable.
type Projection struct {
	Bio         string   `json:"bio"`
	Captions    []string `json:"caps"`
	Followers   int      `json:"fc"`
	Following   int      `json:"fg"`
	Images      [][3]any `json:"imgs"`
	LinkDomains []string `json:"links"`
	IsPrivate   bool     `json:"pr"`
	ActivityDay string   `json:"ra_day"`
	Identity    string   `json:"u"`
}

// Canonical builds the projection of rec.
func Canonical(rec crawler.RawRecord) Projection {
	captions := make([]string, 0, min(len(rec.Captions), MaxCaptions))
	for _, c := range rec.Captions[:min(len(rec.Captions), MaxCaptions)] {
		captions = append(captions, NormalizeText(c))
	}

	images := make([][3]any, 0, min(len(rec.Images), MaxImages))
	for _, img := range rec.Images[:min(len(rec.Images), MaxImages)] {
		images = append(images, [3]any{img.URL, img.Width, img.Height})
	}

	links := slices.Clone(rec.LinkDomains)
	slices.Sort(links)
	links = slices.Compact(links)
	if links == nil {
		links = []string{}
	}

	var day string
	if rec.RecentActivityTS != nil {
		day = *rec.RecentActivityTS
		if len(day) > 10 {
			day = day[:10]
		}
	}

	return Projection{
		Bio:         NormalizeText(rec.Bio),
		Captions:    captions,
		Followers:   rec.Followers,
		Following:   rec.Following,
		Images:      images,
		LinkDomains: links,
		IsPrivate:   rec.IsPrivate,
		ActivityDay: day,
		Identity:    rec.Identity,
	}
}

// Compute returns the hex SHA-256 of rec's canonical projection.
func Compute(rec crawler.RawRecord) crawler.Fingerprint {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// A Projection holds only strings, ints, bools and nil-able ints.
	_ = enc.Encode(Canonical(rec))
	return Digest(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// Digest hashes data and returns a hex digest.
func Digest(data []byte) crawler.Fingerprint {
	sum := sha256.Sum256(data)
	return crawler.Fingerprint(hex.EncodeToString(sum[:]))
}

// NormalizeText lowercases s and collapses whitespace runs to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
