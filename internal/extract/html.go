// Package extract builds a record out of an arbitrary HTML page when no
// structured source is available.
package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/omnicrawler/internal/crawler"
)

// Hard caps applied to every page regardless of its size.
const (
	MaxTexts       = 8
	MaxImages      = 3
	MaxLinkDomains = 20
)

var textSelectors = []string{"h1", "h2", "h3", "p"}

// FromHTML extracts a single record from page. The page URL doubles as the
// record identity because markup carries no native one.
func FromHTML(pageURL, page string) (crawler.RawRecord, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.RawRecord{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return crawler.RawRecord{}, fmt.Errorf("parse html: %w", err)
	}

	texts := textNodes(doc)
	var bio string
	if len(texts) > 0 {
		bio = texts[0]
	}

	return crawler.RawRecord{
		Identity:    pageURL,
		Bio:         bio,
		Captions:    texts,
		Images:      images(doc, base),
		LinkDomains: linkDomains(doc, base),
	}, nil
}

// textNodes returns the meta description followed by heading and paragraph
// texts, in that priority.
func textNodes(doc *goquery.Document) []string {
	parts := make([]string, 0, MaxTexts)
	meta := doc.Find(`meta[name="description"], meta[property="og:description"]`).First()
	if content, ok := meta.Attr("content"); ok {
		if content = strings.TrimSpace(content); content != "" {
			parts = append(parts, content)
		}
	}
	for _, sel := range textSelectors {
		if len(parts) >= MaxTexts {
			break
		}
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if txt := strings.TrimSpace(s.Text()); txt != "" {
				parts = append(parts, txt)
			}
			return len(parts) < MaxTexts
		})
	}
	return parts
}

func images(doc *goquery.Document, base *url.URL) []crawler.Image {
	out := make([]crawler.Image, 0, MaxImages)
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if src = strings.TrimSpace(src); src == "" {
			return true
		}
		ref, err := url.Parse(src)
		if err != nil {
			return true
		}
		out = append(out, crawler.Image{
			URL:    base.ResolveReference(ref).String(),
			Width:  digitsAttr(s, "width"),
			Height: digitsAttr(s, "height"),
		})
		return len(out) < MaxImages
	})
	return out
}

func linkDomains(doc *goquery.Document, base *url.URL) []string {
	out := make([]string, 0, MaxLinkDomains)
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		host := strings.ToLower(base.ResolveReference(ref).Hostname())
		if host == "" {
			return true
		}
		if _, ok := seen[host]; !ok {
			seen[host] = struct{}{}
			out = append(out, host)
		}
		return len(out) < MaxLinkDomains
	})
	return out
}

// digitsAttr parses an attribute made only of ASCII digits.
func digitsAttr(s *goquery.Selection, name string) *int {
	v, ok := s.Attr(name)
	if !ok || v == "" {
		return nil
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
